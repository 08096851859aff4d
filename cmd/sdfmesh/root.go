package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-sdf/config"
)

// configKey is used to store config in context.
type configKey struct{}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "sdfmesh",
		Short: "Train neural signed distance fields and extract meshes",
		Long: `sdfmesh fits a coordinate network to the signed distance of an analytic
shape, keeps resumable checkpoints in its workspace and extracts triangle
meshes from the learned field with marching cubes.

Settings come from built-in defaults, then the --config file, then SDF_
environment variables (SDF_TRAINER__EMA_DECAY=0.9), then flags.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	config.RegisterFlags(rootCmd.PersistentFlags())

	_ = rootCmd.RegisterFlagCompletionFunc("use-checkpoint", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"scratch", "latest", "best"}, cobra.ShellCompDirectiveDefault
	})
	_ = rootCmd.RegisterFlagCompletionFunc("shape", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"sphere", "box", "torus"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newTrainCommand())
	rootCmd.AddCommand(newEvalCommand())
	rootCmd.AddCommand(newExtractCommand())

	return rootCmd
}

// getConfig retrieves the config stored by the root command.
func getConfig(ctx context.Context) *config.Config {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c
	}
	cfg := config.Default()
	return &cfg
}
