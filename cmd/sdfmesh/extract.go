package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newExtractCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract a mesh from the selected checkpoint",
		Long: `Extract loads the checkpoint selected by --use-checkpoint and runs marching
cubes over [-bound, bound]^3 at --resolution. The output format follows the
file extension: .ply, .obj or .off.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := getConfig(cmd.Context())
			cfg.Distributed.Backend = "local"
			cfg.Distributed.Rank = 0
			cfg.Distributed.WorldSize = 1

			s, err := openSession(cfg, sessionOptions{output: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer s.Close()

			if output == "" {
				output = filepath.Join(cfg.Trainer.Workspace, "results", fmt.Sprintf("%s_%d.ply", cfg.Trainer.Name, s.trainer.State().Epoch))
			}
			m, err := s.trainer.SaveMesh(cmd.Context(), output, cfg.Trainer.Resolution)
			if err != nil {
				return err
			}
			if m == nil {
				return fmt.Errorf("no surface at threshold %g", cfg.Trainer.Threshold)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d vertices, %d triangles, closed=%t)\n",
				output, m.NumVertices(), m.NumTriangles(), m.IsClosed())
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "mesh file (default <workspace>/results/<name>_<epoch>.ply)")
	return cmd
}
