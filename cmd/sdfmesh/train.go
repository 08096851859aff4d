package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-sdf/config"
	"github.com/tsawler/go-sdf/dataset"
	"github.com/tsawler/go-sdf/distributed"
	"github.com/tsawler/go-sdf/field"
	"github.com/tsawler/go-sdf/training"
)

func newTrainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train the field, then extract the final mesh",
		Long: `Train resumes from the checkpoint selected by --use-checkpoint, runs the
remaining epochs and writes <workspace>/results/output.ply. With --test the
training loop is skipped and only the mesh is extracted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := getConfig(cmd.Context())
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.Distributed.Rank == 0 {
				path, err := config.WriteYAML(cfg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			}

			s, err := openSession(cfg, sessionOptions{
				progress: training.TerminalOutput(),
				output:   cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			defer s.Close()

			isMain := distributed.IsMain(s.reducer)
			if isMain {
				slice := filepath.Join(cfg.Trainer.Workspace, "results", "ground_truth_slice.png")
				if err := dataset.WriteSlicePNG(ctx, slice, s.trainSet.Shape(), field.CubeBounds(cfg.Bound), 128); err != nil {
					s.logger.Warn("failed to write ground truth slice", "error", err)
				}
			}

			if !cfg.Test {
				if err := s.trainer.Train(ctx, s.train, s.valid, cfg.Epochs); err != nil {
					return err
				}
			}
			if !isMain {
				return nil
			}

			out := filepath.Join(cfg.Trainer.Workspace, "results", "output.ply")
			m, err := s.trainer.SaveMesh(ctx, out, cfg.Trainer.Resolution)
			if err != nil {
				return err
			}
			state := s.trainer.State()
			if m == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Epoch %d: no surface found, mesh not written\n", state.Epoch)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Epoch %d: wrote %s (%d vertices, %d triangles)\n",
				state.Epoch, out, m.NumVertices(), m.NumTriangles())
			return nil
		},
	}
}
