package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/tsawler/go-sdf/distributed"
	"github.com/tsawler/go-sdf/training"
)

func newEvalCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "eval",
		Short: "Evaluate the selected checkpoint on the validation set",
		Long: `Eval loads the checkpoint selected by --use-checkpoint, runs one pass over
the validation set (or the training set when data.valid_size is 0) with the
EMA weights and prints the loss and every configured metric.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := getConfig(cmd.Context())
			s, err := openSession(cfg, sessionOptions{output: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer s.Close()

			loader := s.valid
			if loader == nil {
				loader = s.train
			}
			res, err := s.trainer.Evaluate(cmd.Context(), loader)
			if err != nil {
				return err
			}
			if !distributed.IsMain(s.reducer) {
				return nil
			}
			renderEval(cmd.OutOrStdout(), s.trainer.State(), res)
			return nil
		},
	}
}

func renderEval(w io.Writer, state training.State, res *training.EvalResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Metric", "Value"})

	t.AppendRow(table.Row{"epoch", state.Epoch})
	t.AppendRow(table.Row{"global step", state.GlobalStep})
	t.AppendRow(table.Row{"loss", fmt.Sprintf("%.6f", res.Loss)})
	t.AppendRow(table.Row{"result", fmt.Sprintf("%.6f", res.Result)})

	names := make([]string, 0, len(res.Metrics))
	for name := range res.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t.AppendRow(table.Row{name, fmt.Sprintf("%.6f", res.Metrics[name])})
	}
	t.Render()
}
