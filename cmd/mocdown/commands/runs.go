package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	var (
		storePath string
		limit     int
		offset    int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List depletion and recycle runs from the ledger",
		Long: `Runs lists the runs recorded in the run ledger, newest first. The ledger
is the SQLite database named by store.path in the configuration, or by
--store.`,
		Example: `  # Ten most recent runs
  mocdown runs

  # Steps and cycles of one run
  mocdown runs show 1b4e28ba-2fa1-11d2-883f-0016d3cca427`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openLedger(cmd.Context(), storePath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
				return nil
			}

			t := newTable("ID", "KIND", "DECK", "STATUS", "STARTED", "DURATION")
			for _, r := range runs {
				duration := "-"
				if r.CompletedAt != nil {
					duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				t.addRow(r.ID, r.Kind, r.Deck, string(r.Status), r.StartedAt.Local().Format(time.DateTime), duration)
			}
			fmt.Fprint(cmd.OutOrStdout(), t)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&storePath, "store", "", "run ledger database, overriding the configuration")
	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of newest runs to skip")

	cmd.AddCommand(newRunsShowCommand(&storePath))

	return cmd
}

func newRunsShowCommand(storePath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the steps and cycles of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openLedger(ctx, *storePath)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, sectionStyle.Render(fmt.Sprintf("%s run %s of %s", run.Kind, run.ID, run.Deck)))
			fmt.Fprintf(out, "status: %s\n", run.Status)
			if run.Error != nil {
				fmt.Fprintf(out, "error:  %s\n", *run.Error)
			}

			cycles, err := store.ListCycles(ctx, run.ID)
			if err != nil {
				return err
			}
			if len(cycles) > 0 {
				t := newTable("CYCLE", "MODE", "KEFF", "ISOTOPICS", "CONVERGED")
				for _, c := range cycles {
					t.addRow(strconv.Itoa(c.Cycle), c.Mode, formatKeff(c.Keff, c.KeffSigma),
						formatOptional(c.IsotopicsNorm, "%.3E"), strconv.FormatBool(c.Converged))
				}
				fmt.Fprint(out, "\n", t)
			}

			steps, err := store.ListSteps(ctx, run.ID)
			if err != nil {
				return err
			}
			if len(steps) > 0 {
				t := newTable("CYCLE", "STEP", "END", "RATE", "KEFF", "SOURCE", "FEEDBACK", "DURATION")
				for _, s := range steps {
					t.addRow(strconv.Itoa(s.Cycle), strconv.Itoa(s.Step),
						fmt.Sprintf("%.4g", s.End), fmt.Sprintf("%.4g", s.Rate),
						formatKeff(s.Keff, s.KeffSigma), s.Source,
						strconv.Itoa(s.FeedbackIterations), s.Duration.Round(time.Millisecond).String())
				}
				fmt.Fprint(out, "\n", t)
			}
			return nil
		},
	}

	return cmd
}

// openLedger opens the ledger at path, or the one of the default
// configuration when path is empty.
func openLedger(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if path == "" {
		cfg, err := loadConfig(defaultConfig, false)
		if err != nil {
			return nil, err
		}
		path = cfg.Store.Path
	}
	if path == "" {
		return nil, engine.NewPreconditionError("no run ledger configured", nil).
			WithCode(engine.ErrCodeValidation)
	}
	return stores.Open(ctx, path)
}

func formatKeff(keff, sigma *float64) string {
	if keff == nil {
		return "-"
	}
	if sigma == nil {
		return fmt.Sprintf("%.5f", *keff)
	}
	return fmt.Sprintf("%.5f ± %.5f", *keff, *sigma)
}

func formatOptional(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}
