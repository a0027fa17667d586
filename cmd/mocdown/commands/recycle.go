package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mocdown/mocdown/pkg/recycle"
)

func newRecycleCommand() *cobra.Command {
	var restart bool

	cmd := &cobra.Command{
		Use:   "recycle [deck] [config]",
		Short: "Search for the equilibrium fuel cycle",
		Long: `Recycle depletes the deck cycle after cycle, carrying each end-of-cycle
composition through the fuel script into the next beginning of cycle, until
both the isotopics and the eigenvalue stop changing.

Cycles alternate between full cycles, which run transport at every step, and
accelerated cycles, which replay the transport results of the last full
cycle and only transmute. Each cycle is archived in a numbered directory
next to the deck, and the deck file is left holding the beginning of the
equilibrium cycle.`,
		Example: `  # Recycle inp1 with mocdown.inp
  mocdown recycle

  # Recycle with a YAML configuration and a fuel script set in it
  mocdown recycle core.i core.yaml`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deckPath, configPath, explicit := runArgs(args)

			s, ctx, err := openSession(cmd.Context(), cmd.OutOrStdout(), configPath, explicit)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			opts := []recycle.Option{
				recycle.WithDeckOptions(s.deckOpts...),
				recycle.WithDepletionOptions(s.sharedOptions()...),
				recycle.WithRestart(restart),
			}
			fuel, err := s.fuelProcessor()
			if err != nil {
				return err
			}
			if fuel != nil {
				opts = append(opts, recycle.WithFuelProcessor(fuel))
			}
			if s.store != nil {
				opts = append(opts, recycle.WithLedger(s.store))
			}

			r := recycle.New(s.cfg, deckPath, opts...)
			log.Info().
				Str("deck", deckPath).
				Str("run_id", r.RunID()).
				Str("norm", s.cfg.Recycle.IsotopicsNorm).
				Int("max_cycles", s.cfg.Recycle.MaxCycles).
				Msg("Starting recycle")

			res, err := r.Run(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Equilibrium reached after %d cycles (run %s)\n", len(res.Cycles), res.RunID)
			for _, c := range res.Cycles {
				line := fmt.Sprintf("  cycle %3d  %-15s", c.Index, c.Mode)
				if c.HasKeff {
					line += fmt.Sprintf("  keff %.5f ± %.5f", c.Keff.Value, c.Keff.Std())
				}
				if c.IsotopicsNorm != nil {
					line += fmt.Sprintf("  ‖Δ‖%s %.3E", recycle.NormSymbol(s.cfg.Recycle.IsotopicsNorm), *c.IsotopicsNorm)
				}
				fmt.Fprintln(out, line)
			}
			fmt.Fprintf(out, "Beginning of equilibrium cycle written to %s\n", deckPath)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&restart, "restart", "r", false, "resume the first cycle from existing checkpoints")

	return cmd
}
