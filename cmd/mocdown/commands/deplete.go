package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/depletion"
)

func newDepleteCommand() *cobra.Command {
	var restart bool

	cmd := &cobra.Command{
		Use:   "deplete [deck] [config]",
		Short: "Deplete a transport deck through its schedule",
		Long: `Deplete alternates transport and transmutation runs over the depletion
schedule of the configuration, writing one input per step next to the deck
and a checkpoint after every step.

The deck defaults to inp1 and the configuration to mocdown.inp. YAML and JSON
configurations are read as such; anything else is read as "key = value"
lines.

With --restart, steps with an existing checkpoint are replayed from it and
the depletion resumes after the last one.`,
		Example: `  # Deplete inp1 with mocdown.inp
  mocdown deplete

  # Deplete a named deck with a YAML configuration
  mocdown deplete core.i core.yaml

  # Resume an interrupted depletion
  mocdown deplete core.i core.yaml --restart`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deckPath, configPath, explicit := runArgs(args)

			s, ctx, err := openSession(cmd.Context(), cmd.OutOrStdout(), configPath, explicit)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			if s.cfg.Recycle.Enabled {
				log.Warn().Msg("Recycling is enabled in the configuration; run 'mocdown recycle' to search for equilibrium")
			}

			dk, err := deck.ReadFile(deckPath, s.deckOpts...)
			if err != nil {
				return err
			}
			d, err := depletion.New(s.cfg, dk, s.depletionOptions(depletion.WithRestart(restart))...)
			if err != nil {
				return err
			}

			log.Info().
				Str("deck", deckPath).
				Int("steps", d.Schedule().Len()).
				Str("units", d.Schedule().Units()).
				Bool("restart", restart).
				Msg("Starting depletion")

			res, err := d.Run(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Depleted %s in %d steps\n", deckPath, res.Steps)
			fmt.Fprintf(out, "End-of-depletion input: %s\n", res.Deck)
			if res.HasKeff {
				fmt.Fprintf(out, "Last keff: %.5f ± %.5f\n", res.Keff.Value, res.Keff.Std())
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&restart, "restart", "r", false, "resume from existing checkpoints")

	return cmd
}
