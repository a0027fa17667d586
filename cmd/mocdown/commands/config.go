package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mocdown/mocdown/pkg/config"
	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/plugin"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configurations",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigValidateCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [config]",
		Short: "Print the effective configuration as YAML",
		Long: `Show prints the configuration a run would use: the defaults, overlaid
by the file and by MOCDOWN_ environment variables. Legacy "key = value"
inputs are printed in their YAML form, ready to be saved as a replacement.`,
		Example: `  # Effective configuration of mocdown.inp
  mocdown config show

  # Convert a legacy input to YAML
  mocdown config show old.inp > core.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, explicit := defaultConfig, len(args) > 0
			if explicit {
				path = args[0]
			}
			cfg, err := loadConfig(path, explicit)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config]",
		Short: "Validate a configuration and the files it names",
		Long: `Validate loads the configuration and checks:
  - Key names, with suggestions for misspelled ones
  - Schema conformance and field constraints
  - Consistency of the depletion schedule
  - That the feedback and fuel scripts compile and define their functions
  - That the cross-section directory file can be read`,
		Example: `  # Validate mocdown.inp
  mocdown config validate

  # Validate a YAML configuration
  mocdown config validate core.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfig
			if len(args) > 0 {
				path = args[0]
			}

			log.Info().Str("path", path).Msg("Validating configuration")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := validateScripts(cfg); err != nil {
				return err
			}
			if _, err := deck.ReadXsDir(cfg.Transport.XsDir); err != nil {
				log.Warn().Err(err).Msg("Cross-section directory unavailable")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
			return nil
		},
	}

	return cmd
}

func validateScripts(cfg *config.Config) error {
	if cfg.Feedback.Script != "" {
		s, err := plugin.Load(cfg.Feedback.Script, 0)
		if err != nil {
			return err
		}
		if _, err := plugin.NewFeedback(s, cfg.Feedback.Parameters); err != nil {
			return err
		}
	}
	if cfg.Recycle.FuelScript != "" {
		s, err := plugin.Load(cfg.Recycle.FuelScript, 0)
		if err != nil {
			return err
		}
		if _, err := plugin.NewFuelProcessor(s, cfg.Recycle.FuelParameters); err != nil {
			return err
		}
	}
	return nil
}
