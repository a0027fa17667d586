package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOutput bool

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "mocdown",
		Short: "MocDown - Monte Carlo transport and depletion coupling",
		Long: `MocDown couples a Monte Carlo neutron transport code with a point
depletion code to follow the burnup of reactor fuel.

Features:
  - Power or flux driven depletion schedules with decay steps
  - Per-cell transmutation in parallel with checkpoints after every step
  - Restart from the last checkpoint
  - Scripted density and temperature feedback
  - Equilibrium fuel cycle search with accelerated recycle cycles
  - Parsing of transport inputs and outputs into reports and CSV tables`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			switch {
			case verbose:
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			case quiet:
				zerolog.SetGlobalLevel(zerolog.WarnLevel)
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only report warnings and errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "log in JSON format")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(newDepleteCommand())
	rootCmd.AddCommand(newRecycleCommand())
	rootCmd.AddCommand(newParseCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}
