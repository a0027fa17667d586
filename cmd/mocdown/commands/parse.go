package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/results"
	"github.com/mocdown/mocdown/pkg/watch"
)

var (
	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#2196F3")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true)
	noteStyle = lipgloss.NewStyle().Faint(true)
)

// parseOptions selects the reports and tables of one parse.
type parseOptions struct {
	cells    bool
	isotopes bool
	tallies  bool
	keff     bool

	// forms holds the requested form of each CSV quantity; empty skips it.
	forms      map[results.Quantity]*string
	downSample int

	configPath string
	xsdir      string
	watch      bool
}

func newParseCommand() *cobra.Command {
	opts := &parseOptions{forms: make(map[results.Quantity]*string)}

	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Report on a transport input or output",
		Long: `Parse reads a transport input deck or a transport output and writes
reports about it. Outputs are recognized by their banner; the input deck is
recovered from the echo of an output.

Without report flags, the cell, isotope and tally reports are written, and
the eigenvalue summary as well for outputs.

The table flags write one CSV file per quantity next to the output, named
<output>.<quantity>. Each takes an optional form: bin (default), energy,
lethargy, normalized or uncertainty. Give the form with an equals sign, as
in --flux=lethargy.

--down-sample n merges neighbouring energy bins n times; a negative n
averages them instead of summing them.`,
		Example: `  # Cell, isotope and tally reports of a deck
  mocdown parse core.i

  # Eigenvalue summary and lethargy flux spectra of an output
  mocdown parse core.o --keff --flux=lethargy

  # Reaction rates with bins merged twice, refreshed as the output changes
  mocdown parse core.o --rxn --down-sample 2 --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			explicit := cmd.Flags().Changed("config")

			cfg, err := loadConfig(opts.configPath, explicit)
			if err != nil {
				return err
			}
			xsPath := cfg.Transport.XsDir
			if opts.xsdir != "" {
				xsPath = opts.xsdir
			}
			var deckOpts []deck.Option
			if xs, err := deck.ReadXsDir(xsPath); err != nil {
				log.Warn().Err(err).Msg("Cross-section directory unavailable, using mass numbers as molar masses")
			} else {
				deckOpts = append(deckOpts, deck.WithXsDir(xs))
			}
			cutoff := cfg.Depletion.MassDensityCutoff

			out := cmd.OutOrStdout()
			if err := opts.run(out, path, deckOpts, cutoff); err != nil {
				if !opts.watch {
					return err
				}
				log.Error().Err(err).Str("file", path).Msg("Failed to parse")
			}
			if !opts.watch {
				return nil
			}
			return watch.New(path, log.Logger).Run(cmd.Context(), func(ctx context.Context) error {
				fmt.Fprintln(out, noteStyle.Render(fmt.Sprintf("%s changed, parsing again", path)))
				return opts.run(out, path, deckOpts, cutoff)
			})
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.cells, "cells", false, "report cell materials, densities and volumes")
	flags.BoolVar(&opts.isotopes, "isotopes", false, "report isotope inventories")
	flags.BoolVar(&opts.tallies, "tallies", false, "report tallies")
	flags.BoolVar(&opts.keff, "keff", false, "report the eigenvalue summary of an output")

	quantityFlags := []struct {
		q     results.Quantity
		name  string
		usage string
	}{
		{results.QuantityFlux, "flux", "write scalar flux spectra"},
		{results.QuantityReactionRate, "rxn", "write reaction rate spectra"},
		{results.QuantityMicroscopic, "micro", "write microscopic cross sections"},
		{results.QuantityEnergyDeposition, "edep", "write energy deposition spectra"},
		{results.QuantityFissionEnergyDeposition, "fedep", "write fission energy deposition spectra"},
	}
	for _, qf := range quantityFlags {
		form := new(string)
		opts.forms[qf.q] = form
		flags.StringVar(form, qf.name, "", qf.usage+" in the given form")
		flags.Lookup(qf.name).NoOptDefVal = string(results.FormBin)
	}

	flags.IntVar(&opts.downSample, "down-sample", 0, "merge neighbouring energy bins n times, averaging when negative")
	flags.StringVarP(&opts.configPath, "config", "c", defaultConfig, "configuration providing xsdir and the mass density cutoff")
	flags.StringVar(&opts.xsdir, "xsdir", "", "cross-section directory file, overriding the configuration")
	flags.BoolVarP(&opts.watch, "watch", "w", false, "parse again whenever the file changes")

	return cmd
}

// run parses path once and writes the selected reports to out.
func (o *parseOptions) run(out io.Writer, path string, deckOpts []deck.Option, cutoff float64) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return engine.NewPreconditionError("failed to read file", err).
			WithCode(engine.ErrCodeNotFound).
			WithResource(path)
	}

	var output *results.Output
	var dk *deck.Deck
	if isTransportOutput(string(raw)) {
		output, err = results.Parse(path, string(raw),
			results.WithDeckOptions(deckOpts...),
			results.WithMassDensityCutoff(cutoff))
		if err != nil {
			return err
		}
		dk = output.Deck()
	} else {
		dk, err = deck.Parse(path, string(raw), deckOpts...)
		if err != nil {
			return err
		}
	}

	cells, isotopes, tallies, keff := o.cells, o.isotopes, o.tallies, o.keff
	tables := o.requestedTables()
	if !cells && !isotopes && !tallies && !keff && len(tables) == 0 {
		cells, isotopes, tallies = true, true, true
		keff = output != nil
	}

	name := filepath.Base(path)
	sections := []struct {
		enabled bool
		title   string
		write   func(io.Writer) error
	}{
		{cells, "Cells", dk.WriteCellReport},
		{isotopes, "Isotopes", dk.WriteIsotopeReport},
		{tallies, "Tallies", dk.WriteTallyReport},
	}
	for _, s := range sections {
		if !s.enabled {
			continue
		}
		fmt.Fprintln(out, sectionStyle.Render(fmt.Sprintf("%s of %s", s.title, name)))
		if err := s.write(out); err != nil {
			return err
		}
	}

	if keff {
		if output == nil {
			log.Warn().Str("file", path).Msg("An input has no eigenvalue to report")
		} else {
			fmt.Fprintln(out, sectionStyle.Render(fmt.Sprintf("Eigenvalue of %s", name)))
			if !output.HasEigenvalue() {
				log.Warn().Str("file", path).Msg("No eigenvalue results in the output")
			}
			if err := output.WriteSummary(out); err != nil {
				return err
			}
		}
	}

	if len(tables) == 0 {
		return nil
	}
	if output == nil {
		return engine.NewPreconditionError("tables need a transport output", nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(path)
	}
	for _, q := range results.Quantities {
		formName, ok := tables[q]
		if !ok {
			continue
		}
		form, err := results.ParseForm(formName)
		if err != nil {
			return engine.NewPermanentError(fmt.Sprintf("invalid form for %s", q), err).
				WithCode(engine.ErrCodeValidation)
		}
		written, err := output.WriteQuantityFile(q, form, o.downSample)
		if err != nil {
			return err
		}
		if written == "" {
			fmt.Fprintln(out, noteStyle.Render(fmt.Sprintf("no %s results in %s", q, name)))
			continue
		}
		fmt.Fprintf(out, "wrote %s (%s)\n", written, form)
	}
	return nil
}

func (o *parseOptions) requestedTables() map[results.Quantity]string {
	tables := make(map[results.Quantity]string)
	for q, form := range o.forms {
		if *form != "" {
			tables[q] = *form
		}
	}
	return tables
}

// isTransportOutput reports whether raw starts a page with the transport
// code banner.
func isTransportOutput(raw string) bool {
	return strings.HasPrefix(raw, "1mcnp") || strings.Contains(raw, "\n1mcnp")
}
