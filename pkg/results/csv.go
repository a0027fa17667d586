package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/uncertainty"
)

// Form selects how spectra are written: raw bins, per unit energy, per unit
// lethargy, normalized per lethargy or as relative uncertainties.
type Form string

const (
	FormBin         Form = "bin"
	FormEnergy      Form = "energy"
	FormLethargy    Form = "lethargy"
	FormNormalized  Form = "normalized"
	FormUncertainty Form = "uncertainty"
)

var formAliases = map[string]Form{
	"bin": FormBin, "ebin": FormBin,
	"energy": FormEnergy, "mev": FormEnergy,
	"lethargy": FormLethargy, "leth": FormLethargy,
	"normalized": FormNormalized, "norm": FormNormalized,
	"uncertainty": FormUncertainty, "std": FormUncertainty,
}

// ParseForm resolves a form name or alias.
func ParseForm(name string) (Form, error) {
	if f, ok := formAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return f, nil
	}
	return "", fmt.Errorf("unknown spectrum form %q", name)
}

// Units returns the unit suffix of a column given the quantity's base units.
func (f Form) Units(base string) string {
	switch f {
	case FormEnergy:
		return base + "MeV"
	case FormLethargy:
		return base + "lethargy"
	case FormNormalized:
		return "1 / lethargy"
	case FormUncertainty:
		return `1 / \sigma / Ebin`
	}
	return base + "Ebin"
}

func (f Form) values(s uncertainty.Spectrum) []float64 {
	switch f {
	case FormEnergy:
		return s.PerEnergy()
	case FormLethargy:
		return s.PerLethargy()
	case FormNormalized:
		return s.NormalizedPerLethargy()
	case FormUncertainty:
		return s.RelStds()
	}
	return s.Values
}

// Quantity names a physical quantity that can be written as a CSV table.
type Quantity string

const (
	QuantityFlux                    Quantity = "flx"
	QuantityReactionRate            Quantity = "rxn"
	QuantityMicroscopic             Quantity = "micro"
	QuantityEnergyDeposition        Quantity = "edep"
	QuantityFissionEnergyDeposition Quantity = "fedep"
)

// Quantities lists every writable quantity in output order.
var Quantities = []Quantity{
	QuantityFlux, QuantityReactionRate, QuantityMicroscopic,
	QuantityEnergyDeposition, QuantityFissionEnergyDeposition,
}

var quantityUnits = map[Quantity]string{
	QuantityFlux:                    "particles / source - cm^2 - ",
	QuantityReactionRate:            "reactions / source - ",
	QuantityMicroscopic:             "barns - ",
	QuantityEnergyDeposition:        "J / source - ",
	QuantityFissionEnergyDeposition: "J_f / source - ",
}

// Column is one named spectrum of a CSV table.
type Column struct {
	Header   string
	Spectrum uncertainty.Spectrum
}

// Columns evaluates quantity q for every cell (and bin) that tallies it,
// ordered by cell then material then reaction.
func (o *Output) Columns(q Quantity) ([]Column, error) {
	var out []Column
	switch q {
	case QuantityFlux:
		for _, cell := range o.deck.TallyCells(deck.CellFlux) {
			out = append(out, Column{fmt.Sprintf("Scalar-Flux (cell %d)", cell), o.ScalarFlux(cell)})
		}
	case QuantityReactionRate, QuantityMicroscopic:
		for _, cell := range o.deck.MultiplierCells() {
			possible := o.PossibleMaterials(cell)
			bins := append([]deck.BinKey(nil), o.deck.MultiplierBins(cell)...)
			sort.Slice(bins, func(i, j int) bool {
				if bins[i].Material != bins[j].Material {
					return bins[i].Material < bins[j].Material
				}
				return bins[i].Reaction < bins[j].Reaction
			})
			for _, bin := range bins {
				if !possible[bin.Material] {
					continue
				}
				if q == QuantityMicroscopic {
					out = append(out, Column{
						fmt.Sprintf("Microscopic-Cross-Section (cell %d; material %d; reaction %s)", cell, bin.Material, bin.Reaction),
						o.MicroscopicCrossSection(cell, bin.Material, bin.Reaction),
					})
					continue
				}
				out = append(out, Column{
					fmt.Sprintf("Reaction-Rate (cell %d; material %d; reaction %s)", cell, bin.Material, bin.Reaction),
					o.ReactionRate(cell, bin.Material, bin.Reaction),
				})
			}
		}
	case QuantityEnergyDeposition:
		for _, cell := range o.deck.TallyCells(deck.CellEnergyDeposition) {
			out = append(out, Column{fmt.Sprintf("Energy-Deposition (cell %d)", cell), o.ParticlePower(cell, deck.CellEnergyDeposition)})
		}
	case QuantityFissionEnergyDeposition:
		for _, cell := range o.deck.MultiplierCells() {
			s, err := o.QPowerSpectrum(cell, "mcnp")
			if err != nil {
				return nil, err
			}
			out = append(out, Column{fmt.Sprintf("Fission-Energy-Deposition (cell %d)", cell), s})
		}
	default:
		return nil, fmt.Errorf("unknown quantity %q", q)
	}
	return out, nil
}

// WriteQuantity writes columns as a CSV table: the energy grid of the first
// column followed by one column per spectrum in form. Spectra are
// down-sampled |downSample| times first (averaging when negative). Nothing
// is written when there are no columns or every total is zero; the return
// value reports whether a table was written.
func WriteQuantity(w io.Writer, columns []Column, form Form, units string, downSample int) (bool, error) {
	nonZero := false
	for _, c := range columns {
		nonZero = nonZero || !c.Spectrum.IsZero()
	}
	if !nonZero {
		return false, nil
	}

	sampled := make([]uncertainty.Spectrum, len(columns))
	for i, c := range columns {
		sampled[i] = c.Spectrum.DownSample(downSample)
	}
	energies := sampled[0].Energies
	if len(energies) == 0 {
		return false, nil
	}

	cw := csv.NewWriter(w)
	header := []string{"Neutron Energy [MeV]"}
	for _, c := range columns {
		header = append(header, fmt.Sprintf("%s [%s]", c.Header, form.Units(units)))
	}
	if err := cw.Write(header); err != nil {
		return false, err
	}

	values := make([][]float64, len(sampled))
	for i, s := range sampled {
		values[i] = form.values(s)
	}
	for row, e := range energies {
		record := []string{formatCSVFloat(e)}
		for _, v := range values {
			if row < len(v) {
				record = append(record, formatCSVFloat(v[row]))
			} else {
				record = append(record, "")
			}
		}
		if err := cw.Write(record); err != nil {
			return false, err
		}
	}
	cw.Flush()
	return true, cw.Error()
}

func formatCSVFloat(v float64) string {
	return strconv.FormatFloat(v, 'E', 6, 64)
}

// WriteQuantityFile writes quantity q next to the run as
// "<file name>.<quantity>". It returns the path, or "" when there was
// nothing to write.
func (o *Output) WriteQuantityFile(q Quantity, form Form, downSample int) (string, error) {
	columns, err := o.Columns(q)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	written, err := WriteQuantity(&b, columns, form, quantityUnits[q], downSample)
	if err != nil {
		return "", fmt.Errorf("failed to format %s table: %w", q, err)
	}
	if !written {
		log.Debug().Str("file", o.FileName).Str("quantity", string(q)).Msg("no tally results to write")
		return "", nil
	}
	path := o.FileName + "." + string(q)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Info().Str("path", path).Str("form", string(form)).Msg("wrote physical quantity table")
	return path, nil
}
