package results

import (
	"math"

	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/uncertainty"
)

// accumulator sums spectra that may come from tallies with different energy
// grids; mismatched grids collapse the sum to its total.
type accumulator struct {
	sum uncertainty.Spectrum
	ok  bool
}

func (a *accumulator) add(s uncertainty.Spectrum) {
	switch {
	case !a.ok:
		a.sum, a.ok = s, true
	case a.sum.Compatible(s) == nil:
		a.sum = a.sum.Add(s)
	default:
		a.sum = uncertainty.TotalOnly(a.sum.Total.Add(s.Total))
	}
}

func scaleBy(s uncertainty.Spectrum, numerator, denominator float64) uncertainty.Spectrum {
	return s.Scale(uncertainty.SafeDivide(numerator, denominator))
}

// TrackLengthVolume returns the flux-weighted track length summed over the
// leaves of cell, times the source rate, and the total leaf volume. Leaves
// placed more than once contribute their volume divided by the number of
// placements.
func (o *Output) TrackLengthVolume(cell int) (uncertainty.Spectrum, float64) {
	var acc accumulator
	var volume float64
	for _, leaf := range o.deck.LeafCells(cell) {
		v := leaf.Volume / float64(o.deck.Instances(leaf.Number))
		volume += v
		for _, t := range o.deck.Tallies(deck.CellFlux) {
			if !t.Has(leaf.Number) {
				continue
			}
			if s, ok := o.Result(t, ResultKey{Space: leaf.Number}); ok {
				acc.add(s.Scale(v))
			}
		}
	}
	return acc.sum.Scale(o.SourceRate()), volume
}

// ScalarFlux returns track length over volume for cell.
func (o *Output) ScalarFlux(cell int) uncertainty.Spectrum {
	tlv, volume := o.TrackLengthVolume(cell)
	return scaleBy(tlv, 1, volume)
}

// ReactionRate returns the rate of reaction in material summed over the
// leaves of cell. Material zero selects each leaf's own material, reaction
// 18 is read as -6, and single-isotope materials are weighted by the
// isotope's number density in the leaf.
func (o *Output) ReactionRate(cell, material int, reaction string) uncertainty.Spectrum {
	return o.reactionRate(cell, material, reaction, false)
}

func (o *Output) reactionRate(cell, material int, reaction string, forMicro bool) uncertainty.Spectrum {
	reaction = deck.NormalizeReaction(reaction)
	if reaction == "18" {
		reaction = "-6"
	}

	var acc accumulator
	var volume float64
	for _, leaf := range o.deck.LeafCells(cell) {
		mat := material
		if mat == 0 {
			mat = leaf.Material
		}
		leafMaterial := o.deck.Material(mat)
		instances := float64(o.deck.Instances(leaf.Number))
		key := deck.BinKey{Material: mat, Reaction: reaction}

		for _, t := range o.deck.Tallies(deck.CellFluxMultiplier) {
			if !t.Has(leaf.Number) {
				continue
			}
			for _, bin := range t.BinsFor(leaf.Number) {
				if bin.BinKey != key {
					continue
				}
				volume += leaf.Volume
				weight := uncertainty.SafeDivide(leaf.Volume, math.Abs(bin.Multiplier))
				if !forMicro && leafMaterial != nil && leafMaterial.IsSingleIsotope() {
					weight *= leaf.ZaidNumberDensity(leafMaterial.Zaids[0])
				}
				if s, ok := o.Result(t, ResultKey{Space: leaf.Number, Bin: key}); ok {
					acc.add(scaleBy(s, weight, instances))
				}
			}
		}
	}
	if !forMicro {
		volume = 1
	}
	return scaleBy(acc.sum, o.SourceRate(), volume)
}

// MicroscopicCrossSection returns the multiplier bin result of cell divided
// by its flux, both taken from the first tally that has them.
func (o *Output) MicroscopicCrossSection(cell, material int, reaction string) uncertainty.Spectrum {
	reaction = deck.NormalizeReaction(reaction)
	if reaction == "18" {
		reaction = "-6"
	}
	flux := o.firstResult(deck.CellFlux, ResultKey{Space: cell})
	rate := o.firstResult(deck.CellFluxMultiplier, ResultKey{Space: cell, Bin: deck.BinKey{Material: material, Reaction: reaction}})
	if rate.Compatible(flux) != nil {
		return uncertainty.TotalOnly(rate.Total.Div(flux.Total))
	}
	return rate.Div(flux)
}

func (o *Output) firstResult(kind deck.TallyKind, key ResultKey) uncertainty.Spectrum {
	for _, t := range o.deck.Tallies(kind) {
		if !t.Has(key.Space) {
			continue
		}
		if s, ok := o.Result(t, key); ok {
			return s
		}
	}
	return uncertainty.Spectrum{}
}

// ParticlePower returns the energy deposited in cell per second in watts,
// from the tallies of kind (normally f6).
func (o *Output) ParticlePower(cell int, kind deck.TallyKind) uncertainty.Spectrum {
	c := o.deck.Cell(cell)
	if c == nil {
		return uncertainty.Spectrum{}
	}
	var acc accumulator
	for _, t := range o.deck.Tallies(kind) {
		if !t.Has(cell) {
			continue
		}
		if s, ok := o.Result(t, ResultKey{Space: cell}); ok {
			acc.add(s.Scale(c.Mass() * deck.JoulePerMeV))
		}
	}
	return acc.sum.Scale(o.SourceRate())
}

// QPowerSpectrum returns the power of cell in watts computed from the
// reaction rates of its actinides and the Q tables of method.
func (o *Output) QPowerSpectrum(cell int, method string) (uncertainty.Spectrum, error) {
	terms, err := QMethod(method)
	if err != nil {
		return uncertainty.Spectrum{}, err
	}
	mat := o.deck.CellMaterial(cell)
	if mat == nil {
		return uncertainty.Spectrum{}, nil
	}
	var acc accumulator
	for _, term := range terms {
		for _, zaid := range mat.Zaids {
			za := deck.ZaidToZa(zaid)
			if !deck.IsActinide(za) {
				continue
			}
			single := o.deck.SingleZaidMaterial(zaid)
			if single == 0 {
				continue
			}
			rate := o.ReactionRate(cell, single, deck.Reaction(term.Reaction))
			acc.add(rate.Scale(term.Table(za)))
		}
	}
	return acc.sum.Scale(deck.JoulePerMeV), nil
}

// QPower returns the total of QPowerSpectrum.
func (o *Output) QPower(cell int, method string) (float64, error) {
	s, err := o.QPowerSpectrum(cell, method)
	if err != nil {
		return 0, err
	}
	return s.Total.Value, nil
}

// FissionPower returns the fission power of cell using the transport
// solver's Q values.
func (o *Output) FissionPower(cell int) float64 {
	p, _ := o.QPower(cell, "mcnp")
	return p
}

// DepletionPower returns the power the depletion solver expects for cell:
// ORIGEN2 Q values when origen2 is set, ORIGEN-S values otherwise.
func (o *Output) DepletionPower(cell int, origen2 bool) float64 {
	method := "origens"
	if origen2 {
		method = "origen2"
	}
	p, _ := o.QPower(cell, method)
	return p
}

// FissionRate returns the fissions per second of the actinides of cell,
// summed over its leaves.
func (o *Output) FissionRate(cell int) float64 {
	mat := o.deck.CellMaterial(cell)
	if mat == nil {
		return 0
	}
	var rate float64
	for _, leaf := range o.deck.LeafCells(cell) {
		for _, zaid := range mat.Zaids {
			if !deck.IsActinide(deck.ZaidToZa(zaid)) {
				continue
			}
			single := o.deck.SingleZaidMaterial(zaid)
			if single == 0 {
				continue
			}
			rate += o.ReactionRate(leaf.Number, single, "-6").Total.Value
		}
	}
	return rate
}

// PossibleMaterials returns the materials whose reaction rates are
// meaningful for cell: the materials of its leaves and the single-isotope
// materials of their isotopes.
func (o *Output) PossibleMaterials(cell int) map[int]bool {
	out := make(map[int]bool)
	for _, leaf := range o.deck.LeafCells(cell) {
		if leaf.Material == 0 {
			continue
		}
		out[leaf.Material] = true
		if mat := o.deck.Material(leaf.Material); mat != nil {
			for _, zaid := range mat.Zaids {
				if single := o.deck.SingleZaidMaterial(zaid); single != 0 {
					out[single] = true
				}
			}
		}
	}
	return out
}
