package deck

import (
	"math"
	"sort"
)

// Composition is the per-isotope breakdown of a material at a given cell
// density. Atom and weight fractions each sum to one whichever basis the
// material card used.
type Composition struct {
	NumberDensity float64 // atoms/b·cm
	MassDensity   float64 // g/cm³
	MolarMass     float64 // g/mol of the mixture
	Suffix        string  // most frequent library suffix

	AtomFractions   map[string]float64
	WeightFractions map[string]float64
	NumberDensities map[string]float64
	MassDensities   map[string]float64
}

// NewComposition derives a composition from a signed density (positive is a
// number density, negative a mass density, zero leaves densities at zero) and
// signed fractions keyed by zaid.
func NewComposition(density float64, fractions map[string]float64, molarMass func(za int) float64) *Composition {
	c := &Composition{
		AtomFractions:   make(map[string]float64, len(fractions)),
		WeightFractions: make(map[string]float64, len(fractions)),
		NumberDensities: make(map[string]float64, len(fractions)),
		MassDensities:   make(map[string]float64, len(fractions)),
		Suffix:          dominantSuffix(fractions),
	}
	if len(fractions) == 0 {
		return c
	}

	zaids := make([]string, 0, len(fractions))
	var sum float64
	weightBasis := false
	for zaid, f := range fractions {
		zaids = append(zaids, zaid)
		sum += f
		weightBasis = weightBasis || f < 0
	}
	sort.Strings(zaids)
	mass := func(zaid string) float64 { return molarMass(ZaidToZa(zaid)) }

	if !weightBasis {
		var mix float64
		for _, zaid := range zaids {
			mix += fractions[zaid] * mass(zaid)
		}
		mix /= sum
		for _, zaid := range zaids {
			a := fractions[zaid] / sum
			c.AtomFractions[zaid] = a
			c.WeightFractions[zaid] = a * mass(zaid) / mix
		}
		c.MolarMass = mix
	} else {
		var inverse float64
		for _, zaid := range zaids {
			w := fractions[zaid] / sum
			c.WeightFractions[zaid] = w
			inverse += w / mass(zaid)
		}
		c.MolarMass = 1 / inverse
		for _, zaid := range zaids {
			c.AtomFractions[zaid] = c.WeightFractions[zaid] / mass(zaid) * c.MolarMass
		}
	}

	switch {
	case density > 0:
		c.NumberDensity = density
		for _, zaid := range zaids {
			n := c.AtomFractions[zaid] * density
			c.NumberDensities[zaid] = n
			c.MassDensities[zaid] = n * mass(zaid) / Avogadro
			c.MassDensity += c.MassDensities[zaid]
		}
	case density < 0:
		c.MassDensity = math.Abs(density)
		for _, zaid := range zaids {
			rho := c.WeightFractions[zaid] * c.MassDensity
			c.MassDensities[zaid] = rho
			c.NumberDensities[zaid] = rho * Avogadro / mass(zaid)
			c.NumberDensity += c.NumberDensities[zaid]
		}
	default:
		for _, zaid := range zaids {
			c.NumberDensities[zaid] = 0
			c.MassDensities[zaid] = 0
		}
	}
	return c
}

// Zaids returns the zaids of the composition in sorted order.
func (c *Composition) Zaids() []string {
	out := make([]string, 0, len(c.AtomFractions))
	for zaid := range c.AtomFractions {
		out = append(out, zaid)
	}
	sort.Strings(out)
	return out
}

func dominantSuffix(fractions map[string]float64) string {
	counts := make(map[string]int)
	for zaid := range fractions {
		counts[ZaidSuffix(zaid)]++
	}
	best, bestCount := "", 0
	for suffix, n := range counts {
		if n > bestCount || (n == bestCount && suffix < best) {
			best, bestCount = suffix, n
		}
	}
	return best
}
