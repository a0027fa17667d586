package uncertainty

import (
	"errors"
	"fmt"
	"math"
)

// ErrBinMismatch reports spectra or slices with different numbers of bins.
var ErrBinMismatch = errors.New("spectrum bin counts differ")

// Spectrum is a binned tally result: per-bin values and variances plus a total.
// Energies holds the upper edge of each bin; a spectrum without bins carries
// only its total.
type Spectrum struct {
	Energies  []float64 `json:"energies,omitempty"`
	Values    []float64 `json:"values,omitempty"`
	Variances []float64 `json:"variances,omitempty"`
	Total     Scalar    `json:"total"`
}

// NewSpectrum creates a spectrum. It fails with ErrBinMismatch unless all
// slices have equal length.
func NewSpectrum(energies, values, variances []float64, total Scalar) (Spectrum, error) {
	if len(values) != len(energies) || len(variances) != len(energies) {
		return Spectrum{}, fmt.Errorf("%w: %d energies, %d values, %d variances",
			ErrBinMismatch, len(energies), len(values), len(variances))
	}
	return Spectrum{Energies: energies, Values: values, Variances: variances, Total: total}, nil
}

// TotalOnly creates a spectrum without energy bins.
func TotalOnly(total Scalar) Spectrum {
	return Spectrum{Total: total}
}

// Zero returns an all-zero spectrum on the given energy grid.
func Zero(energies []float64) Spectrum {
	n := len(energies)
	return Spectrum{
		Energies:  append([]float64(nil), energies...),
		Values:    make([]float64, n),
		Variances: make([]float64, n),
	}
}

// Len returns the number of energy bins.
func (s Spectrum) Len() int {
	return len(s.Values)
}

// Bin returns bin i as a scalar.
func (s Spectrum) Bin(i int) Scalar {
	return Scalar{Value: s.Values[i], Variance: s.Variances[i]}
}

// IsZero reports whether the total is zero.
func (s Spectrum) IsZero() bool {
	return s.Total.Value == 0
}

// Compatible reports whether s and o can be combined bin by bin.
func (s Spectrum) Compatible(o Spectrum) error {
	if s.Len() != o.Len() {
		return fmt.Errorf("%w: %d vs %d", ErrBinMismatch, s.Len(), o.Len())
	}
	return nil
}

// Add returns the bin-wise sum with variances summed. Add, Sub, Mul and Div
// panic unless s.Compatible(o) is nil.
func (s Spectrum) Add(o Spectrum) Spectrum {
	s.mustMatch(o)
	out := s.empty()
	for i := range s.Values {
		out.Values[i] = floor(s.Values[i] + o.Values[i])
		out.Variances[i] = floor(s.Variances[i] + o.Variances[i])
	}
	out.Total = s.Total.Add(o.Total)
	return out
}

// Sub returns the bin-wise difference with variances summed.
func (s Spectrum) Sub(o Spectrum) Spectrum {
	return s.Add(o.Scale(-1))
}

// Mul returns the bin-wise product. With bins, the total is the sum of the products.
func (s Spectrum) Mul(o Spectrum) Spectrum {
	s.mustMatch(o)
	out := s.empty()
	for i := range s.Values {
		out.Values[i], out.Variances[i] = mul(s.Values[i], s.Variances[i], o.Values[i], o.Variances[i])
	}
	out.floorBins()
	out.Total = out.binTotal(s.Total.Mul(o.Total))
	return out
}

// Div returns the bin-wise quotient. With bins, the total is the sum of the quotients.
func (s Spectrum) Div(o Spectrum) Spectrum {
	s.mustMatch(o)
	out := s.empty()
	for i := range s.Values {
		out.Values[i], out.Variances[i] = div(s.Values[i], s.Variances[i], o.Values[i], o.Variances[i])
	}
	out.floorBins()
	out.Total = out.binTotal(s.Total.Div(o.Total))
	return out
}

// MulScalar multiplies every bin and the total by a scalar with uncertainty.
func (s Spectrum) MulScalar(c Scalar) Spectrum {
	out := s.empty()
	for i := range s.Values {
		out.Values[i], out.Variances[i] = mul(s.Values[i], s.Variances[i], c.Value, c.Variance)
	}
	out.floorBins()
	out.Total = out.binTotal(s.Total.Mul(c))
	return out
}

// DivScalar divides every bin and the total by a scalar with uncertainty.
func (s Spectrum) DivScalar(c Scalar) Spectrum {
	out := s.empty()
	for i := range s.Values {
		out.Values[i], out.Variances[i] = div(s.Values[i], s.Variances[i], c.Value, c.Variance)
	}
	out.floorBins()
	out.Total = out.binTotal(s.Total.Div(c))
	return out
}

// Scale multiplies by an exact constant.
func (s Spectrum) Scale(c float64) Spectrum {
	out := s.empty()
	for i := range s.Values {
		out.Values[i] = floor(s.Values[i] * c)
		out.Variances[i] = floor(s.Variances[i] * c * c)
	}
	out.Total = s.Total.Scale(c)
	return out
}

// HalfSample merges adjacent bin pairs. An odd-length spectrum carries its
// first bin unchanged. In average mode merged bins are halved (variances
// quartered) and so is the total; otherwise the total is preserved.
func (s Spectrum) HalfSample(average bool) Spectrum {
	n := s.Len()
	odd := n % 2
	m := (n + odd) / 2

	out := Spectrum{
		Energies:  make([]float64, 0, m),
		Values:    make([]float64, 0, m),
		Variances: make([]float64, 0, m),
		Total:     s.Total,
	}
	if odd == 1 {
		out.Energies = append(out.Energies, s.Energies[0])
		out.Values = append(out.Values, s.Values[0])
		out.Variances = append(out.Variances, s.Variances[0])
	}
	for i := odd; i+1 < n; i += 2 {
		value := s.Values[i] + s.Values[i+1]
		variance := s.Variances[i] + s.Variances[i+1]
		if average {
			value /= 2
			variance /= 4
		}
		out.Energies = append(out.Energies, s.Energies[i+1])
		out.Values = append(out.Values, value)
		out.Variances = append(out.Variances, variance)
	}
	if average {
		out.Total = Scalar{Value: s.Total.Value / 2, Variance: s.Total.Variance / 4}
	}
	return out
}

// DownSample applies |n| half-samplings; negative n averages.
func (s Spectrum) DownSample(n int) Spectrum {
	average := n < 0
	if average {
		n = -n
	}
	out := s
	for i := 0; i < n && out.Len() > 1; i++ {
		out = out.HalfSample(average)
	}
	return out
}

// EnergyWidths returns the width of each bin; the first bin starts at zero.
func (s Spectrum) EnergyWidths() []float64 {
	widths := make([]float64, len(s.Energies))
	for i, e := range s.Energies {
		if i == 0 {
			widths[i] = e
			continue
		}
		widths[i] = e - s.Energies[i-1]
	}
	return widths
}

// LethargyWidths returns -ln(1 - ΔE/E) per bin, zero where undefined.
func (s Spectrum) LethargyWidths() []float64 {
	widths := s.EnergyWidths()
	for i, w := range widths {
		widths[i] = floor(-math.Log(1 - SafeDivide(w, s.Energies[i])))
	}
	return widths
}

// MeanEnergies returns the midpoint of every bin.
func (s Spectrum) MeanEnergies() []float64 {
	widths := s.EnergyWidths()
	out := make([]float64, len(widths))
	for i, w := range widths {
		out[i] = s.Energies[i] - 0.5*w
	}
	return out
}

// PerEnergy divides each bin by its energy width.
func (s Spectrum) PerEnergy() []float64 {
	return divideBins(s.Values, s.EnergyWidths())
}

// PerLethargy divides each bin by its lethargy width.
func (s Spectrum) PerLethargy() []float64 {
	return divideBins(s.Values, s.LethargyWidths())
}

// NormalizedPerLethargy divides the per-lethargy values by the total.
func (s Spectrum) NormalizedPerLethargy() []float64 {
	per := s.PerLethargy()
	for i := range per {
		per[i] = SafeDivide(per[i], s.Total.Value)
	}
	return per
}

// Stds returns per-bin absolute standard deviations.
func (s Spectrum) Stds() []float64 {
	out := make([]float64, len(s.Variances))
	for i, v := range s.Variances {
		out[i] = math.Sqrt(v)
	}
	return out
}

// RelStds returns per-bin relative standard deviations.
func (s Spectrum) RelStds() []float64 {
	out := make([]float64, len(s.Values))
	for i := range s.Values {
		out[i] = math.Sqrt(relVariance(s.Values[i], s.Variances[i]))
	}
	return out
}

func (s Spectrum) mustMatch(o Spectrum) {
	if err := s.Compatible(o); err != nil {
		panic("uncertainty: " + err.Error())
	}
}

func (s Spectrum) empty() Spectrum {
	n := s.Len()
	return Spectrum{
		Energies:  append([]float64(nil), s.Energies...),
		Values:    make([]float64, n),
		Variances: make([]float64, n),
	}
}

func (s *Spectrum) floorBins() {
	for i := range s.Values {
		s.Values[i] = floor(s.Values[i])
		s.Variances[i] = floor(s.Variances[i])
	}
}

// binTotal sums the bins, or returns fallback for a spectrum without bins.
func (s Spectrum) binTotal(fallback Scalar) Scalar {
	if s.Len() == 0 {
		return fallback
	}
	var total Scalar
	for i := range s.Values {
		total.Value += s.Values[i]
		total.Variance += s.Variances[i]
	}
	return New(total.Value, total.Variance)
}

func divideBins(values, widths []float64) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		out[i] = SafeDivide(values[i], widths[i])
	}
	return out
}
