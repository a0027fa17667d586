// Package uncertainty implements values carrying a statistical variance and
// the propagation rules used for tally arithmetic.
//
// Both Scalar and Spectrum store expectation and variance (never the
// standard deviation). Addition assumes uncorrelated operands; products and
// quotients assume full positive correlation. Results that are not finite,
// or whose magnitude exceeds 1e100, are floored to zero.
package uncertainty

import (
	"fmt"
	"math"
)

// overflow is the magnitude above which a propagated number is treated as garbage.
const overflow = 1e100

// Scalar is a single value with variance.
type Scalar struct {
	Value    float64 `json:"value"`
	Variance float64 `json:"variance"`
}

// New creates a scalar from value and variance.
func New(value, variance float64) Scalar {
	return Scalar{Value: floor(value), Variance: floor(variance)}
}

// FromStd creates a scalar from value and absolute standard deviation.
func FromStd(value, std float64) Scalar {
	return New(value, std*std)
}

// FromRelStd creates a scalar from value and relative standard deviation.
func FromRelStd(value, rel float64) Scalar {
	return New(value, value*value*rel*rel)
}

// Exact creates a scalar without uncertainty.
func Exact(value float64) Scalar {
	return Scalar{Value: value}
}

// Std returns the absolute standard deviation.
func (s Scalar) Std() float64 {
	return math.Sqrt(s.Variance)
}

// RelVariance returns variance / value². Zero values have zero relative variance.
func (s Scalar) RelVariance() float64 {
	return relVariance(s.Value, s.Variance)
}

// RelStd returns the relative standard deviation.
func (s Scalar) RelStd() float64 {
	return math.Sqrt(s.RelVariance())
}

// IsZero reports whether the expectation is zero.
func (s Scalar) IsZero() bool {
	return s.Value == 0
}

// Add returns a + b with variances summed.
func (s Scalar) Add(o Scalar) Scalar {
	return New(s.Value+o.Value, s.Variance+o.Variance)
}

// Sub returns a - b with variances summed.
func (s Scalar) Sub(o Scalar) Scalar {
	return New(s.Value-o.Value, s.Variance+o.Variance)
}

// Mul returns a · b.
func (s Scalar) Mul(o Scalar) Scalar {
	v, variance := mul(s.Value, s.Variance, o.Value, o.Variance)
	return New(v, variance)
}

// Div returns a / b. Division by zero yields zero.
func (s Scalar) Div(o Scalar) Scalar {
	v, variance := div(s.Value, s.Variance, o.Value, o.Variance)
	return New(v, variance)
}

// Scale multiplies by an exact constant.
func (s Scalar) Scale(c float64) Scalar {
	return New(s.Value*c, s.Variance*c*c)
}

// Neg returns -s.
func (s Scalar) Neg() Scalar {
	return Scalar{Value: -s.Value, Variance: s.Variance}
}

// String formats the scalar as value +/- std.
func (s Scalar) String() string {
	return fmt.Sprintf("%.5E +/- %.5E", s.Value, s.Std())
}

// Sum adds scalars.
func Sum(values ...Scalar) Scalar {
	var total Scalar
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// SafeDivide returns a / b, or zero when b is zero.
func SafeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return floor(a / b)
}

func relVariance(value, variance float64) float64 {
	if value == 0 {
		return 0
	}
	return floor(variance / (value * value))
}

func mul(a, va, b, vb float64) (float64, float64) {
	v := a * b
	ra, rb := relVariance(a, va), relVariance(b, vb)
	rel := ra + rb + 2*math.Sqrt(ra)*math.Sqrt(rb)
	return v, v * v * rel
}

func div(a, va, b, vb float64) (float64, float64) {
	if b == 0 {
		return 0, 0
	}
	v := a / b
	ra, rb := relVariance(a, va), relVariance(b, vb)
	rel := math.Abs(ra + rb - 2*math.Sqrt(ra)*math.Sqrt(rb))
	return v, v * v * rel
}

// floor maps non-finite and overflowing numbers to zero.
func floor(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x) > overflow {
		return 0
	}
	return x
}
