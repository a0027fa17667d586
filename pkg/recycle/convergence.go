package recycle

import (
	"fmt"
	"math"

	"github.com/mocdown/mocdown/pkg/uncertainty"
)

// IsotopicsNorm reduces the relative per-ZA differences between two
// inventories. Each difference is taken against the mean total of both
// inventories; a ZA missing from one side counts as zero moles there.
// norm is "1" (mean), "2" (root mean square) or "inf" (maximum), with the
// spelled-out aliases the configuration accepts.
func IsotopicsNorm(a, b map[int]float64, norm string) (float64, error) {
	var totalA, totalB float64
	zas := make(map[int]struct{}, len(a)+len(b))
	for za, moles := range a {
		zas[za] = struct{}{}
		totalA += moles
	}
	for za, moles := range b {
		zas[za] = struct{}{}
		totalB += moles
	}
	if len(zas) == 0 {
		return 0, nil
	}
	total := 0.5 * (totalA + totalB)

	diffs := make([]float64, 0, len(zas))
	for za := range zas {
		diffs = append(diffs, uncertainty.SafeDivide(math.Abs(a[za]-b[za]), total))
	}

	switch norm {
	case "1", "one":
		var sum float64
		for _, d := range diffs {
			sum += d
		}
		return sum / float64(len(diffs)), nil
	case "2", "two":
		var sum float64
		for _, d := range diffs {
			sum += d * d
		}
		return math.Sqrt(sum / float64(len(diffs))), nil
	case "inf", "infinite", "infinity":
		var peak float64
		for _, d := range diffs {
			peak = math.Max(peak, d)
		}
		return peak, nil
	}
	return 0, fmt.Errorf("unknown isotopics norm %q", norm)
}

// NormSymbol is the short name of norm used in messages.
func NormSymbol(norm string) string {
	switch norm {
	case "1", "one":
		return "1"
	case "2", "two":
		return "2"
	}
	return "∞"
}

// KeffDifference returns |k1 − k2| and the combined standard deviation of
// the two eigenvalues.
func KeffDifference(k1, k2 uncertainty.Scalar) (delta, sigma float64) {
	return math.Abs(k1.Value - k2.Value), math.Hypot(k1.Std(), k2.Std())
}
