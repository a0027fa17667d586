package results

import (
	"fmt"
	"math"
	"strings"
)

// QTable maps a ZA to the energy released per reaction in MeV.
type QTable func(za int) float64

var qFissionMCNP = map[int]float64{
	90232: 171.91, 91233: 175.57, 92233: 180.84, 92234: 179.45, 92235: 180.88, 92236: 179.50, 92237: 180.40,
	92238: 181.31, 92239: 180.40, 92240: 180.40, 93237: 183.67, 94238: 186.65, 94239: 189.44, 94240: 186.36,
	94241: 188.99, 94242: 185.98, 94243: 187.48, 95241: 190.83, 95242: 190.54, 95243: 190.25, 96242: 190.49,
	96244: 190.49,
}

// QFissionMCNP is the transport solver's fission Q table (180 MeV default).
func QFissionMCNP(za int) float64 {
	if q, ok := qFissionMCNP[za]; ok {
		return q
	}
	return 180
}

var qFissionMonteburns2 = map[int]float64{
	90227: .9043, 90229: .9247, 90232: .9573, 91231: .9471, 91233: .9850, 92232: .9553, 92233: .9881,
	92234: .9774, 92235: 1.0, 92236: .9973, 92237: 1.0074, 92238: 1.0175, 93237: 1.0073, 93238: 1.0175,
	94238: 1.0175, 94239: 1.0435, 94240: 1.0379, 94241: 1.0536, 94242: 1.0583, 95241: 1.0513, 95242: 1.0609,
	95243: 1.0685, 96242: 1.0583, 96243: 1.0685, 96244: 1.0787, 96245: 1.0889, 96246: 1.0991, 96248: 1.1195,
	96249: 1.1296, 98251: 1.1501, 99254: 1.1807,
}

// QFissionMonteburns2 scales 200 MeV by a per-isotope factor.
func QFissionMonteburns2(za int) float64 {
	if f, ok := qFissionMonteburns2[za]; ok {
		return 200 * f
	}
	return 200
}

// QFissionOrigen2 is the depletion solver's semi-empirical fission Q.
func QFissionOrigen2(za int) float64 {
	z, a := float64(za/1000), float64(za%1000)
	return 1.29927e-3*(z*z*math.Sqrt(a)) + 33.12
}

var qCaptureOrigenS = map[int]float64{
	1001: 2.225, 5010: 2.790, 8016: 4.143, 26056: 7.600, 28058: 9.020, 40090: 7.203, 40091: 8.635,
	40092: 6.758, 40096: 5.571, 42095: 9.154, 43095: 7.710, 44101: 9.216, 45103: 6.999, 45105: 7.094,
	47109: 6.825, 54131: 8.936, 54135: 7.880, 55133: 6.704, 55134: 6.550, 60143: 7.817, 60145: 7.565,
	61147: 5.900, 61148: 7.266, 62147: 8.140, 62149: 7.982, 62150: 5.596, 62151: 8.258, 62152: 5.867,
	63153: 6.444, 63154: 8.167, 63155: 6.490, 90230: 5.010, 90232: 4.786, 90233: 6.080, 91231: 5.660,
	91233: 5.197, 92232: 5.930, 92233: 6.841, 92234: 5.297, 92235: 6.545, 92236: 5.124, 92238: 4.804,
	93237: 5.490, 93239: 4.970, 94238: 5.550, 94239: 6.533, 94240: 5.241, 94241: 6.301, 94242: 5.071,
	94243: 6.020, 95241: 5.529, 95242: 6.426, 95243: 5.363, 96244: 6.451, 96245: 6.110,
}

// QCaptureOrigenS is the capture Q table (5 MeV default).
func QCaptureOrigenS(za int) float64 {
	if q, ok := qCaptureOrigenS[za]; ok {
		return q
	}
	return 5
}

var qFissionOrigenS = map[int]float64{
	90230: 190.00, 90232: 189.21, 90233: 190.00, 91231: 190.00, 91233: 189.10, 92233: 191.29, 92234: 190.30,
	92235: 194.02, 92236: 192.80, 92238: 198.12, 93237: 195.10, 94238: 197.80, 94239: 200.05, 94240: 199.79,
	94241: 202.22, 94242: 200.62, 95241: 202.30, 95242: 202.29, 95243: 202.10,
}

// QFissionOrigenS is the fission Q table with capture gammas excluded
// (200 MeV default).
func QFissionOrigenS(za int) float64 {
	if q, ok := qFissionOrigenS[za]; ok {
		return q
	}
	return 200
}

// QTerm pairs a Q table with the reaction it applies to.
type QTerm struct {
	Table    QTable
	Reaction int
}

// QMethod returns the Q terms of a named method: "mcnp", "monteburns2",
// "origen2" (aliases "mocup" and "imocup") or "origens".
func QMethod(name string) ([]QTerm, error) {
	switch strings.ToLower(name) {
	case "mcnp":
		return []QTerm{{QFissionMCNP, -6}}, nil
	case "monteburns2":
		return []QTerm{{QFissionMonteburns2, -6}}, nil
	case "origen2", "mocup", "imocup":
		return []QTerm{{QFissionOrigen2, -6}}, nil
	case "origens":
		return []QTerm{{QFissionOrigenS, -6}, {QCaptureOrigenS, 102}}, nil
	}
	return nil, fmt.Errorf("unknown Q method %q", name)
}
