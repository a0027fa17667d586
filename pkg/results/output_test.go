package results

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/uncertainty"
)

const echoedDeck = `fuel and moderator
1 1 0.06 -1 imp:n=1 vol=10
2 2 0.05 1 -2 imp:n=1 vol=20
3 0 2 imp:n=0

1 so 1.0
2 so 2.0

mode n
kcode 1000 1.0 10 50
m1 92235.70c 0.1 8016.70c 0.2
m2 1001.70c 2 8016.70c 1
m3 92235.70c 1
f4:n 1 2
e4 1e-6 1 20
fm4 (1) (1 3 -6)
f6:n 1`

type row struct{ energy, value, rel float64 }

func echoPage(text string) string {
	var b strings.Builder
	b.WriteString("1mcnp     version 6     ld=05/08/13\n")
	for i, line := range strings.Split(text, "\n") {
		fmt.Fprintf(&b, "%9d-       %s\n", i+1, line)
	}
	return b.String()
}

func subBlockText(cell int, bin string, rows []row, total row) string {
	var b strings.Builder
	fmt.Fprintf(&b, " cell %d     \n", cell)
	if bin != "" {
		fmt.Fprintf(&b, " multiplier bin:   %s     \n", bin)
	}
	if len(rows) > 0 {
		b.WriteString("      energy   \n")
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "    %.4E   %.5E %.4f\n", r.energy, r.value, r.rel)
	}
	if len(rows) > 0 {
		fmt.Fprintf(&b, "      total      %.5E %.4f\n", total.value, total.rel)
	} else {
		fmt.Fprintf(&b, "%17s%.5E %.4f\n", "", total.value, total.rel)
	}
	return b.String()
}

func tallyPageText(n int, blocks ...string) string {
	header := fmt.Sprintf("1tally        %d        nps =     1000\n           tally type %d\n", n, n)
	return header + " \n" + strings.Join(blocks, " \n")
}

func sampleOutput() string {
	flux := []row{{1e-6, 1e-2, 0.1}, {1, 2e-2, 0.1}, {20, 3e-2, 0.1}}
	fluxTotal := row{value: 6e-2, rel: 0.05}
	rate := []row{{1e-6, 1e-1, 0.1}, {1, 2e-1, 0.1}, {20, 2e-1, 0.1}}
	rateTotal := row{value: 5e-1, rel: 0.05}
	fluxBin := "1.00000E+00                      "
	rateBin := "1.00000E+00         3 -6         "

	return strings.Join([]string{
		echoPage(echoedDeck),
		tallyPageText(4,
			subBlockText(1, fluxBin, flux, fluxTotal),
			subBlockText(1, rateBin, rate, rateTotal),
			subBlockText(2, fluxBin, flux, fluxTotal),
			subBlockText(2, rateBin, rate, rateTotal),
		),
		tallyPageText(6, subBlockText(1, "", nil, row{value: 2e-3, rel: 0.01})),
		"1keff results for: fuel and moderator\n" +
			" the final estimated combined collision/absorption/track-length keff = 1.00000 with an estimated standard deviation of 0.00100\n" +
			" the average number of neutrons produced per fission = 2.437\n",
	}, "")
}

func mustParseOutput(t *testing.T) *Output {
	t.Helper()
	o, err := Parse("core.o", sampleOutput())
	require.NoError(t, err)
	return o
}

func near(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9*math.Max(1, math.Abs(want)) {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestExtractInput(t *testing.T) {
	got := ExtractInput(sampleOutput())
	if diff := cmp.Diff(echoedDeck, got); diff != "" {
		t.Errorf("ExtractInput() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_TallyResults(t *testing.T) {
	o := mustParseOutput(t)
	d := o.Deck()

	f4 := d.Tally(deck.CellFlux, 4)
	require.NotNil(t, f4)
	flux, ok := o.Result(f4, ResultKey{Space: 1})
	require.True(t, ok, "flux of cell 1 missing")
	if diff := cmp.Diff([]float64{1e-6, 1, 20}, flux.Energies); diff != "" {
		t.Errorf("energies mismatch (-want +got):\n%s", diff)
	}
	near(t, "flux total", flux.Total.Value, 6e-2)
	near(t, "flux total variance", flux.Total.Variance, math.Pow(6e-2*0.05, 2))

	rateKey := ResultKey{Space: 1, Bin: deck.BinKey{Material: 3, Reaction: "-6"}}
	_, ok = o.Result(f4, rateKey)
	assert.False(t, ok, "flux tally kept a multiplied sub-block")

	fm4 := d.Tally(deck.CellFluxMultiplier, 4)
	require.NotNil(t, fm4)
	assert.Len(t, o.Results(fm4), 4)
	rate, ok := o.Result(fm4, rateKey)
	require.True(t, ok, "multiplier bin of cell 1 missing")
	near(t, "rate total", rate.Total.Value, 5e-1)

	f6 := d.Tally(deck.CellEnergyDeposition, 6)
	require.NotNil(t, f6)
	edep, ok := o.Result(f6, ResultKey{Space: 1})
	require.True(t, ok)
	assert.Equal(t, 0, edep.Len())
	near(t, "edep total", edep.Total.Value, 2e-3)
}

func TestParse_Eigenvalue(t *testing.T) {
	o := mustParseOutput(t)
	require.True(t, o.HasEigenvalue())
	near(t, "keff", o.Keff().Value, 1.0)
	near(t, "keff std", o.Keff().Std(), 0.001)
	near(t, "nu", o.NeutronsPerFission(), 2.437)
	near(t, "Q", o.MevPerFission(), QFissionMCNP(92235))
}

func TestParse_MissingEigenvalue(t *testing.T) {
	raw := strings.Split(sampleOutput(), "1keff results")[0]
	o, err := Parse("core.o", raw)
	require.NoError(t, err)
	assert.False(t, o.HasEigenvalue())

	var b bytes.Buffer
	require.NoError(t, o.WriteSummary(&b))
	assert.Contains(t, b.String(), "undefined")
}

func TestParse_MalformedEcho(t *testing.T) {
	_, err := Parse("broken.o", "1mcnp     version 6\n        1-       title only\n")
	require.Error(t, err)
	assert.True(t, engine.HasCode(err, engine.ErrCodeMalformedOutput))
}

func TestQuantities(t *testing.T) {
	o := mustParseOutput(t)

	tlv, volume := o.TrackLengthVolume(1)
	near(t, "volume", volume, 10)
	near(t, "track length", tlv.Total.Value, 0.6)
	near(t, "scalar flux", o.ScalarFlux(1).Total.Value, 6e-2)

	// cell 1 holds U-235 at a third of 0.06 atoms/b-cm
	rate := o.ReactionRate(1, 3, "18")
	near(t, "reaction rate", rate.Total.Value, 5e-1*10*0.02)
	near(t, "fission rate", o.FissionRate(1), 5e-1*10*0.02)
	near(t, "reaction rate of cell 2", o.ReactionRate(2, 3, "-6").Total.Value, 0)

	micro := o.MicroscopicCrossSection(1, 3, "-6")
	near(t, "micro", micro.Total.Value, 5e-1/6e-2)
	require.Equal(t, 3, micro.Len())
	near(t, "micro bin 0", micro.Values[0], 10)

	power := o.FissionPower(1)
	near(t, "fission power", power, 180.88*0.1*deck.JoulePerMeV)
	if got := o.DepletionPower(1, false); !(got > power) {
		t.Errorf("DepletionPower(origens) = %v, want above %v", got, power)
	}

	edep := o.ParticlePower(1, deck.CellEnergyDeposition)
	near(t, "particle power", edep.Total.Value, 2e-3*o.Deck().Cell(1).Mass()*deck.JoulePerMeV)

	if diff := cmp.Diff(map[int]bool{1: true, 3: true}, o.PossibleMaterials(1)); diff != "" {
		t.Errorf("PossibleMaterials(1) mismatch (-want +got):\n%s", diff)
	}

	_, err := o.QPower(1, "bogus")
	assert.Error(t, err)
}

func TestQuantities_SourceRate(t *testing.T) {
	o := mustParseOutput(t)
	assert.Equal(t, 1.0, o.SourceRate())
	o.SetSourceRate(4)
	near(t, "scaled flux", o.ScalarFlux(1).Total.Value, 4*6e-2)
	near(t, "real source rate", o.RealSourceRate(), 4)
}

func TestQMethod(t *testing.T) {
	for _, name := range []string{"mcnp", "MONTEBURNS2", "origen2", "mocup", "imocup", "origens"} {
		if _, err := QMethod(name); err != nil {
			t.Errorf("QMethod(%q) error = %v", name, err)
		}
	}
	terms, err := QMethod("origens")
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, 102, terms[1].Reaction)

	near(t, "default mcnp Q", QFissionMCNP(1001), 180)
	near(t, "monteburns2 Q", QFissionMonteburns2(92235), 200)
	near(t, "origen2 Q", QFissionOrigen2(92235), 1.29927e-3*92*92*math.Sqrt(235)+33.12)
}

func TestWriteSummary(t *testing.T) {
	o := mustParseOutput(t)
	var b bytes.Buffer
	require.NoError(t, o.WriteSummary(&b))
	out := b.String()
	assert.Contains(t, out, "< Transport results summary for `core' >")
	assert.Contains(t, out, "1.00000 ± 0.00100")
	assert.Contains(t, out, "2.437")
	for _, line := range strings.Split(strings.TrimSuffix(out, "\n"), "\n") {
		assert.Equal(t, 59, len([]rune(line)), "line %q is not centered in 59 columns", line)
	}
}

func TestParseForm(t *testing.T) {
	tests := map[string]Form{
		"bin": FormBin, "ebin": FormBin, "MeV": FormEnergy, "leth": FormLethargy,
		"norm": FormNormalized, "std": FormUncertainty,
	}
	for in, want := range tests {
		got, err := ParseForm(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseForm("log")
	assert.Error(t, err)

	assert.Equal(t, "x / Ebin", FormBin.Units("x / "))
	assert.Equal(t, "1 / lethargy", FormNormalized.Units("x / "))
}

func TestWriteQuantity(t *testing.T) {
	o := mustParseOutput(t)
	columns, err := o.Columns(QuantityFlux)
	require.NoError(t, err)
	require.Len(t, columns, 2)

	var b bytes.Buffer
	written, err := WriteQuantity(&b, columns, FormBin, quantityUnits[QuantityFlux], 0)
	require.NoError(t, err)
	require.True(t, written)

	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Neutron Energy [MeV],"+
		"Scalar-Flux (cell 1) [particles / source - cm^2 - Ebin],"+
		"Scalar-Flux (cell 2) [particles / source - cm^2 - Ebin]", lines[0])
	assert.Equal(t, "1.000000E-06,1.000000E-02,1.000000E-02", lines[1])

	b.Reset()
	written, err = WriteQuantity(&b, columns, FormBin, "", 1)
	require.NoError(t, err)
	require.True(t, written)
	assert.Len(t, strings.Split(strings.TrimSpace(b.String()), "\n"), 3)
}

func TestWriteQuantity_NothingToWrite(t *testing.T) {
	var b bytes.Buffer
	written, err := WriteQuantity(&b, nil, FormBin, "", 0)
	require.NoError(t, err)
	assert.False(t, written)
	assert.Zero(t, b.Len())
}

func TestColumns(t *testing.T) {
	o := mustParseOutput(t)

	rxn, err := o.Columns(QuantityReactionRate)
	require.NoError(t, err)
	headers := func(cs []Column) []string {
		var out []string
		for _, c := range cs {
			out = append(out, c.Header)
		}
		return out
	}
	if diff := cmp.Diff([]string{"Reaction-Rate (cell 1; material 3; reaction -6)"}, headers(rxn)); diff != "" {
		t.Errorf("reaction rate columns mismatch (-want +got):\n%s", diff)
	}

	fedep, err := o.Columns(QuantityFissionEnergyDeposition)
	require.NoError(t, err)
	require.Len(t, fedep, 2)
	near(t, "fedep total", fedep[0].Spectrum.Total.Value, o.FissionPower(1))

	micro, err := o.Columns(QuantityMicroscopic)
	require.NoError(t, err)
	require.Len(t, micro, 1)
	if diff := cmp.Diff(o.MicroscopicCrossSection(1, 3, "-6"), micro[0].Spectrum, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("micro column mismatch (-want +got):\n%s", diff)
	}

	_, err = o.Columns("nope")
	assert.Error(t, err)
}

func TestAccumulator_MismatchedGridsCollapseToTotal(t *testing.T) {
	binned := uncertainty.Zero([]float64{1, 2})
	binned.Total = uncertainty.New(2, 1)

	var acc accumulator
	acc.add(binned)
	acc.add(binned)
	assert.Equal(t, 2, acc.sum.Len())
	assert.Equal(t, 4.0, acc.sum.Total.Value)

	acc.add(uncertainty.TotalOnly(uncertainty.New(3, 1)))
	assert.Equal(t, 0, acc.sum.Len())
	assert.Equal(t, 7.0, acc.sum.Total.Value)
	assert.Equal(t, 3.0, acc.sum.Total.Variance)
}
