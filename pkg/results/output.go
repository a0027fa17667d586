// Package results models a transport solver output: the echoed input deck,
// per-tally results with uncertainties, eigenvalue scalars and the physical
// quantities derived from them.
package results

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/uncertainty"
)

var (
	echoLine     = regexp.MustCompile(`\d- {7}([\S ]*)`)
	outputSuffix = regexp.MustCompile(`(?i)\.o$`)
	finalKeff    = regexp.MustCompile(`(?i)final estimated`)
	keffLine     = regexp.MustCompile(`(?i)the final estimated.+([\d.]{7}) with an estimated.+([\d.]{7})`)
	nuLine       = regexp.MustCompile(`(?i)the average number of neutrons produced per fission = ([\d.]{5})`)
)

// Output is a parsed transport output file.
type Output struct {
	FileName string

	raw     string
	deck    *deck.Deck
	results map[*deck.Tally]map[ResultKey]uncertainty.Spectrum

	eigenvalue    bool
	keff          uncertainty.Scalar
	nu            float64
	mevPerFission float64

	sourceRate    float64
	hasSourceRate bool

	cutoff   float64
	deckOpts []deck.Option
}

// Option configures output parsing.
type Option func(*Output)

// WithDeckOptions forwards options to the parser of the echoed input deck.
func WithDeckOptions(opts ...deck.Option) Option {
	return func(o *Output) {
		o.deckOpts = append(o.deckOpts, opts...)
	}
}

// WithMassDensityCutoff sets the mass density below which cells do not
// count as power or fission cells.
func WithMassDensityCutoff(cutoff float64) Option {
	return func(o *Output) {
		o.cutoff = cutoff
	}
}

// ReadFile parses the output stored at path.
func ReadFile(path string, opts ...Option) (*Output, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transport output: %w", err)
	}
	return Parse(path, string(raw), opts...)
}

// Parse parses transport output text. The input deck is recovered from the
// input echo, so fileName only names the run.
func Parse(fileName, raw string, opts ...Option) (*Output, error) {
	o := &Output{
		FileName: outputSuffix.ReplaceAllString(fileName, ""),
		raw:      raw,
		results:  make(map[*deck.Tally]map[ResultKey]uncertainty.Spectrum),
	}
	for _, opt := range opts {
		opt(o)
	}

	d, err := deck.Parse(o.FileName, ExtractInput(raw), o.deckOpts...)
	if err != nil {
		return nil, engine.NewPermanentError("failed to parse echoed input", err).
			WithCode(engine.ErrCodeMalformedOutput).
			WithResource(fileName).
			WithOperation("parse output")
	}
	o.deck = d

	pages := tallyPages(raw)
	for _, t := range d.Tallies() {
		if page, ok := tallyPage(pages, t.Number); ok {
			o.results[t] = parseTallyPage(t, page)
		}
	}

	if d.IsKcode() {
		o.parseEigenvalue()
	}
	return o, nil
}

// ExtractInput recovers the input deck from the echo pages of an output.
func ExtractInput(raw string) string {
	var lines []string
	for _, page := range pageBreak.Split(raw, -1) {
		if !strings.HasPrefix(page, "mcnp") {
			continue
		}
		for _, m := range echoLine.FindAllStringSubmatch(page, -1) {
			lines = append(lines, m[1])
		}
	}
	return strings.Join(lines, "\n")
}

func (o *Output) parseEigenvalue() {
	if !finalKeff.MatchString(o.raw) {
		log.Warn().Str("file", o.FileName).Msg("transport output does not contain multiplication factor results")
		return
	}
	if m := nuLine.FindStringSubmatch(o.raw); m != nil {
		o.nu, _ = strconv.ParseFloat(m[1], 64)
	}
	m := keffLine.FindStringSubmatch(o.raw)
	if m == nil {
		log.Warn().Str("file", o.FileName).Msg("multiplication factor line is malformed")
		return
	}
	k, _ := strconv.ParseFloat(m[1], 64)
	sigma, _ := strconv.ParseFloat(m[2], 64)
	o.keff = uncertainty.FromStd(k, sigma)
	o.eigenvalue = true

	var power, rate float64
	for _, cell := range o.deck.FissionCells(o.cutoff) {
		power += o.FissionPower(cell)
		rate += o.FissionRate(cell)
	}
	o.mevPerFission = uncertainty.SafeDivide(power*deck.MeVPerJoule, rate)
}

// Deck returns the echoed input deck.
func (o *Output) Deck() *deck.Deck {
	return o.deck
}

// Raw returns the output text.
func (o *Output) Raw() string {
	return o.raw
}

// HasEigenvalue reports whether eigenvalue scalars were found.
func (o *Output) HasEigenvalue() bool {
	return o.eigenvalue
}

// Keff returns the multiplication factor with its variance.
func (o *Output) Keff() uncertainty.Scalar {
	return o.keff
}

// NeutronsPerFission returns ν.
func (o *Output) NeutronsPerFission() float64 {
	return o.nu
}

// MevPerFission returns the effective recoverable energy per fission.
func (o *Output) MevPerFission() float64 {
	return o.mevPerFission
}

// SetSourceRate sets the neutron source rate that normalizes tallies.
func (o *Output) SetSourceRate(rate float64) {
	o.sourceRate = rate
	o.hasSourceRate = true
}

// SourceRate returns the normalization rate, one until set.
func (o *Output) SourceRate() float64 {
	if !o.hasSourceRate {
		return 1
	}
	return o.sourceRate
}

// RealSourceRate returns the source rate multiplied by keff when defined.
func (o *Output) RealSourceRate() float64 {
	if o.eigenvalue {
		return o.SourceRate() * o.keff.Value
	}
	return o.SourceRate()
}

// Result returns the spectrum of tally t at key.
func (o *Output) Result(t *deck.Tally, key ResultKey) (uncertainty.Spectrum, bool) {
	s, ok := o.results[t][key]
	return s, ok
}

// Results returns every parsed sub-block of tally t.
func (o *Output) Results(t *deck.Tally) map[ResultKey]uncertainty.Spectrum {
	return o.results[t]
}

// WriteSummary writes keff, ν, Q and the real source rate.
func (o *Output) WriteSummary(w io.Writer) error {
	format := func(ok bool, f string, args ...interface{}) string {
		if !ok {
			return "undefined"
		}
		return fmt.Sprintf(f, args...)
	}
	lines := []string{fmt.Sprintf("< Transport results summary for `%s' >", o.FileName)}
	rows := [][2]string{
		{"keff", format(o.eigenvalue, "%.5f ± %.5f", o.keff.Value, o.keff.Std())},
		{"nu", format(o.eigenvalue, "%.3f    [n/fiss]", o.nu)},
		{"Q", format(o.eigenvalue, "%.2f   [MeV/fiss]", o.mevPerFission)},
		{"src", fmt.Sprintf("%.5E [n/s]", o.RealSourceRate())},
	}
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%-9s = %23s", r[0], r[1]))
	}
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(centerText(line, 59))
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func centerText(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	left := (width - n) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-n-left)
}
