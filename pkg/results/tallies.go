package results

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/uncertainty"
)

// Angle is a cosine bin of a surface current tally.
type Angle struct {
	Lo, Hi float64
}

// ResultKey locates one sub-block of a tally result. Space is zero when the
// sub-block names no cell or surface, Angle is zero outside surface current
// tallies and Bin is the zero key outside multiplier bins.
type ResultKey struct {
	Space int
	Angle Angle
	Bin   deck.BinKey
}

var (
	pageBreak    = regexp.MustCompile(`(?m)^1`)
	subBlock     = regexp.MustCompile(`(?m)^ $`)
	spaceRuns    = regexp.MustCompile(` {2,}`)
	angleLine    = regexp.MustCompile(`(?im)^ [ca][on][sg][il][ne][e ] bin:  ([ \-]\d\.[ \d]{5}E[+\-]\d{2}) to ([ \-]\d\.[ \d]{5}E[+\-]\d{2}) [m ][u ] +$`)
	binLine      = regexp.MustCompile(`(?im)^ multiplier bin:  [ \-]\d\.\d{5}E[+\-]\d{2} +(\d+)? +([ :\d\-]+)? +$`)
	numericsLine = regexp.MustCompile(`(?im)^ {4}(\d\.\d{4}E[+\-]\d{2}| {2}total {3}| {10}) {3}(\d\.\d{5}E[+\-]\d{2}) (\d\.\d{4})$`)
	spaceLines   = map[string]*regexp.Regexp{
		"cell":    regexp.MustCompile(`(?im)^ cell  ?(\d+)[(\d)<]* +$`),
		"surface": regexp.MustCompile(`(?im)^ surface  ?(\d+)[(\d)<]* +$`),
	}
)

// tallyPages returns the output pages holding tally results, each with its
// leading page-break character restored.
func tallyPages(raw string) []string {
	var pages []string
	for _, block := range pageBreak.Split(raw, -1) {
		if len(block) > 6 && strings.HasPrefix(block, "tally ") && block[6] != 'f' {
			pages = append(pages, "1"+block)
		}
	}
	return pages
}

// tallyPage returns the page of tally number n.
func tallyPage(pages []string, n int) (string, bool) {
	re := regexp.MustCompile(fmt.Sprintf(`(?im)^1tally *%d\s`, n))
	for _, p := range pages {
		if re.MatchString(p) {
			return p, true
		}
	}
	return "", false
}

// parseTallyPage splits a tally page into sub-blocks and converts each into
// a spectrum. Sub-blocks without a space header inherit the previous one.
func parseTallyPage(t *deck.Tally, page string) map[ResultKey]uncertainty.Spectrum {
	out := make(map[ResultKey]uncertainty.Spectrum)
	spaceLine := spaceLines[t.Kind.SpaceType()]
	blocks := subBlock.Split(page, -1)
	if len(blocks) > 0 {
		blocks = blocks[1:]
	}

	lastSpace := 0
	for _, block := range blocks {
		var key ResultKey
		if m := spaceLine.FindStringSubmatch(block); m != nil {
			key.Space, _ = strconv.Atoi(m[1])
			lastSpace = key.Space
		} else {
			key.Space = lastSpace
		}
		if m := angleLine.FindStringSubmatch(block); m != nil {
			key.Angle.Lo = parseFloat(m[1])
			key.Angle.Hi = parseFloat(m[2])
		}

		multiplied := false
		if m := binLine.FindStringSubmatch(block); m != nil && m[1] != "" && m[2] != "" {
			material, _ := strconv.Atoi(m[1])
			key.Bin = deck.BinKey{Material: material, Reaction: normalizeEchoedReaction(m[2])}
			multiplied = true
		}
		if multiplied && !t.Kind.IsMultiplier() {
			continue
		}

		spectrum, ok := parseNumerics(block, len(t.Energies))
		if !ok {
			continue
		}
		out[key] = spectrum
	}
	return out
}

func normalizeEchoedReaction(r string) string {
	r = spaceRuns.ReplaceAllString(strings.TrimSpace(r), " ")
	return deck.NormalizeReaction(r)
}

// parseNumerics reads the fixed-column (energy, value, relative error)
// triples of a sub-block. With more than one energy bin the first bins
// triples are bins and the next is the total; otherwise the first triple is
// the total.
func parseNumerics(block string, bins int) (uncertainty.Spectrum, bool) {
	matches := numericsLine.FindAllStringSubmatch(block, -1)
	if len(matches) == 0 {
		return uncertainty.Spectrum{}, false
	}
	if bins <= 1 {
		bins = 0
	}
	if len(matches) <= bins {
		bins = len(matches) - 1
	}

	energies := make([]float64, bins)
	values := make([]float64, bins)
	variances := make([]float64, bins)
	for i := 0; i < bins; i++ {
		m := matches[i]
		energies[i] = parseFloat(m[1])
		values[i] = parseFloat(m[2])
		rel := parseFloat(m[3])
		variances[i] = values[i] * values[i] * rel * rel
	}
	total := matches[bins]
	value, rel := parseFloat(total[2]), parseFloat(total[3])
	totalScalar := uncertainty.New(value, value*value*rel*rel)
	if bins == 0 {
		return uncertainty.TotalOnly(totalScalar), true
	}
	spectrum, err := uncertainty.NewSpectrum(energies, values, variances, totalScalar)
	return spectrum, err == nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, " ", ""), 64)
	if err != nil {
		return 0
	}
	return v
}
