package deck

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TallyKind enumerates the tally types the deck model understands. The last
// digit of a tally number selects the kind; an "fm" card selects the
// multiplier variant.
type TallyKind int

const (
	SurfaceCurrent TallyKind = iota + 1
	SurfaceFlux
	CellFlux
	CellFluxMultiplier
	Detector
	DetectorMultiplier
	CellEnergyDeposition
	CellFissionEnergyDeposition
	CellPulseHeight
)

var tallyMnemonics = map[TallyKind]string{
	SurfaceCurrent:              "f1",
	SurfaceFlux:                 "f2",
	CellFlux:                    "f4",
	CellFluxMultiplier:          "fm4",
	Detector:                    "f5",
	DetectorMultiplier:          "fm5",
	CellEnergyDeposition:        "f6",
	CellFissionEnergyDeposition: "f7",
	CellPulseHeight:             "f8",
}

// Mnemonic returns "f4", "fm4" and so on.
func (k TallyKind) Mnemonic() string {
	if m, ok := tallyMnemonics[k]; ok {
		return m
	}
	return fmt.Sprintf("tally(%d)", int(k))
}

func (k TallyKind) String() string {
	return k.Mnemonic()
}

// IsMultiplier reports whether the kind cross-tabulates multiplier bins.
func (k TallyKind) IsMultiplier() bool {
	return k == CellFluxMultiplier || k == DetectorMultiplier
}

// SpaceType returns "surface" for surface tallies and "cell" otherwise.
func (k TallyKind) SpaceType() string {
	if k == SurfaceCurrent || k == SurfaceFlux {
		return "surface"
	}
	return "cell"
}

func tallyKindOf(number int, multiplier bool) (TallyKind, bool) {
	switch number % 10 {
	case 1:
		return SurfaceCurrent, !multiplier
	case 2:
		return SurfaceFlux, !multiplier
	case 4:
		if multiplier {
			return CellFluxMultiplier, true
		}
		return CellFlux, true
	case 5:
		if multiplier {
			return DetectorMultiplier, true
		}
		return Detector, true
	case 6:
		return CellEnergyDeposition, !multiplier
	case 7:
		return CellFissionEnergyDeposition, !multiplier
	case 8:
		return CellPulseHeight, !multiplier
	}
	return 0, false
}

// BinKey identifies a multiplier bin by material and reaction. Material zero
// and an empty reaction denote a flux-only bin. Reactions are either a
// reaction number in decimal or a normalized reaction expression.
type BinKey struct {
	Material int
	Reaction string
}

// Reaction returns the key reaction for an integer reaction number.
func Reaction(number int) string {
	return strconv.Itoa(number)
}

// ReactionNumber returns the reaction as an integer if it is one.
func (k BinKey) ReactionNumber() (int, bool) {
	n, err := strconv.Atoi(k.Reaction)
	return n, err == nil
}

// MultiplierBin is one (cell, multiplier, material, reaction) bin of a
// multiplier tally.
type MultiplierBin struct {
	Cell       int
	Multiplier float64
	BinKey
}

// Tally is an f or fm card together with the energy, angle and multiplier
// bins attached to it after parsing.
type Tally struct {
	Card
	Kind      TallyKind
	Particles string
	Spaces    []int
	Energies  []float64
	Angles    []float64
	Bins      []MultiplierBin
}

var (
	tallyGenerics   = regexp.MustCompile(`(?is)f(m?)(\d{1,8})\s*:?\s*([np]?)\s*,?\s*([np]?)`)
	multiplierCard  = regexp.MustCompile(`(?is)fm\d{0,7}[45]:?\s*([np]?)\s*,?\s*([np]?)\s+(.+)`)
	reactionSplit   = regexp.MustCompile(`\) +\(`)
	reactionSpacing = regexp.MustCompile(` {2,}`)
)

func parseTally(raw string) (*Tally, error) {
	m := tallyGenerics.FindStringSubmatch(raw)
	if m == nil {
		return nil, malformed("tally card %q", firstLine(raw))
	}
	number, _ := strconv.Atoi(m[2])
	kind, ok := tallyKindOf(number, m[1] != "")
	if !ok {
		return nil, nil
	}
	t := &Tally{
		Card:      Card{Number: number, Raw: raw},
		Kind:      kind,
		Particles: strings.ToLower(m[3] + m[4]),
	}
	if !kind.IsMultiplier() {
		for _, w := range strings.Fields(raw)[1:] {
			if strings.ContainsAny(w, "()") {
				continue
			}
			v, err := strconv.ParseFloat(w, 64)
			if err != nil {
				continue
			}
			t.Spaces = append(t.Spaces, int(v))
		}
	}
	return t, nil
}

// Has reports whether space (a cell or surface number) is tallied.
func (t *Tally) Has(space int) bool {
	for _, s := range t.Spaces {
		if s == space {
			return true
		}
	}
	return false
}

// HasParticle reports whether the tally scores any of the given particles.
func (t *Tally) HasParticle(particles string) bool {
	return strings.ContainsAny(t.Particles, particles)
}

// inherit copies particles and spaces from the sibling flux or detector tally.
func (t *Tally) inherit(tallies []*Tally) {
	want := CellFlux
	if t.Kind == DetectorMultiplier {
		want = Detector
	}
	for _, s := range tallies {
		if s.Kind == want && s.Number == t.Number {
			t.Particles = s.Particles
			t.Spaces = append([]int(nil), s.Spaces...)
			return
		}
	}
}

// populateBins cracks the parenthesized groups of a multiplier card and
// normalizes their sign per cell: -1 for the cell's own material, +1 for a
// material no cell uses.
func (t *Tally) populateBins(cellMaterials map[int]int) error {
	m := multiplierCard.FindStringSubmatch(t.Raw)
	if m == nil {
		return malformed("multiplier tally %d has no bins", t.Number)
	}
	if p := strings.ToLower(m[1] + m[2]); p != "" {
		t.Particles = p
	}

	text := strings.TrimSpace(m[3])
	var groups []string
	if strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")") {
		groups = topLevelGroups(text)
	} else {
		groups = []string{text}
	}

	var cracked []MultiplierBin
	for _, g := range groups {
		bins, err := crackBin(g)
		if err != nil {
			return fmt.Errorf("tally %d: %w", t.Number, err)
		}
		cracked = append(cracked, bins...)
	}

	used := make(map[int]bool, len(cellMaterials))
	for _, mat := range cellMaterials {
		used[mat] = true
	}

	t.Bins = t.Bins[:0]
	for _, cell := range t.Spaces {
		own, isCell := cellMaterials[cell]
		for _, b := range cracked {
			b.Cell = cell
			switch {
			case b.Material == 0 && b.Reaction == "":
				// Flux-only bin.
			case isCell && b.Material == own && !(b.Multiplier > 1):
				b.Multiplier = -boolf(b.Multiplier != 0)
			case !used[b.Material]:
				b.Multiplier = boolf(b.Multiplier != 0)
			}
			t.Bins = append(t.Bins, b)
		}
	}
	return nil
}

// BinsFor returns the multiplier bins of cell.
func (t *Tally) BinsFor(cell int) []MultiplierBin {
	var out []MultiplierBin
	for _, b := range t.Bins {
		if b.Cell == cell {
			out = append(out, b)
		}
	}
	return out
}

func crackBin(text string) ([]MultiplierBin, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, malformed("empty multiplier bin")
	}
	mult, err := strconv.ParseFloat(words[0], 64)
	if err != nil {
		return nil, malformed("multiplier %q is not a number", words[0])
	}
	if len(words) == 1 {
		return []MultiplierBin{{Multiplier: mult}}, nil
	}
	mat, err := strconv.ParseFloat(words[1], 64)
	if err != nil {
		return nil, malformed("multiplier material %q is not a number", words[1])
	}

	rest := strings.Join(words[2:], " ")
	var out []MultiplierBin
	for _, r := range reactionSplit.Split(rest, -1) {
		r = strings.Trim(r, "()")
		out = append(out, MultiplierBin{
			Multiplier: mult,
			BinKey:     BinKey{Material: int(mat), Reaction: NormalizeReaction(r)},
		})
	}
	return out, nil
}

// NormalizeReaction canonicalizes a reaction list so that the same reaction
// written in a deck and echoed in an output compare equal.
func NormalizeReaction(r string) string {
	r = strings.TrimSpace(r)
	if v, err := strconv.ParseFloat(r, 64); err == nil {
		return strconv.Itoa(int(v))
	}
	r = reactionSpacing.ReplaceAllString(r, " ")
	return strings.ReplaceAll(r, " : ", ":")
}

// topLevelGroups returns the contents of each outermost parenthesized group.
func topLevelGroups(text string) []string {
	var groups []string
	level, start := 0, 0
	for i, r := range text {
		switch r {
		case '(':
			level++
			if level == 1 {
				start = i
			}
		case ')':
			level--
			if level == 0 {
				groups = append(groups, text[start+1:i])
			}
		}
	}
	return groups
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
