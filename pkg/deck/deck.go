// Package deck models transport input decks: cells, surfaces, materials and
// tallies, the universe hierarchy that places cells in the geometry, derived
// material compositions, and a substitution copy of the raw input used to
// write updated decks without mutating the parsed model.
package deck

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Named cards carried by every deck.
const (
	CardTitle = "title"
	CardMode  = "mode"
	CardSdef  = "sdef"
	CardKcode = "kcode"
	CardKsrc  = "ksrc"
	CardNps   = "nps"
	CardPrint = "print"
)

// Deck is a parsed transport input.
type Deck struct {
	FileName string

	raw      string
	stripped string

	cells     []*Cell
	surfaces  []*Surface
	materials []*Material
	tallies   []*Tally

	cellIndex     map[int]*Cell
	surfaceIndex  map[int]*Surface
	materialIndex map[int]*Material
	universes     map[int][]*Cell

	named           map[string]*Card
	energyCards     []*Card
	angleCards      []*Card
	tallyComments   []*Card
	thermalScatters []*Card
	energies        map[int][]float64
	angles          map[int][]float64

	hierarchy *hierarchy
	indices   *tallyIndices
	xs        *XsDir

	newput *string
}

// Option configures parsing.
type Option func(*Deck)

// WithXsDir supplies the cross-section directory used for molar masses.
func WithXsDir(x *XsDir) Option {
	return func(d *Deck) {
		d.xs = x
	}
}

// ReadFile parses the deck stored at path.
func ReadFile(path string, opts ...Option) (*Deck, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read deck: %w", err)
	}
	return Parse(path, string(raw), opts...)
}

// Parse parses raw deck text. fileName is used to derive the names of
// substituted decks.
func Parse(fileName, raw string, opts ...Option) (*Deck, error) {
	d := &Deck{
		FileName:      fileName,
		raw:           normalizeLines(raw),
		cellIndex:     make(map[int]*Cell),
		surfaceIndex:  make(map[int]*Surface),
		materialIndex: make(map[int]*Material),
		universes:     make(map[int][]*Cell),
		energies:      make(map[int][]float64),
		angles:        make(map[int][]float64),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.stripped = stripComments(d.raw)
	cellBlock, surfaceBlock, dataBlock, err := splitBlocks(d.stripped)
	if err != nil {
		return nil, err
	}

	cellCards := logicalCards(cellBlock)
	if len(cellCards) > 0 {
		cellCards = cellCards[1:]
	}
	for _, raw := range cellCards {
		c, err := parseCell(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := d.cellIndex[c.Number]; dup {
			return nil, malformed("duplicate cell %d", c.Number)
		}
		d.cells = append(d.cells, c)
		d.cellIndex[c.Number] = c
		if c.Universe != 0 {
			d.universes[c.Universe] = append(d.universes[c.Universe], c)
		}
	}
	d.hierarchy = buildHierarchy(d.cells)

	for _, raw := range logicalCards(surfaceBlock) {
		s, err := parseSurface(raw)
		if err != nil {
			return nil, err
		}
		d.surfaces = append(d.surfaces, s)
		d.surfaceIndex[s.Number] = s
	}

	if err := d.parseDataCards(logicalCards(dataBlock)); err != nil {
		return nil, err
	}
	if err := d.attachCompositions(); err != nil {
		return nil, err
	}
	if err := d.attachTallySpecifics(); err != nil {
		return nil, err
	}
	d.indices = d.buildTallyIndices()
	return d, nil
}

var (
	dataMnemonic = regexp.MustCompile(`(?i)^[*]?([a-z]{1,5})`)
	cardNumber   = regexp.MustCompile(`(\d{1,8})`)
)

func (d *Deck) parseDataCards(cards []string) error {
	title := d.raw
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	d.named = map[string]*Card{
		CardTitle: NewCard(title),
		CardMode:  NewCard("mode n"),
	}

	for _, raw := range cards {
		first := strings.Fields(raw)[0]
		m := dataMnemonic.FindStringSubmatch(first)
		if m == nil {
			continue
		}
		switch mnemonic := strings.ToLower(m[1]); mnemonic {
		case CardMode, CardSdef, CardKcode, CardKsrc, CardNps, CardPrint:
			d.named[mnemonic] = NewCard(raw)
		case "vol":
			d.assignVolumes(raw)
		case "f", "fm":
			t, err := parseTally(raw)
			if err != nil {
				return err
			}
			if t != nil {
				d.tallies = append(d.tallies, t)
			}
		case "fc":
			d.tallyComments = append(d.tallyComments, NewCard(raw))
		case "e":
			n, err := d.parseEnergies(first, raw)
			if err != nil {
				return err
			}
			card := NewCard(raw)
			card.Number = n
			d.energyCards = append(d.energyCards, card)
		case "c":
			n := cardNumberOf(first)
			var angles []float64
			for _, w := range strings.Fields(raw)[1:] {
				if v, err := strconv.ParseFloat(w, 64); err == nil {
					angles = append(angles, v)
				}
			}
			d.angles[n] = angles
			card := NewCard(raw)
			card.Number = n
			d.angleCards = append(d.angleCards, card)
		case "m":
			mat, err := parseMaterial(raw)
			if err != nil {
				return err
			}
			if _, dup := d.materialIndex[mat.Number]; dup {
				return malformed("duplicate material %d", mat.Number)
			}
			d.materials = append(d.materials, mat)
			d.materialIndex[mat.Number] = mat
		case "mt":
			d.thermalScatters = append(d.thermalScatters, NewCard(raw))
		}
	}
	return nil
}

// assignVolumes applies a "vol" card to the cells in deck order; "Nj" skips
// N cells with zero volume.
func (d *Deck) assignVolumes(raw string) {
	var volumes []float64
	for _, w := range strings.Fields(raw)[1:] {
		lw := strings.ToLower(w)
		if strings.Contains(lw, "j") {
			n := 1
			if head := strings.TrimSuffix(lw, "j"); head != "" {
				if v, err := strconv.ParseFloat(head, 64); err == nil {
					n = int(v)
				}
			}
			volumes = append(volumes, make([]float64, n)...)
			continue
		}
		if v, err := strconv.ParseFloat(w, 64); err == nil {
			volumes = append(volumes, v)
		}
	}
	for i, c := range d.cells {
		if i >= len(volumes) {
			break
		}
		c.Volume = volumes[i]
	}
}

// parseEnergies parses an "e" card, expanding "Nilog" into N log-spaced
// points between its neighbours.
func (d *Deck) parseEnergies(first, raw string) (int, error) {
	n := cardNumberOf(first)
	words := strings.Fields(raw)[1:]
	var energies []float64
	for i, w := range words {
		lw := strings.ToLower(w)
		if strings.Contains(lw, "log") {
			if i == 0 || i+1 >= len(words) {
				return 0, malformed("energy card %s: %q needs neighbours", first, w)
			}
			count, err := strconv.ParseFloat(strings.TrimSuffix(lw, "ilog"), 64)
			if err != nil {
				return 0, malformed("energy card %s: %q", first, w)
			}
			lo, err1 := strconv.ParseFloat(words[i-1], 64)
			hi, err2 := strconv.ParseFloat(words[i+1], 64)
			if err1 != nil || err2 != nil {
				return 0, malformed("energy card %s: bad bounds around %q", first, w)
			}
			energies = append(energies, logInterior(lo, hi, int(count))...)
			continue
		}
		v, err := strconv.ParseFloat(w, 64)
		if err != nil {
			return 0, malformed("energy card %s: %q is not a number", first, w)
		}
		energies = append(energies, v)
	}
	d.energies[n] = energies
	return n, nil
}

// logInterior returns the n interior points of a log-spaced grid from lo to hi.
func logInterior(lo, hi float64, n int) []float64 {
	if n <= 0 || lo <= 0 || hi <= 0 {
		return nil
	}
	a, b := math.Log10(lo), math.Log10(hi)
	step := (b - a) / float64(n+1)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Pow(10, a+step*float64(i+1))
	}
	return out
}

func cardNumberOf(mnemonic string) int {
	m := cardNumber.FindString(mnemonic)
	if m == "" {
		return 0
	}
	n, _ := strconv.Atoi(m)
	return n
}

func (d *Deck) attachCompositions() error {
	for _, c := range d.cells {
		if c.Material == 0 {
			continue
		}
		mat, ok := d.materialIndex[c.Material]
		if !ok {
			return malformed("cell %d uses undefined material %d", c.Number, c.Material)
		}
		c.Composition = NewComposition(c.Density, mat.Fractions, d.xs.MolarMass)
	}
	return nil
}

func (d *Deck) attachTallySpecifics() error {
	cellMaterials := make(map[int]int, len(d.cells))
	for _, c := range d.cells {
		cellMaterials[c.Number] = c.Material
	}
	for _, t := range d.tallies {
		if e, ok := d.energies[t.Number]; ok {
			t.Energies = e
		} else if e, ok := d.energies[0]; ok {
			t.Energies = e
		}
		if t.Kind == SurfaceCurrent {
			if a, ok := d.angles[t.Number]; ok {
				t.Angles = a
			} else if a, ok := d.angles[0]; ok {
				t.Angles = a
			}
		}
		if t.Kind.IsMultiplier() {
			t.inherit(d.tallies)
			if err := t.populateBins(cellMaterials); err != nil {
				return err
			}
		}
	}
	return nil
}

// Raw returns the deck text with trailing whitespace removed from each line.
func (d *Deck) Raw() string {
	return d.raw
}

// Stripped returns the deck text without comments.
func (d *Deck) Stripped() string {
	return d.stripped
}

// Cells returns the cells in deck order.
func (d *Deck) Cells() []*Cell {
	return d.cells
}

// Surfaces returns the surfaces in deck order.
func (d *Deck) Surfaces() []*Surface {
	return d.surfaces
}

// Materials returns the materials in deck order.
func (d *Deck) Materials() []*Material {
	return d.materials
}

// Tallies returns the tallies of the given kinds, or all tallies when no kind
// is given.
func (d *Deck) Tallies(kinds ...TallyKind) []*Tally {
	if len(kinds) == 0 {
		return d.tallies
	}
	var out []*Tally
	for _, t := range d.tallies {
		for _, k := range kinds {
			if t.Kind == k {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// Tally returns the tally with the given kind and number, or nil.
func (d *Deck) Tally(kind TallyKind, number int) *Tally {
	for _, t := range d.tallies {
		if t.Kind == kind && t.Number == number {
			return t
		}
	}
	return nil
}

// Cell returns the cell with the given number, or nil.
func (d *Deck) Cell(number int) *Cell {
	return d.cellIndex[number]
}

// Surface returns the surface with the given number, or nil.
func (d *Deck) Surface(number int) *Surface {
	return d.surfaceIndex[number]
}

// Material returns the material with the given number, or nil.
func (d *Deck) Material(number int) *Material {
	return d.materialIndex[number]
}

// CellMaterial returns the material filling cell, or nil for void cells.
func (d *Deck) CellMaterial(cell int) *Material {
	c := d.Cell(cell)
	if c == nil || c.Material == 0 {
		return nil
	}
	return d.Material(c.Material)
}

// CellSurfaces returns the surfaces bounding cell.
func (d *Deck) CellSurfaces(cell int) []*Surface {
	c := d.Cell(cell)
	if c == nil {
		return nil
	}
	var out []*Surface
	seen := make(map[int]bool)
	for _, n := range c.Surfaces {
		if n < 0 {
			n = -n
		}
		if s := d.Surface(n); s != nil && !seen[n] {
			seen[n] = true
			out = append(out, s)
		}
	}
	return out
}

// SingleZaidMaterial returns the number of a single-isotope material holding
// zaid, or zero.
func (d *Deck) SingleZaidMaterial(zaid string) int {
	for _, m := range d.materials {
		if m.IsSingleIsotope() && m.Has(zaid) {
			return m.Number
		}
	}
	return 0
}

// NamedCard returns one of the singleton cards (title, mode, kcode, ...).
func (d *Deck) NamedCard(name string) *Card {
	return d.named[name]
}

// EnergyCards returns the "e" cards.
func (d *Deck) EnergyCards() []*Card { return d.energyCards }

// AngleCards returns the "c" cards.
func (d *Deck) AngleCards() []*Card { return d.angleCards }

// TallyComments returns the "fc" cards.
func (d *Deck) TallyComments() []*Card { return d.tallyComments }

// ThermalScatters returns the "mt" cards.
func (d *Deck) ThermalScatters() []*Card { return d.thermalScatters }

// Energies returns the energy grid of e-card n.
func (d *Deck) Energies(n int) []float64 {
	return d.energies[n]
}

// Mode returns the particle designators of the mode card, lower-cased.
func (d *Deck) Mode() string {
	words := strings.Fields(d.named[CardMode].Raw)
	if len(words) < 2 {
		return ""
	}
	return strings.ToLower(strings.Join(words[1:], ""))
}

// IsCoupled reports whether photons are transported.
func (d *Deck) IsCoupled() bool {
	return strings.Contains(d.Mode(), "p")
}

// IsKcode reports whether the deck is an eigenvalue calculation.
func (d *Deck) IsKcode() bool {
	return d.named[CardKcode] != nil
}

// XsDir returns the cross-section directory the deck was parsed with.
func (d *Deck) XsDir() *XsDir {
	return d.xs
}

// PowerCells returns the material cells whose mass density reaches cutoff.
func (d *Deck) PowerCells(cutoff float64) []int {
	var out []int
	for _, c := range d.cells {
		if c.Material == 0 {
			continue
		}
		if c.HasDensity() && c.MassDensity() < cutoff {
			continue
		}
		out = append(out, c.Number)
	}
	return out
}

// FissionCells returns the power cells holding a fissionable actinide.
func (d *Deck) FissionCells(cutoff float64) []int {
	var out []int
	for _, n := range d.PowerCells(cutoff) {
		mat := d.CellMaterial(n)
		if mat == nil {
			continue
		}
		for _, za := range mat.Zas() {
			if IsActinide(za) && za != 89225 && za != 89226 && za != 99253 {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// HeavyMetalMT returns the actinide mass of the deck in metric tons.
func (d *Deck) HeavyMetalMT() float64 {
	var total float64
	for _, c := range d.cells {
		if c.Material != 0 {
			total += c.HeavyMetalMT()
		}
	}
	return total
}

// ZaMoles sums moles per ZA over all material cells.
func (d *Deck) ZaMoles() map[int]float64 {
	out := make(map[int]float64)
	for _, c := range d.cells {
		if c.Material == 0 {
			continue
		}
		for za, moles := range c.ZaMoles() {
			out[za] += moles
		}
	}
	return out
}

// CellDecayPower returns the decay heat of cell in watts.
func (d *Deck) CellDecayPower(cell int, wattsPerMole map[int]float64) float64 {
	c := d.Cell(cell)
	if c == nil {
		return 0
	}
	return c.DecayPower(wattsPerMole)
}

// MaterialNumbers returns the sorted material numbers.
func (d *Deck) MaterialNumbers() []int {
	out := make([]int, 0, len(d.materials))
	for _, m := range d.materials {
		out = append(out, m.Number)
	}
	sort.Ints(out)
	return out
}

// IsotopicsNorm measures how far the inventories of two decks differ. The
// relative difference of every ZA is taken against the mean total inventory
// and reduced by norm: "1"/"one" (mean), "2"/"two" (root mean square) or
// "inf"/"infinite"/"infinity" (maximum).
func (d *Deck) IsotopicsNorm(other *Deck, norm string) (float64, error) {
	a, b := d.ZaMoles(), other.ZaMoles()
	zas := make(map[int]bool, len(a)+len(b))
	var sumA, sumB float64
	for za, v := range a {
		zas[za] = true
		sumA += v
	}
	for za, v := range b {
		zas[za] = true
		sumB += v
	}
	total := 0.5 * (sumA + sumB)
	if len(zas) == 0 || total == 0 {
		return 0, nil
	}

	diffs := make([]float64, 0, len(zas))
	for za := range zas {
		diffs = append(diffs, math.Abs(a[za]-b[za])/total)
	}

	switch strings.ToLower(norm) {
	case "1", "one":
		var s float64
		for _, v := range diffs {
			s += v
		}
		return s / float64(len(diffs)), nil
	case "2", "two":
		var s float64
		for _, v := range diffs {
			s += v * v
		}
		return math.Sqrt(s / float64(len(diffs))), nil
	case "inf", "infinite", "infinity":
		var m float64
		for _, v := range diffs {
			m = math.Max(m, v)
		}
		return m, nil
	}
	return 0, fmt.Errorf("unknown isotopics norm %q", norm)
}
