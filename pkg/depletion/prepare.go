package depletion

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/origen"
)

// Digit limits of material and tally numbers. The lesser transport solver
// accepts fewer.
const (
	materialDigits       = 8
	lesserMaterialDigits = 4
	tallyDigits          = 4
	lesserTallyDigits    = 3
)

// prepareTransport writes the transport input of the current step and
// iteration and returns its path. Burn cells carry their depleted
// compositions and feedback updates are applied on top. Unless final is set,
// the single-isotope materials and the flux, reaction-rate and power
// tallies the depletion solver needs are appended.
func (d *Depleter) prepareTransport(final bool) (string, error) {
	dk := d.original
	dk.ResetNewput()

	burned, zaids, err := d.burnedMaterials()
	if err != nil {
		return "", err
	}

	// Burn-cell compositions and feedback meet on the same cell cards.
	edited := make(map[int]bool)
	for _, n := range d.burnCells {
		cell := dk.Cell(n)
		update := d.applied[n]
		var density *float64
		if calc, ok := d.calcs[n]; ok {
			nd := calc.NumberDensity()
			density = &nd
		}
		if update.MassDensity != nil {
			md := -math.Abs(*update.MassDensity)
			density = &md
		}
		if density == nil && update.Temperature == nil {
			continue
		}
		if err := dk.ReplaceCard(&cell.Card, cell.WithUpdates(density, update.Temperature)); err != nil {
			return "", err
		}
		edited[n] = true
	}
	for _, n := range sortedCells(d.applied) {
		if edited[n] {
			continue
		}
		cell := dk.Cell(n)
		if cell == nil {
			return "", engine.NewPreconditionError(fmt.Sprintf("feedback updates unknown cell %d", n), nil).
				WithCode(engine.ErrCodeValidation).
				WithOperation("prepare transport")
		}
		update := d.applied[n]
		var density *float64
		if update.MassDensity != nil {
			md := -math.Abs(*update.MassDensity)
			density = &md
		}
		if err := dk.ReplaceCard(&cell.Card, cell.WithUpdates(density, update.Temperature)); err != nil {
			return "", err
		}
	}

	for _, m := range burned {
		if err := dk.ReplaceCard(&m.material.Card, m.card()); err != nil {
			return "", err
		}
	}

	if !final {
		d.appendTransmuteCards(zaids)
	}

	path := d.fileName("i", final)
	if err := os.WriteFile(path, []byte(dk.Newput()), 0o644); err != nil {
		return "", engine.NewTransientError("failed to write transport input", err).
			WithResource(path).
			WithOperation("prepare transport")
	}
	return path, nil
}

type burnedMaterial struct {
	material  *deck.Material
	fractions map[string]float64
}

// card renders the material with its isotopes ordered by descending atom
// fraction.
func (m burnedMaterial) card() string {
	zaids := make([]string, 0, len(m.fractions))
	for zaid := range m.fractions {
		zaids = append(zaids, zaid)
	}
	sort.Slice(zaids, func(i, j int) bool {
		fi, fj := m.fractions[zaids[i]], m.fractions[zaids[j]]
		if fi != fj {
			return fi > fj
		}
		return zaids[i] > zaids[j]
	})
	words := make([]string, len(zaids))
	for i, zaid := range zaids {
		words[i] = fmt.Sprintf("%10s %+.5E", zaid, m.fractions[zaid])
	}
	return deck.WordArrange(words, fmt.Sprintf("m%-6d", m.material.Number), 0, 8)
}

// burnedMaterials returns the depleted material of every burn cell and the
// union of zaids the transport run has to tally. Before the first
// transmutation the zaids are those of the burn-cell materials.
func (d *Depleter) burnedMaterials() ([]burnedMaterial, []string, error) {
	dk := d.original
	set := make(map[string]bool)
	if d.calcs == nil {
		for _, n := range d.burnCells {
			for _, zaid := range dk.CellMaterial(n).Zaids {
				set[zaid] = true
			}
		}
		return nil, sortedZaids(set), nil
	}

	xs := dk.XsDir()
	cutoff := d.cfg.Depletion.IsotopeCutoff
	owner := make(map[int]int)
	var out []burnedMaterial
	for _, n := range d.burnCells {
		calc := d.calcs[n]
		material := dk.CellMaterial(n)
		if prev, ok := owner[material.Number]; ok {
			return nil, nil, engine.NewPreconditionError(
				fmt.Sprintf("burn cells %d and %d share material %d", prev, n, material.Number), nil).
				WithCode(engine.ErrCodeValidation).
				WithOperation("prepare transport")
		}
		owner[material.Number] = n

		suffix := ""
		if c := dk.Cell(n).Composition; c != nil {
			suffix = c.Suffix
		}
		atoms := calc.AtomFractions()
		significant := make(map[int]bool)
		for _, fractions := range []map[int]float64{
			atoms,
			calc.AbsorptionFractions(),
			calc.FissionFractions(),
			weightFractions(calc, xs),
		} {
			for zam, f := range fractions {
				if f > cutoff {
					significant[zam] = true
				}
			}
		}

		fractions := make(map[string]float64)
		for zam := range significant {
			zaid := deck.ZamToZaid(zam, suffix)
			if !xs.Has(zaid) {
				continue
			}
			fractions[zaid] += atoms[zam]
			set[zaid] = true
		}
		out = append(out, burnedMaterial{material: material, fractions: fractions})
	}
	return out, sortedZaids(set), nil
}

func weightFractions(calc *origen.Calculation, xs *deck.XsDir) map[int]float64 {
	masses := calc.MassDensities(xs.MolarMass)
	var total float64
	for _, m := range masses {
		total += m
	}
	for zam, m := range masses {
		if total > 0 {
			masses[zam] = m / total
		}
	}
	return masses
}

// appendTransmuteCards attaches one single-isotope material per zaid, a
// cell-flux tally over the burn cells with the reaction-rate multipliers
// of every material, and for coupled runs an energy-deposition tally over
// the power cells.
func (d *Depleter) appendTransmuteCards(zaids []string) {
	dk := d.original
	lesser := d.cfg.Transport.IsLesser()

	usedMaterials := map[int]bool{0: true}
	for _, n := range dk.MaterialNumbers() {
		usedMaterials[n] = true
	}
	digits := materialDigits
	if lesser {
		digits = lesserMaterialDigits
	}
	limit := int(math.Pow10(digits))

	d.materialZaids = make(map[int]string, len(zaids))
	numbers := make(map[string]int, len(zaids))
	var lines []string
	for _, zaid := range zaids {
		number := deck.ZaidToZa(zaid)
		if usedMaterials[number] || number >= limit {
			number = deck.UniqueDigits(d.rng, digits, usedMaterials)
		}
		usedMaterials[number] = true
		numbers[zaid] = number
		d.materialZaids[number] = zaid
		lines = append(lines, fmt.Sprintf("m%-6d %10s +1.0", number, zaid))
	}

	usedTallies := make(map[int]bool)
	for _, t := range dk.Tallies() {
		if t.Number%10 == 4 {
			usedTallies[t.Number/10] = true
		}
	}
	tally := -1
	for n := 0; n < 100; n++ {
		if !usedTallies[n] {
			tally = n
			break
		}
	}
	if tally < 0 {
		digits := tallyDigits
		if lesser {
			digits = lesserTallyDigits
		}
		tally = deck.UniqueDigits(d.rng, digits, usedTallies)
	}
	d.transmuteTally = 10*tally + 4

	cells := make([]string, len(d.burnCells))
	for i, n := range d.burnCells {
		cells[i] = fmt.Sprint(n)
	}
	cards := []string{deck.WordArrange(cells, fmt.Sprintf("f%d:n", d.transmuteTally), 0, 0)}

	bins := []string{"(1)"}
	for _, zaid := range zaids {
		mts := d.reactionsOf(deck.ZaidToZam(zaid))
		words := make([]string, len(mts))
		for i, mt := range mts {
			words[i] = fmt.Sprint(mt)
		}
		bins = append(bins, fmt.Sprintf("(1 %d (%s))", numbers[zaid], strings.Join(words, ") (")))
	}
	cards = append(cards, deck.WordArrange(bins, fmt.Sprintf("fm%d:n", d.transmuteTally), 0, 0))

	if dk.IsCoupled() {
		var power []string
		for _, n := range dk.PowerCells(d.cfg.Depletion.MassDensityCutoff) {
			power = append(power, fmt.Sprint(n))
		}
		particles := strings.Join(strings.Split(dk.Mode(), ""), ",")
		cards = append(cards, deck.WordArrange(power, fmt.Sprintf("f%d:%s", 10*tally+6, particles), 0, 0))
	}

	dk.AppendCard(strings.Join(append(cards, lines...), "\n"))
}

// reactionsOf returns the reaction numbers of every cross-section library
// holding zam, or those of the activation-product group when none does.
func (d *Depleter) reactionsOf(zam int) []int {
	seen := make(map[int]bool)
	for lib, zams := range d.libs.LibraryZams {
		for _, z := range zams {
			if z != zam {
				continue
			}
			if mts, err := origen.GroupMTs(lib); err == nil {
				for _, mt := range mts {
					seen[mt] = true
				}
			}
			break
		}
	}
	if len(seen) == 0 {
		mts, _ := origen.GroupMTs(1)
		for _, mt := range mts {
			seen[mt] = true
		}
	}
	out := make([]int, 0, len(seen))
	for mt := range seen {
		out = append(out, mt)
	}
	sort.Ints(out)
	return out
}

func sortedZaids(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for zaid := range set {
		out = append(out, zaid)
	}
	sort.Slice(out, func(i, j int) bool {
		zi, zj := deck.ZaidToZa(out[i]), deck.ZaidToZa(out[j])
		if zi != zj {
			return zi < zj
		}
		return out[i] < out[j]
	})
	return out
}
