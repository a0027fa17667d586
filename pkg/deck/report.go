package deck

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// WriteCellReport writes the material cell table and the per-cell isotope
// table.
func (d *Deck) WriteCellReport(w io.Writer) error {
	var cells []*Cell
	for _, c := range d.cells {
		if c.Density != 0 {
			cells = append(cells, c)
		}
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].Number < cells[j].Number })

	var b strings.Builder
	b.WriteString("> Cell material numbers, number densities, mass densities, volumes, atoms, masses, and temperatures\n")
	b.WriteString(center("Cell #", 8) + center("Material #", 12) + center("N [a/b·cm]", 14) + center("ρ [g/cm³]", 11) +
		center("Volume [cm³]", 14) + center("Atoms [mol]", 14) + center("Mass [g]", 14) + center("Temperature [K]", 17) + "\n")
	for _, c := range cells {
		b.WriteString(center(strconv.Itoa(c.Number), 8))
		b.WriteString(center(strconv.Itoa(c.Material), 12))
		b.WriteString(center(fmt.Sprintf("%.6G", c.NumberDensity()), 14))
		b.WriteString(center(fmt.Sprintf("%.4G", c.MassDensity()), 11))
		b.WriteString(center(fmt.Sprintf("%.6E", c.Volume), 14))
		b.WriteString(center(fmt.Sprintf("%.6E", c.Moles()), 14))
		b.WriteString(center(fmt.Sprintf("%.6E", c.Mass()), 14))
		b.WriteString(center(fmt.Sprintf("%.0f", c.Temperature*KelvinPerMeV), 17))
		b.WriteString("\n")
	}

	b.WriteString("> Cell isotopes, temperature ids, number densities, mass densities, atoms, and masses\n")
	b.WriteString(center("Cell #", 8) + center("Isotope", 9) + center("Temperature [K]", 17) + center("N [a/b·cm]", 14) +
		center("ρ [g/cm³]", 11) + center("Atoms [mol]", 14) + center("Mass [g]", 14) + "\n")
	for _, c := range cells {
		zaids := c.Zaids()
		sort.Slice(zaids, func(i, j int) bool { return numericLess(zaids[i], zaids[j]) })
		for _, zaid := range zaids {
			temperature := "." + ZaidSuffix(zaid)
			if t, ok := d.xs.Temperature(zaid); ok {
				temperature += fmt.Sprintf(" (%d)", int(math.Round(t*KelvinPerMeV/15))*15)
			}
			b.WriteString(center(strconv.Itoa(c.Number), 8))
			b.WriteString(center(ZaidToIsotope(zaid), 9))
			b.WriteString(center(temperature, 17))
			b.WriteString(center(fmt.Sprintf("%.6G", c.ZaidNumberDensity(zaid)), 14))
			b.WriteString(center(fmt.Sprintf("%.4G", c.ZaidMassDensity(zaid)), 11))
			b.WriteString(center(fmt.Sprintf("%.6E", c.ZaidMoles(zaid)), 14))
			b.WriteString(center(fmt.Sprintf("%.6E", c.ZaidMass(zaid)), 14))
			b.WriteString("\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteIsotopeReport writes the union of zaids over all materials.
func (d *Deck) WriteIsotopeReport(w io.Writer) error {
	set := make(map[string]bool)
	for _, m := range d.materials {
		for _, zaid := range m.Zaids {
			set[zaid] = true
		}
	}
	zaids := make([]string, 0, len(set))
	for zaid := range set {
		zaids = append(zaids, zaid)
	}
	sort.Slice(zaids, func(i, j int) bool { return numericLess(zaids[i], zaids[j]) })

	var b strings.Builder
	b.WriteString("> All isotopes\n")
	for _, zaid := range zaids {
		fmt.Fprintf(&b, "%10s\n", zaid)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteTallyReport writes the spaces of every tally.
func (d *Deck) WriteTallyReport(w io.Writer) error {
	var b strings.Builder
	b.WriteString("> Tally spaces\n")
	b.WriteString(center("Tally #", 9) + center("Type", 6) + center("Surfaces or cells", 50) + "\n")
	for _, t := range d.tallies {
		spaces := make([]string, len(t.Spaces))
		for i, s := range t.Spaces {
			spaces[i] = strconv.Itoa(s)
		}
		b.WriteString(center(strconv.Itoa(t.Number), 9) + center(t.Kind.Mnemonic(), 6) + center(strings.Join(spaces, ", "), 50) + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// numericLess orders strings so that embedded integers compare by value.
func numericLess(a, b string) bool {
	ka, kb := numericKey(a), numericKey(b)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		x, y := ka[i], kb[i]
		if x.isNum != y.isNum {
			return x.isNum
		}
		if x.isNum && x.num != y.num {
			return x.num < y.num
		}
		if !x.isNum && x.text != y.text {
			return x.text < y.text
		}
	}
	return len(ka) < len(kb)
}

type keyPart struct {
	isNum bool
	num   int
	text  string
}

func numericKey(s string) []keyPart {
	var out []keyPart
	for _, r := range strings.ToLower(s) {
		if r >= '0' && r <= '9' {
			digit := int(r - '0')
			if n := len(out); n > 0 && out[n-1].isNum {
				out[n-1].num = out[n-1].num*10 + digit
				continue
			}
			out = append(out, keyPart{isNum: true, num: digit})
			continue
		}
		out = append(out, keyPart{text: string(r)})
	}
	return out
}
