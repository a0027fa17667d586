package deck

import (
	"sort"
	"strconv"
	"strings"
)

// Material is an "m" card: an ordered mapping of zaid to signed fraction.
// Positive fractions are atom fractions, negative ones weight fractions.
type Material struct {
	Card
	Zaids     []string
	Fractions map[string]float64
}

func parseMaterial(raw string) (*Material, error) {
	words := strings.Fields(raw)
	if len(words) == 0 {
		return nil, malformed("empty material card")
	}
	number, err := strconv.ParseFloat(strings.Trim(strings.ToLower(words[0]), "m*"), 64)
	if err != nil {
		return nil, malformed("material card %q: bad number", words[0])
	}

	m := &Material{Card: Card{Number: int(number), Raw: raw}, Fractions: make(map[string]float64)}

	// Keyword options (nlib=, plib=, ...) and continuation marks are not
	// isotope entries.
	entries := make([]string, 0, len(words))
	for _, w := range words[1:] {
		if w != "&" && !strings.Contains(w, "=") {
			entries = append(entries, w)
		}
	}

	var positive, negative bool
	for i := 0; i+1 < len(entries); i += 2 {
		zaid := entries[i]
		fraction, err := strconv.ParseFloat(entries[i+1], 64)
		if err != nil {
			return nil, malformed("material %d: fraction %q of %s is not a number", m.Number, entries[i+1], zaid)
		}
		if _, seen := m.Fractions[zaid]; !seen {
			m.Zaids = append(m.Zaids, zaid)
		}
		m.Fractions[zaid] = fraction
		positive = positive || fraction > 0
		negative = negative || fraction < 0
	}
	if positive && negative {
		return nil, malformed("material %d mixes atom and weight fractions", m.Number)
	}
	if len(m.Zaids) == 0 {
		return nil, malformed("material %d has no isotopes", m.Number)
	}
	return m, nil
}

// IsSingleIsotope reports whether the material holds exactly one zaid.
func (m *Material) IsSingleIsotope() bool {
	return len(m.Zaids) == 1
}

// Zas returns the sorted unique ZAs of the material.
func (m *Material) Zas() []int {
	seen := make(map[int]bool, len(m.Zaids))
	out := make([]int, 0, len(m.Zaids))
	for _, zaid := range m.Zaids {
		za := ZaidToZa(zaid)
		if !seen[za] {
			seen[za] = true
			out = append(out, za)
		}
	}
	sort.Ints(out)
	return out
}

// Has reports whether zaid is part of the material.
func (m *Material) Has(zaid string) bool {
	_, ok := m.Fractions[zaid]
	return ok
}
