package deck

import "sort"

// tallyIndices maps tally kinds to the cells they cover. A cell is covered
// when any leaf below it is tallied, so root cells capture their whole
// subtree.
type tallyIndices struct {
	cells      map[TallyKind][]int
	multiplier map[int][]BinKey
}

func (d *Deck) buildTallyIndices() *tallyIndices {
	sets := make(map[TallyKind]map[int]bool)
	add := func(k TallyKind, cell int) {
		if sets[k] == nil {
			sets[k] = make(map[int]bool)
		}
		sets[k][cell] = true
	}
	bins := make(map[int]map[BinKey]bool)

	for _, c := range d.cells {
		// Cells that are both filled and placed in a universe are
		// intermediate nodes; only leaves and roots are indexed.
		if c.Universe != 0 && c.Fill != 0 {
			continue
		}
		leaves := d.LeafCells(c.Number)

		for _, kind := range []TallyKind{CellFlux, CellEnergyDeposition, CellFissionEnergyDeposition} {
			for _, leaf := range leaves {
				for _, t := range d.Tallies(kind) {
					if t.Has(leaf.Number) {
						add(kind, c.Number)
					}
				}
			}
		}

		if sets[CellFlux][c.Number] {
			for _, kind := range []TallyKind{SurfaceCurrent, SurfaceFlux} {
				for _, s := range d.CellSurfaces(c.Number) {
					for _, t := range d.Tallies(kind) {
						if t.Has(s.Number) {
							add(kind, c.Number)
						}
					}
				}
			}
		}

		for _, leaf := range leaves {
			for _, t := range d.Tallies(CellFluxMultiplier) {
				if !t.Has(leaf.Number) {
					continue
				}
				if bins[c.Number] == nil {
					bins[c.Number] = make(map[BinKey]bool)
				}
				for _, b := range t.BinsFor(leaf.Number) {
					bins[c.Number][b.BinKey] = true
				}
			}
		}
	}

	idx := &tallyIndices{
		cells:      make(map[TallyKind][]int, len(sets)),
		multiplier: make(map[int][]BinKey, len(bins)),
	}
	for k, set := range sets {
		for cell := range set {
			idx.cells[k] = append(idx.cells[k], cell)
		}
		sort.Ints(idx.cells[k])
	}
	for cell, set := range bins {
		keys := make([]BinKey, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].Material != keys[j].Material {
				return keys[i].Material < keys[j].Material
			}
			return keys[i].Reaction < keys[j].Reaction
		})
		idx.multiplier[cell] = keys
	}
	return idx
}

// TallyCells returns the sorted cells covered by tallies of kind.
func (d *Deck) TallyCells(kind TallyKind) []int {
	return d.indices.cells[kind]
}

// IsTallied reports whether cell is covered by a tally of kind.
func (d *Deck) IsTallied(kind TallyKind, cell int) bool {
	cells := d.indices.cells[kind]
	i := sort.SearchInts(cells, cell)
	return i < len(cells) && cells[i] == cell
}

// MultiplierBins returns the sorted (material, reaction) keys tallied for
// cell by cell-flux multiplier tallies.
func (d *Deck) MultiplierBins(cell int) []BinKey {
	return d.indices.multiplier[cell]
}

// MultiplierCells returns the cells that carry multiplier bins.
func (d *Deck) MultiplierCells() []int {
	out := make([]int, 0, len(d.indices.multiplier))
	for cell := range d.indices.multiplier {
		out = append(out, cell)
	}
	sort.Ints(out)
	return out
}
