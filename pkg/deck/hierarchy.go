package deck

import "sort"

// Path is a merged leaf-to-root chain of cells: element 0 holds the leaf,
// the last element the root, and intermediate levels may hold several cells
// that were merged because they differ only at non-consecutive levels.
type Path [][]int

// hierarchy resolves the universe tree of a deck.
type hierarchy struct {
	parents   map[int][]int // child cell -> parent cells (fill == child universe)
	paths     map[int][]Path
	instances map[int]int
}

func buildHierarchy(cells []*Cell) *hierarchy {
	fillers := make(map[int][]int) // universe -> cells filled with it
	for _, c := range cells {
		if c.Fill != 0 {
			fillers[c.Fill] = append(fillers[c.Fill], c.Number)
		}
	}
	byNumber := make(map[int]*Cell, len(cells))
	h := &hierarchy{
		parents:   make(map[int][]int, len(cells)),
		paths:     make(map[int][]Path),
		instances: make(map[int]int),
	}
	for _, c := range cells {
		byNumber[c.Number] = c
		if c.Universe != 0 {
			ps := append([]int(nil), fillers[c.Universe]...)
			sort.Ints(ps)
			h.parents[c.Number] = ps
		}
	}

	// Ascend depth-first from every leaf, recording each path that ends in
	// a cell of the base universe.
	var raw [][]int
	var ascend func(path []int, onPath map[int]bool)
	ascend = func(path []int, onPath map[int]bool) {
		top := byNumber[path[len(path)-1]]
		if top.Universe == 0 {
			raw = append(raw, append([]int(nil), path...))
			return
		}
		for _, p := range h.parents[top.Number] {
			if onPath[p] {
				continue
			}
			onPath[p] = true
			ascend(append(path, p), onPath)
			delete(onPath, p)
		}
	}
	leaves := make([]int, 0, len(cells))
	for _, c := range cells {
		if c.Fill == 0 {
			leaves = append(leaves, c.Number)
		}
	}
	sort.Ints(leaves)
	for _, leaf := range leaves {
		ascend([]int{leaf}, map[int]bool{leaf: true})
	}

	// Paths can only merge when they share leaf, root and length.
	type groupKey struct{ leaf, root, length int }
	type group struct {
		first  [][]int
		merged [][]map[int]bool
	}
	groups := make(map[groupKey]*group)
	var order []groupKey
	for _, p := range raw {
		k := groupKey{p[0], p[len(p)-1], len(p)}
		g, ok := groups[k]
		if !ok {
			g = &group{}
			groups[k] = g
			order = append(order, k)
		}
		placed := false
		for i, first := range g.first {
			if compatible(first, p) {
				for level, cell := range p {
					g.merged[i][level][cell] = true
				}
				placed = true
				break
			}
		}
		if !placed {
			levels := make([]map[int]bool, len(p))
			for level, cell := range p {
				levels[level] = map[int]bool{cell: true}
			}
			g.first = append(g.first, p)
			g.merged = append(g.merged, levels)
		}
	}

	for _, k := range order {
		for _, levels := range groups[k].merged {
			path := make(Path, len(levels))
			for i, set := range levels {
				for cell := range set {
					path[i] = append(path[i], cell)
				}
				sort.Ints(path[i])
			}
			h.paths[k.leaf] = append(h.paths[k.leaf], path)
			h.instances[k.leaf]++
		}
	}
	return h
}

// compatible reports whether two equal-length paths never differ at two
// consecutive levels.
func compatible(a, b []int) bool {
	previous := true
	for i := range a {
		current := a[i] == b[i]
		if !previous && !current {
			return false
		}
		previous = current
	}
	return true
}

// Instances returns how many distinct placements leaf has in the geometry.
// Leaves that are not reachable from the base universe count once.
func (d *Deck) Instances(leaf int) int {
	if n := d.hierarchy.instances[leaf]; n > 0 {
		return n
	}
	return 1
}

// IsMultiplyRooted reports whether leaf appears under more than one root.
func (d *Deck) IsMultiplyRooted(leaf int) bool {
	return d.hierarchy.instances[leaf] > 1
}

// Paths returns the merged leaf-to-root paths of leaf.
func (d *Deck) Paths(leaf int) []Path {
	return d.hierarchy.paths[leaf]
}

// MultiplyRootedCells returns every leaf with more than one placement, mapped
// to the root of each of its paths.
func (d *Deck) MultiplyRootedCells() map[int][]int {
	out := make(map[int][]int)
	for leaf, paths := range d.hierarchy.paths {
		if len(paths) < 2 {
			continue
		}
		for _, p := range paths {
			out[leaf] = append(out[leaf], p[len(p)-1][0])
		}
	}
	return out
}

// LeafCells returns the cells reached by expanding fills below cell,
// including cell itself when it is not filled.
func (d *Deck) LeafCells(cell int) []*Cell {
	seen := make(map[int]bool)
	var out []*Cell
	var walk func(c *Cell)
	walk = func(c *Cell) {
		if seen[c.Number] {
			return
		}
		seen[c.Number] = true
		if c.Fill == 0 {
			out = append(out, c)
			return
		}
		for _, child := range d.universes[c.Fill] {
			walk(child)
		}
	}
	if c := d.Cell(cell); c != nil {
		walk(c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// RootCells returns the base-universe cells above cell, including cell itself
// when it belongs to the base universe.
func (d *Deck) RootCells(cell int) []*Cell {
	seen := make(map[int]bool)
	var out []*Cell
	var walk func(c *Cell)
	walk = func(c *Cell) {
		if seen[c.Number] {
			return
		}
		seen[c.Number] = true
		if c.Universe == 0 {
			out = append(out, c)
			return
		}
		for _, p := range d.hierarchy.parents[c.Number] {
			walk(d.Cell(p))
		}
	}
	if c := d.Cell(cell); c != nil {
		walk(c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
