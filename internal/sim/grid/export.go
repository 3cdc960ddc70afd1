package grid

import "sort"

// CellCost is a non-default traversal cost.
type CellCost struct {
	Cell Vec3i
	Cost int
}

// Cells returns the solid cells and the cost overrides, sorted by (x, z).
func (g *Grid) Cells() ([]Vec3i, []CellCost) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	solid := make([]Vec3i, 0, len(g.solid))
	for p := range g.solid {
		solid = append(solid, p)
	}
	sort.Slice(solid, func(i, j int) bool { return cellLess(solid[i], solid[j]) })
	costs := make([]CellCost, 0, len(g.cost))
	for p, c := range g.cost {
		costs = append(costs, CellCost{Cell: p, Cost: c})
	}
	sort.Slice(costs, func(i, j int) bool { return cellLess(costs[i].Cell, costs[j].Cell) })
	return solid, costs
}

// Restore rebuilds a grid from exported cells, keeping the saved version so
// blocked jobs compare against the same topology.
func Restore(width, depth int, solid []Vec3i, costs []CellCost, version uint64) *Grid {
	g := New(width, depth)
	for _, p := range solid {
		p.Y = 0
		g.solid[p] = true
	}
	for _, c := range costs {
		p := c.Cell
		p.Y = 0
		if c.Cost > 1 {
			g.cost[p] = c.Cost
		}
	}
	g.version = version
	return g
}

func cellLess(a, b Vec3i) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	return a.Z < b.Z
}
