package grid

import (
	"sync"

	"colonysim.ai/internal/sim/world/logic/movement"
)

type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Path is a move path from (but excluding) a start cell to a goal cell.
type Path struct {
	Cells []Vec3i
	Cost  int
}

// Map is the map capability consumed by the job engine.
type Map interface {
	FindPath(start, goal Vec3i) (Path, bool)
	Passable(p Vec3i) bool
	// Version changes whenever topology changes.
	Version() uint64
}

// Grid is a bounded 2D tile map on the y=0 plane. Cells default to passable
// with unit cost.
type Grid struct {
	mu       sync.RWMutex
	width    int
	depth    int
	solid    map[Vec3i]bool
	cost     map[Vec3i]int
	version  uint64
	maxNodes int
}

func New(width, depth int) *Grid {
	return &Grid{
		width:    width,
		depth:    depth,
		solid:    map[Vec3i]bool{},
		cost:     map[Vec3i]int{},
		maxNodes: width * depth,
	}
}

func (g *Grid) Size() (int, int) { return g.width, g.depth }

func (g *Grid) InBounds(p Vec3i) bool {
	return p.X >= 0 && p.Z >= 0 && p.X < g.width && p.Z < g.depth
}

func (g *Grid) SetSolid(p Vec3i, solid bool) {
	p.Y = 0
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.solid[p] == solid {
		return
	}
	if solid {
		g.solid[p] = true
	} else {
		delete(g.solid, p)
	}
	g.version++
}

// SetCost sets the traversal cost of entering p (minimum 1).
func (g *Grid) SetCost(p Vec3i, cost int) {
	p.Y = 0
	if cost < 1 {
		cost = 1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if cost == 1 {
		delete(g.cost, p)
	} else {
		g.cost[p] = cost
	}
	g.version++
}

func (g *Grid) Passable(p Vec3i) bool {
	p.Y = 0
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.InBounds(p) && !g.solid[p]
}

func (g *Grid) Version() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

func (g *Grid) FindPath(start, goal Vec3i) (Path, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cells, cost, ok := movement.FindPath(
		movement.Pos{X: start.X, Z: start.Z},
		movement.Pos{X: goal.X, Z: goal.Z},
		g.maxNodes,
		func(p movement.Pos) bool { return g.InBounds(Vec3i{X: p.X, Z: p.Z}) },
		func(p movement.Pos) bool { return g.solid[Vec3i{X: p.X, Z: p.Z}] },
		func(p movement.Pos) int {
			if c, ok := g.cost[Vec3i{X: p.X, Z: p.Z}]; ok {
				return c
			}
			return 1
		},
	)
	if !ok {
		return Path{}, false
	}
	out := Path{Cells: make([]Vec3i, len(cells)), Cost: cost}
	for i, c := range cells {
		out.Cells[i] = Vec3i{X: c.X, Y: 0, Z: c.Z}
	}
	return out, true
}
