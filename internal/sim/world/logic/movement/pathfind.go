package movement

import "container/heap"

type Pos struct {
	X int
	Y int
	Z int
}

func distXZ(a, b Pos) int {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dz := a.Z - b.Z
	if dz < 0 {
		dz = -dz
	}
	return dx + dz
}

// Fixed neighbor order for determinism.
var dirs = []Pos{{X: 1}, {X: -1}, {Z: 1}, {Z: -1}}

type node struct {
	p     Pos
	g     int
	f     int
	order int
	index int
}

type openSet []*node

func (o openSet) Len() int { return len(o) }
func (o openSet) Less(i, j int) bool {
	if o[i].f != o[j].f {
		return o[i].f < o[j].f
	}
	if o[i].g != o[j].g {
		return o[i].g > o[j].g
	}
	return o[i].order < o[j].order
}
func (o openSet) Swap(i, j int) {
	o[i], o[j] = o[j], o[i]
	o[i].index = i
	o[j].index = j
}
func (o *openSet) Push(x any) {
	n := x.(*node)
	n.index = len(*o)
	*o = append(*o, n)
}
func (o *openSet) Pop() any {
	old := *o
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*o = old[:len(old)-1]
	return n
}

// FindPath runs a deterministic A* over the y=0 plane using 4-neighbors.
// The returned path excludes start and ends at goal. stepCost must return >= 1
// for passable cells. maxNodes bounds the search; <= 0 means unbounded.
func FindPath(start, goal Pos, maxNodes int, inBounds func(Pos) bool, isSolid func(Pos) bool, stepCost func(Pos) int) ([]Pos, int, bool) {
	start.Y = 0
	goal.Y = 0
	if start == goal {
		return nil, 0, true
	}
	if !inBounds(goal) || isSolid(goal) {
		return nil, 0, false
	}
	if stepCost == nil {
		stepCost = func(Pos) int { return 1 }
	}

	parent := map[Pos]Pos{}
	best := map[Pos]int{start: 0}
	closed := map[Pos]bool{}

	open := &openSet{}
	seq := 0
	heap.Push(open, &node{p: start, g: 0, f: distXZ(start, goal), order: seq})

	expanded := 0
	for open.Len() > 0 {
		cur := heap.Pop(open).(*node)
		if closed[cur.p] {
			continue
		}
		if cur.p == goal {
			return rebuild(parent, start, goal), cur.g, true
		}
		closed[cur.p] = true
		expanded++
		if maxNodes > 0 && expanded > maxNodes {
			return nil, 0, false
		}
		for _, d := range dirs {
			np := Pos{X: cur.p.X + d.X, Y: 0, Z: cur.p.Z + d.Z}
			if closed[np] || !inBounds(np) || isSolid(np) {
				continue
			}
			c := stepCost(np)
			if c < 1 {
				c = 1
			}
			g := cur.g + c
			if old, ok := best[np]; ok && old <= g {
				continue
			}
			best[np] = g
			parent[np] = cur.p
			seq++
			heap.Push(open, &node{p: np, g: g, f: g + distXZ(np, goal), order: seq})
		}
	}
	return nil, 0, false
}

func rebuild(parent map[Pos]Pos, start, goal Pos) []Pos {
	var rev []Pos
	for p := goal; p != start; p = parent[p] {
		rev = append(rev, p)
	}
	out := make([]Pos, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out
}
