package resources

import (
	"errors"
	"testing"

	"colonysim.ai/internal/sim/grid"
	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/store"
)

func newOps(t *testing.T, g *grid.Grid) *Ops {
	t.Helper()
	return &Ops{
		Store:     store.NewMemStore(nil),
		Map:       g,
		Resources: testCatalog,
		Capacity:  jobs.Capacity{MaxWeight: 50, MaxVolume: 50, MaxSlots: 4},
	}
}

func spawnAt(t *testing.T, s store.Store, x, z int) store.EntityID {
	t.Helper()
	id := s.Spawn()
	if err := jobs.SetPosition(s, id, grid.Vec3i{X: x, Z: z}); err != nil {
		t.Fatalf("set position: %v", err)
	}
	return id
}

func stockpileAt(t *testing.T, s store.Store, x, z int, res map[string]int) store.EntityID {
	t.Helper()
	id := spawnAt(t, s, x, z)
	if err := jobs.SaveStockpile(s, id, jobs.Stockpile{Resources: res}); err != nil {
		t.Fatalf("save stockpile: %v", err)
	}
	return id
}

func TestReserve_NearestCoveringStockpile(t *testing.T) {
	o := newOps(t, grid.New(10, 10))
	far := stockpileAt(t, o.Store, 9, 9, map[string]int{"wood": 10, "stone": 5})
	short := stockpileAt(t, o.Store, 1, 1, map[string]int{"wood": 10})
	near := stockpileAt(t, o.Store, 2, 2, map[string]int{"wood": 20, "stone": 2})

	job := jobs.Job{
		ResourceRequirements: []jobs.ResourceAmount{{Kind: "wood", Amount: 6}, {Kind: "stone", Amount: 2}},
		TargetPosition:       &grid.Vec3i{X: 0, Z: 0},
	}
	ok, err := o.Reserve(&job)
	if err != nil || !ok {
		t.Fatalf("reserve: ok=%v err=%v", ok, err)
	}
	if job.ReservedStockpile != near {
		t.Fatalf("reserved at %d want %d (far=%d short=%d)", job.ReservedStockpile, near, far, short)
	}
	sp, _ := jobs.LoadStockpile(o.Store, near)
	if sp.Reserved["wood"] != 6 || sp.Reserved["stone"] != 2 {
		t.Fatalf("reserved=%v", sp.Reserved)
	}

	// A second job cannot take the same stone.
	other := jobs.Job{ResourceRequirements: []jobs.ResourceAmount{{Kind: "stone", Amount: 1}}, TargetPosition: &grid.Vec3i{}}
	if ok, _ := o.Reserve(&other); !ok || other.ReservedStockpile != far {
		t.Fatalf("second reservation at %d want %d", other.ReservedStockpile, far)
	}

	if err := o.ReleaseReservation(&job); err != nil {
		t.Fatalf("release: %v", err)
	}
	sp, _ = jobs.LoadStockpile(o.Store, near)
	if len(sp.Reserved) != 0 {
		t.Fatalf("reserved after release=%v", sp.Reserved)
	}
	if job.ReservedStockpile != 0 || job.ReservedResources != nil {
		t.Fatalf("job still holds a reservation")
	}
}

func TestReserve_NothingCovers(t *testing.T) {
	o := newOps(t, grid.New(4, 4))
	stockpileAt(t, o.Store, 0, 0, map[string]int{"wood": 3})
	stockpileAt(t, o.Store, 1, 0, map[string]int{"wood": 3})
	job := jobs.Job{ResourceRequirements: []jobs.ResourceAmount{{Kind: "wood", Amount: 5}}}
	ok, err := o.Reserve(&job)
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v want no reservation", ok, err)
	}
}

func TestReserve_OnlyOutstanding(t *testing.T) {
	o := newOps(t, grid.New(4, 4))
	sp := stockpileAt(t, o.Store, 0, 0, map[string]int{"wood": 10})
	job := jobs.Job{
		ResourceRequirements: []jobs.ResourceAmount{{Kind: "wood", Amount: 6}},
		DeliveredResources:   []jobs.ResourceAmount{{Kind: "wood", Amount: 4}},
	}
	if ok, err := o.Reserve(&job); !ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	stock, _ := jobs.LoadStockpile(o.Store, sp)
	if stock.Reserved["wood"] != 2 {
		t.Fatalf("reserved=%d want 2", stock.Reserved["wood"])
	}
}

func TestPickupAndDeliver_ConserveResources(t *testing.T) {
	o := newOps(t, grid.New(4, 4))
	spID := stockpileAt(t, o.Store, 0, 0, map[string]int{"wood": 12})
	job := jobs.Job{ResourceRequirements: []jobs.ResourceAmount{{Kind: "wood", Amount: 8}}}
	if ok, err := o.Reserve(&job); !ok || err != nil {
		t.Fatalf("reserve: ok=%v err=%v", ok, err)
	}

	a := jobs.Agent{Capacity: &jobs.Capacity{MaxWeight: 10}}
	sp, _ := jobs.LoadStockpile(o.Store, spID)
	plan := o.PlanPickup(a, job, sp)
	if len(plan) != 1 || plan[0].Amount != 5 {
		t.Fatalf("plan=%+v want 5 wood", plan)
	}
	if err := o.ApplyPickup(&a, &job, spID, &sp, plan); err != nil {
		t.Fatalf("pickup: %v", err)
	}
	sp, _ = jobs.LoadStockpile(o.Store, spID)
	if sp.Resources["wood"] != 7 || sp.Reserved["wood"] != 3 || jobs.AmountOf(job.ReservedResources, "wood") != 3 {
		t.Fatalf("after pickup: stock=%+v job reserved=%+v", sp, job.ReservedResources)
	}

	a.CarriedResources = jobs.AddAmount(a.CarriedResources, "stone", 2)
	excess := o.Deliver(&a, &job)
	if got := jobs.AmountOf(job.DeliveredResources, "wood"); got != 5 {
		t.Fatalf("delivered=%d want 5", got)
	}
	if len(excess) != 1 || excess[0].Kind != "stone" || excess[0].Amount != 2 {
		t.Fatalf("excess=%+v want 2 stone", excess)
	}
	if a.CarriedResources != nil {
		t.Fatalf("carried=%+v want empty", a.CarriedResources)
	}
}

func TestDeliver_NeverPastRequirement(t *testing.T) {
	o := newOps(t, grid.New(2, 2))
	job := jobs.Job{
		ResourceRequirements: []jobs.ResourceAmount{{Kind: "wood", Amount: 4}},
		DeliveredResources:   []jobs.ResourceAmount{{Kind: "wood", Amount: 3}},
	}
	a := jobs.Agent{CarriedResources: []jobs.ResourceAmount{{Kind: "wood", Amount: 5}}}
	excess := o.Deliver(&a, &job)
	if got := jobs.AmountOf(job.DeliveredResources, "wood"); got != 4 {
		t.Fatalf("delivered=%d want 4", got)
	}
	if jobs.AmountOf(excess, "wood") != 4 {
		t.Fatalf("excess=%+v want 4 wood", excess)
	}
	if !job.RequirementsMet() {
		t.Fatalf("requirements not met")
	}
}

func TestDropCarried_SpawnsItemsAtAgent(t *testing.T) {
	o := newOps(t, grid.New(4, 4))
	agentID := spawnAt(t, o.Store, 2, 3)
	a := jobs.Agent{CarriedResources: []jobs.ResourceAmount{{Kind: "wood", Amount: 2}, {Kind: "food", Amount: 0}, {Kind: "stone", Amount: 1}}}
	if err := o.DropCarried(agentID, &a); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if a.CarriedResources != nil {
		t.Fatalf("carried=%+v", a.CarriedResources)
	}
	items := o.Store.With(jobs.ComponentItem)
	if len(items) != 2 {
		t.Fatalf("items=%d want 2", len(items))
	}
	for _, id := range items {
		pos, ok, err := jobs.PositionOf(o.Store, id)
		if err != nil || !ok || pos.X != 2 || pos.Z != 3 {
			t.Fatalf("item %d at %+v ok=%v err=%v", id, pos, ok, err)
		}
	}

	// Nothing carried: nothing spawned, even without a position.
	var empty jobs.Agent
	if err := o.DropCarried(o.Store.Spawn(), &empty); err != nil {
		t.Fatalf("empty drop: %v", err)
	}
}

func TestDropAt(t *testing.T) {
	o := newOps(t, grid.New(4, 4))
	agentID := spawnAt(t, o.Store, 1, 1)
	if err := o.DropAt(agentID, []jobs.ResourceAmount{{Kind: "wood", Amount: 3}}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if n := len(o.Store.With(jobs.ComponentItem)); n != 1 {
		t.Fatalf("items=%d want 1", n)
	}

	// A failed drop leaves the carry buffer alone.
	a := jobs.Agent{CarriedResources: []jobs.ResourceAmount{{Kind: "food", Amount: 1}}}
	if err := o.DropCarried(o.Store.Spawn(), &a); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("err=%v want ErrNoPosition", err)
	}
	if len(a.CarriedResources) != 1 {
		t.Fatalf("carried=%+v", a.CarriedResources)
	}
}

func TestMoveToward(t *testing.T) {
	g := grid.New(5, 3)
	g.SetSolid(grid.Vec3i{X: 2, Z: 0}, true)
	g.SetSolid(grid.Vec3i{X: 2, Z: 1}, true)
	o := newOps(t, g)
	agentID := spawnAt(t, o.Store, 0, 0)
	var a jobs.Agent

	arrived, err := o.MoveToward(agentID, &a, grid.Vec3i{X: 4, Z: 0})
	if err != nil || arrived {
		t.Fatalf("arrived=%v err=%v", arrived, err)
	}
	if n := len(a.MovePath); n != 8 || a.MovePath[n-1] != (grid.Vec3i{X: 4, Z: 0}) {
		t.Fatalf("path=%v", a.MovePath)
	}
	first := a.MovePath[0]
	if _, err := o.MoveToward(agentID, &a, grid.Vec3i{X: 4, Z: 0}); err != nil || a.MovePath[0] != first {
		t.Fatalf("valid path was recomputed: %v %v", a.MovePath, err)
	}

	g.SetSolid(grid.Vec3i{X: 2, Z: 2}, true)
	a.MovePath = nil
	_, err = o.MoveToward(agentID, &a, grid.Vec3i{X: 4, Z: 0})
	if !errors.Is(err, ErrNoPath) {
		t.Fatalf("err=%v want ErrNoPath", err)
	}

	arrived, err = o.MoveToward(agentID, &a, grid.Vec3i{X: 0, Z: 0})
	if err != nil || !arrived || a.MovePath != nil {
		t.Fatalf("at goal: arrived=%v path=%v err=%v", arrived, a.MovePath, err)
	}
}
