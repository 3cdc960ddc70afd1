package machine

import (
	"encoding/json"
	"testing"

	"colonysim.ai/internal/sim/catalogs"
	"colonysim.ai/internal/sim/grid"
	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/jobs/effects"
	"colonysim.ai/internal/sim/jobs/resources"
	"colonysim.ai/internal/sim/store"
)

type fixture struct {
	t     *testing.T
	s     *store.MemStore
	g     *grid.Grid
	types *jobs.Registry
	ev    *jobs.Events
	m     *Machine
	now   uint64
}

func newFixture(t *testing.T, width, depth int, defs ...catalogs.JobTypeDef) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		s:     store.NewMemStore(nil),
		g:     grid.New(width, depth),
		types: jobs.NewRegistry(),
		ev:    jobs.NewEvents(),
	}
	for _, d := range defs {
		if err := f.types.Register(d, nil); err != nil {
			t.Fatalf("register %s: %v", d.Name, err)
		}
	}
	if _, ok := f.types.Def("haul"); !ok {
		if err := f.types.Register(catalogs.JobTypeDef{Name: "haul", Duration: 1}, nil); err != nil {
			t.Fatalf("register haul: %v", err)
		}
	}
	fx := effects.NewRegistry()
	effects.RegisterBuiltins(fx)
	ops := &resources.Ops{
		Store: f.s,
		Map:   f.g,
		Resources: catalogs.ResourceCatalog{ByKind: map[string]catalogs.ResourceDef{
			"wood": {Kind: "wood", Weight: 1, Volume: 1, StackSize: 20},
		}},
		Capacity: jobs.Capacity{MaxWeight: 50, MaxVolume: 50, MaxSlots: 4},
	}
	f.m = &Machine{
		Store:   f.s,
		Types:   f.types,
		Effects: effects.NewProcessor(fx),
		Ops:     ops,
		Map:     f.g,
		Events:  f.ev,
	}
	return f
}

func (f *fixture) agent(x, z int, a jobs.Agent) store.EntityID {
	f.t.Helper()
	id := f.s.Spawn()
	if a.State == "" {
		a.State = jobs.AgentIdle
	}
	if err := jobs.SaveAgent(f.s, id, a); err != nil {
		f.t.Fatalf("save agent: %v", err)
	}
	if err := jobs.SetPosition(f.s, id, grid.Vec3i{X: x, Z: z}); err != nil {
		f.t.Fatalf("set position: %v", err)
	}
	return id
}

func (f *fixture) stockpile(x, z int, res map[string]int) store.EntityID {
	f.t.Helper()
	id := f.s.Spawn()
	if err := jobs.SaveStockpile(f.s, id, jobs.Stockpile{Resources: res}); err != nil {
		f.t.Fatalf("save stockpile: %v", err)
	}
	if err := jobs.SetPosition(f.s, id, grid.Vec3i{X: x, Z: z}); err != nil {
		f.t.Fatalf("set position: %v", err)
	}
	return id
}

func (f *fixture) job(tpl jobs.Template) store.EntityID {
	f.t.Helper()
	def, ok := f.types.Def(tpl.JobType)
	if !ok {
		f.t.Fatalf("unknown job type %q", tpl.JobType)
	}
	id := f.s.Spawn()
	f.save(id, jobs.NewJob(tpl, def, f.now))
	return id
}

func (f *fixture) save(id store.EntityID, j jobs.Job) {
	f.t.Helper()
	if err := jobs.SaveJob(f.s, id, j); err != nil {
		f.t.Fatalf("save job %d: %v", id, err)
	}
}

func (f *fixture) load(id store.EntityID) jobs.Job {
	f.t.Helper()
	j, err := jobs.LoadJob(f.s, id)
	if err != nil {
		f.t.Fatalf("load job %d: %v", id, err)
	}
	return j
}

func (f *fixture) loadAgent(id store.EntityID) jobs.Agent {
	f.t.Helper()
	a, err := jobs.LoadAgent(f.s, id)
	if err != nil {
		f.t.Fatalf("load agent %d: %v", id, err)
	}
	return a
}

// assign does what a board claim does.
func (f *fixture) assign(jobID, agentID store.EntityID) {
	f.t.Helper()
	j := f.load(jobID)
	j.AssignedTo = agentID
	j.AssignmentCount++
	j.LastAssignedTick = f.now
	f.save(jobID, j)
	a := f.loadAgent(agentID)
	a.State = jobs.AgentWorking
	a.CurrentJob = jobID
	if err := jobs.SaveAgent(f.s, agentID, a); err != nil {
		f.t.Fatalf("save agent: %v", err)
	}
}

// tick steps each job once, then moves every agent one cell.
func (f *fixture) tick(ids ...store.EntityID) {
	f.t.Helper()
	for _, id := range ids {
		if err := f.m.Step(id, f.now); err != nil {
			f.t.Fatalf("tick %d step %d: %v", f.now, id, err)
		}
	}
	for _, id := range f.s.With(jobs.ComponentAgent) {
		a := f.loadAgent(id)
		if len(a.MovePath) == 0 {
			continue
		}
		if f.g.Passable(a.MovePath[0]) {
			if err := jobs.SetPosition(f.s, id, a.MovePath[0]); err != nil {
				f.t.Fatalf("move: %v", err)
			}
			a.MovePath = a.MovePath[1:]
		} else {
			a.MovePath = nil
		}
		if err := jobs.SaveAgent(f.s, id, a); err != nil {
			f.t.Fatalf("save agent: %v", err)
		}
	}
	f.now++
}

func (f *fixture) events(kind jobs.NotificationKind, id store.EntityID) []jobs.Notification {
	var out []jobs.Notification
	for _, n := range f.ev.Pending() {
		if n.Kind == kind && n.Entity == id {
			out = append(out, n)
		}
	}
	return out
}

func (f *fixture) dump() []byte {
	f.t.Helper()
	_, recs := f.s.Export()
	b, err := json.Marshal(recs)
	if err != nil {
		f.t.Fatalf("marshal: %v", err)
	}
	return b
}

func cell(x, z int) *grid.Vec3i { return &grid.Vec3i{X: x, Z: z} }

func attr(name string, amount float64) catalogs.EffectDef {
	return catalogs.EffectDef{Action: effects.ActionModifyAttribute, Params: map[string]any{"attribute": name, "amount": amount}}
}
