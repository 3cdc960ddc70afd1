package worldtest

import (
	"path/filepath"
	"testing"

	"colonysim.ai/internal/persistence/snapshot"
	"colonysim.ai/internal/sim/grid"
	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/scenario"
	"colonysim.ai/internal/sim/store"
	"colonysim.ai/internal/sim/tuning"
	world "colonysim.ai/internal/sim/world"
)

// ConfigDir is the repository config directory as seen from this package.
const ConfigDir = "../../../configs"

// Harness is a small black-box test helper for driving a world via exported APIs:
// - Step() runs one tick through StepOnce() and collects its notifications
// - Spawn()/Cancel() go through the control queue like a real client
// - Job()/Agent()/Stockpile() read named scenario entities from the store
//
// It intentionally avoids touching world internals so tests can live outside the world package.
type Harness struct {
	T      *testing.T
	W      *world.World
	Svc    world.Services
	Tuning tuning.Tuning
	Names  map[string]store.EntityID

	// Events accumulates every notification published since the harness was built.
	Events []jobs.Notification
	// Digests holds the state digest after each Step, in order.
	Digests []string
}

// NewHarness builds a world from the repository configs and the named
// scenario file under ConfigDir.
func NewHarness(t *testing.T, scenarioFile string) *Harness {
	t.Helper()
	sc, err := scenario.Load(filepath.Join(ConfigDir, scenarioFile))
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	return NewHarnessFromScenario(t, sc, nil)
}

// NewHarnessFromScenario is like NewHarness but takes an in-memory scenario.
// tweak, if set, may adjust tuning before the world is built.
func NewHarnessFromScenario(t *testing.T, sc scenario.Scenario, tweak func(*tuning.Tuning)) *Harness {
	t.Helper()
	svc, tune := loadServices(t, tweak)
	svc.Grid = sc.NewGrid()
	names, err := sc.Apply(svc.Store, svc.Types)
	if err != nil {
		t.Fatalf("apply scenario: %v", err)
	}
	h := newHarness(t, svc, tune)
	h.Names = names
	return h
}

// NewHarnessFromSnapshot builds a fresh world from the repository configs and
// imports snap into it.
func NewHarnessFromSnapshot(t *testing.T, snap snapshot.SnapshotV1, tweak func(*tuning.Tuning)) *Harness {
	t.Helper()
	svc, tune := loadServices(t, tweak)
	svc.Grid = grid.New(1, 1)
	h := newHarness(t, svc, tune)
	if err := h.W.ImportSnapshot(snap); err != nil {
		t.Fatalf("import snapshot: %v", err)
	}
	h.Svc.Grid = h.W.Grid()
	h.Names = map[string]store.EntityID{}
	return h
}

func loadServices(t *testing.T, tweak func(*tuning.Tuning)) (world.Services, tuning.Tuning) {
	t.Helper()
	svc, err := world.LoadServices(ConfigDir, nil)
	if err != nil {
		t.Fatalf("load services: %v", err)
	}
	tune, err := tuning.Load(filepath.Join(ConfigDir, "tuning.yaml"))
	if err != nil {
		t.Fatalf("load tuning: %v", err)
	}
	if tweak != nil {
		tweak(&tune)
	}
	return svc, tune
}

func newHarness(t *testing.T, svc world.Services, tune tuning.Tuning) *Harness {
	t.Helper()
	cfg, err := world.ConfigFromTuning("test", tune)
	if err != nil {
		t.Fatalf("world config: %v", err)
	}
	w, err := world.New(cfg, svc)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return &Harness{T: t, W: w, Svc: svc, Tuning: tune}
}

// Step runs one tick with the given controls and returns the state digest.
func (h *Harness) Step(controls ...world.ControlRequest) string {
	h.T.Helper()
	_, digest, err := h.W.StepOnce(controls)
	if err != nil {
		h.T.Fatalf("tick %d: %v", h.W.CurrentTick()-1, err)
	}
	h.Events = append(h.Events, h.W.Notifications()...)
	h.Digests = append(h.Digests, digest)
	return digest
}

// StepN runs n ticks without controls.
func (h *Harness) StepN(n int) {
	h.T.Helper()
	for i := 0; i < n; i++ {
		h.Step()
	}
}

// StepUntil steps until cond holds, failing the test after limit ticks.
func (h *Harness) StepUntil(limit int, what string, cond func() bool) {
	h.T.Helper()
	for i := 0; i < limit; i++ {
		if cond() {
			return
		}
		h.Step()
	}
	if !cond() {
		h.T.Fatalf("%s: not reached within %d ticks (tick=%d)", what, limit, h.W.CurrentTick())
	}
}

// Control runs one tick carrying req and returns its response.
func (h *Harness) Control(req world.ControlRequest) world.ControlResponse {
	h.T.Helper()
	resp := make(chan world.ControlResponse, 1)
	req.Resp = resp
	h.Step(req)
	select {
	case r := <-resp:
		return r
	default:
		h.T.Fatalf("control %s: no response", req.Kind)
	}
	return world.ControlResponse{}
}

// Spawn queues a SPAWN control and returns the new job id.
func (h *Harness) Spawn(tpl jobs.Template) store.EntityID {
	h.T.Helper()
	r := h.Control(world.ControlRequest{Kind: world.ControlSpawn, Template: &tpl})
	if r.Err != nil {
		h.T.Fatalf("spawn %s: %v", tpl.JobType, r.Err)
	}
	return r.JobID
}

func (h *Harness) ID(name string) store.EntityID {
	h.T.Helper()
	id, ok := h.Names[name]
	if !ok {
		h.T.Fatalf("unknown scenario name %q", name)
	}
	return id
}

func (h *Harness) Job(name string) jobs.Job {
	h.T.Helper()
	return h.JobByID(h.ID(name))
}

func (h *Harness) JobByID(id store.EntityID) jobs.Job {
	h.T.Helper()
	j, err := jobs.LoadJob(h.W.Store(), id)
	if err != nil {
		h.T.Fatalf("load job %d: %v", id, err)
	}
	return j
}

func (h *Harness) Agent(name string) jobs.Agent {
	h.T.Helper()
	a, err := jobs.LoadAgent(h.W.Store(), h.ID(name))
	if err != nil {
		h.T.Fatalf("load agent %q: %v", name, err)
	}
	return a
}

func (h *Harness) Stockpile(name string) jobs.Stockpile {
	h.T.Helper()
	sp, err := jobs.LoadStockpile(h.W.Store(), h.ID(name))
	if err != nil {
		h.T.Fatalf("load stockpile %q: %v", name, err)
	}
	return sp
}

func (h *Harness) Attributes(name string) jobs.Attributes {
	h.T.Helper()
	a, err := jobs.LoadAttributes(h.W.Store(), h.ID(name))
	if err != nil {
		h.T.Fatalf("load attributes %q: %v", name, err)
	}
	return a
}

// EventsFor returns the collected notifications about entity id.
func (h *Harness) EventsFor(id store.EntityID) []jobs.Notification {
	var out []jobs.Notification
	for _, n := range h.Events {
		if n.Entity == id {
			out = append(out, n)
		}
	}
	return out
}

// Snapshot exports at currentTick-1 so that importing it resumes at currentTick.
func (h *Harness) Snapshot() (tick uint64, snap snapshot.SnapshotV1) {
	h.T.Helper()
	cur := h.W.CurrentTick()
	if cur == 0 {
		return 0, h.W.ExportSnapshot(0)
	}
	tick = cur - 1
	return tick, h.W.ExportSnapshot(tick)
}

// AllTerminal reports whether every job in the store is terminal.
func (h *Harness) AllTerminal() bool {
	s := h.W.Store()
	for _, id := range s.With(jobs.ComponentJob) {
		j, err := jobs.LoadJob(s, id)
		if err != nil || !j.State.Terminal() {
			return false
		}
	}
	return true
}
