package worldtest

import (
	"testing"

	"colonysim.ai/internal/sim/jobs"
)

func TestScenario_RunsToCompletion(t *testing.T) {
	h := NewHarness(t, "scenario.yaml")

	for i := 0; i < 1000 && !h.AllTerminal(); i++ {
		h.Step()
		chop := h.Job("chop")
		if got, want := resourceTotal(t, h, "wood"), 30+5*len(chop.AppliedEffects); got != want {
			t.Fatalf("tick %d: wood total=%d want %d", h.W.CurrentTick()-1, got, want)
		}
		if got := resourceTotal(t, h, "stone"); got != 6 {
			t.Fatalf("tick %d: stone total=%d want 6", h.W.CurrentTick()-1, got)
		}
		if got := resourceTotal(t, h, "food"); got != 12 {
			t.Fatalf("tick %d: food total=%d want 12", h.W.CurrentTick()-1, got)
		}
	}
	if !h.AllTerminal() {
		t.Fatalf("scenario did not finish by tick %d", h.W.CurrentTick())
	}

	for _, name := range []string{"chop", "wall", "fix_wall", "supper"} {
		j := h.Job(name)
		if j.State != jobs.StateComplete {
			t.Fatalf("%s: state=%s reason=%q", name, j.State, j.FailureReason)
		}
		if j.AssignedTo != 0 {
			t.Fatalf("%s: still assigned to %d", name, j.AssignedTo)
		}
		if n := countKind(h.EventsFor(h.ID(name)), jobs.JobCompleted); n != 1 {
			t.Fatalf("%s: job_completed emitted %d times", name, n)
		}
	}

	wall := h.Attributes("wall")
	if wall["walls"] != 1 || wall["defense"] != 2 || wall["integrity"] != 10 {
		t.Fatalf("wall attributes: %+v", wall)
	}
	pantry := h.Attributes("pantry")
	if pantry["meals"] != 1 || pantry["morale"] != 1 {
		t.Fatalf("pantry attributes: %+v", pantry)
	}

	yard := h.Stockpile("wood_yard")
	if yard.Resources["wood"] != 25 || yard.Resources["stone"] != 4 {
		t.Fatalf("wood_yard resources: %+v", yard.Resources)
	}
	if len(yard.Reserved) != 0 {
		t.Fatalf("wood_yard reservations left: %+v", yard.Reserved)
	}
	if got := h.Stockpile("pantry").Resources["food"]; got != 9 {
		t.Fatalf("pantry food=%d want 9", got)
	}

	for _, name := range []string{"ada", "bo"} {
		a := h.Agent(name)
		if a.State != jobs.AgentIdle || a.CurrentJob != 0 || len(a.CarriedResources) != 0 {
			t.Fatalf("%s not released: %+v", name, a)
		}
	}
}

func TestScenario_BuildWaitsForDependency(t *testing.T) {
	h := NewHarness(t, "scenario.yaml")

	chopID := h.ID("chop")
	h.StepUntil(1000, "wall assigned", func() bool { return h.Job("wall").AssignedTo != 0 })

	chop := h.Job("chop")
	if chop.State != jobs.StateComplete {
		t.Fatalf("wall claimed while chop is %s", chop.State)
	}
	var doneAt, claimedAt uint64
	for _, n := range h.Events {
		if n.Entity == chopID && n.Kind == jobs.JobCompleted {
			doneAt = n.Tick
		}
		if n.Entity == h.ID("wall") && n.Kind == jobs.JobAssigned {
			claimedAt = n.Tick
		}
	}
	if claimedAt <= doneAt {
		t.Fatalf("wall assigned at %d, chop completed at %d", claimedAt, doneAt)
	}
	if h.Job("fix_wall").AssignedTo != 0 {
		t.Fatalf("fix_wall assigned before wall completed")
	}
}

func TestScenario_BuilderOnlyJobsGoToBuilder(t *testing.T) {
	h := NewHarness(t, "scenario.yaml")
	h.StepUntil(1000, "all terminal", h.AllTerminal)

	bo := h.ID("bo")
	for _, name := range []string{"wall", "fix_wall"} {
		for _, n := range h.EventsFor(h.ID(name)) {
			if n.Kind == jobs.JobAssigned && n.Agent == bo {
				t.Fatalf("%s assigned to non-builder bo at tick %d", name, n.Tick)
			}
		}
	}
}
