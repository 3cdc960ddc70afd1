package deps

import (
	"fmt"

	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/store"
)

// StuckJobError reports a job that did not reach a terminal state within the
// allowed number of forced passes. It signals a broken invariant.
type StuckJobError struct {
	JobID  store.EntityID
	State  jobs.State
	Passes int
}

func (e *StuckJobError) Error() string {
	return fmt.Sprintf("deps: job %d stuck in %s after %d passes", e.JobID, e.State, e.Passes)
}

// CascadeCancel flags root and all its descendants as cancelled, clearing
// pause/interrupt holds, then calls step on every non-terminal job until all
// are terminal or maxPasses is exhausted.
func CascadeCancel(s store.Store, root store.EntityID, maxPasses int, step func(store.EntityID) error) error {
	desc, err := Descendants(s, root)
	if err != nil {
		return err
	}
	ids := append([]store.EntityID{root}, desc...)
	for _, id := range ids {
		if !s.Exists(id) {
			continue
		}
		j, err := jobs.LoadJob(s, id)
		if err != nil {
			return err
		}
		if j.State.Terminal() {
			continue
		}
		j.Cancelled = true
		j.Paused = false
		j.Interrupted = false
		if err := jobs.SaveJob(s, id, j); err != nil {
			return err
		}
	}

	for pass := 1; pass <= maxPasses; pass++ {
		stuck := store.EntityID(0)
		for _, id := range ids {
			if !s.Exists(id) {
				continue
			}
			j, err := jobs.LoadJob(s, id)
			if err != nil {
				return err
			}
			if j.State.Terminal() {
				continue
			}
			if err := step(id); err != nil {
				return err
			}
			if j, err = jobs.LoadJob(s, id); err != nil {
				return err
			}
			if !j.State.Terminal() && stuck == 0 {
				stuck = id
			}
		}
		if stuck == 0 {
			return nil
		}
		if pass == maxPasses {
			j, _ := jobs.LoadJob(s, stuck)
			return &StuckJobError{JobID: stuck, State: j.State, Passes: maxPasses}
		}
	}
	return nil
}
