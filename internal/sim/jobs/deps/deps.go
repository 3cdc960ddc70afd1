package deps

import (
	"errors"
	"fmt"

	"colonysim.ai/internal/sim/catalogs"
	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/store"
)

type Outcome int

const (
	OutcomeReady Outcome = iota
	OutcomeWaiting
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeWaiting:
		return "waiting"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Check evaluates a job's dependencies. Failure wins over cancellation,
// which wins over still-pending. A dependency that no longer exists counts
// as failed. The returned id is the dependency that decided the outcome.
func Check(s store.Store, job jobs.Job) (Outcome, store.EntityID, error) {
	var cancelledBy, waitingOn store.EntityID
	for _, id := range job.Dependencies {
		if !s.Exists(id) {
			return OutcomeFailed, id, nil
		}
		dep, err := jobs.LoadJob(s, id)
		if err != nil {
			if errors.Is(err, jobs.ErrNotJob) {
				return OutcomeFailed, id, nil
			}
			return OutcomeWaiting, id, err
		}
		switch dep.State {
		case jobs.StateFailed:
			return OutcomeFailed, id, nil
		case jobs.StateCancelled:
			if cancelledBy == 0 {
				cancelledBy = id
			}
		case jobs.StateComplete:
		default:
			if waitingOn == 0 {
				waitingOn = id
			}
		}
	}
	if cancelledBy != 0 {
		return OutcomeCancelled, cancelledBy, nil
	}
	if waitingOn != 0 {
		return OutcomeWaiting, waitingOn, nil
	}
	return OutcomeReady, 0, nil
}

// Ready reports whether every dependency is complete.
func Ready(s store.Store, job jobs.Job) bool {
	o, _, err := Check(s, job)
	return err == nil && o == OutcomeReady
}

// SpawnChildren instantiates the job's on_dependency_failed_spawn templates
// as pending child jobs and records them in job.Children. Either every
// template is spawned or none is.
func SpawnChildren(s store.Store, reg *jobs.Registry, parentID store.EntityID, job *jobs.Job, tick uint64) ([]store.EntityID, error) {
	defs := make([]catalogs.JobTypeDef, len(job.OnDependencyFailedSpawn))
	for i, t := range job.OnDependencyFailedSpawn {
		def, ok := reg.Def(t.JobType)
		if !ok {
			return nil, fmt.Errorf("spawn child %q: %w", t.JobType, jobs.ErrUnknownJobType)
		}
		defs[i] = def
	}
	var spawned []store.EntityID
	for i, t := range job.OnDependencyFailedSpawn {
		child := jobs.NewJob(t, defs[i], tick)
		child.Parent = parentID
		id := s.Spawn()
		spawned = append(spawned, id)
		if err := jobs.SaveJob(s, id, child); err != nil {
			for _, sid := range spawned {
				s.Despawn(sid)
			}
			return nil, fmt.Errorf("spawn child %q: %w", t.JobType, err)
		}
	}
	job.Children = append(job.Children, spawned...)
	return spawned, nil
}

// ValidateTemplates checks that every template, including nested
// on_dependency_failed_spawn lists, names a registered job type.
func ValidateTemplates(reg *jobs.Registry, ts []jobs.Template) error {
	for _, t := range ts {
		if _, ok := reg.Def(t.JobType); !ok {
			return fmt.Errorf("template %q: %w", t.JobType, jobs.ErrUnknownJobType)
		}
		if err := ValidateTemplates(reg, t.OnDependencyFailedSpawn); err != nil {
			return err
		}
	}
	return nil
}
