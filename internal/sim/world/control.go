package world

import (
	"errors"
	"fmt"

	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/jobs/deps"
	"colonysim.ai/internal/sim/store"
)

type ControlKind string

const (
	ControlSpawn     ControlKind = "SPAWN"
	ControlCancel    ControlKind = "CANCEL"
	ControlPause     ControlKind = "PAUSE"
	ControlResume    ControlKind = "RESUME"
	ControlInterrupt ControlKind = "INTERRUPT"
)

// ControlRequest is queued through Control() and applied at the start of the
// next tick. Resp, if set, receives exactly one response.
type ControlRequest struct {
	Kind     ControlKind
	JobID    store.EntityID
	Template *jobs.Template
	Resp     chan ControlResponse
}

type ControlResponse struct {
	JobID store.EntityID
	Err   error
}

// RecordedControl is the tick log form of an applied ControlRequest.
type RecordedControl struct {
	Kind     ControlKind    `json:"kind"`
	JobID    store.EntityID `json:"job_id"`
	Template *jobs.Template `json:"template,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// applyControls applies queued requests in arrival order. A stuck cascade is
// returned as the hard error of the tick.
func (w *World) applyControls(tick uint64, reqs []ControlRequest) ([]RecordedControl, error) {
	var (
		out  []RecordedControl
		hard error
	)
	for _, r := range reqs {
		id := r.JobID
		var err error
		switch r.Kind {
		case ControlSpawn:
			if r.Template == nil {
				err = fmt.Errorf("spawn: missing template")
				break
			}
			id, err = w.SpawnJob(*r.Template)
		case ControlCancel:
			err = w.CancelJob(id)
		case ControlPause:
			err = w.PauseJob(id, true)
		case ControlResume:
			err = w.ResumeJob(id)
		case ControlInterrupt:
			err = w.InterruptJob(id, true)
		default:
			err = fmt.Errorf("unknown control %q", r.Kind)
		}
		rec := RecordedControl{Kind: r.Kind, JobID: id, Template: r.Template}
		if err != nil {
			rec.Error = err.Error()
			var stuck *deps.StuckJobError
			if errors.As(err, &stuck) {
				hard = errors.Join(hard, err)
			}
			w.log.Printf("tick=%d control %s job=%d: %v", tick, r.Kind, id, err)
		}
		out = append(out, rec)
		if r.Resp != nil {
			select {
			case r.Resp <- ControlResponse{JobID: id, Err: err}:
			default:
			}
		}
	}
	return out, hard
}

// SpawnJob creates a pending job entity from t at the current tick.
func (w *World) SpawnJob(t jobs.Template) (store.EntityID, error) {
	def, ok := w.svc.Types.Def(t.JobType)
	if !ok {
		return 0, fmt.Errorf("spawn %q: %w", t.JobType, jobs.ErrUnknownJobType)
	}
	if err := deps.ValidateTemplates(w.svc.Types, t.OnDependencyFailedSpawn); err != nil {
		return 0, fmt.Errorf("spawn %q: %w", t.JobType, err)
	}
	s := w.svc.Store
	id := s.Spawn()
	if err := jobs.SaveJob(s, id, jobs.NewJob(t, def, w.tick.Load())); err != nil {
		s.Despawn(id)
		return 0, err
	}
	return id, nil
}

// CancelJob cancels id and its descendants, driving each to a terminal state
// now. A *deps.StuckJobError means a job refused to terminate.
func (w *World) CancelJob(id store.EntityID) error {
	if _, err := jobs.LoadJob(w.svc.Store, id); err != nil {
		return err
	}
	tick := w.tick.Load()
	return deps.CascadeCancel(w.svc.Store, id, w.cfg.CancelMaxPasses, func(jid store.EntityID) error {
		return w.machine.Step(jid, tick)
	})
}

// PauseJob sets or clears the paused hold. A paused job is skipped by the
// state machine and the board.
func (w *World) PauseJob(id store.EntityID, paused bool) error {
	return w.updateJob(id, func(j *jobs.Job) { j.Paused = paused })
}

// ResumeJob clears both the paused and the interrupted hold.
func (w *World) ResumeJob(id store.EntityID) error {
	return w.updateJob(id, func(j *jobs.Job) {
		j.Paused = false
		j.Interrupted = false
	})
}

func (w *World) InterruptJob(id store.EntityID, interrupted bool) error {
	return w.updateJob(id, func(j *jobs.Job) { j.Interrupted = interrupted })
}

func (w *World) updateJob(id store.EntityID, fn func(*jobs.Job)) error {
	s := w.svc.Store
	job, err := jobs.LoadJob(s, id)
	if err != nil {
		return err
	}
	fn(&job)
	return jobs.SaveJob(s, id, job)
}
