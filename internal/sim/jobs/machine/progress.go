package machine

import (
	"errors"
	"fmt"

	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/jobs/deps"
	"colonysim.ai/internal/sim/jobs/effects"
	"colonysim.ai/internal/sim/store"
)

// inProgress applies at most one effect, runs the job type's handler, and
// completes the job once progress reaches the duration with no effect left
// to apply and every child terminal.
func (s *step) inProgress() error {
	def, handler, err := s.m.Types.Lookup(s.job.JobType)
	if err != nil {
		return err
	}

	env := &effects.Env{Store: s.m.Store, Tick: s.tick, JobID: s.id}
	applied, err := s.m.Effects.ApplyNext(env, &s.job, def)
	if err != nil {
		s.logf("job %d (%s) effect failed: %v", s.id, s.job.JobType, err)
		return s.fail(ReasonEffectFailed, true)
	}

	before := s.job
	next, err := handler.Handle(&jobs.Env{Store: s.m.Store, Tick: s.tick, Type: def}, s.agentID, s.id, s.job)
	if err != nil {
		if serr := s.saveJob(); serr != nil {
			return serr
		}
		return fmt.Errorf("job %d handler %s: %w", s.id, s.job.JobType, err)
	}
	s.job = keepBookkeeping(before, next)

	if s.job.State == jobs.StateFailed {
		s.logf("job %d (%s) failed by handler", s.id, s.job.JobType)
		return s.fail(ReasonHandlerFailed, false)
	}
	if !s.job.State.Known() {
		return fmt.Errorf("job %d handler state %q: %w", s.id, s.job.State, jobs.ErrUnknownState)
	}
	s.job.State = jobs.StateInProgress
	if s.job.Progress != before.Progress {
		s.emit(jobs.JobProgressed, "")
	}

	if s.job.Progress < def.Duration || applied {
		return s.saveJob()
	}
	children, err := deps.ChildrenStatus(s.m.Store, s.id)
	if err != nil {
		return err
	}
	if !children.AllTerminal() {
		return s.saveJob()
	}
	s.job.State = jobs.StateComplete
	if err := s.m.Ops.ReleaseReservation(&s.job); err != nil {
		return err
	}
	s.emit(jobs.JobCompleted, "")
	if err := s.release(); err != nil {
		return err
	}
	return s.saveJob()
}

// keepBookkeeping takes the handler's progress, state and children but keeps
// the fields the engine owns.
func keepBookkeeping(before, next jobs.Job) jobs.Job {
	out := before
	out.Progress = next.Progress
	out.State = next.State
	out.FailureReason = next.FailureReason
	if len(next.Children) > len(before.Children) {
		out.Children = next.Children
	}
	return out
}

// CancelCleanup finishes a cancelled job: carried resources are dropped at
// the agent's cell, applied effects rolled back, the reservation returned and
// the agent freed. A second call changes nothing.
func (m *Machine) CancelCleanup(id store.EntityID, tick uint64) error {
	job, err := jobs.LoadJob(m.Store, id)
	if err != nil {
		return err
	}
	if job.CancelledCleanupDone {
		return nil
	}
	s := &step{m: m, tick: tick, id: id, job: job, agentID: job.AssignedTo}
	if s.agentID != 0 {
		if _, err := s.loadAgent(); err != nil {
			return err
		}
	}

	var errs []error
	if s.agent.CurrentJob == id {
		if err := m.Ops.DropCarried(s.agentID, &s.agent); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.rollback(tick, id, &s.job); err != nil {
		errs = append(errs, err)
	}
	if err := m.Ops.ReleaseReservation(&s.job); err != nil {
		errs = append(errs, err)
	}
	s.job.Cancelled = true
	s.job.CancelledCleanupDone = true
	s.job.State = jobs.StateCancelled
	s.emit(jobs.JobCancelled, "")
	if err := s.release(); err != nil {
		errs = append(errs, err)
	}
	if err := s.saveJob(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("cancel job %d: %w", id, errors.Join(errs...))
	}
	return nil
}

func (m *Machine) rollback(tick uint64, id store.EntityID, job *jobs.Job) error {
	if len(job.AppliedEffects) == 0 {
		return nil
	}
	def, ok := m.Types.Def(job.JobType)
	if !ok {
		return fmt.Errorf("rollback %q: %w", job.JobType, jobs.ErrUnknownJobType)
	}
	return m.Effects.Rollback(&effects.Env{Store: m.Store, Tick: tick, JobID: id}, job, def)
}
