package machine

import (
	"errors"
	"fmt"
	"log"

	"colonysim.ai/internal/sim/grid"
	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/jobs/deps"
	"colonysim.ai/internal/sim/jobs/effects"
	"colonysim.ai/internal/sim/jobs/resources"
	"colonysim.ai/internal/sim/store"
)

// Failure reasons carried by job_failed and job_blocked notifications.
const (
	ReasonNoPath           = "no_path"
	ReasonAgentUnavailable = "agent_unavailable"
	ReasonDependencyFailed = "dependency_failed"
	ReasonChildSpawnFailed = "dependency_failed_spawn_error"
	ReasonEffectFailed     = "effect_failed"
	ReasonHandlerFailed    = "handler_failed"
)

// Machine advances jobs one step at a time. It is driven from the tick
// goroutine only.
type Machine struct {
	Store   store.Store
	Types   *jobs.Registry
	Effects *effects.Processor
	Ops     *resources.Ops
	Map     grid.Map
	Events  *jobs.Events
	Logger  *log.Logger
}

// step carries the per-call state of a single Step.
type step struct {
	m       *Machine
	tick    uint64
	id      store.EntityID
	job     jobs.Job
	agentID store.EntityID
	agent   jobs.Agent
}

// Step advances job id by one transition. Terminal, paused and interrupted
// jobs are left untouched; cancelled jobs are cleaned up.
func (m *Machine) Step(id store.EntityID, tick uint64) error {
	job, err := jobs.LoadJob(m.Store, id)
	if err != nil {
		return err
	}
	if job.State.Terminal() || job.Paused || job.Interrupted {
		return nil
	}
	if job.Cancelled {
		return m.CancelCleanup(id, tick)
	}

	s := &step{m: m, tick: tick, id: id, job: job, agentID: job.AssignedTo}
	if s.agentID != 0 {
		ok, err := s.loadAgent()
		if err != nil {
			return err
		}
		if !ok {
			return s.fail(ReasonAgentUnavailable, true)
		}
	}

	switch job.State {
	case jobs.StatePending:
		return s.pending()
	case jobs.StateBlocked:
		return s.blocked()
	}
	if s.agentID == 0 {
		// An active phase without an agent cannot move; hand it back to the board.
		s.job.State = jobs.StatePending
		return s.saveJob()
	}
	switch job.State {
	case jobs.StateGoingToSite:
		return s.goingToSite()
	case jobs.StateAtSite:
		return s.transition(jobs.StateInProgress)
	case jobs.StateFetchingResources:
		return s.fetching()
	case jobs.StateWaitingForResources:
		return s.waiting()
	case jobs.StateDeliveringResources:
		return s.delivering()
	case jobs.StateInProgress:
		return s.inProgress()
	}
	return fmt.Errorf("job %d state %q: %w", id, job.State, jobs.ErrUnknownState)
}

// loadAgent reports false when the assigned agent is gone or now works on
// another job.
func (s *step) loadAgent() (bool, error) {
	if !s.m.Store.Exists(s.agentID) {
		return false, nil
	}
	a, err := jobs.LoadAgent(s.m.Store, s.agentID)
	if errors.Is(err, jobs.ErrAgentNotPresent) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if a.CurrentJob != s.id {
		return false, nil
	}
	s.agent = a
	return true, nil
}

func (s *step) saveJob() error { return jobs.SaveJob(s.m.Store, s.id, s.job) }

func (s *step) saveBoth() error {
	if err := s.saveAgent(); err != nil {
		return err
	}
	return s.saveJob()
}

func (s *step) saveAgent() error {
	if s.agentID == 0 {
		return nil
	}
	return jobs.SaveAgent(s.m.Store, s.agentID, s.agent)
}

func (s *step) transition(to jobs.State) error {
	s.job.State = to
	return s.saveBoth()
}

func (s *step) emit(kind jobs.NotificationKind, reason string) {
	if s.m.Events == nil {
		return
	}
	n := jobs.Notify(s.tick, kind, s.id, s.job)
	n.Agent = s.agentID
	n.Progress = s.job.Progress
	n.Reason = reason
	s.m.Events.Emit(n)
}

func (s *step) logf(format string, args ...any) {
	if s.m.Logger != nil {
		s.m.Logger.Printf(format, args...)
	}
}

// release frees the agent (if still present) and detaches it from the job.
func (s *step) release() error {
	if s.agentID != 0 && s.agent.CurrentJob == s.id {
		s.agent.State = jobs.AgentIdle
		s.agent.CurrentJob = 0
		s.agent.MovePath = nil
		if err := s.saveAgent(); err != nil {
			return err
		}
	}
	s.job.AssignedTo = 0
	return nil
}

// fail ends the job as failed. Carried resources are dropped, the unused
// reservation returned and, when rollback is set, applied effects undone.
func (s *step) fail(reason string, rollback bool) error {
	var errs []error
	if rollback {
		if err := s.m.rollback(s.tick, s.id, &s.job); err != nil {
			errs = append(errs, err)
		}
	}
	if s.agent.CurrentJob == s.id {
		if err := s.m.Ops.DropCarried(s.agentID, &s.agent); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.m.Ops.ReleaseReservation(&s.job); err != nil {
		errs = append(errs, err)
	}
	s.job.State = jobs.StateFailed
	s.job.FailureReason = reason
	s.emit(jobs.JobFailed, reason)
	if err := s.release(); err != nil {
		errs = append(errs, err)
	}
	if err := s.saveJob(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// block applies the pathfinding-failure policy: the job leaves its agent and
// its reservation and waits for the map or its target to change.
func (s *step) block() error {
	if err := s.m.Ops.DropCarried(s.agentID, &s.agent); err != nil {
		return err
	}
	if err := s.m.Ops.ReleaseReservation(&s.job); err != nil {
		return err
	}
	s.job.State = jobs.StateBlocked
	s.job.BlockedMapVersion = s.m.Map.Version()
	s.job.BlockedTarget = nil
	if s.job.TargetPosition != nil {
		t := *s.job.TargetPosition
		s.job.BlockedTarget = &t
	}
	s.emit(jobs.JobBlocked, ReasonNoPath)
	s.logf("job %d (%s) blocked: no path", s.id, s.job.JobType)
	if err := s.release(); err != nil {
		return err
	}
	return s.saveJob()
}

// move runs MoveToward and applies the blocked policy on ErrNoPath. It
// reports whether the agent has arrived.
func (s *step) move(goal grid.Vec3i) (arrived, blocked bool, err error) {
	arrived, err = s.m.Ops.MoveToward(s.agentID, &s.agent, goal)
	if errors.Is(err, resources.ErrNoPath) {
		return false, true, s.block()
	}
	return arrived, false, err
}

func (s *step) pending() error {
	outcome, dep, err := deps.Check(s.m.Store, s.job)
	if err != nil {
		return err
	}
	switch outcome {
	case deps.OutcomeFailed:
		if _, err := deps.SpawnChildren(s.m.Store, s.m.Types, s.id, &s.job, s.tick); err != nil {
			s.logf("job %d (%s) failed: dependency %d failed, %v", s.id, s.job.JobType, dep, err)
			return s.fail(ReasonChildSpawnFailed, true)
		}
		s.logf("job %d (%s) failed: dependency %d failed", s.id, s.job.JobType, dep)
		return s.fail(ReasonDependencyFailed, true)
	case deps.OutcomeCancelled:
		s.job.Cancelled = true
		if err := s.saveJob(); err != nil {
			return err
		}
		return s.m.CancelCleanup(s.id, s.tick)
	case deps.OutcomeWaiting:
		return nil
	}
	if s.agentID == 0 {
		return nil
	}

	if s.job.HasRequirements() && !s.job.RequirementsMet() {
		if len(s.agent.CarriedResources) > 0 {
			return s.transition(jobs.StateDeliveringResources)
		}
		if !s.job.HasReservation() {
			ok, err := s.m.Ops.Reserve(&s.job)
			if err != nil {
				return err
			}
			if !ok {
				return s.transition(jobs.StateWaitingForResources)
			}
		}
		return s.transition(jobs.StateFetchingResources)
	}
	if s.job.TargetPosition != nil {
		arrived, blocked, err := s.move(*s.job.TargetPosition)
		if err != nil || blocked {
			return err
		}
		if arrived {
			return s.transition(jobs.StateInProgress)
		}
		return s.transition(jobs.StateGoingToSite)
	}
	return s.transition(jobs.StateInProgress)
}

func (s *step) goingToSite() error {
	if s.job.TargetPosition == nil {
		return s.transition(jobs.StateAtSite)
	}
	arrived, blocked, err := s.move(*s.job.TargetPosition)
	if err != nil || blocked {
		return err
	}
	if arrived {
		return s.transition(jobs.StateAtSite)
	}
	return s.saveAgent()
}

// blocked re-opens the job once the map topology or its target changed.
func (s *step) blocked() error {
	if s.m.Map.Version() == s.job.BlockedMapVersion && sameTarget(s.job.TargetPosition, s.job.BlockedTarget) {
		return nil
	}
	s.job.State = jobs.StatePending
	s.job.BlockedMapVersion = 0
	s.job.BlockedTarget = nil
	s.logf("job %d (%s) unblocked", s.id, s.job.JobType)
	return s.saveJob()
}

func sameTarget(a, b *grid.Vec3i) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
