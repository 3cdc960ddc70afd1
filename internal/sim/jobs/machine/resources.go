package machine

import (
	"colonysim.ai/internal/sim/jobs"
)

func (s *step) fetching() error {
	if !s.job.HasReservation() {
		if len(s.agent.CarriedResources) > 0 {
			return s.transition(jobs.StateDeliveringResources)
		}
		return s.transition(jobs.StateWaitingForResources)
	}
	spID := s.job.ReservedStockpile
	if !s.m.Store.Exists(spID) {
		s.job.ReservedStockpile = 0
		s.job.ReservedResources = nil
		return s.transition(jobs.StateWaitingForResources)
	}
	spPos, ok, err := jobs.PositionOf(s.m.Store, spID)
	if err != nil {
		return err
	}
	if ok {
		arrived, blocked, err := s.move(spPos)
		if err != nil || blocked {
			return err
		}
		if !arrived {
			return s.saveBoth()
		}
	}

	sp, err := jobs.LoadStockpile(s.m.Store, spID)
	if err != nil {
		return err
	}
	plan := s.m.Ops.PlanPickup(s.agent, s.job, sp)
	if len(plan) == 0 {
		if len(s.agent.CarriedResources) > 0 {
			return s.transition(jobs.StateDeliveringResources)
		}
		return s.transition(jobs.StateWaitingForResources)
	}
	if err := s.m.Ops.ApplyPickup(&s.agent, &s.job, spID, &sp, plan); err != nil {
		return err
	}
	return s.transition(jobs.StateDeliveringResources)
}

// waiting retries every tick: a live reservation or a fresh one sends the
// job back to fetching.
func (s *step) waiting() error {
	if len(s.agent.CarriedResources) > 0 {
		return s.transition(jobs.StateDeliveringResources)
	}
	if s.job.RequirementsMet() {
		return s.transition(jobs.StateInProgress)
	}
	if !s.job.HasReservation() {
		ok, err := s.m.Ops.Reserve(&s.job)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return s.transition(jobs.StateFetchingResources)
	}
	sp, err := jobs.LoadStockpile(s.m.Store, s.job.ReservedStockpile)
	if err != nil {
		return err
	}
	if len(s.m.Ops.PlanPickup(s.agent, s.job, sp)) == 0 {
		return nil
	}
	return s.transition(jobs.StateFetchingResources)
}

func (s *step) delivering() error {
	if s.job.TargetPosition != nil {
		arrived, blocked, err := s.move(*s.job.TargetPosition)
		if err != nil || blocked {
			return err
		}
		if !arrived {
			return s.saveBoth()
		}
	}
	excess := s.m.Ops.Deliver(&s.agent, &s.job)
	if len(excess) > 0 {
		if err := s.m.Ops.DropAt(s.agentID, excess); err != nil {
			return err
		}
	}
	if s.job.RequirementsMet() {
		if err := s.m.Ops.ReleaseReservation(&s.job); err != nil {
			return err
		}
		return s.transition(jobs.StateInProgress)
	}
	return s.transition(jobs.StateFetchingResources)
}
