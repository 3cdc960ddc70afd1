package world

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/jobs/board"
	"colonysim.ai/internal/sim/jobs/deps"
	"colonysim.ai/internal/sim/store"
)

// StepOnce advances the world by a single tick using the same ordering semantics as the server.
// It is primarily intended for deterministic replays/tests.
func (w *World) StepOnce(controls []ControlRequest) (tick uint64, digest string, err error) {
	tick = w.tick.Load()
	err = w.stepInternal(controls)
	return tick, w.stateDigest(), err
}

// stepInternal runs one tick: controls, reservations, board refresh, claims,
// one state machine step per active job, movement, then publication. Only a
// stuck job (a broken invariant) is returned as an error; other failures are
// logged and counted.
func (w *World) stepInternal(controls []ControlRequest) error {
	start := time.Now()
	tick := w.tick.Load()

	recorded, hard := w.applyControls(tick, controls)

	w.reservePass(tick)
	if err := w.board.Update(w.boardEnv(), tick); err != nil {
		w.fault("board", err)
	}
	w.claimPass(tick)
	counts := w.jobPass(tick)
	w.moveAgents()

	batch := w.events.Rotate()
	w.metrics.recordNotifications(batch)
	w.metrics.recordJobs(counts)

	digest := w.stateDigest()
	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(TickLogEntry{
			Tick:          tick,
			Controls:      recorded,
			Notifications: batch,
			Jobs:          counts,
			Digest:        digest,
		})
	}
	w.broadcastTick(tick, counts, batch)

	if w.snapshotSink != nil && w.cfg.SnapshotEveryTicks > 0 && tick > 0 && tick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
		snap := w.ExportSnapshot(tick)
		select {
		case w.snapshotSink <- snap:
		default:
			w.log.Printf("snapshot sink full; dropping tick=%d", tick)
		}
	}

	elapsed := time.Since(start)
	w.metrics.recordStep(elapsed)
	w.last.Store(&WorldMetrics{
		Tick:      tick,
		Jobs:      counts,
		Agents:    len(w.svc.Store.With(jobs.ComponentAgent)),
		Observers: len(w.observers),
		StepMS:    float64(elapsed.Microseconds()) / 1000,
	})
	w.tick.Add(1)
	return hard
}

func (w *World) fault(stage string, err error) {
	w.metrics.recordError(stage)
	w.log.Printf("tick=%d %s: %v", w.tick.Load(), stage, err)
}

// reservePass reserves stock for unassigned pending jobs in id order so the
// board can offer them.
func (w *World) reservePass(tick uint64) {
	s := w.svc.Store
	for _, id := range s.With(jobs.ComponentJob) {
		job, err := jobs.LoadJob(s, id)
		if err != nil {
			w.fault("reserve", err)
			continue
		}
		if job.State != jobs.StatePending || job.AssignedTo != 0 || job.Cancelled || job.Paused || job.Interrupted {
			continue
		}
		if !job.HasRequirements() || job.RequirementsMet() || job.HasReservation() || !deps.Ready(s, job) {
			continue
		}
		ok, err := w.ops.Reserve(&job)
		if err != nil {
			w.fault("reserve", err)
			continue
		}
		if !ok {
			continue
		}
		if err := jobs.SaveJob(s, id, job); err != nil {
			w.fault("reserve", err)
		}
	}
}

// claimPass lets every idle agent claim, in id order. With preemption on,
// working agents may first drop a job that a candidate outranks.
func (w *World) claimPass(tick uint64) {
	s := w.svc.Store
	env := w.boardEnv()
	for _, id := range s.With(jobs.ComponentAgent) {
		a, err := jobs.LoadAgent(s, id)
		if err != nil {
			w.fault("claim", err)
			continue
		}
		if a.CurrentJob != 0 && w.staleAssignment(id, a) {
			a.State = jobs.AgentIdle
			a.CurrentJob = 0
			a.MovePath = nil
			if err := jobs.SaveAgent(s, id, a); err != nil {
				w.fault("claim", err)
				continue
			}
		}
		if a.CurrentJob != 0 {
			preempted, err := w.board.Preempt(env, id, tick)
			if err != nil {
				w.fault("preempt", err)
				continue
			}
			if !preempted {
				continue
			}
		}
		res, err := w.board.ClaimJob(env, id, tick)
		if err != nil {
			w.fault("claim", err)
			continue
		}
		if res.Status == board.Assigned {
			w.log.Printf("tick=%d agent %d claimed job %d", tick, id, res.JobID)
		}
	}
}

// staleAssignment reports whether the agent points at a job that no longer
// names it as assignee.
func (w *World) staleAssignment(agentID store.EntityID, a jobs.Agent) bool {
	s := w.svc.Store
	if !s.Exists(a.CurrentJob) {
		return true
	}
	job, err := jobs.LoadJob(s, a.CurrentJob)
	if err != nil {
		return errors.Is(err, jobs.ErrNotJob)
	}
	return job.AssignedTo != agentID || job.State.Terminal()
}

// jobPass steps every non-terminal job once, in id order, and returns the
// job count per state afterwards.
func (w *World) jobPass(tick uint64) map[jobs.State]int {
	s := w.svc.Store
	counts := map[jobs.State]int{}
	for _, id := range s.With(jobs.ComponentJob) {
		job, err := jobs.LoadJob(s, id)
		if err != nil {
			w.fault("step", err)
			continue
		}
		if !job.State.Terminal() {
			if err := w.machine.Step(id, tick); err != nil {
				w.fault("step", err)
			}
			if job, err = jobs.LoadJob(s, id); err != nil {
				w.fault("step", err)
				continue
			}
		}
		counts[job.State]++
	}
	return counts
}

// moveAgents advances each agent one cell along its move path. A path whose
// next cell became impassable is dropped; the job re-plans on its next step.
func (w *World) moveAgents() {
	s := w.svc.Store
	for _, id := range s.With(jobs.ComponentAgent) {
		a, err := jobs.LoadAgent(s, id)
		if err != nil {
			w.fault("move", err)
			continue
		}
		if len(a.MovePath) == 0 {
			continue
		}
		next := a.MovePath[0]
		if !w.svc.Grid.Passable(next) {
			a.MovePath = nil
		} else {
			if err := jobs.SetPosition(s, id, next); err != nil {
				w.fault("move", err)
				continue
			}
			a.MovePath = a.MovePath[1:]
		}
		if err := jobs.SaveAgent(s, id, a); err != nil {
			w.fault("move", err)
		}
	}
}

// stateDigest hashes every entity in id order.
func (w *World) stateDigest() string {
	_, recs := w.svc.Store.Export()
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, r := range recs {
		_ = enc.Encode(r)
	}
	return hex.EncodeToString(h.Sum(nil))
}
