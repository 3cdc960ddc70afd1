package board

import (
	"errors"
	"fmt"
	"sort"

	"colonysim.ai/internal/sim/catalogs"
	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/jobs/deps"
	"colonysim.ai/internal/sim/jobs/resources"
	"colonysim.ai/internal/sim/store"
	"colonysim.ai/internal/sim/tuning"
	"colonysim.ai/internal/sim/world/logic/mathx"
)

var ErrAgentBusy = errors.New("board: agent already has a job")

type Env struct {
	Store  store.Store
	Types  *jobs.Registry
	Events *jobs.Events
	Ops    *resources.Ops
}

type Config struct {
	Policy             Policy
	AgingTicks         int
	ShortageBoost      int
	ShortageThresholds map[string]int
	Preemption         bool
}

func ConfigFromTuning(t tuning.Tuning) (Config, error) {
	p, err := ParsePolicy(t.Board.Policy)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Policy:             p,
		AgingTicks:         t.Board.AgingTicks,
		ShortageBoost:      t.Board.ShortageBoost,
		ShortageThresholds: t.ShortageThresholds,
		Preemption:         t.Board.Preemption,
	}, nil
}

type ClaimStatus int

const (
	NoJobsAvailable ClaimStatus = iota
	Assigned
)

type ClaimResult struct {
	Status ClaimStatus
	JobID  store.EntityID
}

type candidate struct {
	id        store.EntityID
	job       jobs.Job
	effective int
}

// Board holds the ordered candidate list rebuilt by Update. It is owned by
// the tick goroutine.
type Board struct {
	cfg        Config
	tick       uint64
	scarce     map[string]bool
	candidates []candidate
}

func New(cfg Config) *Board {
	if cfg.Policy == "" {
		cfg.Policy = PolicyPriority
	}
	if cfg.AgingTicks <= 0 {
		cfg.AgingTicks = 10
	}
	return &Board{cfg: cfg}
}

func (b *Board) Policy() Policy { return b.cfg.Policy }

// SetPolicy takes effect at the next Update.
func (b *Board) SetPolicy(p Policy) { b.cfg.Policy = p }

// Candidates returns the candidate ids in claim order.
func (b *Board) Candidates() []store.EntityID {
	out := make([]store.EntityID, len(b.candidates))
	for i, c := range b.candidates {
		out[i] = c.id
	}
	return out
}

// Scarce reports whether kind was in shortage at the last Update.
func (b *Board) Scarce(kind string) bool { return b.scarce[kind] }

// ScarceKinds lists the shortage kinds of the last Update, sorted.
func (b *Board) ScarceKinds() []string {
	out := make([]string, 0, len(b.scarce))
	for k, v := range b.scarce {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Ranked is a candidate with the effective priority it was ordered by.
type Ranked struct {
	ID        store.EntityID
	JobType   string
	Effective int
}

// Top returns up to n candidates in claim order.
func (b *Board) Top(n int) []Ranked {
	if n > len(b.candidates) {
		n = len(b.candidates)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Ranked, n)
	for i, c := range b.candidates[:n] {
		out[i] = Ranked{ID: c.id, JobType: c.job.JobType, Effective: c.effective}
	}
	return out
}

// Claimable is the candidate filter: unassigned, pending, not cancelled or
// held, dependencies complete, and reserved when it has requirements.
func Claimable(s store.Store, job jobs.Job) bool {
	if job.AssignedTo != 0 || job.State != jobs.StatePending {
		return false
	}
	if job.Cancelled || job.Paused || job.Interrupted {
		return false
	}
	if job.HasRequirements() && !job.RequirementsMet() && !job.HasReservation() {
		return false
	}
	return deps.Ready(s, job)
}

// Shortages returns the kinds whose world stockpile total is below threshold.
func Shortages(s store.Store, thresholds map[string]int) (map[string]bool, error) {
	out := map[string]bool{}
	if len(thresholds) == 0 {
		return out, nil
	}
	totals, err := jobs.ResourceTotals(s)
	if err != nil {
		return nil, err
	}
	for kind, threshold := range thresholds {
		if totals[kind] < threshold {
			out[kind] = true
		}
	}
	return out, nil
}

// EffectivePriority is the base priority plus one point per agingTicks
// since creation, plus boost when the job needs or produces a scarce kind.
func EffectivePriority(job jobs.Job, def catalogs.JobTypeDef, tick uint64, agingTicks, boost int, scarce map[string]bool) int {
	p := job.Priority
	if tick > job.CreatedTick && agingTicks > 0 {
		p += mathx.FloorDiv(int(tick-job.CreatedTick), agingTicks)
	}
	if touchesScarce(job, def, scarce) {
		p += boost
	}
	return p
}

func touchesScarce(job jobs.Job, def catalogs.JobTypeDef, scarce map[string]bool) bool {
	if len(scarce) == 0 {
		return false
	}
	for _, r := range job.ResourceRequirements {
		if scarce[r.Kind] {
			return true
		}
	}
	for _, k := range def.Produces {
		if scarce[k] {
			return true
		}
	}
	return false
}

func (b *Board) effective(env *Env, job jobs.Job) int {
	def, _ := env.Types.Def(job.JobType)
	return EffectivePriority(job, def, b.tick, b.cfg.AgingTicks, b.cfg.ShortageBoost, b.scarce)
}

// Update rebuilds the candidate list from every Job entity in the store.
func (b *Board) Update(env *Env, tick uint64) error {
	scarce, err := Shortages(env.Store, b.cfg.ShortageThresholds)
	if err != nil {
		return fmt.Errorf("board: shortages: %w", err)
	}
	b.tick = tick
	b.scarce = scarce
	b.candidates = b.candidates[:0]
	for _, id := range env.Store.With(jobs.ComponentJob) {
		job, err := jobs.LoadJob(env.Store, id)
		if err != nil {
			return fmt.Errorf("board: %w", err)
		}
		if !Claimable(env.Store, job) {
			continue
		}
		b.candidates = append(b.candidates, candidate{id: id, job: job, effective: b.effective(env, job)})
	}
	p := b.cfg.Policy
	sort.SliceStable(b.candidates, func(i, j int) bool {
		return b.candidates[i].less(b.candidates[j], p)
	})
	return nil
}

// ClaimJob assigns the first candidate that still passes the filter and that
// the agent is specialized for.
func (b *Board) ClaimJob(env *Env, agentID store.EntityID, tick uint64) (ClaimResult, error) {
	agent, err := jobs.LoadAgent(env.Store, agentID)
	if err != nil {
		return ClaimResult{}, err
	}
	if agent.CurrentJob != 0 {
		return ClaimResult{}, fmt.Errorf("agent %d on job %d: %w", agentID, agent.CurrentJob, ErrAgentBusy)
	}
	for i := 0; i < len(b.candidates); i++ {
		c := b.candidates[i]
		if !env.Store.Exists(c.id) {
			continue
		}
		job, err := jobs.LoadJob(env.Store, c.id)
		if err != nil {
			return ClaimResult{}, err
		}
		if !Claimable(env.Store, job) || !b.suits(env, agent, job) {
			continue
		}

		job.AssignedTo = agentID
		job.AssignmentCount++
		job.LastAssignedTick = tick
		if err := jobs.SaveJob(env.Store, c.id, job); err != nil {
			return ClaimResult{}, err
		}
		agent.State = jobs.AgentWorking
		agent.CurrentJob = c.id
		agent.MovePath = nil
		if err := jobs.SaveAgent(env.Store, agentID, agent); err != nil {
			return ClaimResult{}, err
		}
		b.candidates = append(b.candidates[:i], b.candidates[i+1:]...)
		if env.Events != nil {
			env.Events.Emit(jobs.Notify(tick, jobs.JobAssigned, c.id, job))
		}
		return ClaimResult{Status: Assigned, JobID: c.id}, nil
	}
	return ClaimResult{Status: NoJobsAvailable}, nil
}

func (b *Board) suits(env *Env, agent jobs.Agent, job jobs.Job) bool {
	def, ok := env.Types.Def(job.JobType)
	if !ok {
		return false
	}
	return agent.HasSpecialization(def.Specialization)
}

// Preempt unassigns the agent's current job when a candidate the agent could
// claim outranks it. The job goes back to pending with its progress,
// deliveries and applied effects kept; carried resources are dropped where
// the agent stands. Only the priority policy preempts.
func (b *Board) Preempt(env *Env, agentID store.EntityID, tick uint64) (bool, error) {
	if !b.cfg.Preemption || b.cfg.Policy != PolicyPriority {
		return false, nil
	}
	agent, err := jobs.LoadAgent(env.Store, agentID)
	if err != nil {
		return false, err
	}
	if agent.CurrentJob == 0 || !env.Store.Exists(agent.CurrentJob) {
		return false, nil
	}
	curID := agent.CurrentJob
	cur, err := jobs.LoadJob(env.Store, curID)
	if err != nil {
		return false, err
	}
	if cur.State.Terminal() || cur.Cancelled {
		return false, nil
	}
	curPriority := b.effective(env, cur)

	outranked := false
	for _, c := range b.candidates {
		if c.effective <= curPriority {
			break
		}
		if c.id != curID && b.suits(env, agent, c.job) {
			outranked = true
			break
		}
	}
	if !outranked {
		return false, nil
	}

	if err := env.Ops.DropCarried(agentID, &agent); err != nil {
		return false, err
	}
	agent.State = jobs.AgentIdle
	agent.CurrentJob = 0
	agent.MovePath = nil
	if err := jobs.SaveAgent(env.Store, agentID, agent); err != nil {
		return false, err
	}
	cur.State = jobs.StatePending
	cur.AssignedTo = 0
	if err := jobs.SaveJob(env.Store, curID, cur); err != nil {
		return false, err
	}
	return true, nil
}
