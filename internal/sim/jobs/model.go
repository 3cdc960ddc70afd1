package jobs

import (
	"encoding/json"

	"colonysim.ai/internal/sim/catalogs"
	"colonysim.ai/internal/sim/grid"
	"colonysim.ai/internal/sim/store"
)

// Component names.
const (
	ComponentJob        = "Job"
	ComponentAgent      = "Agent"
	ComponentPosition   = "Position"
	ComponentStockpile  = "Stockpile"
	ComponentItem       = "Item"
	ComponentAttributes = "Attributes"
)

type ResourceAmount = catalogs.ResourceAmount

type State string

const (
	StatePending             State = "pending"
	StateFetchingResources   State = "fetching_resources"
	StateWaitingForResources State = "waiting_for_resources"
	StateDeliveringResources State = "delivering_resources"
	StateGoingToSite         State = "going_to_site"
	StateAtSite              State = "at_site"
	StateInProgress          State = "in_progress"
	StateBlocked             State = "blocked"
	StateComplete            State = "complete"
	StateFailed              State = "failed"
	StateCancelled           State = "cancelled"
)

var knownStates = map[State]struct{}{
	StatePending:             {},
	StateFetchingResources:   {},
	StateWaitingForResources: {},
	StateDeliveringResources: {},
	StateGoingToSite:         {},
	StateAtSite:              {},
	StateInProgress:          {},
	StateBlocked:             {},
	StateComplete:            {},
	StateFailed:              {},
	StateCancelled:           {},
}

// States lists every state in lifecycle order.
func States() []State {
	return []State{
		StatePending, StateFetchingResources, StateWaitingForResources, StateDeliveringResources,
		StateGoingToSite, StateAtSite, StateInProgress, StateBlocked,
		StateComplete, StateFailed, StateCancelled,
	}
}

func (s State) Known() bool {
	_, ok := knownStates[s]
	return ok
}

func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateCancelled
}

// Job is the per-entity job component.
type Job struct {
	JobType          string         `json:"job_type"`
	State            State          `json:"state"`
	Priority         int            `json:"priority"`
	AssignedTo       store.EntityID `json:"assigned_to,omitempty"`
	AssignmentCount  int            `json:"assignment_count"`
	LastAssignedTick uint64         `json:"last_assigned_tick"`
	CreatedTick      uint64         `json:"created_tick"`

	Dependencies []store.EntityID `json:"dependencies,omitempty"`

	ResourceRequirements []ResourceAmount `json:"resource_requirements,omitempty"`
	ReservedStockpile    store.EntityID   `json:"reserved_stockpile,omitempty"`
	ReservedResources    []ResourceAmount `json:"reserved_resources,omitempty"`
	DeliveredResources   []ResourceAmount `json:"delivered_resources,omitempty"`

	TargetPosition *grid.Vec3i `json:"target_position,omitempty"`
	Progress       float64     `json:"progress"`

	// AppliedEffects holds top-level effect indices in application order.
	AppliedEffects []int `json:"applied_effects,omitempty"`
	// AppliedNested holds index paths of chained effects in application order.
	AppliedNested [][]int `json:"applied_nested,omitempty"`
	// EffectTarget is the entity effects mutate; zero means the job entity.
	EffectTarget store.EntityID `json:"effect_target,omitempty"`
	// EffectMemos holds what undo handlers need to restore, keyed by effect
	// path ("0", "0.1").
	EffectMemos map[string]json.RawMessage `json:"effect_memos,omitempty"`

	Cancelled            bool `json:"cancelled,omitempty"`
	CancelledCleanupDone bool `json:"cancelled_cleanup_done,omitempty"`
	Paused               bool `json:"paused,omitempty"`
	Interrupted          bool `json:"interrupted,omitempty"`

	Children                []store.EntityID `json:"children,omitempty"`
	Parent                  store.EntityID   `json:"parent,omitempty"`
	OnDependencyFailedSpawn []Template       `json:"on_dependency_failed_spawn,omitempty"`

	BlockedMapVersion uint64      `json:"blocked_map_version,omitempty"`
	BlockedTarget     *grid.Vec3i `json:"blocked_target,omitempty"`
	FailureReason     string      `json:"failure_reason,omitempty"`
}

// Template describes a job to instantiate later, e.g. a compensating child.
type Template struct {
	JobType              string           `json:"job_type"`
	Priority             int              `json:"priority,omitempty"`
	TargetPosition       *grid.Vec3i      `json:"target_position,omitempty"`
	ResourceRequirements []ResourceAmount `json:"resource_requirements,omitempty"`
	Dependencies         []store.EntityID `json:"dependencies,omitempty"`
	EffectTarget         store.EntityID   `json:"effect_target,omitempty"`
	// OnDependencyFailedSpawn is copied to the new job.
	OnDependencyFailedSpawn []Template `json:"on_dependency_failed_spawn,omitempty"`
}

// NewJob builds a pending job from a template. Requirements default to the
// job type's declared requirements.
func NewJob(t Template, def catalogs.JobTypeDef, tick uint64) Job {
	reqs := t.ResourceRequirements
	if len(reqs) == 0 {
		reqs = def.Requirements
	}
	j := Job{
		JobType:              t.JobType,
		State:                StatePending,
		Priority:             t.Priority,
		CreatedTick:          tick,
		Dependencies:         append([]store.EntityID(nil), t.Dependencies...),
		ResourceRequirements: append([]ResourceAmount(nil), reqs...),
		EffectTarget:         t.EffectTarget,
	}
	if len(t.OnDependencyFailedSpawn) > 0 {
		j.OnDependencyFailedSpawn = append([]Template(nil), t.OnDependencyFailedSpawn...)
	}
	if t.TargetPosition != nil {
		p := *t.TargetPosition
		j.TargetPosition = &p
	}
	for _, r := range j.ResourceRequirements {
		j.DeliveredResources = AddAmount(j.DeliveredResources, r.Kind, 0)
	}
	return j
}

func (j Job) HasRequirements() bool { return len(j.ResourceRequirements) > 0 }

// HasReservation reports whether part of the job's reservation is still
// waiting at the stockpile.
func (j Job) HasReservation() bool {
	if j.ReservedStockpile == 0 {
		return false
	}
	for _, r := range j.ReservedResources {
		if r.Amount > 0 {
			return true
		}
	}
	return false
}

// RequirementsMet reports whether every requirement has been delivered.
func (j Job) RequirementsMet() bool {
	for _, r := range j.ResourceRequirements {
		if AmountOf(j.DeliveredResources, r.Kind) < r.Amount {
			return false
		}
	}
	return true
}

// Remaining returns the still-undelivered amount of kind.
func (j Job) Remaining(kind string) int {
	need := AmountOf(j.ResourceRequirements, kind)
	n := need - AmountOf(j.DeliveredResources, kind)
	if n < 0 {
		return 0
	}
	return n
}

func (j Job) EffectEntity(self store.EntityID) store.EntityID {
	if j.EffectTarget != 0 {
		return j.EffectTarget
	}
	return self
}

type AgentState string

const (
	AgentIdle    AgentState = "idle"
	AgentWorking AgentState = "working"
)

type Agent struct {
	State            AgentState       `json:"state"`
	CurrentJob       store.EntityID   `json:"current_job,omitempty"`
	CarriedResources []ResourceAmount `json:"carried_resources,omitempty"`
	MovePath         []grid.Vec3i     `json:"move_path,omitempty"`
	Specializations  []string         `json:"specializations,omitempty"`
	Skills           map[string]int   `json:"skills,omitempty"`
	Capacity         *Capacity        `json:"capacity,omitempty"`
}

func (a Agent) HasSpecialization(s string) bool {
	if s == "" {
		return true
	}
	for _, v := range a.Specializations {
		if v == s {
			return true
		}
	}
	return false
}

// Capacity bounds what an agent can carry. Zero fields fall back to tuning defaults.
type Capacity struct {
	MaxWeight float64 `json:"max_weight,omitempty"`
	MaxVolume float64 `json:"max_volume,omitempty"`
	MaxSlots  int     `json:"max_slots,omitempty"`
}

type Position struct {
	grid.Vec3i
}

type Stockpile struct {
	Resources map[string]int `json:"resources"`
	Reserved  map[string]int `json:"reserved,omitempty"`
}

// Available is the unreserved amount of kind.
func (s Stockpile) Available(kind string) int {
	n := s.Resources[kind] - s.Reserved[kind]
	if n < 0 {
		return 0
	}
	return n
}

// Item is a freestanding resource stack lying on the map.
type Item struct {
	Kind   string `json:"kind"`
	Amount int    `json:"amount"`
}

type Attributes map[string]float64

func AmountOf(list []ResourceAmount, kind string) int {
	n := 0
	for _, r := range list {
		if r.Kind == kind {
			n += r.Amount
		}
	}
	return n
}

// AddAmount adds n of kind, keeping one entry per kind in first-seen order.
func AddAmount(list []ResourceAmount, kind string, n int) []ResourceAmount {
	for i := range list {
		if list[i].Kind == kind {
			list[i].Amount += n
			return list
		}
	}
	return append(list, ResourceAmount{Kind: kind, Amount: n})
}
