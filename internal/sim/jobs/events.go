package jobs

import (
	"sync"

	"colonysim.ai/internal/sim/store"
)

type NotificationKind string

const (
	JobAssigned   NotificationKind = "job_assigned"
	JobProgressed NotificationKind = "job_progressed"
	JobCompleted  NotificationKind = "job_completed"
	JobFailed     NotificationKind = "job_failed"
	JobCancelled  NotificationKind = "job_cancelled"
	JobBlocked    NotificationKind = "job_blocked"
)

type Notification struct {
	Tick     uint64           `json:"tick"`
	Kind     NotificationKind `json:"kind"`
	Entity   store.EntityID   `json:"entity"`
	JobType  string           `json:"job_type"`
	State    State            `json:"state"`
	Agent    store.EntityID   `json:"agent,omitempty"`
	Progress float64          `json:"progress,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}

// Events is a double buffer: notifications emitted during tick N become
// readable after Rotate at the end of tick N.
type Events struct {
	mu      sync.Mutex
	pending []Notification
	ready   []Notification
}

func NewEvents() *Events { return &Events{} }

func (e *Events) Emit(n Notification) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, n)
}

// Rotate publishes the pending buffer and returns it.
func (e *Events) Rotate() []Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = e.pending
	e.pending = nil
	return e.ready
}

// Ready returns a copy of the notifications published by the last Rotate.
func (e *Events) Ready() []Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Notification(nil), e.ready...)
}

// Pending returns a copy of notifications not yet rotated.
func (e *Events) Pending() []Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Notification(nil), e.pending...)
}

// Notify builds a notification for job id in its current state.
func Notify(tick uint64, kind NotificationKind, id store.EntityID, j Job) Notification {
	return Notification{
		Tick:    tick,
		Kind:    kind,
		Entity:  id,
		JobType: j.JobType,
		State:   j.State,
		Agent:   j.AssignedTo,
	}
}
