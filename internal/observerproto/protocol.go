package observerproto

import "colonysim.ai/internal/sim/jobs"

// Version is the observer protocol version.
const Version = "0.2"

// Message types.
const (
	TypeSubscribe     = "SUBSCRIBE"
	TypeControl       = "CONTROL"
	TypeTick          = "TICK"
	TypeControlResult = "CONTROL_RESULT"
)

// MaxBoardTop caps SubscribeMsg.BoardTop.
const MaxBoardTop = 64

// SubscribeMsg must be the first client message on the observer socket.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Kinds filters notifications; empty means all.
	Kinds []jobs.NotificationKind `json:"kinds,omitempty"`
	// BoardTop asks for the first n board candidates in every TICK.
	BoardTop int `json:"board_top,omitempty"`
}

// ControlMsg asks for CANCEL, PAUSE or RESUME of one job. It is applied at
// the start of the next tick.
type ControlMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Op              string `json:"op"`
	JobID           uint64 `json:"job_id"`
}

type ControlResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Op              string `json:"op"`
	JobID           uint64 `json:"job_id"`
	OK              bool   `json:"ok"`
	Error           string `json:"error,omitempty"`
}

// BootstrapResponse is served by GET /v1/observe/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	WorldID         string      `json:"world_id"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	JobTypes        []string    `json:"job_types"`
}

type WorldParams struct {
	TickRateHz  int    `json:"tick_rate_hz"`
	Width       int    `json:"width"`
	Depth       int    `json:"depth"`
	BoardPolicy string `json:"board_policy"`
}

// BoardEntry is one claimable job as ranked at the end of a tick.
type BoardEntry struct {
	JobID     uint64 `json:"job_id"`
	JobType   string `json:"job_type"`
	Effective int    `json:"effective_priority"`
}

// TickMsg is pushed to every subscriber once per tick.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	Tick            uint64 `json:"tick"`

	Jobs          map[jobs.State]int  `json:"jobs"`
	Notifications []jobs.Notification `json:"notifications,omitempty"`
	Board         []BoardEntry        `json:"board,omitempty"`
	Scarce        []string            `json:"scarce,omitempty"`
}
