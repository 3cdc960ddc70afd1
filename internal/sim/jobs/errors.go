package jobs

import "errors"

var (
	ErrUnknownJobType  = errors.New("jobs: unknown job type")
	ErrUnknownHandler  = errors.New("jobs: unknown handler")
	ErrDuplicateType   = errors.New("jobs: job type already registered")
	ErrUnknownState    = errors.New("jobs: unknown job state")
	ErrNotJob          = errors.New("jobs: entity has no Job component")
	ErrAgentNotPresent = errors.New("jobs: entity has no Agent component")
)
