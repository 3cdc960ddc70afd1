package board

import (
	"errors"
	"fmt"
	"strings"
)

// Policy selects how candidates are ordered. It never changes which jobs
// are candidates.
type Policy string

const (
	PolicyPriority Policy = "priority"
	PolicyFIFO     Policy = "fifo"
	PolicyLIFO     Policy = "lifo"
)

var ErrUnknownPolicy = errors.New("board: unknown policy")

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyPriority:
		return PolicyPriority, nil
	case PolicyFIFO:
		return PolicyFIFO, nil
	case PolicyLIFO:
		return PolicyLIFO, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownPolicy)
}

func (c candidate) less(o candidate, p Policy) bool {
	switch p {
	case PolicyFIFO:
		if c.job.CreatedTick != o.job.CreatedTick {
			return c.job.CreatedTick < o.job.CreatedTick
		}
		return c.id < o.id
	case PolicyLIFO:
		if c.job.CreatedTick != o.job.CreatedTick {
			return c.job.CreatedTick > o.job.CreatedTick
		}
		return c.id > o.id
	}
	if c.effective != o.effective {
		return c.effective > o.effective
	}
	if c.job.AssignmentCount != o.job.AssignmentCount {
		return c.job.AssignmentCount < o.job.AssignmentCount
	}
	if c.job.LastAssignedTick != o.job.LastAssignedTick {
		return c.job.LastAssignedTick < o.job.LastAssignedTick
	}
	return c.id < o.id
}
