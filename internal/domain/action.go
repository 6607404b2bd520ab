package domain

import (
	"errors"
	"time"
)

// Action is a container lifecycle operation.
type Action int

const (
	ActionUp Action = iota
	ActionDown
	ActionRestart
)

func (a Action) String() string {
	switch a {
	case ActionUp:
		return "up"
	case ActionDown:
		return "down"
	case ActionRestart:
		return "restart"
	default:
		return "unknown"
	}
}

// Result is the outcome of one executed action.
type Result struct {
	// ID correlates log lines for one action.
	ID       string
	Service  string
	Action   Action
	Err      error
	ExitCode int
	Output   string
	Started  time.Time
	Finished time.Time
}

// OK reports whether the action succeeded.
func (r *Result) OK() bool { return r.Err == nil }

// Duration is the wall time spent on the action.
func (r *Result) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// Outcome is a short label for logs and metrics.
func (r *Result) Outcome() string {
	switch {
	case r.Err == nil:
		return "success"
	case errors.Is(r.Err, ErrMissingProjectDefinition):
		return "missing_project"
	case errors.Is(r.Err, ErrServiceGone):
		return "service_gone"
	default:
		return "failure"
	}
}
