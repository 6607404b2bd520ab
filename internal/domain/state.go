package domain

import (
	"encoding/json"
	"fmt"
)

// State is the lifecycle state of a Service.
type State int

const (
	StateDiscovered State = iota
	StateStarting
	StateRunning
	StateChangePending
	StateRestarting
	StateStopping
	StateRemoved
	StateFailed
)

var stateNames = [...]string{
	StateDiscovered:    "discovered",
	StateStarting:      "starting",
	StateRunning:       "running",
	StateChangePending: "change_pending",
	StateRestarting:    "restarting",
	StateStopping:      "stopping",
	StateRemoved:       "removed",
	StateFailed:        "failed",
}

// AllStates lists every state in declaration order.
func AllStates() []State {
	return []State{
		StateDiscovered, StateStarting, StateRunning, StateChangePending,
		StateRestarting, StateStopping, StateRemoved, StateFailed,
	}
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range stateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", name)
}

// Trigger is an input to the lifecycle state machine.
type Trigger int

const (
	// TriggerStart: the orchestrator issues the initial up.
	TriggerStart Trigger = iota
	// TriggerChanged: a file changed inside the service directory.
	TriggerChanged
	// TriggerDue: the debounce window elapsed.
	TriggerDue
	// TriggerRemoved: the service directory disappeared.
	TriggerRemoved
	// TriggerSucceeded: the last lifecycle action succeeded.
	TriggerSucceeded
	// TriggerFailed: the last lifecycle action failed.
	TriggerFailed
)

func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "start"
	case TriggerChanged:
		return "changed"
	case TriggerDue:
		return "due"
	case TriggerRemoved:
		return "removed"
	case TriggerSucceeded:
		return "succeeded"
	case TriggerFailed:
		return "failed"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

// Transition returns the state reached from `from` on trigger t.
// Pairs not listed in the table return ErrIllegalTransition and the
// caller must leave the service untouched.
func Transition(from State, t Trigger) (State, error) {
	if t == TriggerRemoved {
		if from == StateRemoved {
			return from, illegal(from, t)
		}
		return StateStopping, nil
	}

	switch from {
	case StateDiscovered:
		switch t {
		case TriggerStart:
			return StateStarting, nil
		case TriggerChanged:
			return StateDiscovered, nil
		}

	case StateStarting:
		switch t {
		case TriggerSucceeded:
			return StateRunning, nil
		case TriggerFailed:
			return StateFailed, nil
		case TriggerChanged:
			return StateStarting, nil
		case TriggerDue:
			return StateRestarting, nil
		}

	case StateRunning, StateFailed:
		if t == TriggerChanged {
			return StateChangePending, nil
		}

	case StateChangePending:
		switch t {
		case TriggerChanged:
			return StateChangePending, nil
		case TriggerDue:
			return StateRestarting, nil
		}

	case StateRestarting:
		switch t {
		case TriggerSucceeded:
			return StateRunning, nil
		case TriggerFailed:
			return StateFailed, nil
		case TriggerChanged:
			return StateRestarting, nil
		case TriggerDue:
			return StateRestarting, nil
		}

	case StateStopping:
		switch t {
		case TriggerChanged, TriggerDue:
			return StateStopping, nil
		case TriggerSucceeded, TriggerFailed:
			return StateRemoved, nil
		}
	}

	return from, illegal(from, t)
}

func illegal(from State, t Trigger) error {
	return fmt.Errorf("%w: %s on %s", ErrIllegalTransition, from, t)
}
