package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingProjectDefinition: the service directory has no compose file.
	ErrMissingProjectDefinition = errors.New("missing project definition")
	// ErrServiceGone: the service directory vanished before the action ran.
	ErrServiceGone = errors.New("service directory no longer exists")
	// ErrExecutorClosed: the executor no longer accepts work (shutdown).
	ErrExecutorClosed = errors.New("executor closed")
	// ErrIllegalTransition: the state machine has no edge for the input.
	ErrIllegalTransition = errors.New("illegal state transition")
)

// WatchSetupError reports that the base path cannot be watched.
// It is the only fatal error of the daemon.
type WatchSetupError struct {
	Path string
	Err  error
}

func (e *WatchSetupError) Error() string {
	return fmt.Sprintf("cannot watch %s: %v", e.Path, e.Err)
}

func (e *WatchSetupError) Unwrap() error { return e.Err }

// ActionError reports a non-zero exit of the container tool.
type ActionError struct {
	Action   Action
	ExitCode int
	Output   string
	Err      error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("compose %s exited with status %d: %v", e.Action, e.ExitCode, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
