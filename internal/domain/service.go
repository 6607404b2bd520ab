package domain

import "time"

// Service is one directory under the base path managed as a compose project.
//
// A Service is uniquely identified by its Name, the base name of its
// directory. Only the orchestrator mutates Service values.
type Service struct {
	// ─────────────────────────────
	// Identity (immutable)
	// ─────────────────────────────

	// Name is the directory name. Example: svc-a
	Name string

	// Path is the absolute directory holding the project definition.
	Path string

	// ─────────────────────────────
	// Lifecycle
	// ─────────────────────────────

	// State is the current lifecycle state; see Transition.
	State State

	// ChangeCount counts change events coalesced into the pending restart.
	// Reset to zero when the restart is issued.
	ChangeCount int

	// LastResult is the outcome of the most recent lifecycle action.
	// Nil until the first action completes.
	LastResult *Result

	// CreatedAt is when the service was first registered.
	CreatedAt time.Time

	// UpdatedAt is updated on any mutation.
	UpdatedAt time.Time
}

// Snapshot is a read-only copy of a Service published to status readers
// (status index, redis publisher, HTTP server).
type Snapshot struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	State       State     `json:"state"`
	ChangeCount int       `json:"change_count,omitempty"`
	LastAction  string    `json:"last_action,omitempty"`
	LastOK      bool      `json:"last_ok"`
	LastError   string    `json:"last_error,omitempty"`
	LastOutput  string    `json:"last_output,omitempty"`
	LastExit    int       `json:"last_exit_code,omitempty"`
	LastRunAt   time.Time `json:"last_run_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot copies the service into its published form.
func (s *Service) Snapshot() Snapshot {
	snap := Snapshot{
		Name:        s.Name,
		Path:        s.Path,
		State:       s.State,
		ChangeCount: s.ChangeCount,
		UpdatedAt:   s.UpdatedAt,
	}
	if r := s.LastResult; r != nil {
		snap.LastAction = r.Action.String()
		snap.LastOK = r.OK()
		snap.LastOutput = r.Output
		snap.LastExit = r.ExitCode
		snap.LastRunAt = r.Finished
		if r.Err != nil {
			snap.LastError = r.Err.Error()
		}
	}
	return snap
}
