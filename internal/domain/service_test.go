package domain

import (
	"errors"
	"testing"
	"time"
)

func TestServiceSnapshot(t *testing.T) {
	now := time.Now()
	svc := &Service{
		Name:      "svc-a",
		Path:      "/srv/svc-a",
		State:     StateFailed,
		UpdatedAt: now,
		LastResult: &Result{
			Action:   ActionUp,
			Err:      &ActionError{Action: ActionUp, ExitCode: 17, Output: "boom", Err: errors.New("exit status 17")},
			ExitCode: 17,
			Output:   "boom",
			Finished: now,
		},
	}

	snap := svc.Snapshot()
	if snap.Name != "svc-a" || snap.State != StateFailed {
		t.Fatalf("unexpected identity in snapshot: %+v", snap)
	}
	if snap.LastOK {
		t.Error("snapshot should report failure")
	}
	if snap.LastAction != "up" || snap.LastExit != 17 || snap.LastOutput != "boom" {
		t.Errorf("unexpected last result fields: %+v", snap)
	}
	if snap.LastError == "" {
		t.Error("expected error text in snapshot")
	}
}

func TestResultOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{ErrMissingProjectDefinition, "missing_project"},
		{ErrServiceGone, "service_gone"},
		{&ActionError{ExitCode: 1, Err: errors.New("exit status 1")}, "failure"},
	}
	for _, tt := range tests {
		r := &Result{Err: tt.err}
		if got := r.Outcome(); got != tt.want {
			t.Errorf("Outcome(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestWatchSetupErrorUnwrap(t *testing.T) {
	cause := errors.New("permission denied")
	err := error(&WatchSetupError{Path: "/srv", Err: cause})
	if !errors.Is(err, cause) {
		t.Error("WatchSetupError should unwrap to its cause")
	}
	var wse *WatchSetupError
	if !errors.As(err, &wse) || wse.Path != "/srv" {
		t.Error("errors.As should find WatchSetupError")
	}
}
