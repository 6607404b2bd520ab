package metrics

import "time"

// Recorder defines observability hooks for the event pipeline.
type Recorder interface {
	// IncEvent counts a watcher event by kind.
	IncEvent(kind string)
	// IncCoalesced counts a change absorbed by an armed debounce timer.
	IncCoalesced()
	// ObserveAction records a finished lifecycle action.
	ObserveAction(action, outcome string, d time.Duration)
	// IncSuperseded counts a queued follow-up replaced by a newer request.
	IncSuperseded(action string)
	// SetInFlight reports the number of running actions.
	SetInFlight(n int)
	// SetServices reports how many services are in each state.
	SetServices(counts map[string]int)
	// IncPublishDropped counts status snapshots dropped by the publisher.
	IncPublishDropped()
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) IncEvent(string)                             {}
func (NoopRecorder) IncCoalesced()                               {}
func (NoopRecorder) ObserveAction(string, string, time.Duration) {}
func (NoopRecorder) IncSuperseded(string)                        {}
func (NoopRecorder) SetInFlight(int)                             {}
func (NoopRecorder) SetServices(map[string]int)                  {}
func (NoopRecorder) IncPublishDropped()                          {}
