package domain

import "time"

// EventKind classifies a change reported by the watcher.
type EventKind int

const (
	ServiceAdded EventKind = iota
	ServiceRemoved
	ServiceChanged
)

func (k EventKind) String() string {
	switch k {
	case ServiceAdded:
		return "service_added"
	case ServiceRemoved:
		return "service_removed"
	case ServiceChanged:
		return "service_changed"
	default:
		return "unknown"
	}
}

// Event is one item of the watcher stream.
type Event struct {
	Kind    EventKind
	Service string
	// Path is the service directory for Added/Removed and the changed
	// file for Changed.
	Path string
	At   time.Time
}
