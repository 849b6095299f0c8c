package events

import (
	"context"
	"time"
)

// Type classifies a foreground transition event.
type Type int

const (
	// Enter marks a package moving to the foreground.
	Enter Type = iota
	// Exit marks a package leaving the foreground.
	Exit
)

// String returns the event type name for logs.
func (t Type) String() string {
	switch t {
	case Enter:
		return "ENTER"
	case Exit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

// Event is one timestamped foreground transition delivered by the OS.
type Event struct {
	PackageName string
	Type        Type
	Timestamp   time.Time
}

// Source is the boundary to the OS usage-event facility. Implementations
// wrap whatever the platform provides; the engine treats the stream as
// chronologically ordered but not duplicate-free.
type Source interface {
	// QueryForegroundEvents returns events in [from, to] ordered by
	// timestamp. An empty pkg returns events for all packages.
	QueryForegroundEvents(ctx context.Context, pkg string, from, to time.Time) ([]Event, error)

	// QueryAggregateUsage returns total foreground milliseconds per package
	// in [from, to] as reported by the OS aggregate counters. Used only as a
	// cross-check against event reconstruction, never for decisions.
	QueryAggregateUsage(ctx context.Context, from, to time.Time) (map[string]int64, error)
}
