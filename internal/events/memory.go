package events

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemorySource is an in-memory Source used by tests and offline replay. It
// keeps an ordered event log and serves range queries over it.
type MemorySource struct {
	mu     sync.RWMutex
	events []Event
	err    error
}

// NewMemorySource creates an empty in-memory event source.
func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

// Record appends events to the log, keeping it ordered by timestamp.
func (s *MemorySource) Record(events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, events...)
	sort.SliceStable(s.events, func(i, j int) bool {
		return s.events[i].Timestamp.Before(s.events[j].Timestamp)
	})
}

// Fail makes every subsequent query return err. Pass nil to recover.
func (s *MemorySource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// QueryForegroundEvents returns events in [from, to], inclusive on both
// boundaries, filtered by package when pkg is non-empty.
func (s *MemorySource) QueryForegroundEvents(ctx context.Context, pkg string, from, to time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	matched := make([]Event, 0, len(s.events))
	for _, event := range s.events {
		if event.Timestamp.Before(from) || event.Timestamp.After(to) {
			continue
		}
		if pkg != "" && event.PackageName != pkg {
			continue
		}
		matched = append(matched, event)
	}
	return matched, nil
}

// QueryAggregateUsage folds the event log into per-package totals, counting
// an unmatched trailing enter up to the query end.
func (s *MemorySource) QueryAggregateUsage(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	events, err := s.QueryForegroundEvents(ctx, "", from, to)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int64)
	open := make(map[string]time.Time)

	for _, event := range events {
		switch event.Type {
		case Enter:
			open[event.PackageName] = event.Timestamp
		case Exit:
			if start, ok := open[event.PackageName]; ok {
				totals[event.PackageName] += event.Timestamp.Sub(start).Milliseconds()
				delete(open, event.PackageName)
			}
		}
	}

	for pkg, start := range open {
		totals[pkg] += to.Sub(start).Milliseconds()
	}

	return totals, nil
}
