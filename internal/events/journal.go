package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// journalRecord is the wire form of one event line in the journal file.
type journalRecord struct {
	PackageName string `json:"package_name"`
	Type        string `json:"type"` // "ENTER" or "EXIT"
	TimestampMs int64  `json:"timestamp_ms"`
}

// JournalSource reads foreground transition events from a newline-delimited
// JSON file, the hand-off format written by the platform-specific event
// collector. The file is re-read on every query; the collector rotates it
// daily so it stays small.
type JournalSource struct {
	path string
}

// NewJournalSource creates a source over the given journal file.
func NewJournalSource(path string) *JournalSource {
	return &JournalSource{path: path}
}

// QueryForegroundEvents implements Source.
func (s *JournalSource) QueryForegroundEvents(ctx context.Context, pkg string, from, to time.Time) ([]Event, error) {
	all, err := s.read(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]Event, 0, len(all))
	for _, event := range all {
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

// QueryAggregateUsage implements Source by folding the journal.
func (s *JournalSource) QueryAggregateUsage(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	evts, err := s.QueryForegroundEvents(ctx, "", from, to)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int64)
	open := make(map[string]time.Time)
	for _, event := range evts {
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

func (s *JournalSource) read(ctx context.Context) ([]Event, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open event journal: %w", err)
	}
	defer f.Close()

	var evts []Event
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec journalRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("parse event journal line %d: %w", lineNo, err)
		}

		var typ Type
		switch rec.Type {
		case "ENTER":
			typ = Enter
		case "EXIT":
			typ = Exit
		default:
			// Unknown event kinds from newer collectors are skipped.
			continue
		}

		evts = append(evts, Event{
			PackageName: rec.PackageName,
			Type:        typ,
			Timestamp:   time.UnixMilli(rec.TimestampMs),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event journal: %w", err)
	}
	return evts, nil
}
