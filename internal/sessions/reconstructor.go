// Package sessions reconstructs per-package foreground usage from raw
// OS transition events. The computation is stateless: every call re-reads
// the event stream for the requested range, so it is idempotent and safe
// from any process instance.
package sessions

import (
	"context"
	"time"

	"github.com/zackwarn/screentimed/internal/events"
)

// Reconstructor folds foreground enter/exit events into a usage duration.
type Reconstructor struct {
	source events.Source
}

// NewReconstructor creates a reconstructor over the given event source.
func NewReconstructor(source events.Source) *Reconstructor {
	return &Reconstructor{source: source}
}

// UsageSince returns the total foreground duration for pkg in [since, now].
//
// Events are scanned in order: an enter opens a session (a repeated enter
// replaces the open session's start, since the source is authoritative for the
// latest enter), an exit closes the open session and accumulates its span,
// and an exit with no open session is ignored as a spurious duplicate. An
// enter still open at the end of the stream is counted up to now, so usage
// reflects an app currently in foreground. The result is never negative and
// never decreases as now advances.
func (r *Reconstructor) UsageSince(ctx context.Context, pkg string, since, now time.Time) (time.Duration, error) {
	evts, err := r.source.QueryForegroundEvents(ctx, pkg, since, now)
	if err != nil {
		return 0, err
	}

	return Fold(evts, now), nil
}

// Fold accumulates usage from an ordered event stream, counting an
// unmatched trailing enter up to now. Exposed separately so callers holding
// an event slice can reuse the exact same accumulation rules.
func Fold(evts []events.Event, now time.Time) time.Duration {
	var total time.Duration
	var sessionStart time.Time
	open := false

	for _, event := range evts {
		switch event.Type {
		case events.Enter:
			sessionStart = event.Timestamp
			open = true
		case events.Exit:
			if !open {
				continue
			}
			if span := event.Timestamp.Sub(sessionStart); span > 0 {
				total += span
			}
			open = false
		}
	}

	if open {
		if span := now.Sub(sessionStart); span > 0 {
			total += span
		}
	}

	return total
}
