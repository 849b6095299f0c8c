package limits

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zackwarn/screentimed/internal/events"
	"github.com/zackwarn/screentimed/internal/metrics"
	"github.com/zackwarn/screentimed/internal/sessions"
	"github.com/zackwarn/screentimed/internal/storage"
)

const millisPerMinute = 60_000

// Engine evaluates per-app daily limits. Each call to Evaluate runs the full
// cycle for one package: lazy daily reset, usage reconstruction since local
// midnight, threshold comparison, and atomic persistence of the result.
// Evaluate never returns an error; failures are logged and the tick degrades
// per failure mode (see evaluateLocked).
type Engine struct {
	limits storage.LimitStore
	recon  *sessions.Reconstructor
	clock  Clock
	logger zerolog.Logger

	// crossCheck, when set, compares the event-based reconstruction against
	// the source's aggregate query at debug level. The reconstruction stays
	// authoritative either way.
	crossCheck events.Source

	// pkgLocks serializes evaluation per package so a foreground tick and a
	// periodic refresh never interleave on the same row.
	mu       sync.Mutex
	pkgLocks map[string]*sync.Mutex
}

// NewEngine creates a limit engine.
func NewEngine(limits storage.LimitStore, recon *sessions.Reconstructor, clock Clock, logger zerolog.Logger) *Engine {
	if clock == nil {
		clock = RealClock{}
	}
	return &Engine{
		limits:   limits,
		recon:    recon,
		clock:    clock,
		logger:   logger.With().Str("component", "limit-engine").Logger(),
		pkgLocks: make(map[string]*sync.Mutex),
	}
}

// Evaluate runs one evaluation cycle for the package and returns its status.
func (e *Engine) Evaluate(ctx context.Context, packageName string) Status {
	lock := e.packageLock(packageName)
	lock.Lock()
	defer lock.Unlock()

	status := e.evaluateLocked(ctx, packageName)
	metrics.EvaluationsTotal.WithLabelValues(packageName, status.Kind.String()).Inc()
	return status
}

func (e *Engine) evaluateLocked(ctx context.Context, packageName string) Status {
	limit, err := e.limits.GetLimit(ctx, packageName)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			metrics.StorageErrors.WithLabelValues("get_limit").Inc()
			e.logger.Error().Err(err).Str("package", packageName).Msg("Failed to load limit")
			return degraded(NoLimit())
		}
		return NoLimit()
	}
	if !limit.Enabled {
		return NoLimit()
	}

	now := e.clock.Now()
	today := now.Format(DateLayout)

	if limit.LastResetDate != today {
		// ISO dates compare lexicographically, so a "future" last reset
		// means the wall clock moved backwards. Keep the persisted state
		// untouched until the clock catches up.
		if limit.LastResetDate > today {
			e.logger.Warn().
				Str("package", packageName).
				Str("last_reset_date", limit.LastResetDate).
				Str("today", today).
				Msg("Last reset date is in the future, skipping reset")
			return statusFromRecord(limit)
		}
		return e.resetDaily(ctx, limit, today)
	}

	usage, err := e.recon.UsageSince(ctx, packageName, StartOfDay(now), now)
	if err != nil {
		metrics.EventSourceErrors.Inc()
		e.logger.Error().Err(err).Str("package", packageName).Msg("Event source query failed, keeping last known usage")
		return degraded(statusFromRecord(limit))
	}

	if e.crossCheck != nil && e.logger.GetLevel() <= zerolog.DebugLevel {
		e.compareAggregate(ctx, packageName, StartOfDay(now), now, usage)
	}

	usedMinutes := int(usage.Milliseconds() / millisPerMinute)
	blocked := usage.Milliseconds() >= int64(limit.LimitMinutes)*millisPerMinute

	if err := e.limits.UpdateUsageAndBlocked(ctx, packageName, usedMinutes, blocked); err != nil {
		metrics.StorageErrors.WithLabelValues("update_usage").Inc()
		e.logger.Error().Err(err).Str("package", packageName).Msg("Failed to persist usage, discarding tick")
		return degraded(statusFromRecord(limit))
	}

	e.logger.Debug().
		Str("package", packageName).
		Int("used_minutes", usedMinutes).
		Int("limit_minutes", limit.LimitMinutes).
		Bool("blocked", blocked).
		Msg("Evaluated limit")

	if blocked {
		return Exceeded(usedMinutes, limit.LimitMinutes)
	}
	return Within(usedMinutes, limit.LimitMinutes)
}

// resetDaily zeroes the usage counters for a new day and stamps the reset
// date. The fresh day starts with zero usage regardless of what the event
// source would report, so the returned status is always within limit.
func (e *Engine) resetDaily(ctx context.Context, limit *storage.AppLimit, today string) Status {
	if err := e.limits.UpdateUsageAndBlocked(ctx, limit.PackageName, 0, false); err != nil {
		metrics.StorageErrors.WithLabelValues("daily_reset").Inc()
		e.logger.Error().Err(err).Str("package", limit.PackageName).Msg("Failed to reset daily usage")
		return degraded(statusFromRecord(limit))
	}
	if err := e.limits.UpdateLastResetDate(ctx, limit.PackageName, today); err != nil {
		metrics.StorageErrors.WithLabelValues("daily_reset").Inc()
		e.logger.Error().Err(err).Str("package", limit.PackageName).Msg("Failed to stamp reset date")
		// Usage was already zeroed, so the same reset re-runs next tick.
	}

	metrics.DailyResetsTotal.Inc()
	e.logger.Info().
		Str("package", limit.PackageName).
		Str("previous_reset_date", limit.LastResetDate).
		Str("date", today).
		Msg("Daily usage reset")

	return Within(0, limit.LimitMinutes)
}

// RefreshAll re-evaluates every enabled limit sequentially so persisted rows
// stay fresh for apps that are not currently foreground. Returns the number
// of limits evaluated.
func (e *Engine) RefreshAll(ctx context.Context) (int, error) {
	enabled, err := e.limits.ListEnabledLimits(ctx)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("list_limits").Inc()
		return 0, fmt.Errorf("failed to list enabled limits: %w", err)
	}

	start := time.Now()
	for _, limit := range enabled {
		e.Evaluate(ctx, limit.PackageName)
	}
	metrics.EvaluationDuration.WithLabelValues("refresh").Observe(time.Since(start).Seconds())

	e.logger.Debug().Int("count", len(enabled)).Msg("Refreshed all enabled limits")
	return len(enabled), nil
}

// CurrentStatus reads the persisted state for a package without touching the
// event source. It is the cheap path for enforcement checks and the check
// command between evaluation ticks.
func (e *Engine) CurrentStatus(ctx context.Context, packageName string) (Status, error) {
	limit, err := e.limits.GetLimit(ctx, packageName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NoLimit(), nil
		}
		return NoLimit(), fmt.Errorf("failed to load limit: %w", err)
	}
	if !limit.Enabled {
		return NoLimit(), nil
	}
	return statusFromRecord(limit), nil
}

// degraded marks a status as the fallback of a failed evaluation step, so
// consumers can keep displaying it without treating it as a fresh decision.
func degraded(s Status) Status {
	s.Degraded = true
	return s
}

// statusFromRecord derives a status from the persisted row alone.
func statusFromRecord(limit *storage.AppLimit) Status {
	if limit.Blocked {
		return Exceeded(limit.UsedTodayMinutes, limit.LimitMinutes)
	}
	return Within(limit.UsedTodayMinutes, limit.LimitMinutes)
}

// EnableCrossCheck turns on debug-level comparison of event-based usage
// against the source's aggregate query.
func (e *Engine) EnableCrossCheck(src events.Source) {
	e.crossCheck = src
}

func (e *Engine) compareAggregate(ctx context.Context, packageName string, from, to time.Time, usage time.Duration) {
	agg, err := e.crossCheck.QueryAggregateUsage(ctx, from, to)
	if err != nil {
		e.logger.Debug().Err(err).Msg("Aggregate usage query failed")
		return
	}
	diff := agg[packageName] - usage.Milliseconds()
	if diff < 0 {
		diff = -diff
	}
	if diff > millisPerMinute {
		e.logger.Debug().
			Str("package", packageName).
			Int64("event_millis", usage.Milliseconds()).
			Int64("aggregate_millis", agg[packageName]).
			Msg("Aggregate usage diverges from event reconstruction")
	}
}

func (e *Engine) packageLock(packageName string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.pkgLocks[packageName]
	if !ok {
		lock = &sync.Mutex{}
		e.pkgLocks[packageName] = lock
	}
	return lock
}
