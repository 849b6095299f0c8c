package limits

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/zackwarn/screentimed/internal/metrics"
	"github.com/zackwarn/screentimed/internal/storage"
)

// ResetScheduler performs the bulk midnight reset and prunes history beyond
// the retention window. The lazy per-app reset in Engine.Evaluate covers any
// package evaluated before the scheduler fires, so both paths converge on the
// same state.
type ResetScheduler struct {
	store         storage.Store
	clock         Clock
	retentionDays int
	logger        zerolog.Logger
	stopChan      chan struct{}
}

// NewResetScheduler creates a scheduler that resets all daily usage at local
// midnight and deletes sessions and progress older than retentionDays.
func NewResetScheduler(store storage.Store, clock Clock, retentionDays int, logger zerolog.Logger) *ResetScheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &ResetScheduler{
		store:         store,
		clock:         clock,
		retentionDays: retentionDays,
		logger:        logger.With().Str("component", "reset-scheduler").Logger(),
		stopChan:      make(chan struct{}),
	}
}

// Start begins the reset scheduler
func (rs *ResetScheduler) Start() {
	go rs.run()
	rs.logger.Info().
		Int("retention_days", rs.retentionDays).
		Msg("Daily usage reset scheduler started")
}

// Stop stops the reset scheduler
func (rs *ResetScheduler) Stop() {
	close(rs.stopChan)
	rs.logger.Info().Msg("Daily usage reset scheduler stopped")
}

// run is the main scheduler loop
func (rs *ResetScheduler) run() {
	for {
		nextReset := rs.calculateNextReset()
		waitDuration := nextReset.Sub(rs.clock.Now())

		rs.logger.Info().
			Time("next_reset", nextReset).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next daily reset")

		select {
		case <-time.After(waitDuration):
			rs.PerformReset(context.Background())
		case <-rs.stopChan:
			return
		}
	}
}

// calculateNextReset returns the upcoming local midnight.
func (rs *ResetScheduler) calculateNextReset() time.Time {
	now := rs.clock.Now()
	todayMidnight := StartOfDay(now)
	if now.After(todayMidnight) || now.Equal(todayMidnight) {
		return todayMidnight.AddDate(0, 0, 1)
	}
	return todayMidnight
}

// PerformReset zeroes every limit's daily usage for the new day and prunes
// history past the retention window.
func (rs *ResetScheduler) PerformReset(ctx context.Context) {
	now := rs.clock.Now()
	today := now.Format(DateLayout)

	rs.logger.Info().Str("date", today).Msg("Performing daily usage reset")

	count, err := rs.store.Limits().ResetAllDaily(ctx, today)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("reset_all").Inc()
		rs.logger.Error().Err(err).Msg("Failed to reset daily usage")
		return
	}

	metrics.DailyResetsTotal.Add(float64(count))
	rs.logger.Info().
		Int("limits_reset", count).
		Str("date", today).
		Msg("Daily usage reset complete")

	cutoffDate := now.AddDate(0, 0, -rs.retentionDays).Format(DateLayout)

	sessionsDeleted, err := rs.store.Sessions().DeleteSessionsBefore(ctx, cutoffDate)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("prune_sessions").Inc()
		rs.logger.Error().Err(err).Msg("Failed to clean up old sessions")
		return
	}

	progressDeleted, err := rs.store.Progress().DeleteProgressBefore(ctx, cutoffDate)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("prune_progress").Inc()
		rs.logger.Error().Err(err).Msg("Failed to clean up old daily progress")
		return
	}

	rs.logger.Info().
		Int("sessions_deleted", sessionsDeleted).
		Int("progress_deleted", progressDeleted).
		Str("cutoff_date", cutoffDate).
		Msg("Old usage history cleaned up")
}
