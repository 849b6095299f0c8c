package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Limits() LimitStore
	Sessions() SessionStore
	Progress() ProgressStore
}

// LimitStore manages per-package limit configuration and today's usage cache.
//
// UsedTodayMinutes and Blocked on an AppLimit are a cache of the latest
// evaluation, not a source of truth; UpdateUsageAndBlocked must apply both
// fields atomically so every reader observes a consistent pair.
type LimitStore interface {
	GetLimit(ctx context.Context, pkg string) (*AppLimit, error)
	UpsertLimit(ctx context.Context, limit AppLimit) error
	DeleteLimit(ctx context.Context, pkg string) error
	ListLimits(ctx context.Context) ([]AppLimit, error)
	ListEnabledLimits(ctx context.Context) ([]AppLimit, error)
	ListBlocked(ctx context.Context) ([]AppLimit, error)
	UpdateUsageAndBlocked(ctx context.Context, pkg string, minutes int, blocked bool) error
	UpdateLastResetDate(ctx context.Context, pkg string, date string) error
	ResetAllDaily(ctx context.Context, date string) (int, error)
}

// SessionStore manages the append-only usage session audit trail.
type SessionStore interface {
	AppendSession(ctx context.Context, session UsageSession) error
	ListSessions(ctx context.Context, pkg string, date string) ([]UsageSession, error)
	SumUsageForDate(ctx context.Context, pkg string, date string) (int, error)
	RecentSessions(ctx context.Context, limit int) ([]UsageSession, error)
	DeleteSessionsBefore(ctx context.Context, cutoffDate string) (int, error)
}

// ProgressStore manages per-day screen time aggregates consumed downstream
// by the reward layer.
type ProgressStore interface {
	IncrementScreenTime(ctx context.Context, date string, minutes int) error
	GetProgress(ctx context.Context, date string) (*DailyProgress, error)
	DeleteProgressBefore(ctx context.Context, cutoffDate string) (int, error)
}
