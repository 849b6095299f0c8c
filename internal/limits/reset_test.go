package limits

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/zackwarn/screentimed/internal/storage"
	"github.com/zackwarn/screentimed/internal/storage/bolt"
)

func setupScheduler(t *testing.T, clock Clock, retentionDays int) (*ResetScheduler, storage.Store) {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "screentimed.bolt"))
	if err != nil {
		t.Fatalf("Failed to open bolt store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return NewResetScheduler(store, clock, retentionDays, zerolog.Nop()), store
}

func TestResetScheduler_CalculateNextReset(t *testing.T) {
	clock := &TestClock{CurrentTime: time.Date(2026, 8, 30, 14, 30, 0, 0, time.Local)}
	rs, _ := setupScheduler(t, clock, 90)

	next := rs.calculateNextReset()
	want := time.Date(2026, 8, 31, 0, 0, 0, 0, time.Local)
	if !next.Equal(want) {
		t.Errorf("Expected next reset %v, got %v", want, next)
	}

	// Exactly at midnight the next reset is the following midnight.
	clock.CurrentTime = want
	next = rs.calculateNextReset()
	if !next.Equal(want.AddDate(0, 0, 1)) {
		t.Errorf("Expected next reset %v, got %v", want.AddDate(0, 0, 1), next)
	}
}

func TestResetScheduler_PerformReset(t *testing.T) {
	clock := &TestClock{CurrentTime: time.Date(2026, 8, 30, 0, 0, 1, 0, time.Local)}
	rs, store := setupScheduler(t, clock, 90)
	ctx := context.Background()

	for _, limit := range []storage.AppLimit{
		{PackageName: "com.example.video", LimitMinutes: 30, Enabled: true, UsedTodayMinutes: 45, Blocked: true, LastResetDate: "2026-08-29"},
		{PackageName: "com.example.games", LimitMinutes: 60, Enabled: true, UsedTodayMinutes: 10, LastResetDate: "2026-08-29"},
	} {
		if err := store.Limits().UpsertLimit(ctx, limit); err != nil {
			t.Fatalf("UpsertLimit failed: %v", err)
		}
	}

	rs.PerformReset(ctx)

	all, err := store.Limits().ListLimits(ctx)
	if err != nil {
		t.Fatalf("ListLimits failed: %v", err)
	}
	for _, limit := range all {
		if limit.UsedTodayMinutes != 0 || limit.Blocked {
			t.Errorf("%s not reset: used=%d blocked=%v", limit.PackageName, limit.UsedTodayMinutes, limit.Blocked)
		}
		if limit.LastResetDate != "2026-08-30" {
			t.Errorf("%s reset date not stamped: %s", limit.PackageName, limit.LastResetDate)
		}
	}
}

func TestResetScheduler_PrunesOldHistory(t *testing.T) {
	clock := &TestClock{CurrentTime: time.Date(2026, 8, 30, 0, 0, 1, 0, time.Local)}
	rs, store := setupScheduler(t, clock, 30)
	ctx := context.Background()

	old := time.Date(2026, 6, 1, 9, 0, 0, 0, time.Local)
	recent := time.Date(2026, 8, 29, 9, 0, 0, 0, time.Local)

	for _, session := range []storage.UsageSession{
		{PackageName: "com.example.video", Date: "2026-06-01", StartTime: old.UnixMilli(), EndTime: old.Add(5 * time.Minute).UnixMilli(), DurationMinutes: 5},
		{PackageName: "com.example.video", Date: "2026-08-29", StartTime: recent.UnixMilli(), EndTime: recent.Add(5 * time.Minute).UnixMilli(), DurationMinutes: 5},
	} {
		if err := store.Sessions().AppendSession(ctx, session); err != nil {
			t.Fatalf("AppendSession failed: %v", err)
		}
	}
	if err := store.Progress().IncrementScreenTime(ctx, "2026-06-01", 5); err != nil {
		t.Fatalf("IncrementScreenTime failed: %v", err)
	}
	if err := store.Progress().IncrementScreenTime(ctx, "2026-08-29", 5); err != nil {
		t.Fatalf("IncrementScreenTime failed: %v", err)
	}

	rs.PerformReset(ctx)

	sessions, err := store.Sessions().ListSessions(ctx, "com.example.video", "2026-06-01")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("Expected old sessions pruned, found %d", len(sessions))
	}

	kept, err := store.Sessions().ListSessions(ctx, "com.example.video", "2026-08-29")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(kept) != 1 {
		t.Errorf("Expected recent session kept, found %d", len(kept))
	}

	if _, err := store.Progress().GetProgress(ctx, "2026-06-01"); err == nil {
		t.Error("Expected old progress pruned")
	}
	if _, err := store.Progress().GetProgress(ctx, "2026-08-29"); err != nil {
		t.Errorf("Expected recent progress kept: %v", err)
	}
}
