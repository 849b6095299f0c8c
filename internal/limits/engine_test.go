package limits

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/zackwarn/screentimed/internal/events"
	"github.com/zackwarn/screentimed/internal/sessions"
	"github.com/zackwarn/screentimed/internal/storage"
	"github.com/zackwarn/screentimed/internal/storage/bolt"
)

// testDay is an arbitrary fixed day; all engine tests run inside it.
var testDay = time.Date(2026, 8, 30, 0, 0, 0, 0, time.Local)

func setupEngine(t *testing.T) (*Engine, *events.MemorySource, storage.Store, *TestClock) {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "screentimed.bolt"))
	if err != nil {
		t.Fatalf("Failed to open bolt store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	source := events.NewMemorySource()
	clock := &TestClock{CurrentTime: testDay.Add(12 * time.Hour)}
	engine := NewEngine(store.Limits(), sessions.NewReconstructor(source), clock, zerolog.Nop())

	return engine, source, store, clock
}

func seedLimit(t *testing.T, store storage.Store, limit storage.AppLimit) {
	t.Helper()
	if err := store.Limits().UpsertLimit(context.Background(), limit); err != nil {
		t.Fatalf("UpsertLimit failed: %v", err)
	}
}

func enterExit(pkg string, start, end time.Time) []events.Event {
	return []events.Event{
		{PackageName: pkg, Type: events.Enter, Timestamp: start},
		{PackageName: pkg, Type: events.Exit, Timestamp: end},
	}
}

func TestEngine_NoLimitConfigured(t *testing.T) {
	engine, _, _, _ := setupEngine(t)

	status := engine.Evaluate(context.Background(), "com.example.unknown")
	if status.Kind != KindNoLimit {
		t.Errorf("Expected NO_LIMIT, got %s", status.Kind)
	}
}

func TestEngine_DisabledLimitIsNoLimit(t *testing.T) {
	engine, source, store, _ := setupEngine(t)
	seedLimit(t, store, storage.AppLimit{
		PackageName:   "com.example.video",
		LimitMinutes:  30,
		Enabled:       false,
		LastResetDate: "2026-08-30",
	})
	source.Record(enterExit("com.example.video", testDay.Add(9*time.Hour), testDay.Add(10*time.Hour))...)

	status := engine.Evaluate(context.Background(), "com.example.video")
	if status.Kind != KindNoLimit {
		t.Errorf("Expected NO_LIMIT for disabled limit, got %s", status.Kind)
	}

	// A disabled limit must not have its usage cache touched.
	got, err := store.Limits().GetLimit(context.Background(), "com.example.video")
	if err != nil {
		t.Fatalf("GetLimit failed: %v", err)
	}
	if got.UsedTodayMinutes != 0 || got.Blocked {
		t.Errorf("Disabled limit was written to: used=%d blocked=%v", got.UsedTodayMinutes, got.Blocked)
	}
}

func TestEngine_ExceededAtLimit(t *testing.T) {
	engine, source, store, _ := setupEngine(t)
	seedLimit(t, store, storage.AppLimit{
		PackageName:   "com.example.video",
		LimitMinutes:  30,
		Enabled:       true,
		LastResetDate: "2026-08-30",
	})
	// 45 minutes of usage against a 30 minute budget.
	source.Record(enterExit("com.example.video", testDay.Add(9*time.Hour), testDay.Add(9*time.Hour+45*time.Minute))...)

	status := engine.Evaluate(context.Background(), "com.example.video")
	if status.Kind != KindExceeded {
		t.Fatalf("Expected EXCEEDED, got %s", status.Kind)
	}
	if status.UsedMinutes != 45 || status.LimitMinutes != 30 {
		t.Errorf("Expected 45/30, got %d/%d", status.UsedMinutes, status.LimitMinutes)
	}

	got, err := store.Limits().GetLimit(context.Background(), "com.example.video")
	if err != nil {
		t.Fatalf("GetLimit failed: %v", err)
	}
	if !got.Blocked || got.UsedTodayMinutes != 45 {
		t.Errorf("Persisted row mismatch: used=%d blocked=%v", got.UsedTodayMinutes, got.Blocked)
	}
}

func TestEngine_ExactLimitIsExceeded(t *testing.T) {
	engine, source, store, _ := setupEngine(t)
	seedLimit(t, store, storage.AppLimit{
		PackageName:   "com.example.video",
		LimitMinutes:  30,
		Enabled:       true,
		LastResetDate: "2026-08-30",
	})
	source.Record(enterExit("com.example.video", testDay.Add(9*time.Hour), testDay.Add(9*time.Hour+30*time.Minute))...)

	status := engine.Evaluate(context.Background(), "com.example.video")
	if status.Kind != KindExceeded {
		t.Errorf("Usage equal to limit must be EXCEEDED, got %s", status.Kind)
	}
}

func TestEngine_WithinLimitAcrossSessions(t *testing.T) {
	engine, source, store, _ := setupEngine(t)
	seedLimit(t, store, storage.AppLimit{
		PackageName:   "com.example.video",
		LimitMinutes:  10,
		Enabled:       true,
		LastResetDate: "2026-08-30",
	})
	// Two sessions of 4 and 5 minutes.
	source.Record(enterExit("com.example.video", testDay.Add(9*time.Hour), testDay.Add(9*time.Hour+4*time.Minute))...)
	source.Record(enterExit("com.example.video", testDay.Add(10*time.Hour), testDay.Add(10*time.Hour+5*time.Minute))...)

	status := engine.Evaluate(context.Background(), "com.example.video")
	if status.Kind != KindWithinLimit {
		t.Fatalf("Expected WITHIN_LIMIT, got %s", status.Kind)
	}
	if status.UsedMinutes != 9 {
		t.Errorf("Expected 9 used minutes, got %d", status.UsedMinutes)
	}
	if status.Remaining() != 1 {
		t.Errorf("Expected 1 minute remaining, got %d", status.Remaining())
	}
}

func TestEngine_MinutesFloored(t *testing.T) {
	engine, source, store, _ := setupEngine(t)
	seedLimit(t, store, storage.AppLimit{
		PackageName:   "com.example.video",
		LimitMinutes:  10,
		Enabled:       true,
		LastResetDate: "2026-08-30",
	})
	// 5 minutes 59 seconds floors to 5.
	source.Record(enterExit("com.example.video", testDay.Add(9*time.Hour), testDay.Add(9*time.Hour+5*time.Minute+59*time.Second))...)

	status := engine.Evaluate(context.Background(), "com.example.video")
	if status.UsedMinutes != 5 {
		t.Errorf("Expected floored 5 minutes, got %d", status.UsedMinutes)
	}
}

func TestEngine_LazyDailyReset(t *testing.T) {
	engine, source, store, clock := setupEngine(t)
	seedLimit(t, store, storage.AppLimit{
		PackageName:      "com.example.video",
		LimitMinutes:     30,
		Enabled:          true,
		UsedTodayMinutes: 45,
		Blocked:          true,
		LastResetDate:    "2026-08-29",
	})
	// Yesterday's events must not leak into the new day.
	yesterday := testDay.AddDate(0, 0, -1)
	source.Record(enterExit("com.example.video", yesterday.Add(9*time.Hour), yesterday.Add(10*time.Hour))...)
	clock.CurrentTime = testDay.Add(8 * time.Hour)

	status := engine.Evaluate(context.Background(), "com.example.video")
	if status.Kind != KindWithinLimit {
		t.Fatalf("Expected WITHIN_LIMIT after reset, got %s", status.Kind)
	}
	if status.UsedMinutes != 0 {
		t.Errorf("Expected 0 used minutes after reset, got %d", status.UsedMinutes)
	}

	got, err := store.Limits().GetLimit(context.Background(), "com.example.video")
	if err != nil {
		t.Fatalf("GetLimit failed: %v", err)
	}
	if got.UsedTodayMinutes != 0 || got.Blocked {
		t.Errorf("Reset did not clear row: used=%d blocked=%v", got.UsedTodayMinutes, got.Blocked)
	}
	if got.LastResetDate != "2026-08-30" {
		t.Errorf("Expected reset date 2026-08-30, got %s", got.LastResetDate)
	}
}

func TestEngine_ResetIdempotent(t *testing.T) {
	engine, _, store, _ := setupEngine(t)
	seedLimit(t, store, storage.AppLimit{
		PackageName:   "com.example.video",
		LimitMinutes:  30,
		Enabled:       true,
		LastResetDate: "2026-08-29",
	})

	first := engine.Evaluate(context.Background(), "com.example.video")
	second := engine.Evaluate(context.Background(), "com.example.video")
	if first.Kind != KindWithinLimit || second.Kind != KindWithinLimit {
		t.Fatalf("Expected WITHIN_LIMIT twice, got %s then %s", first.Kind, second.Kind)
	}
	if second.UsedMinutes != 0 {
		t.Errorf("Second evaluation after reset reported %d used minutes", second.UsedMinutes)
	}
}

func TestEngine_ClockAnomalyKeepsState(t *testing.T) {
	engine, source, store, clock := setupEngine(t)
	seedLimit(t, store, storage.AppLimit{
		PackageName:      "com.example.video",
		LimitMinutes:     30,
		Enabled:          true,
		UsedTodayMinutes: 45,
		Blocked:          true,
		LastResetDate:    "2026-08-31",
	})
	source.Record(enterExit("com.example.video", testDay.Add(9*time.Hour), testDay.Add(10*time.Hour))...)
	clock.CurrentTime = testDay.Add(12 * time.Hour)

	status := engine.Evaluate(context.Background(), "com.example.video")
	if status.Kind != KindExceeded {
		t.Fatalf("Expected persisted EXCEEDED state to hold, got %s", status.Kind)
	}

	got, err := store.Limits().GetLimit(context.Background(), "com.example.video")
	if err != nil {
		t.Fatalf("GetLimit failed: %v", err)
	}
	if got.LastResetDate != "2026-08-31" || got.UsedTodayMinutes != 45 {
		t.Errorf("Clock anomaly mutated state: date=%s used=%d", got.LastResetDate, got.UsedTodayMinutes)
	}
}

func TestEngine_EventSourceFailureKeepsLastKnown(t *testing.T) {
	engine, source, store, _ := setupEngine(t)
	seedLimit(t, store, storage.AppLimit{
		PackageName:      "com.example.video",
		LimitMinutes:     30,
		Enabled:          true,
		UsedTodayMinutes: 12,
		Blocked:          false,
		LastResetDate:    "2026-08-30",
	})
	source.Fail(errors.New("usage stats unavailable"))

	status := engine.Evaluate(context.Background(), "com.example.video")
	if status.Kind != KindWithinLimit || status.UsedMinutes != 12 {
		t.Errorf("Expected last known 12/30, got %s", status)
	}
	if !status.Degraded {
		t.Error("Expected fallback status to be marked degraded")
	}

	// Once the source recovers the next tick measures again.
	source.Fail(nil)
	source.Record(enterExit("com.example.video", testDay.Add(9*time.Hour), testDay.Add(9*time.Hour+40*time.Minute))...)
	status = engine.Evaluate(context.Background(), "com.example.video")
	if status.Kind != KindExceeded {
		t.Errorf("Expected EXCEEDED after recovery, got %s", status)
	}
	if status.Degraded {
		t.Error("Expected fresh status after recovery, got degraded")
	}
}

type failingLimitStore struct {
	storage.LimitStore
	err error
}

func (s *failingLimitStore) GetLimit(ctx context.Context, pkg string) (*storage.AppLimit, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.LimitStore.GetLimit(ctx, pkg)
}

func TestEngine_LimitReadFailureIsDegradedNoLimit(t *testing.T) {
	store, err := bolt.Open(filepath.Join(t.TempDir(), "screentimed.bolt"))
	if err != nil {
		t.Fatalf("Failed to open bolt store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	failing := &failingLimitStore{LimitStore: store.Limits(), err: errors.New("db closed")}
	clock := &TestClock{CurrentTime: testDay.Add(12 * time.Hour)}
	engine := NewEngine(failing, sessions.NewReconstructor(events.NewMemorySource()), clock, zerolog.Nop())

	status := engine.Evaluate(context.Background(), "com.example.video")
	if status.Kind != KindNoLimit {
		t.Fatalf("Expected NO_LIMIT on read failure, got %s", status.Kind)
	}
	if !status.Degraded {
		t.Error("Expected read-failure status to be marked degraded")
	}

	// A genuinely missing row is a fresh answer, not a degraded one.
	failing.err = nil
	status = engine.Evaluate(context.Background(), "com.example.video")
	if status.Kind != KindNoLimit || status.Degraded {
		t.Errorf("Expected plain NO_LIMIT for a missing row, got %+v", status)
	}
}

func TestEngine_OpenSessionCountsToNow(t *testing.T) {
	engine, source, store, clock := setupEngine(t)
	seedLimit(t, store, storage.AppLimit{
		PackageName:   "com.example.video",
		LimitMinutes:  30,
		Enabled:       true,
		LastResetDate: "2026-08-30",
	})
	source.Record(events.Event{
		PackageName: "com.example.video",
		Type:        events.Enter,
		Timestamp:   testDay.Add(9 * time.Hour),
	})
	clock.CurrentTime = testDay.Add(9*time.Hour + 31*time.Minute)

	status := engine.Evaluate(context.Background(), "com.example.video")
	if status.Kind != KindExceeded {
		t.Fatalf("Expected open session to exceed, got %s", status)
	}
	if status.UsedMinutes != 31 {
		t.Errorf("Expected 31 used minutes, got %d", status.UsedMinutes)
	}
}

func TestEngine_RefreshAll(t *testing.T) {
	engine, source, store, _ := setupEngine(t)
	seedLimit(t, store, storage.AppLimit{
		PackageName:   "com.example.video",
		LimitMinutes:  30,
		Enabled:       true,
		LastResetDate: "2026-08-30",
	})
	seedLimit(t, store, storage.AppLimit{
		PackageName:   "com.example.games",
		LimitMinutes:  60,
		Enabled:       true,
		LastResetDate: "2026-08-30",
	})
	seedLimit(t, store, storage.AppLimit{
		PackageName:   "com.example.off",
		LimitMinutes:  5,
		Enabled:       false,
		LastResetDate: "2026-08-30",
	})
	source.Record(enterExit("com.example.video", testDay.Add(9*time.Hour), testDay.Add(9*time.Hour+45*time.Minute))...)

	count, err := engine.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("RefreshAll failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 enabled limits refreshed, got %d", count)
	}

	blocked, err := store.Limits().ListBlocked(context.Background())
	if err != nil {
		t.Fatalf("ListBlocked failed: %v", err)
	}
	if len(blocked) != 1 || blocked[0].PackageName != "com.example.video" {
		t.Errorf("Expected only com.example.video blocked, got %v", blocked)
	}
}

func TestEngine_CurrentStatusReadsPersistedRow(t *testing.T) {
	engine, _, store, _ := setupEngine(t)
	seedLimit(t, store, storage.AppLimit{
		PackageName:      "com.example.video",
		LimitMinutes:     30,
		Enabled:          true,
		UsedTodayMinutes: 31,
		Blocked:          true,
		LastResetDate:    "2026-08-30",
	})

	status, err := engine.CurrentStatus(context.Background(), "com.example.video")
	if err != nil {
		t.Fatalf("CurrentStatus failed: %v", err)
	}
	if status.Kind != KindExceeded || status.UsedMinutes != 31 {
		t.Errorf("Expected EXCEEDED 31/30, got %s", status)
	}

	status, err = engine.CurrentStatus(context.Background(), "com.example.absent")
	if err != nil {
		t.Fatalf("CurrentStatus failed for absent package: %v", err)
	}
	if status.Kind != KindNoLimit {
		t.Errorf("Expected NO_LIMIT for absent package, got %s", status)
	}
}
