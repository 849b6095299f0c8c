package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/zackwarn/screentimed/internal/events"
	"github.com/zackwarn/screentimed/internal/limits"
	"github.com/zackwarn/screentimed/internal/sessions"
	"github.com/zackwarn/screentimed/internal/storage"
	"github.com/zackwarn/screentimed/internal/storage/bolt"
)

func setupPoller(t *testing.T) (*Poller, *events.MemorySource, *recordingPresenter, storage.Store, *limits.TestClock) {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "screentimed.bolt"))
	if err != nil {
		t.Fatalf("Failed to open bolt store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	source := events.NewMemorySource()
	clock := &limits.TestClock{CurrentTime: time.Date(2026, 8, 30, 12, 0, 0, 0, time.Local)}
	presenter := &recordingPresenter{}
	engine := limits.NewEngine(store.Limits(), sessions.NewReconstructor(source), clock, zerolog.Nop())
	dispatcher := NewDispatcher(store, presenter, nil, clock, DispatcherConfig{}, zerolog.Nop())
	poller := NewPoller(engine, dispatcher, source, store, clock, PollerConfig{
		SelfPackage: "com.zackwarn.screentimed",
	}, zerolog.Nop())

	return poller, source, presenter, store, clock
}

func TestPoller_DetectForeground_OpenSessionWins(t *testing.T) {
	poller, source, _, _, clock := setupPoller(t)
	now := clock.CurrentTime

	source.Record(
		events.Event{PackageName: "com.example.mail", Type: events.Enter, Timestamp: now.Add(-50 * time.Second)},
		events.Event{PackageName: "com.example.mail", Type: events.Exit, Timestamp: now.Add(-40 * time.Second)},
		events.Event{PackageName: "com.example.video", Type: events.Enter, Timestamp: now.Add(-30 * time.Second)},
	)

	foreground, err := poller.detectForeground(context.Background())
	if err != nil {
		t.Fatalf("detectForeground failed: %v", err)
	}
	if foreground != "com.example.video" {
		t.Errorf("Expected com.example.video, got %s", foreground)
	}
}

func TestPoller_DetectForeground_FallbackToMostRecent(t *testing.T) {
	poller, source, _, _, clock := setupPoller(t)
	now := clock.CurrentTime

	// Every session closed; the most recent event names the best guess.
	source.Record(
		events.Event{PackageName: "com.example.mail", Type: events.Enter, Timestamp: now.Add(-50 * time.Second)},
		events.Event{PackageName: "com.example.mail", Type: events.Exit, Timestamp: now.Add(-40 * time.Second)},
		events.Event{PackageName: "com.example.video", Type: events.Enter, Timestamp: now.Add(-30 * time.Second)},
		events.Event{PackageName: "com.example.video", Type: events.Exit, Timestamp: now.Add(-5 * time.Second)},
	)

	foreground, err := poller.detectForeground(context.Background())
	if err != nil {
		t.Fatalf("detectForeground failed: %v", err)
	}
	if foreground != "com.example.video" {
		t.Errorf("Expected fallback com.example.video, got %s", foreground)
	}
}

func TestPoller_DetectForeground_EmptyWindow(t *testing.T) {
	poller, _, _, _, _ := setupPoller(t)

	foreground, err := poller.detectForeground(context.Background())
	if err != nil {
		t.Fatalf("detectForeground failed: %v", err)
	}
	if foreground != "" {
		t.Errorf("Expected empty foreground, got %s", foreground)
	}
}

func TestPoller_TickEvaluatesForeground(t *testing.T) {
	poller, source, presenter, store, clock := setupPoller(t)
	ctx := context.Background()
	now := clock.CurrentTime

	if err := store.Limits().UpsertLimit(ctx, storage.AppLimit{
		PackageName:   "com.example.video",
		LimitMinutes:  30,
		Enabled:       true,
		LastResetDate: "2026-08-30",
	}); err != nil {
		t.Fatalf("UpsertLimit failed: %v", err)
	}
	// A long morning session already over budget, then foreground again now.
	source.Record(
		events.Event{PackageName: "com.example.video", Type: events.Enter, Timestamp: now.Add(-3 * time.Hour)},
		events.Event{PackageName: "com.example.video", Type: events.Exit, Timestamp: now.Add(-1 * time.Hour)},
		events.Event{PackageName: "com.example.video", Type: events.Enter, Timestamp: now.Add(-30 * time.Second)},
	)

	poller.Tick()

	got, err := store.Limits().GetLimit(ctx, "com.example.video")
	if err != nil {
		t.Fatalf("GetLimit failed: %v", err)
	}
	if !got.Blocked || got.UsedTodayMinutes != 120 {
		t.Errorf("Expected blocked with 120 minutes, got used=%d blocked=%v", got.UsedTodayMinutes, got.Blocked)
	}

	blocked, _, _ := presenter.counts()
	if blocked != 1 {
		t.Errorf("Expected 1 block notice, got %d", blocked)
	}
}

func TestPoller_TickSkipsSelfPackage(t *testing.T) {
	poller, source, _, store, clock := setupPoller(t)
	ctx := context.Background()

	if err := store.Limits().UpsertLimit(ctx, storage.AppLimit{
		PackageName:   "com.zackwarn.screentimed",
		LimitMinutes:  1,
		Enabled:       true,
		LastResetDate: "2026-08-30",
	}); err != nil {
		t.Fatalf("UpsertLimit failed: %v", err)
	}
	source.Record(events.Event{PackageName: "com.zackwarn.screentimed", Type: events.Enter, Timestamp: clock.CurrentTime.Add(-30 * time.Second)})

	poller.Tick()

	got, err := store.Limits().GetLimit(ctx, "com.zackwarn.screentimed")
	if err != nil {
		t.Fatalf("GetLimit failed: %v", err)
	}
	if got.UsedTodayMinutes != 0 || got.Blocked {
		t.Errorf("Self package was evaluated: used=%d blocked=%v", got.UsedTodayMinutes, got.Blocked)
	}
}

func TestPoller_PersistentSourceFailurePrompts(t *testing.T) {
	poller, source, presenter, _, _ := setupPoller(t)

	source.Fail(errors.New("usage access revoked"))
	for i := 0; i < permissionFailureThreshold; i++ {
		poller.Tick()
	}

	_, _, prompts := presenter.counts()
	if prompts != 1 {
		t.Fatalf("Expected exactly 1 permission prompt, got %d", prompts)
	}

	// Recovery clears the failure streak; the next outage prompts again.
	source.Fail(nil)
	poller.Tick()
	source.Fail(errors.New("usage access revoked"))
	for i := 0; i < permissionFailureThreshold; i++ {
		poller.Tick()
	}

	_, _, prompts = presenter.counts()
	if prompts != 2 {
		t.Errorf("Expected second prompt after recovery and new outage, got %d", prompts)
	}
}

func TestPoller_RefreshUpdatesAllRows(t *testing.T) {
	poller, source, _, store, clock := setupPoller(t)
	ctx := context.Background()
	now := clock.CurrentTime

	for _, limit := range []storage.AppLimit{
		{PackageName: "com.example.video", LimitMinutes: 30, Enabled: true, LastResetDate: "2026-08-30"},
		{PackageName: "com.example.games", LimitMinutes: 240, Enabled: true, LastResetDate: "2026-08-30"},
	} {
		if err := store.Limits().UpsertLimit(ctx, limit); err != nil {
			t.Fatalf("UpsertLimit failed: %v", err)
		}
	}
	source.Record(
		events.Event{PackageName: "com.example.video", Type: events.Enter, Timestamp: now.Add(-2 * time.Hour)},
		events.Event{PackageName: "com.example.video", Type: events.Exit, Timestamp: now.Add(-1 * time.Hour)},
		events.Event{PackageName: "com.example.games", Type: events.Enter, Timestamp: now.Add(-30 * time.Minute)},
		events.Event{PackageName: "com.example.games", Type: events.Exit, Timestamp: now.Add(-10 * time.Minute)},
	)

	poller.Refresh()

	video, err := store.Limits().GetLimit(ctx, "com.example.video")
	if err != nil {
		t.Fatalf("GetLimit failed: %v", err)
	}
	if !video.Blocked || video.UsedTodayMinutes != 60 {
		t.Errorf("Expected video blocked at 60 minutes, got used=%d blocked=%v", video.UsedTodayMinutes, video.Blocked)
	}

	games, err := store.Limits().GetLimit(ctx, "com.example.games")
	if err != nil {
		t.Fatalf("GetLimit failed: %v", err)
	}
	if games.Blocked || games.UsedTodayMinutes != 20 {
		t.Errorf("Expected games within limit at 20 minutes, got used=%d blocked=%v", games.UsedTodayMinutes, games.Blocked)
	}
}
