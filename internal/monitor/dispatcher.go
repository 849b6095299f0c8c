package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zackwarn/screentimed/internal/events"
	"github.com/zackwarn/screentimed/internal/limits"
	"github.com/zackwarn/screentimed/internal/metrics"
	"github.com/zackwarn/screentimed/internal/storage"
)

// DispatcherConfig tunes enforcement side effects.
type DispatcherConfig struct {
	// NotifyCooldown is the minimum gap between repeated block notices for
	// the same package.
	NotifyCooldown time.Duration
	// WarnThresholds are the remaining-minute marks at which a one-shot
	// warning fires, e.g. [5, 1].
	WarnThresholds []int
}

// pkgState is the per-package dispatcher memory. It is ephemeral: a process
// restart loses it, which at worst repeats one notice and one session record
// boundary.
type pkgState struct {
	lastUsedMinutes int
	usedKnown       bool
	lastBlockNotice time.Time
	warned          map[int]bool
}

// Dispatcher turns evaluation results into side effects: block and warning
// notices, session audit records, and daily progress increments. All state
// it keeps is in memory; persisted rows stay owned by the engine.
type Dispatcher struct {
	store     storage.Store
	presenter Presenter
	resolver  events.NameResolver
	clock     limits.Clock
	cfg       DispatcherConfig
	logger    zerolog.Logger

	mu    sync.Mutex
	state map[string]*pkgState
}

// NewDispatcher creates an enforcement dispatcher.
func NewDispatcher(store storage.Store, presenter Presenter, resolver events.NameResolver, clock limits.Clock, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if clock == nil {
		clock = limits.RealClock{}
	}
	if cfg.NotifyCooldown == 0 {
		cfg.NotifyCooldown = time.Minute
	}
	if len(cfg.WarnThresholds) == 0 {
		cfg.WarnThresholds = []int{5, 1}
	}
	return &Dispatcher{
		store:     store,
		presenter: presenter,
		resolver:  resolver,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		state:     make(map[string]*pkgState),
	}
}

// OnEvaluated processes one evaluation result for a package.
func (d *Dispatcher) OnEvaluated(ctx context.Context, packageName string, status limits.Status) {
	if status.Degraded {
		// The evaluation fell back to last known state, so this is not a
		// fresh decision. Keep the warning and cooldown memory and the
		// session baseline untouched until a healthy tick arrives.
		return
	}
	if status.Kind == limits.KindNoLimit {
		d.Forget(packageName)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.state[packageName]
	if !ok {
		state = &pkgState{warned: make(map[int]bool)}
		d.state[packageName] = state
	}

	d.recordUsageDelta(ctx, packageName, status, state)

	switch status.Kind {
	case limits.KindExceeded:
		d.notifyBlocked(packageName, status, state)
	case limits.KindWithinLimit:
		d.warnIfLow(packageName, status, state)
	}
}

// recordUsageDelta appends a session record and bumps daily progress when
// used minutes advanced since the last observation. A drop in used minutes
// means the day rolled over, which also clears the warning memory.
func (d *Dispatcher) recordUsageDelta(ctx context.Context, packageName string, status limits.Status, state *pkgState) {
	used := status.UsedMinutes

	if state.usedKnown && used < state.lastUsedMinutes {
		state.warned = make(map[int]bool)
		state.lastBlockNotice = time.Time{}
		state.lastUsedMinutes = used
		return
	}

	if !state.usedKnown {
		// First observation after startup. Count only growth from here so a
		// restart does not double-record the day so far.
		state.usedKnown = true
		state.lastUsedMinutes = used
		return
	}

	delta := used - state.lastUsedMinutes
	if delta <= 0 {
		return
	}
	state.lastUsedMinutes = used

	now := d.clock.Now()
	date := now.Format(limits.DateLayout)
	session := storage.UsageSession{
		PackageName:     packageName,
		Date:            date,
		StartTime:       now.Add(-time.Duration(delta) * time.Minute).UnixMilli(),
		EndTime:         now.UnixMilli(),
		DurationMinutes: delta,
	}

	if err := d.store.Sessions().AppendSession(ctx, session); err != nil {
		metrics.StorageErrors.WithLabelValues("append_session").Inc()
		d.logger.Error().Err(err).Str("package", packageName).Msg("Failed to append usage session")
	} else {
		metrics.SessionsRecorded.Inc()
	}

	if err := d.store.Progress().IncrementScreenTime(ctx, date, delta); err != nil {
		metrics.StorageErrors.WithLabelValues("increment_progress").Inc()
		d.logger.Error().Err(err).Str("date", date).Msg("Failed to increment daily progress")
	}

	metrics.UsageMinutesConsumed.WithLabelValues(packageName).Add(float64(delta))

	d.logger.Debug().
		Str("package", packageName).
		Int("minutes", delta).
		Str("date", date).
		Msg("Recorded usage session")
}

func (d *Dispatcher) notifyBlocked(packageName string, status limits.Status, state *pkgState) {
	now := d.clock.Now()
	if !state.lastBlockNotice.IsZero() && now.Sub(state.lastBlockNotice) < d.cfg.NotifyCooldown {
		return
	}
	state.lastBlockNotice = now

	metrics.BlockNoticesTotal.WithLabelValues(packageName).Inc()
	d.presenter.ShowBlocked(Notice{
		PackageName:  packageName,
		AppName:      d.appName(packageName),
		UsedMinutes:  status.UsedMinutes,
		LimitMinutes: status.LimitMinutes,
	})
}

// warnIfLow fires at most one warning per tick, for the lowest crossed
// threshold, and remembers every crossed threshold so each fires once per
// day.
func (d *Dispatcher) warnIfLow(packageName string, status limits.Status, state *pkgState) {
	remaining := status.Remaining()

	fire := -1
	for _, threshold := range d.cfg.WarnThresholds {
		if remaining > threshold || state.warned[threshold] {
			continue
		}
		state.warned[threshold] = true
		if fire == -1 || threshold < fire {
			fire = threshold
		}
	}
	if fire == -1 {
		return
	}

	metrics.WarningsTotal.WithLabelValues(packageName).Inc()
	d.presenter.ShowWarning(Notice{
		PackageName:      packageName,
		AppName:          d.appName(packageName),
		UsedMinutes:      status.UsedMinutes,
		LimitMinutes:     status.LimitMinutes,
		RemainingMinutes: remaining,
	})
}

// PromptPermission forwards a persistent event source failure to the user.
func (d *Dispatcher) PromptPermission(reason string) {
	d.presenter.PromptPermission(reason)
}

// Forget drops the ephemeral state for a package. Called when its limit is
// removed or disabled.
func (d *Dispatcher) Forget(packageName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.state, packageName)
}

func (d *Dispatcher) appName(packageName string) string {
	if d.resolver == nil {
		return packageName
	}
	name, err := d.resolver.ResolveAppName(packageName)
	if err != nil {
		d.logger.Debug().Err(err).Str("package", packageName).Msg("App name lookup failed")
		return packageName
	}
	return name
}
