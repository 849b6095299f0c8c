package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/zackwarn/screentimed/internal/events"
	"github.com/zackwarn/screentimed/internal/limits"
	"github.com/zackwarn/screentimed/internal/metrics"
	"github.com/zackwarn/screentimed/internal/storage"
)

// permissionFailureThreshold is the number of consecutive event source
// failures before the user is prompted to restore usage access.
const permissionFailureThreshold = 3

// PollerConfig tunes the monitoring loops.
type PollerConfig struct {
	// PollInterval is the foreground check cadence.
	PollInterval time.Duration
	// RefreshInterval is the cadence of the full re-evaluation of every
	// enabled limit.
	RefreshInterval time.Duration
	// EvaluationTimeout bounds a single tick's work.
	EvaluationTimeout time.Duration
	// ForegroundWindow is how far back the tick looks for transition events
	// when detecting the foreground app.
	ForegroundWindow time.Duration
	// SelfPackage is this daemon's own package name, excluded from
	// monitoring so it can never block itself.
	SelfPackage string
}

// Poller drives the evaluation cycle: a fast tick that evaluates only the
// foreground app, and a slower refresh that re-evaluates every enabled limit
// so background apps' rows stay fresh.
type Poller struct {
	engine     *limits.Engine
	dispatcher *Dispatcher
	source     events.Source
	store      storage.Store
	clock      limits.Clock
	cfg        PollerConfig
	logger     zerolog.Logger

	// busy guards against overlapping cycles. A tick that finds the flag
	// set is skipped, never queued.
	busy           atomic.Bool
	sourceFailures int
	stopChan       chan struct{}
}

// NewPoller creates the monitoring poller.
func NewPoller(engine *limits.Engine, dispatcher *Dispatcher, source events.Source, store storage.Store, clock limits.Clock, cfg PollerConfig, logger zerolog.Logger) *Poller {
	if clock == nil {
		clock = limits.RealClock{}
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = 30 * time.Second
	}
	if cfg.EvaluationTimeout == 0 {
		cfg.EvaluationTimeout = 5 * time.Second
	}
	if cfg.ForegroundWindow == 0 {
		cfg.ForegroundWindow = time.Minute
	}
	return &Poller{
		engine:     engine,
		dispatcher: dispatcher,
		source:     source,
		store:      store,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.With().Str("component", "poller").Logger(),
		stopChan:   make(chan struct{}),
	}
}

// Start begins the polling loops.
func (p *Poller) Start() {
	go p.run()
	p.logger.Info().
		Dur("poll_interval", p.cfg.PollInterval).
		Dur("refresh_interval", p.cfg.RefreshInterval).
		Str("self_package", p.cfg.SelfPackage).
		Msg("Monitor poller started")
}

// Stop stops the polling loops.
func (p *Poller) Stop() {
	close(p.stopChan)
	p.logger.Info().Msg("Monitor poller stopped")
}

func (p *Poller) run() {
	tick := time.NewTicker(p.cfg.PollInterval)
	defer tick.Stop()
	refresh := time.NewTicker(p.cfg.RefreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-tick.C:
			go p.Tick()
		case <-refresh.C:
			go p.Refresh()
		case <-p.stopChan:
			return
		}
	}
}

// Tick runs one foreground evaluation cycle. If the previous cycle is still
// running the tick is skipped.
func (p *Poller) Tick() {
	if !p.busy.CompareAndSwap(false, true) {
		p.logger.Debug().Msg("Previous cycle still running, skipping tick")
		return
	}
	defer p.busy.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.EvaluationTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.EvaluationDuration.WithLabelValues("tick").Observe(time.Since(start).Seconds())
	}()

	foreground, err := p.detectForeground(ctx)
	if err != nil {
		metrics.EventSourceErrors.Inc()
		p.sourceFailures++
		p.logger.Error().Err(err).Int("consecutive_failures", p.sourceFailures).Msg("Foreground detection failed")
		if p.sourceFailures == permissionFailureThreshold {
			p.dispatcher.PromptPermission(err.Error())
		}
		return
	}
	p.sourceFailures = 0

	if foreground == "" || foreground == p.cfg.SelfPackage {
		return
	}

	status := p.engine.Evaluate(ctx, foreground)
	p.dispatcher.OnEvaluated(ctx, foreground, status)
}

// Refresh re-evaluates every enabled limit and updates the blocked gauge.
// Shares the busy flag with Tick so the two never run concurrently.
func (p *Poller) Refresh() {
	if !p.busy.CompareAndSwap(false, true) {
		p.logger.Debug().Msg("Previous cycle still running, skipping refresh")
		return
	}
	defer p.busy.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RefreshInterval)
	defer cancel()

	if _, err := p.engine.RefreshAll(ctx); err != nil {
		p.logger.Error().Err(err).Msg("Refresh failed")
		return
	}

	blocked, err := p.store.Limits().ListBlocked(ctx)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("list_blocked").Inc()
		p.logger.Error().Err(err).Msg("Failed to list blocked apps")
		return
	}
	metrics.BlockedApps.Set(float64(len(blocked)))
}

// detectForeground returns the package currently in foreground, derived from
// the trailing event window: the package with the latest enter not yet
// closed by an exit. When every session in the window is closed, the package
// of the most recent event is used as a fallback, matching a user who has
// just switched away and back. Returns "" when the window is empty.
func (p *Poller) detectForeground(ctx context.Context) (string, error) {
	now := p.clock.Now()
	evts, err := p.source.QueryForegroundEvents(ctx, "", now.Add(-p.cfg.ForegroundWindow), now)
	if err != nil {
		return "", err
	}
	if len(evts) == 0 {
		return "", nil
	}

	open := make(map[string]time.Time)
	for _, event := range evts {
		switch event.Type {
		case events.Enter:
			open[event.PackageName] = event.Timestamp
		case events.Exit:
			if start, ok := open[event.PackageName]; ok && !event.Timestamp.Before(start) {
				delete(open, event.PackageName)
			}
		}
	}

	var foreground string
	var latest time.Time
	for pkg, entered := range open {
		if foreground == "" || entered.After(latest) {
			foreground = pkg
			latest = entered
		}
	}
	if foreground == "" {
		foreground = evts[len(evts)-1].PackageName
	}
	return foreground, nil
}
