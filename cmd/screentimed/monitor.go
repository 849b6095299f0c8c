package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zackwarn/screentimed/internal/config"
	"github.com/zackwarn/screentimed/internal/events"
	"github.com/zackwarn/screentimed/internal/limits"
	"github.com/zackwarn/screentimed/internal/metrics"
	"github.com/zackwarn/screentimed/internal/monitor"
	"github.com/zackwarn/screentimed/internal/sessions"
	"github.com/zackwarn/screentimed/internal/storage"
	"github.com/zackwarn/screentimed/internal/storage/bolt"
	"github.com/zackwarn/screentimed/internal/storage/redis"
	"github.com/zackwarn/screentimed/internal/systemd"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Start the screentimed monitoring daemon",
	Long:  `Start the monitoring daemon: foreground polling, limit evaluation, daily resets and the metrics endpoint.`,
	RunE:  runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting screentimed")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	// Event source over the collector's journal file
	source := events.NewJournalSource(cfg.Monitor.EventJournal)
	logger.Info().Str("journal", cfg.Monitor.EventJournal).Msg("Event source initialized")

	// Limit engine
	clock := limits.RealClock{}
	engine := limits.NewEngine(store.Limits(), sessions.NewReconstructor(source), clock, logger)
	engine.EnableCrossCheck(source)
	logger.Info().Msg("Limit engine initialized")

	// App display names come from the configured limit rows, behind an LRU
	// cache so notices do not hit storage on every tick.
	resolver, err := events.NewCachedResolver(monitor.NewLimitResolver(store.Limits()), 256)
	if err != nil {
		return fmt.Errorf("failed to initialize app name cache: %w", err)
	}

	// Enforcement dispatcher
	presenter := monitor.NewLogPresenter(logger)
	dispatcher := monitor.NewDispatcher(store, presenter, resolver, clock, monitor.DispatcherConfig{
		NotifyCooldown: parseDuration(cfg.Usage.NotifyCooldown, time.Minute),
		WarnThresholds: cfg.Usage.WarnThresholdMinutes,
	}, logger)

	// Foreground poller
	poller := monitor.NewPoller(engine, dispatcher, source, store, clock, monitor.PollerConfig{
		PollInterval:      parseDuration(cfg.Monitor.PollInterval, 5*time.Second),
		RefreshInterval:   parseDuration(cfg.Monitor.RefreshInterval, 30*time.Second),
		EvaluationTimeout: parseDuration(cfg.Monitor.EvaluationTimeout, 5*time.Second),
		ForegroundWindow:  parseDuration(cfg.Monitor.ForegroundWindow, time.Minute),
		SelfPackage:       cfg.Monitor.SelfPackage,
	}, logger)
	poller.Start()

	// Daily reset scheduler
	resetScheduler := limits.NewResetScheduler(store, clock, cfg.Usage.RetentionDays, logger)
	resetScheduler.Start()

	// Metrics server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port)
		metricsServer = metrics.NewServer(metricsAddr, logger)

		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}

		logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)
	}

	logger.Info().Msg("screentimed startup complete")

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan

		if sig == syscall.SIGHUP {
			// Configuration is re-read on restart; SIGHUP only confirms liveness
			// to process supervisors that send it.
			logger.Info().Msg("SIGHUP received, ignoring (restart to reload configuration)")
			continue
		}

		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop components
	resetScheduler.Stop()
	poller.Stop()

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("screentimed stopped")

	return nil
}

func openStorage(cfg config.Storage) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.Logging) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
