package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Evaluation metrics
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentimed_evaluations_total",
			Help: "Total limit evaluations performed",
		},
		[]string{"package", "status"},
	)

	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "screentimed_evaluation_duration_seconds",
			Help:    "Limit evaluation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"trigger"},
	)

	// Enforcement metrics
	BlockNoticesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentimed_block_notices_total",
			Help: "Total block notices shown",
		},
		[]string{"package"},
	)

	WarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentimed_warnings_total",
			Help: "Total low-time warnings shown",
		},
		[]string{"package"},
	)

	BlockedApps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "screentimed_blocked_apps",
			Help: "Number of apps currently blocked",
		},
	)

	// Usage metrics
	UsageMinutesConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentimed_usage_minutes_consumed_total",
			Help: "Total usage minutes recorded",
		},
		[]string{"package"},
	)

	SessionsRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentimed_sessions_recorded_total",
			Help: "Total usage session records written",
		},
	)

	DailyResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentimed_daily_resets_total",
			Help: "Total per-app daily usage resets",
		},
	)

	// Error metrics
	EventSourceErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screentimed_event_source_errors_total",
			Help: "Event source query failures",
		},
	)

	StorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screentimed_storage_errors_total",
			Help: "Storage operation failures",
		},
		[]string{"operation"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		EvaluationsTotal,
		EvaluationDuration,
		BlockNoticesTotal,
		WarningsTotal,
		BlockedApps,
		UsageMinutesConsumed,
		SessionsRecorded,
		DailyResetsTotal,
		EventSourceErrors,
		StorageErrors,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
