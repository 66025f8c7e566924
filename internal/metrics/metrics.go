package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Evaluation loop metrics
	EvaluationTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playlimit_evaluation_ticks_total",
			Help: "Total evaluation periods processed",
		},
	)

	EvaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playlimit_evaluation_duration_seconds",
			Help:    "Time spent evaluating one period",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
	)

	PresenceVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playlimit_presence_verdicts_total",
			Help: "Presence classifications by verdict",
		},
		[]string{"verdict"},
	)

	// Session metrics
	MinutesCredited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playlimit_minutes_credited_total",
			Help: "Total live minutes credited to active players",
		},
	)

	LiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "playlimit_live_sessions",
			Help: "Number of tracked live sessions",
		},
	)

	// Enforcement metrics
	ActionsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playlimit_actions_dispatched_total",
			Help: "Kick and broadcast actions handed to the host",
		},
		[]string{"type", "result"},
	)

	// Ledger metrics
	LedgerWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playlimit_ledger_writes_total",
			Help: "Completed period writes by result",
		},
		[]string{"result"},
	)

	LedgerMinutesPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playlimit_ledger_minutes_persisted_total",
			Help: "Total minutes persisted to the ledger",
		},
	)

	LedgerQueryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playlimit_ledger_query_failures_total",
			Help: "Ledger queries that failed and were treated as zero",
		},
		[]string{"query"},
	)

	// Identity metrics
	IdentityCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playlimit_identity_cache_hits_total",
			Help: "Display name lookups served from the cache",
		},
	)

	IdentityCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playlimit_identity_cache_misses_total",
			Help: "Display name lookups that fell back to the unknown name",
		},
	)

	// Bridge metrics
	BridgeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playlimit_bridge_requests_total",
			Help: "Requests received from the game host",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		EvaluationTicks,
		EvaluationDuration,
		PresenceVerdicts,
		MinutesCredited,
		LiveSessions,
		ActionsDispatched,
		LedgerWrites,
		LedgerMinutesPersisted,
		LedgerQueryFailures,
		IdentityCacheHits,
		IdentityCacheMisses,
		BridgeRequests,
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
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
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
