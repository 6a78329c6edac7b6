// Metrics exposes the ambient Prometheus surface for every refresher and
// the orchestrator itself: rows processed/rejected/written per refresher
// and per-task duration.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds every Prometheus collector the orchestrator and its
// refreshers publish to.
type Metrics struct {
	TaskDuration   *prometheus.HistogramVec
	RowsProcessed  *prometheus.CounterVec
	RowsRejected   *prometheus.CounterVec
	RowsWritten    *prometheus.CounterVec
	TaskFailures   *prometheus.CounterVec
	RunsTotal      prometheus.Counter
	LastRunSuccess prometheus.Gauge
}

// NewMetrics registers a fresh set of collectors against registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "barpipe_task_duration_seconds",
			Help:    "Duration of one component's per-id or per-run task.",
			Buckets: prometheus.DefBuckets,
		}, []string{"component"}),
		RowsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barpipe_rows_processed_total",
			Help: "Source rows read by a component.",
		}, []string{"component"}),
		RowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barpipe_rows_rejected_total",
			Help: "Rows rejected to the audit log by a component.",
		}, []string{"component"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barpipe_rows_written_total",
			Help: "Rows written by a component.",
		}, []string{"component"}),
		TaskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barpipe_task_failures_total",
			Help: "Per-id or per-component task failures.",
		}, []string{"component"}),
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "barpipe_orchestrator_runs_total",
			Help: "Completed orchestrator runs, regardless of outcome.",
		}),
		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "barpipe_orchestrator_last_run_success",
			Help: "1 if the most recent orchestrator run had no failures or critical findings, else 0.",
		}),
	}
	registry.MustRegister(m.TaskDuration, m.RowsProcessed, m.RowsRejected, m.RowsWritten, m.TaskFailures, m.RunsTotal, m.LastRunSuccess)
	return m
}

// Observe records one component task's outcome.
func (m *Metrics) Observe(component string, dur time.Duration, processed, rejected, written int, failed bool) {
	m.TaskDuration.WithLabelValues(component).Observe(dur.Seconds())
	m.RowsProcessed.WithLabelValues(component).Add(float64(processed))
	m.RowsRejected.WithLabelValues(component).Add(float64(rejected))
	m.RowsWritten.WithLabelValues(component).Add(float64(written))
	if failed {
		m.TaskFailures.WithLabelValues(component).Inc()
	}
}

// Server exposes /metrics and /healthz on a local, read-only HTTP
// listener.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// NewServer wires the mux router: /metrics via promhttp, /healthz a
// trivial liveness probe, and /progress a websocket stream of TaskOutcomes
// when hub is non-nil.
func NewServer(addr string, registry *prometheus.Registry, hub *ProgressHub, log zerolog.Logger) *Server {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	if hub != nil {
		router.HandleFunc("/progress", hub.ServeHTTP)
	}
	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: router, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second},
		log:        log.With().Str("component", "http").Logger(),
	}
}

// Start runs the listener until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("http server shutdown error")
		}
	}()
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("metrics/health server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
