package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// Metrics holds the Prometheus collectors of rule executions and
// implements engine.Recorder. A disabled Metrics records nothing.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	executions        *prometheus.CounterVec   // rule, status
	executionDuration *prometheus.HistogramVec // rule
	rowsEvaluated     *prometheus.CounterVec   // rule
	nodeRuns          *prometheus.CounterVec   // rule, node_type, status
	nodeDuration      *prometheus.HistogramVec // rule, node_type
	errorsByClass     *prometheus.CounterVec   // class
	errorsByCode      *prometheus.CounterVec   // code
	chunks            *prometheus.CounterVec   // status
	activeExecutions  prometheus.Gauge
}

// NewMetrics registers the collectors on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: cfg.Namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: cfg.Namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}

	m := &Metrics{
		config:            cfg,
		registry:          prometheus.NewRegistry(),
		executions:        counter("executions_total", "Rule batch executions by outcome.", "rule", "status"),
		executionDuration: histogram("execution_duration_seconds", "Duration of rule batch executions.", "rule"),
		rowsEvaluated:     counter("rows_evaluated_total", "Records evaluated by rule.", "rule"),
		nodeRuns:          counter("node_runs_total", "Node invocations by type and outcome.", "rule", "node_type", "status"),
		nodeDuration:      histogram("node_duration_seconds", "Duration of node invocations.", "rule", "node_type"),
		errorsByClass:     counter("errors_by_class_total", "Rule errors by class.", "class"),
		errorsByCode:      counter("errors_by_code_total", "Rule errors by code.", "code"),
		chunks:            counter("batch_chunks_total", "Scheduled batch chunks by outcome.", "status"),
		activeExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "active_executions",
			Help:      "Batch runs in progress.",
		}),
	}
	m.registry.MustRegister(m.executions, m.executionDuration, m.rowsEvaluated, m.nodeRuns,
		m.nodeDuration, m.errorsByClass, m.errorsByCode, m.chunks, m.activeExecutions)
	return m, nil
}

// Registry returns the registry holding every collector, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordExecution implements engine.Recorder.
func (m *Metrics) RecordExecution(rule string, rows int, duration time.Duration, err error) {
	if m.executions == nil {
		return
	}
	m.executions.WithLabelValues(rule, status(err)).Inc()
	m.executionDuration.WithLabelValues(rule).Observe(duration.Seconds())
	m.rowsEvaluated.WithLabelValues(rule).Add(float64(rows))
	if err != nil {
		m.RecordError(err)
	}
}

// RecordNode implements engine.Recorder.
func (m *Metrics) RecordNode(rule, nodeType string, duration time.Duration, err error) {
	if m.nodeRuns == nil {
		return
	}
	m.nodeRuns.WithLabelValues(rule, nodeType, status(err)).Inc()
	m.nodeDuration.WithLabelValues(rule, nodeType).Observe(duration.Seconds())
}

// RecordError records an error by class and code. Errors that are not rule
// errors count under class "unknown".
func (m *Metrics) RecordError(err error) {
	if m.errorsByClass == nil || err == nil {
		return
	}
	var re *engine.RuleError
	if !errors.As(err, &re) {
		m.errorsByClass.WithLabelValues("unknown").Inc()
		return
	}
	m.errorsByClass.WithLabelValues(string(re.Class)).Inc()
	if re.Code != "" {
		m.errorsByCode.WithLabelValues(re.Code).Inc()
	}
}

// RecordBatch records the chunk outcomes of a scheduled run.
func (m *Metrics) RecordBatch(summary engine.RunSummary) {
	if m.chunks == nil {
		return
	}
	m.chunks.WithLabelValues("succeeded").Add(float64(summary.Succeeded))
	m.chunks.WithLabelValues("failed").Add(float64(summary.Failed))
	m.chunks.WithLabelValues("skipped").Add(float64(summary.Skipped))
}

// TrackActive increments the active execution gauge and returns the
// function decrementing it.
func (m *Metrics) TrackActive() func() {
	if m.activeExecutions == nil {
		return func() {}
	}
	m.activeExecutions.Inc()
	return m.activeExecutions.Dec
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint until ctx is done.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger zerolog.Logger) error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Str("address", m.config.ListenAddress).
		Str("path", m.config.Path).
		Msg("Metrics server started")
	return nil
}
