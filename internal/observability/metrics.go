package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets   = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	engineDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
)

// Metrics holds all Prometheus metric instruments for stepwise. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics (ops endpoints)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Workflow metrics
	WorkflowStartsTotal      *prometheus.CounterVec
	WorkflowAdvancesTotal    *prometheus.CounterVec
	WorkflowCompletionsTotal *prometheus.CounterVec
	WorkflowAbandonedTotal   *prometheus.CounterVec
	WorkflowDenialsTotal     *prometheus.CounterVec
	WorkflowActiveInstances  *prometheus.GaugeVec
	WorkflowAdvanceDuration  *prometheus.HistogramVec
	WorkflowValidationsTotal *prometheus.CounterVec

	// Reaper metrics
	ReaperSweepsTotal   *prometheus.CounterVec
	ReaperSweepDuration prometheus.Histogram

	// Side effects
	DispatchDroppedTotal *prometheus.CounterVec

	// Cache metrics
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter

	// System metrics
	DefinitionsLoaded prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepwise_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stepwise_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		// Workflows
		WorkflowStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepwise_workflow_starts_total",
			Help: "Total number of workflow starts.",
		}, []string{"workflow"}),
		WorkflowAdvancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepwise_workflow_advances_total",
			Help: "Total number of workflow advances by outcome.",
		}, []string{"workflow", "outcome"}),
		WorkflowCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepwise_workflow_completions_total",
			Help: "Total number of workflows reaching a terminal status.",
		}, []string{"workflow", "final_status"}),
		WorkflowAbandonedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepwise_workflow_abandoned_total",
			Help: "Total number of instances abandoned by the reaper.",
		}, []string{"workflow", "reason"}),
		WorkflowDenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepwise_workflow_denials_total",
			Help: "Total number of rejected engine operations by error code.",
		}, []string{"operation", "code"}),
		WorkflowActiveInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stepwise_workflow_active_instances",
			Help: "Number of non-terminal workflow instances.",
		}, []string{"workflow"}),
		WorkflowAdvanceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stepwise_workflow_advance_duration_seconds",
			Help:    "Workflow advance duration in seconds.",
			Buckets: engineDurationBuckets,
		}, []string{"workflow"}),
		WorkflowValidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepwise_workflow_validations_total",
			Help: "Total number of reachability validations.",
		}, []string{"workflow", "entry_reachable"}),

		// Reaper
		ReaperSweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepwise_reaper_sweeps_total",
			Help: "Total number of reaper sweeps.",
		}, []string{"status"}),
		ReaperSweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stepwise_reaper_sweep_duration_seconds",
			Help:    "Reaper sweep duration in seconds.",
			Buckets: engineDurationBuckets,
		}),

		// Dispatch
		DispatchDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stepwise_dispatch_dropped_total",
			Help: "Total number of side effects dropped because the dispatch queue was full.",
		}, []string{"job"}),

		// Cache
		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stepwise_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stepwise_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),

		// System
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stepwise_definitions_loaded",
			Help: "Number of registered workflow definitions.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		// Workflows
		m.WorkflowStartsTotal,
		m.WorkflowAdvancesTotal,
		m.WorkflowCompletionsTotal,
		m.WorkflowAbandonedTotal,
		m.WorkflowDenialsTotal,
		m.WorkflowActiveInstances,
		m.WorkflowAdvanceDuration,
		m.WorkflowValidationsTotal,
		// Reaper
		m.ReaperSweepsTotal,
		m.ReaperSweepDuration,
		// Dispatch
		m.DispatchDroppedTotal,
		// Cache
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
		// System
		m.DefinitionsLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordWorkflowStart records a workflow start.
func (m *Metrics) RecordWorkflowStart(workflow string) {
	if m == nil {
		return
	}
	m.WorkflowStartsTotal.WithLabelValues(workflow).Inc()
	m.WorkflowActiveInstances.WithLabelValues(workflow).Inc()
}

// RecordWorkflowAdvance records an advance and its duration. outcome is
// "moved", "stayed" or an error code.
func (m *Metrics) RecordWorkflowAdvance(workflow, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowAdvancesTotal.WithLabelValues(workflow, outcome).Inc()
	m.WorkflowAdvanceDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// RecordWorkflowCompletion records a workflow reaching a terminal status.
func (m *Metrics) RecordWorkflowCompletion(workflow, finalStatus string) {
	if m == nil {
		return
	}
	m.WorkflowCompletionsTotal.WithLabelValues(workflow, finalStatus).Inc()
	m.WorkflowActiveInstances.WithLabelValues(workflow).Dec()
}

// RecordWorkflowAbandoned records a reaper abandonment.
func (m *Metrics) RecordWorkflowAbandoned(workflow, reason string) {
	if m == nil {
		return
	}
	m.WorkflowAbandonedTotal.WithLabelValues(workflow, reason).Inc()
	m.RecordWorkflowCompletion(workflow, "abandoned")
}

// RecordDenial records a rejected engine operation.
func (m *Metrics) RecordDenial(operation, code string) {
	if m == nil {
		return
	}
	m.WorkflowDenialsTotal.WithLabelValues(operation, code).Inc()
}

// RecordValidation records a reachability validation.
func (m *Metrics) RecordValidation(workflow string, entryReachable bool) {
	if m == nil {
		return
	}
	m.WorkflowValidationsTotal.WithLabelValues(workflow, strconv.FormatBool(entryReachable)).Inc()
}

// RecordReaperSweep records one reaper sweep.
func (m *Metrics) RecordReaperSweep(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ReaperSweepsTotal.WithLabelValues(status).Inc()
	m.ReaperSweepDuration.Observe(duration.Seconds())
}

// RecordDispatchDropped records a dropped side effect.
func (m *Metrics) RecordDispatchDropped(job string) {
	if m == nil {
		return
	}
	m.DispatchDroppedTotal.WithLabelValues(job).Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	if m == nil {
		return
	}
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	if m == nil {
		return
	}
	m.CapabilityCacheMissesTotal.Inc()
}

// SetDefinitionsLoaded sets the number of registered definitions.
func (m *Metrics) SetDefinitionsLoaded(count int) {
	if m == nil {
		return
	}
	m.DefinitionsLoaded.Set(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}
