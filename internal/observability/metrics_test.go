package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	expected := []string{
		"stepwise_http_requests_total",
		"stepwise_http_request_duration_seconds",
		"stepwise_workflow_starts_total",
		"stepwise_workflow_advances_total",
		"stepwise_workflow_completions_total",
		"stepwise_workflow_abandoned_total",
		"stepwise_workflow_denials_total",
		"stepwise_workflow_active_instances",
		"stepwise_workflow_advance_duration_seconds",
		"stepwise_workflow_validations_total",
		"stepwise_reaper_sweeps_total",
		"stepwise_reaper_sweep_duration_seconds",
		"stepwise_dispatch_dropped_total",
		"stepwise_capability_cache_hits_total",
		"stepwise_capability_cache_misses_total",
		"stepwise_definitions_loaded",
	}

	// Record a value for each metric so they appear in Gather.
	m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
	m.RecordWorkflowStart("wf-1")
	m.RecordWorkflowAdvance("wf-1", "moved", time.Millisecond)
	m.RecordWorkflowAbandoned("wf-1", "idle")
	m.RecordDenial("advance", "UNAUTHORIZED")
	m.RecordValidation("wf-1", true)
	m.RecordReaperSweep("ok", time.Millisecond)
	m.RecordDispatchDropped("audit")
	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheMiss()
	m.SetDefinitionsLoaded(4)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestNilMetrics_isNoop(t *testing.T) {
	var m *Metrics
	m.RecordWorkflowStart("wf")
	m.RecordWorkflowAdvance("wf", "moved", time.Millisecond)
	m.RecordWorkflowCompletion("wf", "completed")
	m.RecordWorkflowAbandoned("wf", "idle")
	m.RecordDenial("start", "UNAUTHORIZED")
	m.RecordValidation("wf", false)
	m.RecordReaperSweep("ok", 0)
	m.RecordDispatchDropped("audit")
	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheMiss()
	m.SetDefinitionsLoaded(1)
}

func TestRecordWorkflowLifecycle(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordWorkflowStart("survey_creation")
	active := testutil.ToFloat64(m.WorkflowActiveInstances.WithLabelValues("survey_creation"))
	if active != 1 {
		t.Errorf("active instances = %v, want 1", active)
	}

	m.RecordWorkflowAdvance("survey_creation", "moved", 5*time.Millisecond)
	advances := testutil.ToFloat64(m.WorkflowAdvancesTotal.WithLabelValues("survey_creation", "moved"))
	if advances != 1 {
		t.Errorf("advances = %v, want 1", advances)
	}
	if testutil.CollectAndCount(m.WorkflowAdvanceDuration) == 0 {
		t.Error("expected advance duration histogram to have observations")
	}

	m.RecordWorkflowCompletion("survey_creation", "completed")
	active = testutil.ToFloat64(m.WorkflowActiveInstances.WithLabelValues("survey_creation"))
	if active != 0 {
		t.Errorf("active instances after completion = %v, want 0", active)
	}
	completions := testutil.ToFloat64(m.WorkflowCompletionsTotal.WithLabelValues("survey_creation", "completed"))
	if completions != 1 {
		t.Errorf("completions = %v, want 1", completions)
	}
}

func TestRecordWorkflowAbandoned(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordWorkflowStart("report_generation")
	m.RecordWorkflowAbandoned("report_generation", "idle")

	if v := testutil.ToFloat64(m.WorkflowAbandonedTotal.WithLabelValues("report_generation", "idle")); v != 1 {
		t.Errorf("abandoned = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.WorkflowCompletionsTotal.WithLabelValues("report_generation", "abandoned")); v != 1 {
		t.Errorf("terminal abandoned = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.WorkflowActiveInstances.WithLabelValues("report_generation")); v != 0 {
		t.Errorf("active = %v, want 0", v)
	}
}

func TestRecordDenial(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordDenial("start", "UNAUTHORIZED")
	m.RecordDenial("start", "UNAUTHORIZED")
	m.RecordDenial("advance", "VALIDATION_FAILED")

	if v := testutil.ToFloat64(m.WorkflowDenialsTotal.WithLabelValues("start", "UNAUTHORIZED")); v != 2 {
		t.Errorf("start denials = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.WorkflowDenialsTotal.WithLabelValues("advance", "VALIDATION_FAILED")); v != 1 {
		t.Errorf("advance denials = %v, want 1", v)
	}
}

func TestRecordValidation(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordValidation("survey_creation", true)
	m.RecordValidation("survey_creation", false)

	if v := testutil.ToFloat64(m.WorkflowValidationsTotal.WithLabelValues("survey_creation", "true")); v != 1 {
		t.Errorf("reachable validations = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.WorkflowValidationsTotal.WithLabelValues("survey_creation", "false")); v != 1 {
		t.Errorf("blocked validations = %v, want 1", v)
	}
}

func TestRecordReaperSweep(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordReaperSweep("ok", 20*time.Millisecond)
	m.RecordReaperSweep("error", time.Millisecond)

	if v := testutil.ToFloat64(m.ReaperSweepsTotal.WithLabelValues("ok")); v != 1 {
		t.Errorf("ok sweeps = %v, want 1", v)
	}
	if testutil.CollectAndCount(m.ReaperSweepDuration) == 0 {
		t.Error("expected sweep duration histogram to have observations")
	}
}

func TestRecordDispatchDropped(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordDispatchDropped("audit:workflow.advanced")
	if v := testutil.ToFloat64(m.DispatchDroppedTotal.WithLabelValues("audit:workflow.advanced")); v != 1 {
		t.Errorf("dropped = %v, want 1", v)
	}
}

func TestRecordCapabilityCache(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheMiss()

	hits := testutil.ToFloat64(m.CapabilityCacheHitsTotal)
	if hits != 2 {
		t.Errorf("cache hits = %v, want 2", hits)
	}
	misses := testutil.ToFloat64(m.CapabilityCacheMissesTotal)
	if misses != 1 {
		t.Errorf("cache misses = %v, want 1", misses)
	}
}

func TestSetDefinitionsLoaded(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetDefinitionsLoaded(5)
	if v := testutil.ToFloat64(m.DefinitionsLoaded); v != 5 {
		t.Errorf("definitions loaded = %v, want 5", v)
	}
	m.SetDefinitionsLoaded(4)
	if v := testutil.ToFloat64(m.DefinitionsLoaded); v != 4 {
		t.Errorf("definitions loaded = %v, want 4", v)
	}
}

func TestMetricsMiddleware_recordsRoutePattern(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/debug/instances/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/instances/abc", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/debug/instances/{id}", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/ready", "503"))
	if val != 1 {
		t.Errorf("503 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/raw/path", nil))

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesRegistry(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.SetDefinitionsLoaded(3)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "stepwise_definitions_loaded 3") {
		t.Errorf("metrics body missing definitions gauge:\n%s", rec.Body.String())
	}
}

func TestHandler_defaultGatherer(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "go_") {
		t.Error("metrics response should contain go runtime metrics")
	}
}

func TestHistogramBuckets(t *testing.T) {
	for name, buckets := range map[string][]float64{
		"http":   httpDurationBuckets,
		"engine": engineDurationBuckets,
	} {
		for i := 1; i < len(buckets); i++ {
			if buckets[i] <= buckets[i-1] {
				t.Errorf("%s buckets not sorted at index %d", name, i)
			}
		}
	}
}
