package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/stepwise/internal/config"
	"github.com/pitabwire/stepwise/internal/definition"
	"github.com/pitabwire/stepwise/internal/observability"
	"github.com/pitabwire/stepwise/model"
)

func testRegistry(t *testing.T) *definition.Registry {
	t.Helper()
	reg := definition.NewRegistry()
	err := reg.Register(model.WorkflowDefinition{
		Name:        "onboarding",
		Title:       "Employee onboarding",
		TargetRoles: []string{"hr_manager"},
		Timeout:     48 * time.Hour,
		Steps: []model.StepDefinition{
			{ID: "profile", Name: "Profile"},
			{ID: "contract", Name: "Contract", RequiredRole: "hr_manager", Permissions: []string{"contracts:create"}},
		},
		Transitions: []model.TransitionDefinition{
			{From: "profile", To: "contract", Emit: &model.EventSpec{Type: "onboarding.profiled"}},
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return reg
}

func testDeps(t *testing.T) Dependencies {
	reg := prometheus.NewRegistry()
	defs := testRegistry(t)
	return Dependencies{
		Config:   config.Defaults(),
		Logger:   zap.NewNop(),
		Metrics:  observability.InitMetrics(reg),
		Gatherer: reg,
		Readiness: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return defs.Len() > 0 },
		},
		Definitions: defs,
	}
}

// --- Routes ---

func TestNewRouter_health(t *testing.T) {
	r := NewRouter(testDeps(t))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body observability.HealthResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestNewRouter_ready(t *testing.T) {
	r := NewRouter(testDeps(t))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestNewRouter_notReadyWithoutDefinitions(t *testing.T) {
	deps := testDeps(t)
	deps.Readiness.DefinitionsLoaded = func() bool { return false }
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestNewRouter_notReadyWhenStoreDown(t *testing.T) {
	deps := testDeps(t)
	deps.Readiness.Dependencies = map[string]observability.HealthChecker{
		"workflow_store": observability.HealthCheckFunc(func(context.Context) error {
			return errors.New("connection refused")
		}),
	}
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var body observability.ReadinessResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.Checks["workflow_store"].Status != "error" {
		t.Errorf("workflow_store check = %+v", body.Checks["workflow_store"])
	}
}

func TestNewRouter_metrics(t *testing.T) {
	r := NewRouter(testDeps(t))

	// Generate one request so the HTTP counters have a sample.
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "stepwise_http_requests_total") {
		t.Error("metrics output missing stepwise_http_requests_total")
	}
}

func TestNewRouter_metricsDisabled(t *testing.T) {
	deps := testDeps(t)
	deps.Config.Observability.Metrics.Enabled = false
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestNewRouter_metricsCustomPath(t *testing.T) {
	deps := testDeps(t)
	deps.Config.Observability.Metrics.Path = "/internal/metrics"
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/metrics", nil))
	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

// --- Definitions ---

func TestNewRouter_listDefinitions(t *testing.T) {
	deps := testDeps(t)
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/definitions", nil))
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get(ChecksumHeader); got != deps.Definitions.Checksum() {
		t.Errorf("checksum header = %q, want %q", got, deps.Definitions.Checksum())
	}

	var body []definitionSummary
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 1 {
		t.Fatalf("definitions = %d, want 1", len(body))
	}
	got := body[0]
	if got.Name != "onboarding" || got.Steps != 2 || got.Transitions != 1 {
		t.Errorf("summary = %+v", got)
	}
	if got.Timeout != "48h0m0s" {
		t.Errorf("timeout = %q, want 48h0m0s", got.Timeout)
	}
}

func TestNewRouter_getDefinition(t *testing.T) {
	r := NewRouter(testDeps(t))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/definitions/onboarding", nil))
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body definitionView
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.StepList) != 2 || body.StepList[1].RequiredRole != "hr_manager" {
		t.Errorf("steps = %+v", body.StepList)
	}
	if len(body.TransitionList) != 1 || body.TransitionList[0].Emits != "onboarding.profiled" {
		t.Errorf("transitions = %+v", body.TransitionList)
	}
}

func TestNewRouter_getDefinitionNotFound(t *testing.T) {
	r := NewRouter(testDeps(t))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/definitions/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestNewRouter_withoutDefinitions(t *testing.T) {
	deps := testDeps(t)
	deps.Definitions = nil
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/definitions", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// --- Middleware ---

func TestRecovery_catchesPanic(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != 500 {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestRecovery_passesThrough(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
}

func TestRequestID_generated(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("correlation id not stored in context")
	}
	if got := w.Header().Get(CorrelationHeader); got != seen {
		t.Errorf("response header = %q, want %q", got, seen)
	}
}

func TestRequestID_propagated(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, "corr-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "corr-123" {
		t.Errorf("correlation id = %q, want corr-123", seen)
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := NewRouter(testDeps(t))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
		"Referrer-Policy":        "no-referrer",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}

func TestRequestLogging_attachesLogger(t *testing.T) {
	var got *zap.Logger
	handler := RequestLogging(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = observability.LoggerFrom(r.Context(), nil)
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if got == nil {
		t.Error("request logger not attached to context")
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", w.Code)
	}
}

func TestNewServer(t *testing.T) {
	cfg := config.ServerConfig{Port: 9090, ReadTimeout: 3 * time.Second, WriteTimeout: 4 * time.Second}
	srv := NewServer(cfg, http.NotFoundHandler())

	if srv.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", srv.Addr)
	}
	if srv.ReadTimeout != 3*time.Second || srv.WriteTimeout != 4*time.Second {
		t.Errorf("timeouts = %v/%v", srv.ReadTimeout, srv.WriteTimeout)
	}
}
