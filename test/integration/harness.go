// Package integration provides a reusable test harness for end-to-end
// testing of stepwise. It wires definitions loaded from YAML, the static
// policy, a real store backend, the dispatcher, the event bus and the ops
// router exactly as the serve command does, with recording sinks in place of
// external systems.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/stepwise/internal/audit"
	"github.com/pitabwire/stepwise/internal/capability"
	"github.com/pitabwire/stepwise/internal/config"
	"github.com/pitabwire/stepwise/internal/definition"
	"github.com/pitabwire/stepwise/internal/dispatch"
	"github.com/pitabwire/stepwise/internal/events"
	"github.com/pitabwire/stepwise/internal/observability"
	"github.com/pitabwire/stepwise/internal/transport"
	"github.com/pitabwire/stepwise/internal/workflow"
	"github.com/pitabwire/stepwise/model"
)

// TestHarness encapsulates a fully wired engine with recording sinks.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Registry   *definition.Registry
	Policy     *capability.StaticPolicy
	Store      workflow.Store
	Table      *workflow.Table
	Engine     *workflow.Engine
	Reaper     *workflow.Reaper
	Dispatcher *dispatch.Dispatcher
	Metrics    *observability.Metrics
	Gatherer   *prometheus.Registry
	Redis      *miniredis.Miniredis

	mu     sync.Mutex
	audits []model.AuditEvent
	events []model.DomainEvent
	now    time.Time
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs []string
	policyFile     string
	redis          bool
	builtin        bool
	actions        model.ActionRegistry
	queueSize      int
	workers        int
}

// WithDefinitions sets the definition directories to load. Relative paths are
// resolved from the testdata directory.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.definitionDirs = dirs
	}
}

// WithPolicyFile sets the static policy YAML file.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.policyFile = path
	}
}

// WithRedisStore backs the engine with a RedisStore on an embedded miniredis.
func WithRedisStore() HarnessOption {
	return func(c *harnessConfig) {
		c.redis = true
	}
}

// WithBuiltinCatalog also registers the built-in catalog.
func WithBuiltinCatalog() HarnessOption {
	return func(c *harnessConfig) {
		c.builtin = true
	}
}

// WithAction registers a named action definition files may reference.
func WithAction(name string, action model.Action) HarnessOption {
	return func(c *harnessConfig) {
		if c.actions == nil {
			c.actions = model.ActionRegistry{}
		}
		c.actions[name] = action
	}
}

// WithQueueSize sizes the side-effect dispatcher queue.
func WithQueueSize(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.queueSize = n
	}
}

// WithWorkers sets the number of side-effect workers.
func WithWorkers(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.workers = n
	}
}

// NewTestHarness creates and starts a full stepwise test instance. Everything
// is cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{queueSize: 256, workers: 4}
	for _, opt := range opts {
		opt(hc)
	}
	if hc.actions == nil {
		hc.actions = model.ActionRegistry{}
	}
	// The demo fixture names this action; tests that care override it.
	if _, ok := hc.actions["notify_reviewers"]; !ok {
		hc.actions["notify_reviewers"] = model.ActionFunc(func(context.Context, model.ActionContext) error { return nil })
	}

	dir := testdataDir()
	if len(hc.definitionDirs) == 0 {
		hc.definitionDirs = []string{filepath.Join(dir, "definitions")}
	}
	if hc.policyFile == "" {
		hc.policyFile = filepath.Join(dir, "policy.yaml")
	}

	h := &TestHarness{
		t:   t,
		now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	logger := zap.NewNop()

	// Step 1: Metrics.
	h.Gatherer = prometheus.NewRegistry()
	h.Metrics = observability.InitMetrics(h.Gatherer)

	// Step 2: Definitions.
	h.Registry = definition.NewRegistry()
	if hc.builtin {
		if err := definition.RegisterCatalog(h.Registry, hc.actions); err != nil {
			t.Fatalf("register catalog: %v", err)
		}
	}
	_, verrs, err := definition.NewLoader(hc.actions).LoadAndRegister(h.Registry, hc.definitionDirs)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if len(verrs) > 0 {
		t.Fatalf("definition errors: %v", verrs)
	}
	h.Metrics.SetDefinitionsLoaded(h.Registry.Len())

	// Step 3: Capability checkers.
	h.Policy, err = capability.NewStaticPolicy(hc.policyFile)
	if err != nil {
		t.Fatalf("load policy file: %v", err)
	}
	authz := capability.NewCachedAuthorizer(h.Policy, time.Minute, capability.WithCacheRecorder(h.Metrics))

	// Step 4: Store.
	if hc.redis {
		h.Redis = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		h.Store = workflow.NewRedisStore(client, "it:")
	} else {
		h.Store = workflow.NewMemoryStore()
	}
	h.Table = workflow.NewTable(h.Store)

	// Step 5: Side effects.
	h.Dispatcher = dispatch.New(logger,
		dispatch.WithQueueSize(hc.queueSize),
		dispatch.WithWorkers(hc.workers),
		dispatch.WithDropHook(h.Metrics.RecordDispatchDropped),
	)
	emitter := audit.NewEmitter(audit.RecorderFunc(h.recordAudit), h.Dispatcher, logger)

	pubsub := events.NewGoChannel(64, logger)
	bus := events.NewBus(pubsub, pubsub, logger)
	subCtx, cancelSub := context.WithCancel(context.Background())
	if err := bus.Subscribe(subCtx, h.recordEvent); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Step 6: Engine and reaper.
	clock := h.Now
	h.Engine = workflow.NewEngine(h.Registry, h.Table, authz, h.Policy,
		workflow.WithAudit(emitter),
		workflow.WithEventPublisher(bus),
		workflow.WithDispatcher(h.Dispatcher),
		workflow.WithMetrics(h.Metrics),
		workflow.WithLogger(logger),
		workflow.WithClock(clock),
	)
	h.Reaper = workflow.NewReaper(h.Table,
		workflow.WithReaperAudit(emitter),
		workflow.WithReaperMetrics(h.Metrics),
		workflow.WithReaperLogger(logger),
		workflow.WithReaperClock(clock),
	)

	// Step 7: Ops router.
	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return h.Registry.Len() > 0 },
		Dependencies:      map[string]observability.HealthChecker{},
	}
	if checker, ok := h.Store.(observability.HealthChecker); ok {
		readiness.Dependencies["workflow_store"] = checker
	}
	router := transport.NewRouter(transport.Dependencies{
		Config:      config.Defaults(),
		Logger:      logger,
		Metrics:     h.Metrics,
		Gatherer:    h.Gatherer,
		Readiness:   readiness,
		Definitions: h.Registry,
	})
	h.server = httptest.NewServer(router)

	t.Cleanup(func() {
		h.server.Close()
		h.Reaper.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Dispatcher.Close(ctx)
		cancelSub()
		_ = bus.Close()
	})

	return h
}

// --- Clock ---

// Now returns the harness clock.
func (h *TestHarness) Now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

// Advance moves the harness clock forward by d.
func (h *TestHarness) Advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

// --- Recording sinks ---

func (h *TestHarness) recordAudit(_ context.Context, event model.AuditEvent) error {
	h.mu.Lock()
	h.audits = append(h.audits, event)
	h.mu.Unlock()
	return nil
}

func (h *TestHarness) recordEvent(_ context.Context, event model.DomainEvent) error {
	h.mu.Lock()
	h.events = append(h.events, event)
	h.mu.Unlock()
	return nil
}

// AuditEvents returns the audit records delivered so far.
func (h *TestHarness) AuditEvents() []model.AuditEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.AuditEvent(nil), h.audits...)
}

// DomainEvents returns the domain events delivered so far.
func (h *TestHarness) DomainEvents() []model.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.DomainEvent(nil), h.events...)
}

// WaitForEvent waits until a domain event of type typ was delivered.
func (h *TestHarness) WaitForEvent(typ string) model.DomainEvent {
	h.t.Helper()
	var found model.DomainEvent
	h.eventually("domain event "+typ, func() bool {
		for _, e := range h.DomainEvents() {
			if e.Type == typ {
				found = e
				return true
			}
		}
		return false
	})
	return found
}

// WaitForAudit waits until count audit records with action were delivered
// and returns them.
func (h *TestHarness) WaitForAudit(action string, count int) []model.AuditEvent {
	h.t.Helper()
	var found []model.AuditEvent
	h.eventually("audit "+action, func() bool {
		found = found[:0]
		for _, e := range h.AuditEvents() {
			if e.Action == action {
				found = append(found, e)
			}
		}
		return len(found) >= count
	})
	return found
}

func (h *TestHarness) eventually(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s", what)
}

// --- Callers ---

// Manager returns a department-scoped manager.
func Manager(userID string) *model.RequestContext {
	return &model.RequestContext{SubjectID: userID, Role: "manager", CompanyID: "acme", DepartmentID: "eng"}
}

// Employee returns an employee without department scope.
func Employee(userID string) *model.RequestContext {
	return &model.RequestContext{SubjectID: userID, Role: "employee", CompanyID: "acme"}
}

// --- HTTP ---

// GET issues a GET against the ops router.
func (h *TestHarness) GET(path string) *http.Response {
	h.t.Helper()
	resp, err := http.Get(h.server.URL + path)
	if err != nil {
		h.t.Fatalf("GET %s: %v", path, err)
	}
	h.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ParseJSON decodes the response body into target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		h.t.Fatalf("decode response: %v", err)
	}
}

// ReadBody reads the full response body.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response: %v", err)
	}
	return data
}

// AssertStatus checks the response status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, expected, h.ReadBody(resp))
	}
}

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}
