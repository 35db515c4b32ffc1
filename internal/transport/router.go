package transport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/stepwise/internal/config"
	"github.com/pitabwire/stepwise/internal/observability"
	"github.com/pitabwire/stepwise/model"
)

// Definitions is the read side of the definition registry.
type Definitions interface {
	Get(name string) (model.WorkflowDefinition, error)
	All() []model.WorkflowDefinition
	Checksum() string
}

// Dependencies holds all injected dependencies for the ops router.
type Dependencies struct {
	Config      *config.Config
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	Readiness   observability.ReadinessChecks
	Definitions Definitions
}

// NewRouter creates the ops router. Every route runs behind recovery,
// correlation ids, tracing and request metrics.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	r := chi.NewRouter()
	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	r.Use(deps.Metrics.MetricsMiddleware)
	r.Use(RequestLogging(logger))

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))

	if deps.Config == nil || deps.Config.Observability.Metrics.Enabled {
		path := "/metrics"
		if deps.Config != nil && deps.Config.Observability.Metrics.Path != "" {
			path = deps.Config.Observability.Metrics.Path
		}
		r.Method(http.MethodGet, path, observability.Handler(deps.Gatherer))
	}

	if deps.Definitions != nil {
		h := &definitionsHandler{defs: deps.Definitions}
		r.Get("/definitions", h.list)
		r.Get("/definitions/{name}", h.get)
	}

	return r
}

// NewServer wraps handler in an http.Server configured from cfg.
func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
}
