// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Audit sinks.
const (
	AuditSinkLog      = "log"
	AuditSinkPostgres = "postgres"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Capability    CapabilityConfig    `yaml:"capability"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Audit         AuditConfig         `yaml:"audit"`
	Events        EventsConfig        `yaml:"events"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes the operational HTTP listener (health, readiness,
// metrics).
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefinitionsConfig describes where to find workflow definition YAML files.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
	UseBuiltin  bool     `yaml:"use_builtin"`
}

// CapabilityConfig describes the static policy backing the authorization and
// scope checkers.
type CapabilityConfig struct {
	StaticPolicyFile string      `yaml:"static_policy_file"`
	Cache            CacheConfig `yaml:"cache"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// WorkflowConfig describes engine and reaper settings.
type WorkflowConfig struct {
	Store           WorkflowStoreConfig `yaml:"store"`
	ReaperInterval  time.Duration       `yaml:"reaper_interval"`
	IdleThreshold   time.Duration       `yaml:"idle_threshold"`
	EnforceDeadline bool                `yaml:"enforce_deadline"`
}

// WorkflowStoreConfig describes execution-state persistence.
type WorkflowStoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	RedisAddrEnv    string        `yaml:"redis_addr_env"`
	RedisDB         int           `yaml:"redis_db"`
	KeyPrefix       string        `yaml:"key_prefix"`
	MaxConns        int32         `yaml:"max_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DispatchConfig sizes the side-effect dispatcher.
type DispatchConfig struct {
	QueueSize  int           `yaml:"queue_size"`
	Workers    int           `yaml:"workers"`
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// AuditConfig selects the audit sink.
type AuditConfig struct {
	Sink string `yaml:"sink"`
}

// EventsConfig sizes the in-process event bus.
type EventsConfig struct {
	Buffer int64 `yaml:"buffer"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Definitions: DefinitionsConfig{
			UseBuiltin: true,
		},
		Capability: CapabilityConfig{
			Cache: CacheConfig{TTL: 5 * time.Minute},
		},
		Workflow: WorkflowConfig{
			ReaperInterval: time.Hour,
			IdleThreshold:  2 * time.Hour,
			Store: WorkflowStoreConfig{
				Driver:          StoreMemory,
				DSNEnv:          "STEPWISE_DATABASE_URL",
				RedisAddrEnv:    "STEPWISE_REDIS_ADDR",
				KeyPrefix:       "stepwise:",
				MaxConns:        25,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Dispatch: DispatchConfig{
			QueueSize:  256,
			Workers:    4,
			JobTimeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Sink: AuditSinkLog,
		},
		Events: EventsConfig{
			Buffer: 64,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates the result. An empty path loads the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if !c.Definitions.UseBuiltin && len(c.Definitions.Directories) == 0 {
		errs = append(errs, "definitions.directories is required when definitions.use_builtin is false")
	}
	switch c.Workflow.Store.Driver {
	case StoreMemory, StorePostgres, StoreRedis:
	default:
		errs = append(errs, fmt.Sprintf("workflow.store.driver %q is not one of memory, postgres, redis", c.Workflow.Store.Driver))
	}
	if c.Workflow.IdleThreshold <= 0 {
		errs = append(errs, "workflow.idle_threshold must be positive")
	}
	if c.Workflow.ReaperInterval <= 0 {
		errs = append(errs, "workflow.reaper_interval must be positive")
	}
	if c.Dispatch.QueueSize < 1 {
		errs = append(errs, "dispatch.queue_size must be at least 1")
	}
	if c.Dispatch.Workers < 1 {
		errs = append(errs, "dispatch.workers must be at least 1")
	}
	switch c.Audit.Sink {
	case AuditSinkLog:
	case AuditSinkPostgres:
		if c.Workflow.Store.DSNEnv == "" {
			errs = append(errs, "audit.sink postgres requires workflow.store.dsn_env")
		}
	default:
		errs = append(errs, fmt.Sprintf("audit.sink %q is not one of log, postgres", c.Audit.Sink))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads STEPWISE_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STEPWISE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("STEPWISE_DEFINITIONS_DIRECTORIES"); v != "" {
		cfg.Definitions.Directories = strings.Split(v, ",")
	}
	if v := os.Getenv("STEPWISE_CAPABILITY_POLICY_FILE"); v != "" {
		cfg.Capability.StaticPolicyFile = v
	}
	if v := os.Getenv("STEPWISE_WORKFLOW_STORE_DRIVER"); v != "" {
		cfg.Workflow.Store.Driver = v
	}
	if v := os.Getenv("STEPWISE_WORKFLOW_IDLE_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Workflow.IdleThreshold = d
		}
	}
	if v := os.Getenv("STEPWISE_AUDIT_SINK"); v != "" {
		cfg.Audit.Sink = v
	}
	if v := os.Getenv("STEPWISE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}

// DSN returns the PostgreSQL connection string named by DSNEnv.
func (c WorkflowStoreConfig) DSN() string {
	return os.Getenv(c.DSNEnv)
}

// RedisAddr returns the redis address named by RedisAddrEnv, defaulting to
// localhost:6379.
func (c WorkflowStoreConfig) RedisAddr() string {
	if v := os.Getenv(c.RedisAddrEnv); v != "" {
		return v
	}
	return "localhost:6379"
}
