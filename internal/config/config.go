package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Storage backends.
const (
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// Config holds all configuration for the teamflow orchestrator
type Config struct {
	// Server configuration
	HTTPPort int    `env:"TEAMFLOW_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"TEAMFLOW_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// StorageBackend selects session, state and event bus adapters
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"redis"`

	// Redis configuration
	Redis RedisConfig

	// LLM configuration
	LLM LLMConfig

	// Worker configuration
	Workers WorkerConfig

	// Master workflow configuration
	Orchestrator OrchestratorConfig

	// Remote team services
	Teams TeamsConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Streams and retention
	ConsumerGroup string        `env:"REDIS_CONSUMER_GROUP" envDefault:"teamflow"`
	StreamMaxLen  int64         `env:"REDIS_STREAM_MAX_LEN" envDefault:"10000"`
	TTL           time.Duration `env:"REDIS_TTL" envDefault:"48h"`
}

// LLMConfig holds the classifier LLM configuration
type LLMConfig struct {
	// Provider is "anthropic" or "none". With "none" inputs without a
	// declared type are routed by capability probe only.
	Provider string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"LLM_API_KEY"`
	BaseURL  string `env:"LLM_BASE_URL"`

	RequestTimeout time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"30s"`

	// Classifier model settings
	Model     string `env:"LLM_CLASSIFIER_MODEL" envDefault:"claude-3-5-haiku-latest"`
	MaxTokens int    `env:"LLM_CLASSIFIER_MAX_TOKENS" envDefault:"256"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// OrchestratorConfig holds master workflow settings
type OrchestratorConfig struct {
	MaxIterations int `env:"ORCHESTRATOR_MAX_ITERATIONS" envDefault:"10"`
	MaxRetries    int `env:"ORCHESTRATOR_MAX_RETRIES" envDefault:"3"`

	// RulesFile is a YAML transition rule file. Empty uses the built-in chain.
	RulesFile string `env:"RULES_FILE"`

	// Cleanup sweep
	SweepSchedule string        `env:"SWEEP_SCHEDULE" envDefault:"@every 10m"`
	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" envDefault:"24h"`

	// Recording re-check after a calendar halt. An empty endpoint disables it.
	RecordingEndpoint string        `env:"RECORDING_ENDPOINT"`
	RecheckInterval   time.Duration `env:"RECHECK_INTERVAL" envDefault:"1m"`
	RecheckAttempts   int           `env:"RECHECK_MAX_ATTEMPTS" envDefault:"30"`
}

// TeamsConfig maps team names to remote team service endpoints
type TeamsConfig struct {
	// Endpoints, e.g. TEAM_ENDPOINTS=meeting_analysis=http://meetings:8000,email_triage=http://mail:8000
	Endpoints map[string]string `env:"TEAM_ENDPOINTS" envSeparator:"," envKeyValSeparator:"="`
	// Probe lists teams that answer capability probes on /can-handle.
	Probe   []string      `env:"TEAM_PROBE" envSeparator:","`
	Timeout time.Duration `env:"TEAM_TIMEOUT" envDefault:"60s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	switch c.StorageBackend {
	case StorageRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unsupported storage backend: %s (must be redis or memory)", c.StorageBackend)
	}

	// Validate LLM config
	switch c.LLM.Provider {
	case "anthropic":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM API key is required")
		}
	case "none":
	default:
		return fmt.Errorf("unsupported LLM provider: %s (must be anthropic or none)", c.LLM.Provider)
	}
	if c.LLM.MaxTokens < 1 {
		return fmt.Errorf("classifier max tokens must be at least 1")
	}

	// Validate worker config
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}

	// Validate orchestrator config
	if c.Orchestrator.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1")
	}
	if c.Orchestrator.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}
	if c.Orchestrator.RecordingEndpoint != "" && c.Orchestrator.RecheckAttempts < 1 {
		return fmt.Errorf("recheck attempts must be at least 1 when a recording endpoint is set")
	}

	for _, team := range c.Teams.Probe {
		if _, ok := c.Teams.Endpoints[team]; !ok {
			return fmt.Errorf("probe team %s has no endpoint", team)
		}
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
