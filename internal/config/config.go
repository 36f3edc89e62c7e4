package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/robfig/cron/v3"
)

// Config holds all configuration for the dagflow service
type Config struct {
	// Server configuration
	HTTPPort int    `env:"DAGFLOW_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"DAGFLOW_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration
	Redis RedisConfig

	// Persistence backend
	Storage StorageConfig

	// State store limits
	Store StoreConfig

	// Execution engine limits
	Engine EngineConfig

	// Maintenance cron schedules
	Schedules ScheduleConfig

	// Events
	Events EventsConfig

	// LLM configuration
	LLM LLMConfig

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
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
}

// StorageConfig selects where state documents are persisted
type StorageConfig struct {
	Backend            string `env:"STORAGE_BACKEND" envDefault:"memory"`
	Dir                string `env:"STORAGE_DIR" envDefault:"./data"`
	PersistenceEnabled bool   `env:"STORAGE_PERSISTENCE_ENABLED" envDefault:"false"`
}

// StoreConfig holds state store limits
type StoreConfig struct {
	MaxTransactionDuration time.Duration `env:"STORE_MAX_TRANSACTION_DURATION" envDefault:"30s"`
	LockPollInterval       time.Duration `env:"STORE_LOCK_POLL_INTERVAL" envDefault:"10ms"`
	HistoryLimit           int           `env:"STORE_HISTORY_LIMIT" envDefault:"0"`
	HistoryRetentionDays   int           `env:"STORE_HISTORY_RETENTION_DAYS" envDefault:"30"`
}

// EngineConfig holds execution engine limits
type EngineConfig struct {
	MaxConcurrentWorkflows int           `env:"ENGINE_MAX_CONCURRENT_WORKFLOWS" envDefault:"100"`
	NodeTimeout            time.Duration `env:"ENGINE_NODE_TIMEOUT" envDefault:"30s"`
	WaitDuration           time.Duration `env:"ENGINE_WAIT_DURATION" envDefault:"1s"`
	ExecutionTimeout       time.Duration `env:"ENGINE_EXECUTION_TIMEOUT" envDefault:"0s"`
	RecoveryStrategy       string        `env:"ENGINE_RECOVERY_STRATEGY" envDefault:"rollback"`
	MaxSteps               int           `env:"ENGINE_MAX_STEPS" envDefault:"1000"`
	EvictAfter             time.Duration `env:"ENGINE_EVICT_AFTER" envDefault:"1h"`
	HealthCheckInterval    time.Duration `env:"ENGINE_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// ScheduleConfig holds cron specs of the maintenance jobs. An empty spec
// disables the job.
type ScheduleConfig struct {
	Eviction       string `env:"SCHEDULE_EVICTION" envDefault:"@every 5m"`
	Heal           string `env:"SCHEDULE_HEAL" envDefault:"@every 1m"`
	Snapshot       string `env:"SCHEDULE_SNAPSHOT" envDefault:"@hourly"`
	HistoryCleanup string `env:"SCHEDULE_HISTORY_CLEANUP" envDefault:"@daily"`
}

// EventsConfig selects the event bus
type EventsConfig struct {
	Backend       string `env:"EVENTS_BACKEND" envDefault:"memory"`
	ConsumerGroup string `env:"EVENTS_CONSUMER_GROUP" envDefault:"dagflow"`
	StreamMaxLen  int64  `env:"EVENTS_STREAM_MAX_LEN" envDefault:"10000"`
}

// LLMConfig holds LLM provider configuration. Without an API key no LLM
// actors are registered.
type LLMConfig struct {
	Provider  string   `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey    string   `env:"LLM_API_KEY"`
	Model     string   `env:"LLM_MODEL" envDefault:"claude-sonnet-4-5"`
	MaxTokens int64    `env:"LLM_MAX_TOKENS" envDefault:"1024"`
	Actors    []string `env:"LLM_ACTORS" envSeparator:","`
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

	switch c.Storage.Backend {
	case "memory":
	case "file":
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage dir is required for the file backend")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s (must be memory, file, or redis)", c.Storage.Backend)
	}

	switch c.Events.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis event bus")
		}
	default:
		return fmt.Errorf("unsupported events backend: %s (must be memory or redis)", c.Events.Backend)
	}

	if c.Store.MaxTransactionDuration <= 0 {
		return fmt.Errorf("store max transaction duration must be positive")
	}
	if c.Store.LockPollInterval <= 0 {
		return fmt.Errorf("store lock poll interval must be positive")
	}

	if c.Engine.MaxConcurrentWorkflows < 1 {
		return fmt.Errorf("engine max concurrent workflows must be at least 1")
	}
	if c.Engine.NodeTimeout <= 0 {
		return fmt.Errorf("engine node timeout must be positive")
	}
	if c.Engine.MaxSteps < 1 {
		return fmt.Errorf("engine max steps must be at least 1")
	}
	switch c.Engine.RecoveryStrategy {
	case "rollback", "forward", "manual":
	default:
		return fmt.Errorf("invalid recovery strategy: %s (must be rollback, forward, or manual)", c.Engine.RecoveryStrategy)
	}

	for name, spec := range map[string]string{
		"eviction":        c.Schedules.Eviction,
		"heal":            c.Schedules.Heal,
		"snapshot":        c.Schedules.Snapshot,
		"history cleanup": c.Schedules.HistoryCleanup,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s schedule '%s': %w", name, spec, err)
		}
	}

	if c.LLM.APIKey != "" && c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s (only 'anthropic' is supported)", c.LLM.Provider)
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
