package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"
)

// Transport names accepted by COUNCIL_TRANSPORT
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
	TransportLocal     = "local"
)

// Event bus names accepted by EVENT_BUS
const (
	EventBusMemory = "memory"
	EventBusRedis  = "redis"
)

// Config holds all configuration for the council orchestrator
type Config struct {
	// Server configuration
	HTTPPort int    `env:"COUNCIL_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"COUNCIL_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Council backend configuration
	Council CouncilConfig

	// Snapshot fan-out configuration
	EventBus    string        `env:"EVENT_BUS" envDefault:"memory"`
	SnapshotTTL time.Duration `env:"SNAPSHOT_TTL" envDefault:"24h"`

	// Redis configuration
	Redis RedisConfig

	// LLM configuration for the local engine
	LLM LLMConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// CouncilConfig selects and tunes the council collaborator
type CouncilConfig struct {
	Transport       string        `env:"COUNCIL_TRANSPORT" envDefault:"sse"`
	BackendURL      string        `env:"COUNCIL_BACKEND_URL" envDefault:"http://localhost:8001"`
	TickInterval    time.Duration `env:"COUNCIL_TICK_INTERVAL" envDefault:"100ms"`
	StreamTimeout   time.Duration `env:"COUNCIL_STREAM_TIMEOUT" envDefault:"10m"`
	RequestTimeout  time.Duration `env:"COUNCIL_REQUEST_TIMEOUT" envDefault:"30s"`
	MaxPromptLength int           `env:"COUNCIL_MAX_PROMPT_LENGTH" envDefault:"8000"`
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

	// Approximate cap on entries kept per event stream
	StreamMaxLen int64 `env:"REDIS_STREAM_MAXLEN" envDefault:"1000"`
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	Provider string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"LLM_API_KEY"`

	// Rate limiting
	MaxConcurrentRequests int           `env:"LLM_MAX_CONCURRENT_REQUESTS" envDefault:"3"`
	RequestTimeout        time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"120s"`

	// Per-participant models
	GeminiModel   string  `env:"COUNCIL_MODEL_GEMINI" envDefault:"claude-3-5-haiku-latest"`
	CodexModel    string  `env:"COUNCIL_MODEL_CODEX" envDefault:"claude-3-5-sonnet-latest"`
	ClaudeModel   string  `env:"COUNCIL_MODEL_CLAUDE" envDefault:"claude-3-7-sonnet-latest"`
	Chairman      string  `env:"COUNCIL_CHAIRMAN" envDefault:"gemini"`
	ChairmanModel string  `env:"COUNCIL_CHAIRMAN_MODEL" envDefault:"claude-3-7-sonnet-latest"`
	MaxTokens     int     `env:"LLM_MAX_TOKENS" envDefault:"4096"`
	Temperature   float64 `env:"LLM_TEMPERATURE" envDefault:"0.7"`
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

	// Validate council config
	switch c.Council.Transport {
	case TransportSSE, TransportWebSocket:
		u, err := url.Parse(c.Council.BackendURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid council backend URL: %q", c.Council.BackendURL)
		}
	case TransportLocal:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM API key is required for the local transport")
		}
		if c.LLM.Provider != "anthropic" {
			return fmt.Errorf("unsupported LLM provider: %s (only 'anthropic' is supported)", c.LLM.Provider)
		}
		if c.LLM.MaxConcurrentRequests < 1 {
			return fmt.Errorf("LLM max concurrent requests must be at least 1")
		}
	default:
		return fmt.Errorf("invalid council transport: %s (must be sse, websocket, or local)", c.Council.Transport)
	}
	if c.Council.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.Council.MaxPromptLength < 1 {
		return fmt.Errorf("max prompt length must be at least 1")
	}

	// Validate event bus
	switch c.EventBus {
	case EventBusMemory:
	case EventBusRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	default:
		return fmt.Errorf("invalid event bus: %s (must be memory or redis)", c.EventBus)
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
