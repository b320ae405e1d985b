// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every component of the
// gateway: the HTTP server, the subscription registry storage, the request
// governor (rate limiting), webhook delivery, logging and observability.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping
// - Defaults that work out of the box with no external services
// - Validation to catch misconfigurations before the server starts
package models

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Rate limit backend constants
const (
	RateLimitBackendRedis  = "redis"
	RateLimitBackendMemory = "memory"
)

// MaxWebhookTimeout bounds every outbound webhook call.
const MaxWebhookTimeout = 10 * time.Second

// Default rate limits applied to public agent traffic.
const (
	DefaultRequestsPerMinute = 30
	DefaultRequestsPerDay    = 500
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`               // HTTP server configuration
	Storage       StorageConfig       `yaml:"storage" json:"storage"`             // Subscription registry persistence
	Security      SecurityConfig      `yaml:"security" json:"security"`           // Tenant API keys
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`       // Public request governor
	Redis         RedisConfig         `yaml:"redis" json:"redis"`                 // Shared counter store
	Webhook       WebhookConfig       `yaml:"webhook" json:"webhook"`             // Outbound event delivery
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`             // Logging and output configuration
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`             // Monitoring and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"` // Tracing
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	CORS         CORSConfig    `yaml:"cors" json:"cors"`
}

// CORSConfig applies to every route. Public agent endpoints are usually
// called from embedded chat widgets on third-party origins.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// SecurityConfig holds the tenant API keys accepted by the registry API.
// Raw keys only live in the config file; the server keeps SHA-256 hashes.
type SecurityConfig struct {
	EnableAuth bool           `yaml:"enable_auth" json:"enable_auth"`
	APIKeys    []TenantAPIKey `yaml:"api_keys" json:"api_keys"`
}

type TenantAPIKey struct {
	Key      string `yaml:"key" json:"key"`
	Name     string `yaml:"name" json:"name"`
	TenantID string `yaml:"tenant_id" json:"tenant_id"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
}

type RateLimitConfig struct {
	Enabled             bool          `yaml:"enabled" json:"enabled"`
	Backend             string        `yaml:"backend" json:"backend"`
	RequestsPerMinute   int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerDay      int           `yaml:"requests_per_day" json:"requests_per_day"`
	CleanupInterval     time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	StoreTimeout        time.Duration `yaml:"store_timeout" json:"store_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
	KeyPrefix           string        `yaml:"key_prefix" json:"key_prefix"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

type WebhookConfig struct {
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with defaults that run without any
// external service: in-memory registry, in-memory counters, no tracing.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
				MaxAge:         86400,
			},
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Database: DatabaseConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Security: SecurityConfig{
			EnableAuth: true,
			APIKeys:    []TenantAPIKey{},
		},
		RateLimit: RateLimitConfig{
			Enabled:             true,
			Backend:             RateLimitBackendMemory,
			RequestsPerMinute:   DefaultRequestsPerMinute,
			RequestsPerDay:      DefaultRequestsPerDay,
			CleanupInterval:     5 * time.Minute,
			StoreTimeout:        250 * time.Millisecond,
			HealthCheckInterval: 5 * time.Second,
			KeyPrefix:           "agentgate:rl:",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Webhook: WebhookConfig{
			Timeout:   MaxWebhookTimeout,
			UserAgent: "agentgate-webhooks",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "agentgate",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if c.RateLimit.Enabled && c.RateLimit.Backend == RateLimitBackendRedis && c.Redis.Addr == "" {
		return errors.New("invalid redis config: address is required when rate limit backend is redis")
	}

	if err := c.Webhook.Validate(); err != nil {
		return fmt.Errorf("invalid webhook config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	validTypes := []string{StorageTypeMemory, StorageTypePostgres, StorageTypeSQLite}
	if !slices.Contains(validTypes, stc.Type) {
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}

	if stc.Type != StorageTypeMemory && stc.Database.DSN == "" {
		return errors.New("database DSN is required for database storage")
	}

	return nil
}

func (sec *SecurityConfig) Validate() error {
	seen := make(map[string]bool, len(sec.APIKeys))
	for _, k := range sec.APIKeys {
		if k.Key == "" {
			return errors.New("API key cannot be empty")
		}
		if k.TenantID == "" {
			return fmt.Errorf("API key %q has no tenant_id", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("API key %q is configured more than once", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (rl *RateLimitConfig) Validate() error {
	if !rl.Enabled {
		return nil
	}

	if rl.Backend != RateLimitBackendRedis && rl.Backend != RateLimitBackendMemory {
		return fmt.Errorf("invalid rate limit backend: %s", rl.Backend)
	}

	if rl.RequestsPerMinute <= 0 {
		return errors.New("requests per minute must be positive")
	}

	if rl.RequestsPerDay <= 0 {
		return errors.New("requests per day must be positive")
	}

	if rl.RequestsPerDay < rl.RequestsPerMinute {
		return errors.New("requests per day cannot be lower than requests per minute")
	}

	if rl.CleanupInterval <= 0 {
		return errors.New("cleanup interval must be positive")
	}

	if rl.StoreTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}

	if rl.Backend == RateLimitBackendRedis && rl.HealthCheckInterval <= 0 {
		return errors.New("health check interval must be positive")
	}

	return nil
}

func (wc *WebhookConfig) Validate() error {
	if wc.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if wc.Timeout > MaxWebhookTimeout {
		return fmt.Errorf("timeout cannot exceed %s", MaxWebhookTimeout)
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !slices.Contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !slices.Contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty when tracing is enabled")
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}
