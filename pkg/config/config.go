package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agrinova/authd/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Cache         CacheConfig         `yaml:"cache"`
	Lockout       LockoutConfig       `yaml:"lockout"`
	Session       SessionConfig       `yaml:"session"`
	Redis         RedisConfig         `yaml:"redis"`
	Identity      IdentityConfig      `yaml:"identity"`
	Observability ObservabilityConfig `yaml:"observability"`

	// RolesFile replaces the built-in role catalog when set
	RolesFile string `yaml:"roles_file"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// Per-client request limit on the query API, 0 disables it
	RateLimit int `yaml:"rate_limit"`
	RateBurst int `yaml:"rate_burst"`
}

// CacheConfig holds permission cache settings
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// LockoutConfig holds failed-login lockout settings
type LockoutConfig struct {
	Threshold     int           `yaml:"threshold"`
	Duration      time.Duration `yaml:"duration"`
	FailureWindow time.Duration `yaml:"failure_window"`
	Backend       string        `yaml:"backend"` // memory or redis
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// SessionConfig holds session store settings
type SessionConfig struct {
	Broadcaster   string        `yaml:"broadcaster"` // local, redis, file or none
	SignalDir     string        `yaml:"signal_dir"`
	Persister     string        `yaml:"persister"` // none, file, postgres or sqlite
	PersistPath   string        `yaml:"persist_path"`
	DatabaseURL   string        `yaml:"database_url"`
	Slot          string        `yaml:"slot"`
	RefreshLeeway time.Duration `yaml:"refresh_leeway"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	Channel   string `yaml:"channel"`
}

// IdentityConfig holds identity server client settings
type IdentityConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"` // Use insecure gRPC connection
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
			RateLimit:       50,
			RateBurst:       20,
		},
		Cache: CacheConfig{
			TTL:        5 * time.Second,
			MaxEntries: 1000,
		},
		Lockout: LockoutConfig{
			Threshold:     5,
			Duration:      15 * time.Minute,
			FailureWindow: 15 * time.Minute,
			Backend:       "memory",
			SweepSchedule: "@every 1m",
		},
		Session: SessionConfig{
			Broadcaster:   "local",
			SignalDir:     "/var/run/authd",
			Persister:     "none",
			PersistPath:   "/var/lib/authd/session.json",
			Slot:          "default",
			RefreshLeeway: 60 * time.Second,
		},
		Redis: RedisConfig{
			KeyPrefix: "authd",
		},
		Identity: IdentityConfig{
			Timeout:   10 * time.Second,
			RateLimit: 5,
			Burst:     10,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "authd",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by AUTHD_CONFIG_FILE, then AUTHD_* environment variables
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("AUTHD_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the YAML file at path; keys it omits keep their values
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("AUTHD_HOST", s.Host)
	s.Port = getEnv("AUTHD_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("AUTHD_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("AUTHD_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("AUTHD_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("AUTHD_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.HealthPort = getEnv("AUTHD_HEALTH_PORT", s.HealthPort)
	s.RateLimit = getEnvInt("AUTHD_RATE_LIMIT", s.RateLimit)
	s.RateBurst = getEnvInt("AUTHD_RATE_BURST", s.RateBurst)

	c.Cache.TTL = getEnvDuration("AUTHD_CACHE_TTL", c.Cache.TTL)
	c.Cache.MaxEntries = getEnvInt("AUTHD_CACHE_MAX_ENTRIES", c.Cache.MaxEntries)

	l := &c.Lockout
	l.Threshold = getEnvInt("AUTHD_LOCKOUT_THRESHOLD", l.Threshold)
	l.Duration = getEnvDuration("AUTHD_LOCKOUT_DURATION", l.Duration)
	l.FailureWindow = getEnvDuration("AUTHD_LOCKOUT_WINDOW", l.FailureWindow)
	l.Backend = strings.ToLower(getEnv("AUTHD_LOCKOUT_BACKEND", l.Backend))
	l.SweepSchedule = getEnv("AUTHD_LOCKOUT_SWEEP_SCHEDULE", l.SweepSchedule)

	ss := &c.Session
	ss.Broadcaster = strings.ToLower(getEnv("AUTHD_SESSION_BROADCASTER", ss.Broadcaster))
	ss.SignalDir = getEnv("AUTHD_SESSION_SIGNAL_DIR", ss.SignalDir)
	ss.Persister = strings.ToLower(getEnv("AUTHD_SESSION_PERSISTER", ss.Persister))
	ss.PersistPath = getEnv("AUTHD_SESSION_PATH", ss.PersistPath)
	ss.DatabaseURL = getEnv("AUTHD_SESSION_DATABASE_URL", ss.DatabaseURL)
	ss.Slot = getEnv("AUTHD_SESSION_SLOT", ss.Slot)
	ss.RefreshLeeway = getEnvDuration("AUTHD_REFRESH_LEEWAY", ss.RefreshLeeway)

	r := &c.Redis
	r.URL = getEnv("AUTHD_REDIS_URL", r.URL)
	r.Password = getEnv("AUTHD_REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("AUTHD_REDIS_DB", r.DB)
	r.KeyPrefix = getEnv("AUTHD_REDIS_KEY_PREFIX", r.KeyPrefix)
	r.Channel = getEnv("AUTHD_REDIS_CHANNEL", r.Channel)

	id := &c.Identity
	id.BaseURL = getEnv("AUTHD_IDENTITY_URL", id.BaseURL)
	id.Timeout = getEnvDuration("AUTHD_IDENTITY_TIMEOUT", id.Timeout)
	id.RateLimit = getEnvFloat("AUTHD_IDENTITY_RATE_LIMIT", id.RateLimit)
	id.Burst = getEnvInt("AUTHD_IDENTITY_BURST", id.Burst)

	o := &c.Observability
	o.LogLevel = getEnv("AUTHD_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("AUTHD_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("AUTHD_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("AUTHD_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("AUTHD_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("AUTHD_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("AUTHD_OTEL_INSECURE", o.OTelInsecure)

	c.RolesFile = getEnv("AUTHD_ROLES_FILE", c.RolesFile)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive")
	}

	if c.Lockout.Threshold <= 0 {
		return fmt.Errorf("lockout threshold must be positive")
	}
	if c.Lockout.Duration <= 0 || c.Lockout.FailureWindow <= 0 {
		return fmt.Errorf("lockout duration and failure window must be positive")
	}
	switch c.Lockout.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for the redis lockout backend")
		}
	default:
		return fmt.Errorf("invalid lockout backend: %s (must be memory or redis)", c.Lockout.Backend)
	}

	switch c.Session.Broadcaster {
	case "none", "local":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for the redis session broadcaster")
		}
	case "file":
		if c.Session.SignalDir == "" {
			return fmt.Errorf("signal directory is required for the file session broadcaster")
		}
	default:
		return fmt.Errorf("invalid session broadcaster: %s (must be none, local, redis, or file)", c.Session.Broadcaster)
	}

	switch c.Session.Persister {
	case "none":
	case "file":
		if c.Session.PersistPath == "" {
			return fmt.Errorf("session path is required for the file persister")
		}
	case "postgres", "sqlite":
		if c.Session.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for the %s persister", c.Session.Persister)
		}
	default:
		return fmt.Errorf("invalid session persister: %s (must be none, file, postgres, or sqlite)", c.Session.Persister)
	}
	if c.Session.RefreshLeeway < 0 {
		return fmt.Errorf("refresh leeway must not be negative")
	}

	if c.Identity.BaseURL == "" {
		return fmt.Errorf("identity server URL is required")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
