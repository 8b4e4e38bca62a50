package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/clinicauth/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Session       SessionConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// SessionToken is the bearer token the gateway presents on the session
	// endpoints. serve refuses to start without it.
	SessionToken string
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
	Timeout  time.Duration
}

// RedisConfig holds the denial notification sink settings. An empty URL
// disables the Redis sink.
type RedisConfig struct {
	URL           string
	ChannelPrefix string
}

// SessionConfig bounds authorization sessions
type SessionConfig struct {
	LoadTimeout time.Duration
	IdleTTL     time.Duration
	MaxSessions int
}

// AuditConfig holds activity log settings
type AuditConfig struct {
	Async bool

	// FilePath enables the JSONL mirror when set
	FilePath     string
	FileMaxSize  int64
	FileMaxFiles int

	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Session:       loadSessionConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CLINICAUTH_HOST", "0.0.0.0"),
		Port:            getEnv("CLINICAUTH_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CLINICAUTH_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CLINICAUTH_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CLINICAUTH_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CLINICAUTH_SHUTDOWN_TIMEOUT", 30*time.Second),
		SessionToken:    getEnv("CLINICAUTH_SESSION_TOKEN", ""),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:      getEnv("CLINICAUTH_DATABASE_URL", ""),
		MaxConns: getEnvInt("CLINICAUTH_DATABASE_MAX_CONNS", 10),
		MinConns: getEnvInt("CLINICAUTH_DATABASE_MIN_CONNS", 2),
		Timeout:  getEnvDuration("CLINICAUTH_DATABASE_TIMEOUT", 5*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:           getEnv("CLINICAUTH_REDIS_URL", ""),
		ChannelPrefix: getEnv("CLINICAUTH_REDIS_CHANNEL_PREFIX", "clinicauth:denials"),
	}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		LoadTimeout: getEnvDuration("CLINICAUTH_CONTEXT_LOAD_TIMEOUT", 10*time.Second),
		IdleTTL:     getEnvDuration("CLINICAUTH_SESSION_IDLE_TTL", 30*time.Minute),
		MaxSessions: getEnvInt("CLINICAUTH_MAX_SESSIONS", 10000),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Async:          getEnvBool("CLINICAUTH_AUDIT_ASYNC", false),
		FilePath:       getEnv("CLINICAUTH_AUDIT_FILE_PATH", ""),
		FileMaxSize:    getEnvInt64("CLINICAUTH_AUDIT_FILE_MAX_SIZE", 100*1024*1024),
		FileMaxFiles:   getEnvInt("CLINICAUTH_AUDIT_FILE_MAX_FILES", 10),
		S3Bucket:       getEnv("CLINICAUTH_AUDIT_S3_BUCKET", ""),
		S3Prefix:       getEnv("CLINICAUTH_AUDIT_S3_PREFIX", "activity"),
		S3Region:       getEnv("CLINICAUTH_AUDIT_S3_REGION", "us-east-1"),
		S3Endpoint:     getEnv("CLINICAUTH_AUDIT_S3_ENDPOINT", ""),
		S3AccessKey:    getEnv("CLINICAUTH_AUDIT_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("CLINICAUTH_AUDIT_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("CLINICAUTH_AUDIT_S3_USE_PATH_STYLE", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("CLINICAUTH_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CLINICAUTH_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CLINICAUTH_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CLINICAUTH_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CLINICAUTH_OTEL_SERVICE_NAME", "clinicauth"),
		OTelServiceVersion: getEnv("CLINICAUTH_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CLINICAUTH_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("CLINICAUTH_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid. The database URL is not
// required here; commands that need it check it themselves.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Session.LoadTimeout <= 0 {
		return fmt.Errorf("context load timeout must be positive")
	}
	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("max sessions must not be negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("database max conns (%d) must be at least min conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}
	if (c.Audit.S3AccessKey == "") != (c.Audit.S3SecretKey == "") {
		return fmt.Errorf("S3 access key and secret key must be set together")
	}
	if c.Audit.FilePath != "" && c.Audit.FileMaxFiles <= 0 {
		return fmt.Errorf("audit file max files must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1, got %v", r)
		}
	}

	return nil
}

// Addr returns the HTTP listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
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
