package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Auth flow configuration
	Auth AuthConfig

	// Linking and retry policy. PolicyFile overrides it when set.
	Policy     Policy
	PolicyFile string

	// Janitor configuration
	Janitor JanitorConfig

	// Observability configuration
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
	RequestTimeout  time.Duration
	MaxBodyBytes    int64
	CORSOrigins     []string
}

// AuthConfig holds session and credential settings
type AuthConfig struct {
	// TokenSecret signs session tokens
	TokenSecret string
	BcryptCost  int

	// SessionUpdateAge is how old a session extension must be before the
	// next resolve slides the expiry again
	SessionUpdateAge time.Duration

	MagicLinkBaseURL string
	MagicLinkTTL     time.Duration

	// Anonymous identity creation rate limit per client IP
	AnonymousPerMinute int
	AnonymousBurst     int
}

// JanitorConfig holds maintenance job settings
type JanitorConfig struct {
	Schedule           string
	StrandedAfter      time.Duration
	RedirectRetention  time.Duration
	MagicLinkRetention time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
	OTelExportInterval time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	policy, err := loadPolicy()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Policy:        policy,
		PolicyFile:    getEnv("IDLINK_POLICY_FILE", ""),
		Janitor:       loadJanitorConfig(),
		Observability: loadObservabilityConfig(),
	}

	if cfg.PolicyFile != "" {
		if cfg.Policy, err = LoadPolicyFile(cfg.PolicyFile, cfg.Policy); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("IDLINK_HOST", "0.0.0.0"),
		Port:            getEnv("IDLINK_PORT", "8080"),
		ReadTimeout:     getEnvDuration("IDLINK_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("IDLINK_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("IDLINK_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("IDLINK_SHUTDOWN_TIMEOUT", 30*time.Second),
		RequestTimeout:  getEnvDuration("IDLINK_REQUEST_TIMEOUT", 25*time.Second),
		MaxBodyBytes:    getEnvInt64("IDLINK_MAX_BODY_BYTES", 1<<20),
		CORSOrigins:     getEnvList("IDLINK_CORS_ORIGINS"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if driver := getEnv("IDLINK_DB_DRIVER", ""); driver != "" {
		cfg.Driver = driver
	}
	if dsn := getEnv("IDLINK_DB_DSN", ""); dsn != "" {
		cfg.DSN = dsn
	}
	if maxConns := getEnvInt("IDLINK_DB_MAX_OPEN_CONNS", 0); maxConns > 0 {
		cfg.MaxOpenConns = maxConns
	}
	if idle := getEnvInt("IDLINK_DB_MAX_IDLE_CONNS", 0); idle > 0 {
		cfg.MaxIdleConns = idle
	}
	if lifetime := getEnvDuration("IDLINK_DB_CONN_MAX_LIFETIME", 0); lifetime > 0 {
		cfg.ConnMaxLifetime = lifetime
	}
	if timeout := getEnvDuration("IDLINK_DB_QUERY_TIMEOUT", 0); timeout > 0 {
		cfg.QueryTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("IDLINK_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("IDLINK_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("IDLINK_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("IDLINK_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("IDLINK_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	if cacheEnabled := getEnv("IDLINK_CACHE_ENABLED", ""); cacheEnabled != "" {
		cfg.CacheEnabled = strings.ToLower(cacheEnabled) == "true"
	}
	if ttl := getEnvDuration("IDLINK_SESSION_CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL["session"] = ttl
	}

	return cfg
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		TokenSecret:        getEnv("IDLINK_TOKEN_SECRET", ""),
		BcryptCost:         getEnvInt("IDLINK_BCRYPT_COST", 12),
		SessionUpdateAge:   getEnvDuration("IDLINK_SESSION_UPDATE_AGE", 24*time.Hour),
		MagicLinkBaseURL:   getEnv("IDLINK_MAGIC_LINK_BASE_URL", "http://localhost:8080/identity/magic-link/verify"),
		MagicLinkTTL:       getEnvDuration("IDLINK_MAGIC_LINK_TTL", 15*time.Minute),
		AnonymousPerMinute: getEnvInt("IDLINK_ANONYMOUS_PER_MINUTE", 30),
		AnonymousBurst:     getEnvInt("IDLINK_ANONYMOUS_BURST", 5),
	}
}

func loadJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Schedule:           getEnv("IDLINK_JANITOR_SCHEDULE", "@every 10m"),
		StrandedAfter:      getEnvDuration("IDLINK_JANITOR_STRANDED_AFTER", 10*time.Minute),
		RedirectRetention:  getEnvDuration("IDLINK_JANITOR_REDIRECT_RETENTION", 30*24*time.Hour),
		MagicLinkRetention: getEnvDuration("IDLINK_JANITOR_MAGIC_LINK_RETENTION", 24*time.Hour),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("IDLINK_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("IDLINK_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("IDLINK_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("IDLINK_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("IDLINK_OTEL_SERVICE_NAME", "idlink"),
		OTelServiceVersion: getEnv("IDLINK_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("IDLINK_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("IDLINK_OTEL_SAMPLE_RATIO", 1),
		OTelExportInterval: getEnvDuration("IDLINK_OTEL_EXPORT_INTERVAL", 10*time.Second),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Storage.Driver {
	case "sqlite", "sqlite3":
		if c.Storage.DSN == "" {
			return fmt.Errorf("DSN is required for sqlite storage")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("DSN is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage driver: %s (must be sqlite or postgres)", c.Storage.Driver)
	}

	if len(c.Auth.TokenSecret) < identity.MinSecretLength {
		return fmt.Errorf("IDLINK_TOKEN_SECRET must be at least %d bytes", identity.MinSecretLength)
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost must be between 4 and 31, got %d", c.Auth.BcryptCost)
	}
	if c.Auth.AnonymousPerMinute < 0 {
		return fmt.Errorf("anonymous rate limit cannot be negative")
	}

	if err := c.Policy.Validate(); err != nil {
		return err
	}

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

// getEnvList returns a comma-separated list, skipping blanks
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
