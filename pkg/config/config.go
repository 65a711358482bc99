package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paddleraise/authcore/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Token         TokenConfig
	Password      PasswordConfig
	RateLimit     RateLimitConfig
	Janitor       JanitorConfig
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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// PostgresConfig holds persistent store configuration
type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
	QueryTimeout time.Duration
}

// RedisConfig holds cache store configuration
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	OpTimeout  time.Duration
}

// TokenConfig holds JWT issuance/verification settings
type TokenConfig struct {
	// Secret signs HS256 tokens; required, min 32 bytes
	Secret          string
	Issuer          string
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
	ClockSkew       time.Duration
}

// PasswordConfig holds password hashing and single-use token lifetimes
type PasswordConfig struct {
	BcryptCost          int
	ResetTokenLifetime  time.Duration
	VerifyTokenLifetime time.Duration
}

// RateLimitPolicy describes one sliding window
type RateLimitPolicy struct {
	Max    int
	Window time.Duration
}

// RateLimitConfig holds the per-endpoint-class rate limit policies
type RateLimitConfig struct {
	Enabled       bool
	Register      RateLimitPolicy
	Login         RateLimitPolicy
	PasswordReset RateLimitPolicy
	EmailVerify   RateLimitPolicy
}

// JanitorConfig holds the session cleanup schedule
type JanitorConfig struct {
	Enabled  bool
	Schedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Postgres:      loadPostgresConfig(),
		Redis:         loadRedisConfig(),
		Token:         loadTokenConfig(),
		Password:      loadPasswordConfig(),
		RateLimit:     loadRateLimitConfig(),
		Janitor:       loadJanitorConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("AUTHCORE_HOST", "0.0.0.0"),
		Port:            getEnv("AUTHCORE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("AUTHCORE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("AUTHCORE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("AUTHCORE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("AUTHCORE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("AUTHCORE_HEALTH_PORT", "9090"),
	}
}

func loadPostgresConfig() PostgresConfig {
	return PostgresConfig{
		URL:          getEnv("AUTHCORE_POSTGRES_URL", ""),
		MaxOpenConns: getEnvInt("AUTHCORE_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns: getEnvInt("AUTHCORE_POSTGRES_IDLE_CONNS", 5),
		ConnLifetime: getEnvDuration("AUTHCORE_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		QueryTimeout: getEnvDuration("AUTHCORE_POSTGRES_TIMEOUT", 5*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("AUTHCORE_REDIS_URL", "localhost:6379"),
		Password:   getEnv("AUTHCORE_REDIS_PASSWORD", ""),
		DB:         getEnvInt("AUTHCORE_REDIS_DB", 0),
		PoolSize:   getEnvInt("AUTHCORE_REDIS_POOL_SIZE", 10),
		MaxRetries: getEnvInt("AUTHCORE_REDIS_MAX_RETRIES", 3),
		OpTimeout:  getEnvDuration("AUTHCORE_REDIS_TIMEOUT", 3*time.Second),
	}
}

func loadTokenConfig() TokenConfig {
	return TokenConfig{
		Secret:          getEnv("AUTHCORE_TOKEN_SECRET", ""),
		Issuer:          getEnv("AUTHCORE_TOKEN_ISSUER", "authcore"),
		AccessLifetime:  getEnvDuration("AUTHCORE_ACCESS_TOKEN_LIFETIME", 15*time.Minute),
		RefreshLifetime: getEnvDuration("AUTHCORE_REFRESH_TOKEN_LIFETIME", 7*24*time.Hour),
		ClockSkew:       getEnvDuration("AUTHCORE_TOKEN_CLOCK_SKEW", 30*time.Second),
	}
}

func loadPasswordConfig() PasswordConfig {
	return PasswordConfig{
		BcryptCost:          getEnvInt("AUTHCORE_BCRYPT_COST", 12),
		ResetTokenLifetime:  getEnvDuration("AUTHCORE_RESET_TOKEN_LIFETIME", time.Hour),
		VerifyTokenLifetime: getEnvDuration("AUTHCORE_VERIFY_TOKEN_LIFETIME", 24*time.Hour),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled: getEnvBool("AUTHCORE_RATELIMIT_ENABLED", true),
		Register: RateLimitPolicy{
			Max:    getEnvInt("AUTHCORE_RATELIMIT_REGISTER_MAX", 100),
			Window: getEnvDuration("AUTHCORE_RATELIMIT_REGISTER_WINDOW", time.Minute),
		},
		Login: RateLimitPolicy{
			Max:    getEnvInt("AUTHCORE_RATELIMIT_LOGIN_MAX", 5),
			Window: getEnvDuration("AUTHCORE_RATELIMIT_LOGIN_WINDOW", 15*time.Minute),
		},
		PasswordReset: RateLimitPolicy{
			Max:    getEnvInt("AUTHCORE_RATELIMIT_RESET_MAX", 2),
			Window: getEnvDuration("AUTHCORE_RATELIMIT_RESET_WINDOW", time.Hour),
		},
		EmailVerify: RateLimitPolicy{
			Max:    getEnvInt("AUTHCORE_RATELIMIT_VERIFY_MAX", 2),
			Window: getEnvDuration("AUTHCORE_RATELIMIT_VERIFY_WINDOW", time.Hour),
		},
	}
}

func loadJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Enabled:  getEnvBool("AUTHCORE_JANITOR_ENABLED", true),
		Schedule: getEnv("AUTHCORE_JANITOR_SCHEDULE", "@every 1h"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("AUTHCORE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("AUTHCORE_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}

	if c.Token.Secret == "" {
		return fmt.Errorf("token secret is required")
	}
	if len(c.Token.Secret) < 32 {
		return fmt.Errorf("token secret must be at least 32 bytes")
	}
	if c.Token.AccessLifetime <= 0 || c.Token.RefreshLifetime <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.Token.AccessLifetime >= c.Token.RefreshLifetime {
		return fmt.Errorf("access token lifetime must be shorter than refresh token lifetime")
	}

	if c.Password.BcryptCost < 10 || c.Password.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost must be between 10 and 31")
	}

	for name, p := range map[string]RateLimitPolicy{
		"register":       c.RateLimit.Register,
		"login":          c.RateLimit.Login,
		"password-reset": c.RateLimit.PasswordReset,
		"email-verify":   c.RateLimit.EmailVerify,
	} {
		if p.Max <= 0 || p.Window <= 0 {
			return fmt.Errorf("rate limit policy %s must have positive max and window", name)
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
