package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	APIBaseURL        string
	EndpointsFile     string
	ListenAddr        string
	TLSListenAddr     string
	FetchTimeout      time.Duration
	UpstreamRateLimit float64
	UpstreamBurst     int

	CacheRetention     time.Duration
	CachePurgeInterval time.Duration
	RefetchPolicy      string
	CacheTTL           time.Duration
	PollInterval       time.Duration

	RateLimit          int
	RateLimitWindow    time.Duration
	AccessLogRetention time.Duration

	LogLevel  string
	LogFormat string

	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     string
	PostgresDatabase string
	PostgresSSLMode  string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	OTelEnabled  bool
	OTelEndpoint string
	OTelInsecure bool
}

func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL:        getEnv("API_BASE_URL", "http://localhost:5000"),
		EndpointsFile:     getEnv("ENDPOINTS_FILE", ""),
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		TLSListenAddr:     getEnv("TLS_LISTEN_ADDR", ""),
		FetchTimeout:      getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		UpstreamRateLimit: getEnvFloat("UPSTREAM_RATE_LIMIT", 0),
		UpstreamBurst:     getEnvInt("UPSTREAM_BURST", 1),

		CacheRetention:     getEnvDuration("CACHE_RETENTION", 5*time.Minute),
		CachePurgeInterval: getEnvDuration("CACHE_PURGE_INTERVAL", 0),
		RefetchPolicy:      strings.ToLower(getEnv("REFETCH_POLICY", "default")),
		CacheTTL:           getEnvDuration("CACHE_TTL", time.Minute),
		PollInterval:       getEnvDuration("POLL_INTERVAL", 30*time.Second),

		RateLimit:          getEnvInt("RATE_LIMIT", 100),
		RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		AccessLogRetention: getEnvDuration("ACCESS_LOG_RETENTION", 7*24*time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		PostgresUser:     getEnv("POSTGRES_USER", "dashboard"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:     getEnv("POSTGRES_HOST", ""),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDatabase: getEnv("POSTGRES_DATABASE", "analytics_dashboard"),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3Region:    getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3AccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),

		OTelEnabled:  getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint: getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelInsecure: getEnvBool("OTEL_INSECURE", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.RefetchPolicy {
	case "default", "ttl", "polling":
	default:
		return fmt.Errorf("invalid REFETCH_POLICY %q: want default, ttl or polling", c.RefetchPolicy)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout)
	}
	if c.CacheRetention < 0 {
		return fmt.Errorf("CACHE_RETENTION must not be negative, got %s", c.CacheRetention)
	}
	if c.RefetchPolicy == "ttl" && c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive for the ttl policy, got %s", c.CacheTTL)
	}
	if c.RefetchPolicy == "polling" && c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive for the polling policy, got %s", c.PollInterval)
	}
	if c.UpstreamRateLimit < 0 {
		return fmt.Errorf("UPSTREAM_RATE_LIMIT must not be negative, got %g", c.UpstreamRateLimit)
	}
	return nil
}

// DatabaseEnabled reports whether access logs and export metadata are
// persisted.
func (c *Config) DatabaseEnabled() bool {
	return c.PostgresHost != ""
}

func (c *Config) ExportEnabled() bool {
	return c.S3Bucket != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
