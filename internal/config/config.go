package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	GatewayBaseURL      string
	GatewayClientID     string
	GatewayClientSecret string
	GatewayTimeout      time.Duration
	TokenSkew           time.Duration

	RedirectBaseURL string
	SessionTTL      time.Duration

	SettleRetryBase time.Duration
	SettleRetryMax  int
	SettleRetryJit  float64
	IdempotencyTTL  time.Duration
	RateLimitWindow time.Duration
	RateLimitMax    int

	EmailServiceURL    string
	NotifyEnabled      bool
	NotifyMaxAttempts  int
	NotifyTimeout      time.Duration
	QueueRedisPrefix   string
	QueueConcurrency   int
	QueueVisibility    time.Duration
	QueueBackoffBase   time.Duration
	QueueBackoffJitter float64
	LockTTL            time.Duration
	LockRetryBackoff   time.Duration

	CircuitNotifyMinReq      int
	CircuitNotifyFailureRate float64
	CircuitNotifyOpenFor     time.Duration

	DBMigrate bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		GatewayBaseURL:      strings.TrimRight(strings.TrimSpace(k.String("GATEWAY_BASE_URL")), "/"),
		GatewayClientID:     k.String("GATEWAY_CLIENT_ID"),
		GatewayClientSecret: k.String("GATEWAY_CLIENT_SECRET"),
		GatewayTimeout:      parseDuration(k.String("GATEWAY_TIMEOUT"), "5s"),
		TokenSkew:           parseDuration(k.String("GATEWAY_TOKEN_SKEW"), "30s"),

		RedirectBaseURL: strings.TrimRight(strings.TrimSpace(k.String("REDIRECT_BASE_URL")), "/"),
		SessionTTL:      parseDuration(k.String("PAYMENT_SESSION_TTL"), "30m"),

		SettleRetryBase: parseDuration(k.String("SETTLE_RETRY_BASE"), "200ms"),
		SettleRetryMax:  intOrDefault(k.Int("SETTLE_RETRY_MAX"), 3),
		SettleRetryJit:  floatOrDefault(k.Float64("SETTLE_RETRY_JITTER"), 0.2),
		IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimitWindow: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:    intOrDefault(k.Int("RATE_LIMIT_MAX"), 60),

		EmailServiceURL:    strings.TrimSpace(k.String("EMAIL_SERVICE_URL")),
		NotifyEnabled:      boolOrDefault(k.String("NOTIFY_ENABLED"), true),
		NotifyMaxAttempts:  intOrDefault(k.Int("NOTIFY_MAX_ATTEMPTS"), 6),
		NotifyTimeout:      parseDuration(k.String("NOTIFY_TIMEOUT"), "10s"),
		QueueRedisPrefix:   valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "payments"),
		QueueConcurrency:   intOrDefault(k.Int("QUEUE_CONCURRENCY"), 4),
		QueueVisibility:    parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "30s"),
		QueueBackoffBase:   parseDuration(k.String("QUEUE_BACKOFF_BASE"), "500ms"),
		QueueBackoffJitter: floatOrDefault(k.Float64("QUEUE_BACKOFF_JITTER"), 0.2),
		LockTTL:            parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff:   parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),

		CircuitNotifyMinReq:      intOrDefault(k.Int("CIRCUIT_NOTIFY_MIN_REQUESTS"), 5),
		CircuitNotifyFailureRate: floatOrDefault(k.Float64("CIRCUIT_NOTIFY_FAILURE_RATE"), 0.5),
		CircuitNotifyOpenFor:     parseDuration(k.String("CIRCUIT_NOTIFY_OPEN_FOR"), "30s"),

		DBMigrate: boolOrDefault(k.String("DB_MIGRATE"), false),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.GatewayBaseURL == "" {
		return nil, errors.New("GATEWAY_BASE_URL is required")
	}
	if cfg.GatewayClientID == "" || cfg.GatewayClientSecret == "" {
		return nil, errors.New("GATEWAY_CLIENT_ID and GATEWAY_CLIENT_SECRET are required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func intOrDefault(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func floatOrDefault(value, fallback float64) float64 {
	if value == 0 {
		return fallback
	}
	return value
}

func boolOrDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
