package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment          string
	HTTPPort             string
	ShutdownTimeout      time.Duration
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	ServiceName          string
	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	InternalAPISecret    string
	SessionTokenTTL      time.Duration
	AuthorizationCodeTTL time.Duration
	VerificationTokenTTL time.Duration
	TokenRotationWindow  time.Duration
	VerifyCacheWindow    time.Duration
	ReverifyHorizon      time.Duration
	WebhookTimeout       time.Duration
	WebhookMaxAttempts   int
	WebhookBaseBackoff   time.Duration
	WebhookMaxBackoff    time.Duration
	RetryWorkerInterval  time.Duration
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	internalSecret := strings.TrimSpace(os.Getenv("INTERNAL_API_SECRET"))
	if internalSecret == "" {
		return Config{}, fmt.Errorf("INTERNAL_API_SECRET is required")
	}

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		ShutdownTimeout:      getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		ServiceName:          getEnv("SERVICE_NAME", "onesub-vendor-gateway"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		InternalAPISecret:    internalSecret,
		SessionTokenTTL:      getDuration("SESSION_TOKEN_TTL", time.Hour),
		AuthorizationCodeTTL: getDuration("AUTHORIZATION_CODE_TTL", 60*time.Second),
		VerificationTokenTTL: getDuration("VERIFICATION_TOKEN_TTL", 24*time.Hour),
		TokenRotationWindow:  getDuration("TOKEN_ROTATION_WINDOW", time.Hour),
		VerifyCacheWindow:    getDuration("VERIFY_CACHE_WINDOW", 5*time.Minute),
		ReverifyHorizon:      getDuration("REVERIFY_HORIZON", 6*time.Hour),
		WebhookTimeout:       getDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		WebhookMaxAttempts:   getInt("WEBHOOK_MAX_ATTEMPTS", 5),
		WebhookBaseBackoff:   getDuration("WEBHOOK_BASE_BACKOFF", 30*time.Second),
		WebhookMaxBackoff:    getDuration("WEBHOOK_MAX_BACKOFF", 5*time.Minute),
		RetryWorkerInterval:  getDuration("WEBHOOK_RETRY_INTERVAL", 15*time.Second),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.ReverifyHorizon <= cfg.VerifyCacheWindow {
		return Config{}, fmt.Errorf("REVERIFY_HORIZON must exceed VERIFY_CACHE_WINDOW")
	}

	if cfg.WebhookMaxAttempts < 1 {
		cfg.WebhookMaxAttempts = 1
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
