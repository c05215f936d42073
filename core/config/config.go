package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"classroom.app/discussion/core/db"
)

type Config struct {
	OTel       OTelConfig
	Redis      RedisConfig
	API        APIClientConfig
	Transport  TransportConfig
	Comments   CommentsConfig
	Env        string
	Port       string
	AuthTokens string
	NodeID     int64
	DB         db.Config
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type RedisConfig struct {
	URL string
}

// APIClientConfig configures the comment REST client used by the watcher.
type APIClientConfig struct {
	BaseURL  string
	Token    string
	PageSize int
	Timeout  time.Duration
	RetryMax int
}

type TransportConfig struct {
	MinBackoff     time.Duration
	MaxBackoff     time.Duration
	ReceiveTimeout time.Duration
}

type CommentsConfig struct {
	MaxLength int
}

type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeWatch  ServiceType = "watch"
)

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files:
//   - .env.server for the reference comment API
//   - .env.watch for the discussion watcher
//
// Falls back to .env if service-specific file doesn't exist.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("DISCUSSION_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	cfg := Config{
		Env:        getEnv("DISCUSSION_ENV", "development"),
		Port:       getEnv("PORT", "8080"),
		AuthTokens: getEnv("AUTH_TOKENS", ""),
		NodeID:     int64(getEnvInt("SNOWFLAKE_NODE", 1)),
		DB: db.Config{
			DSN:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 10),
			MinConns: getEnvInt32("DB_MIN_CONNS", 2),

			AutoMigrate: getEnvBool("DB_AUTO_MIGRATE", true),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "discussion-"+string(serviceType)),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		API: APIClientConfig{
			BaseURL:  getEnv("API_BASE_URL", ""),
			Token:    getEnv("API_TOKEN", ""),
			PageSize: getEnvInt("PAGE_SIZE", 20),
			Timeout:  getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
			RetryMax: getEnvInt("HTTP_RETRY_MAX", 3),
		},
		Transport: TransportConfig{
			MinBackoff:     getEnvDuration("RECONNECT_MIN_BACKOFF", 500*time.Millisecond),
			MaxBackoff:     getEnvDuration("RECONNECT_MAX_BACKOFF", 30*time.Second),
			ReceiveTimeout: getEnvDuration("RECEIVE_TIMEOUT", 30*time.Second),
		},
		Comments: CommentsConfig{
			MaxLength: getEnvInt("COMMENT_MAX_LENGTH", 2000),
		},
	}

	if serviceType == ServiceTypeWatch && cfg.API.BaseURL == "" {
		return Config{}, fmt.Errorf("API_BASE_URL is required")
	}

	if cfg.API.PageSize <= 0 {
		return Config{}, fmt.Errorf("PAGE_SIZE must be positive, got %d", cfg.API.PageSize)
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
