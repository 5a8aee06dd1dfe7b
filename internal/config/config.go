package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Storage drivers
const (
	StorageDriverLocal = "local"
	StorageDriverS3    = "s3"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port        string
	Environment string
	AppURL      string

	// Database
	StoreDriver string
	DatabaseURL string

	// JWT
	JWTSecret string

	// Storage
	StorageDriver string
	StoragePath   string
	S3Bucket      string
	S3Region      string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	BlobTimeout   time.Duration

	// Background Workers
	WorkerCount         int
	ExpireSweepInterval time.Duration

	// Signing
	DefaultSigningDays int
	WkhtmltopdfEnabled bool

	// CORS
	AllowedOrigins []string

	// Proxies whose X-Forwarded-For is honored; empty trusts none
	TrustedProxies []string

	// Email (Resend)
	ResendAPIKey             string
	FromEmail                string
	EnableEmailNotifications bool
	NotifierTimeout          time.Duration

	// Sentry
	SentryDSN string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                     getEnv("PORT", "8080"),
		Environment:              getEnv("ENVIRONMENT", "development"),
		AppURL:                   strings.TrimRight(getEnv("APP_URL", "http://localhost:5173"), "/"),
		StoreDriver:              getEnv("STORE_DRIVER", StoreDriverPostgres),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		JWTSecret:                getEnv("JWT_SECRET", ""),
		StorageDriver:            getEnv("STORAGE_DRIVER", StorageDriverLocal),
		StoragePath:              getEnv("STORAGE_PATH", "./storage"),
		S3Bucket:                 getEnv("S3_BUCKET", ""),
		S3Region:                 getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:               getEnv("S3_ENDPOINT", ""),
		S3AccessKey:              getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:              getEnv("S3_SECRET_KEY", ""),
		BlobTimeout:              getEnvAsDuration("BLOB_TIMEOUT", 30*time.Second),
		WorkerCount:              getEnvAsInt("WORKER_COUNT", 5),
		ExpireSweepInterval:      getEnvAsDuration("EXPIRE_SWEEP_INTERVAL", 5*time.Minute),
		DefaultSigningDays:       getEnvAsInt("DEFAULT_SIGNING_DAYS", 30),
		WkhtmltopdfEnabled:       getEnvAsBool("WKHTMLTOPDF_ENABLED", false),
		AllowedOrigins:           getEnvAsSlice("ALLOWED_ORIGINS", []string{"*"}),
		TrustedProxies:           getEnvAsSlice("TRUSTED_PROXIES", nil),
		ResendAPIKey:             getEnv("RESEND_API_KEY", ""),
		FromEmail:                getEnv("FROM_EMAIL", "noreply@fintera.app"),
		EnableEmailNotifications: getEnvAsBool("ENABLE_EMAIL_NOTIFICATIONS", true),
		NotifierTimeout:          getEnvAsDuration("NOTIFIER_TIMEOUT", 10*time.Second),
		SentryDSN:                getEnv("SENTRY_DSN", ""),
	}

	// Validate required configuration
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.StorageDriver {
	case StorageDriverLocal:
	case StorageDriverS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET is required when STORAGE_DRIVER=s3")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if cfg.JWTSecret == "" && cfg.Environment == "production" {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}

	// Set default JWT secret for development
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret-change-in-production"
	}

	return cfg, nil
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads an environment variable as integer
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool reads an environment variable as boolean
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration reads an environment variable as duration ("30s", "5m")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// getEnvAsSlice reads an environment variable as comma-separated slice
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
