// Package config handles loading and validation of application configuration
// from environment variables. Supports .env files via godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const devJWTSecret = "dev-secret-change-in-production"

// Config holds all application configuration
type Config struct {
	// Server settings
	Port        int
	Environment string // "development" | "staging" | "production"

	// Persistence
	StoreDriver string // "postgres" | "memory"
	DatabaseURL string
	DBMaxConns  int

	// Security
	JWTSecret      string
	AllowedOrigins []string
	RateLimitRPM   int

	// Redis (notification pub/sub and sweeper lock). Empty disables both.
	RedisURL string

	// Classifier
	ClassifierURL     string
	ClassifierTimeout time.Duration

	// Lifecycle
	DuplicateRadiusMeters  float64
	NearbyRadiusMeters     float64
	ResolutionRadiusMeters float64
	RequiredApprovals      int
	SweepInterval          time.Duration
	RejectedRetention      time.Duration

	// Image storage
	StorageDriver     string // "local" | "s3"
	UploadDir         string
	PublicBaseURL     string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// Notification fan-out
	NotifyWorkers   int
	NotifyQueueSize int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		Environment: getEnv("ENVIRONMENT", "development"),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 25),

		JWTSecret:      getEnv("JWT_SECRET", devJWTSecret),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"), ","),
		RateLimitRPM:   getEnvInt("RATE_LIMIT_RPM", 60),

		RedisURL: getEnv("REDIS_URL", ""),

		ClassifierURL:     getEnv("CLASSIFIER_URL", ""),
		ClassifierTimeout: time.Duration(getEnvInt("CLASSIFIER_TIMEOUT_SECONDS", 10)) * time.Second,

		DuplicateRadiusMeters:  getEnvFloat("DUPLICATE_RADIUS_METERS", 500),
		NearbyRadiusMeters:     getEnvFloat("NEARBY_RADIUS_METERS", 2000),
		ResolutionRadiusMeters: getEnvFloat("RESOLUTION_RADIUS_METERS", 500),
		RequiredApprovals:      getEnvInt("REQUIRED_APPROVALS", 2),
		SweepInterval:          time.Duration(getEnvInt("SWEEP_INTERVAL_MINUTES", 5)) * time.Minute,
		RejectedRetention:      time.Duration(getEnvInt("REJECTED_RETENTION_MINUTES", 30)) * time.Minute,

		StorageDriver:     strings.ToLower(getEnv("STORAGE_DRIVER", "local")),
		UploadDir:         getEnv("UPLOAD_DIR", "uploads/reports"),
		PublicBaseURL:     getEnv("PUBLIC_BASE_URL", ""),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),

		NotifyWorkers:   getEnvInt("NOTIFY_WORKERS", 4),
		NotifyQueueSize: getEnvInt("NOTIFY_QUEUE_SIZE", 256),
	}

	for i := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(cfg.AllowedOrigins[i])
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.StorageDriver {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_DRIVER=s3")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	if c.RequiredApprovals < 1 {
		return fmt.Errorf("REQUIRED_APPROVALS must be at least 1")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_MINUTES must be positive")
	}

	// Validate required fields in production
	if c.IsProduction() {
		if c.StoreDriver == "memory" {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed in production")
		}
		if c.JWTSecret == devJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}
	return nil
}

// IsProduction reports whether the server runs in production mode
func (c *Config) IsProduction() bool { return c.Environment == "production" }

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}
