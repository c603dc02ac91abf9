// Package config provides configuration management for the ORCID workflows.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/bmkramer/academic-observatory-workflows/internal/storage"
)

// Config holds all configuration for the worker, server and CLI.
type Config struct {
	// Server settings
	Port string

	// Release store
	DatabaseURL    string
	MigrationsPath string

	// Warehouse
	WarehouseURL    string
	WarehouseSchema string

	// Temporal settings
	TemporalAddress   string
	TemporalNamespace string
	TemporalTaskQueue string

	// Working object storage
	StorageEndpoint  string
	StorageRegion    string
	StorageAccessKey string
	StorageSecretKey string
	StorageUseSSL    bool
	RecordsBucket    string
	TransformBucket  string

	// ORCID public summaries bucket. Transfers are skipped when the endpoint is empty.
	SourceEndpoint  string
	SourceRegion    string
	SourceAccessKey string
	SourceSecretKey string
	SourceBucket    string
	SourcePrefix    string

	// Pipeline
	DataDir         string
	MaxWorkers      int
	RegistryPath    string
	ActivityTimeout time.Duration

	// Search API
	SearchURL       string
	SearchUsername  string
	SearchPassword  string
	SearchAPIKey    string
	SearchRateLimit float64

	// Auth settings
	JWTSecret string
	AuthDebug bool
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is applied first without
// overriding variables that are already set.
func Load() *Config {
	_ = godotenv.Load()

	databaseURL := getEnv("DATABASE_URL", "")
	return &Config{
		Port: getEnv("API_PORT", "8080"),

		DatabaseURL:    databaseURL,
		MigrationsPath: getEnv("MIGRATIONS_PATH", "./migrations"),

		WarehouseURL:    getEnv("WAREHOUSE_URL", databaseURL),
		WarehouseSchema: getEnv("WAREHOUSE_SCHEMA", "orcid"),

		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalNamespace: getEnv("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue: getEnv("TEMPORAL_TASK_QUEUE", "orcid"),

		StorageEndpoint:  getEnv("STORAGE_ENDPOINT", "file:///tmp/orcid-object-store"),
		StorageRegion:    getEnv("STORAGE_REGION", "us-east-1"),
		StorageAccessKey: getEnv("STORAGE_ACCESS_KEY", ""),
		StorageSecretKey: getEnv("STORAGE_SECRET_KEY", ""),
		StorageUseSSL:    getEnvBool("STORAGE_USE_SSL", false),
		RecordsBucket:    getEnv("ORCID_RECORDS_BUCKET", "orcid-records"),
		TransformBucket:  getEnv("ORCID_TRANSFORM_BUCKET", "orcid-transform"),

		SourceEndpoint:  getEnv("ORCID_SOURCE_ENDPOINT", ""),
		SourceRegion:    getEnv("ORCID_SOURCE_REGION", "us-east-2"),
		SourceAccessKey: getEnv("ORCID_SOURCE_ACCESS_KEY", ""),
		SourceSecretKey: getEnv("ORCID_SOURCE_SECRET_KEY", ""),
		SourceBucket:    getEnv("ORCID_SOURCE_BUCKET", "v3.0-summaries"),
		SourcePrefix:    getEnv("ORCID_SOURCE_PREFIX", ""),

		DataDir:         getEnv("DATA_DIR", "/tmp/orcid-data"),
		MaxWorkers:      getEnvInt("MAX_WORKERS", 8),
		RegistryPath:    getEnv("WORKFLOWS_FILE", "./workflows.yaml"),
		ActivityTimeout: getEnvDuration("ACTIVITY_TIMEOUT", 6*time.Hour),

		SearchURL:       getEnv("ELASTIC_URL", "http://localhost:9200"),
		SearchUsername:  getEnv("ELASTIC_USERNAME", ""),
		SearchPassword:  getEnv("ELASTIC_PASSWORD", ""),
		SearchAPIKey:    getEnv("ELASTIC_API_KEY", ""),
		SearchRateLimit: getEnvFloat("ELASTIC_RATE_LIMIT", 20),

		JWTSecret: getEnv("API_JWT_SECRET", ""),
		AuthDebug: getEnvBool("API_AUTH_DEBUG", false),
	}
}

// Storage returns the working object storage settings.
func (c *Config) Storage() storage.Config {
	return storage.Config{
		EndpointURL:     c.StorageEndpoint,
		Region:          c.StorageRegion,
		UseSSL:          c.StorageUseSSL,
		AccessKeyID:     c.StorageAccessKey,
		SecretAccessKey: c.StorageSecretKey,
	}
}

// Source returns the ORCID summaries bucket settings; ok is false when no
// source is configured.
func (c *Config) Source() (cfg storage.Config, ok bool) {
	if c.SourceEndpoint == "" {
		return storage.Config{}, false
	}
	return storage.Config{
		EndpointURL:     c.SourceEndpoint,
		Region:          c.SourceRegion,
		UseSSL:          true,
		AccessKeyID:     c.SourceAccessKey,
		SecretAccessKey: c.SourceSecretKey,
	}, true
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
