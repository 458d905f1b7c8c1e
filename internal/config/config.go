// Package config provides configuration loading for etl-core services.
package config

import (
	"os"
	"strconv"
)

// WorkerConfig holds worker process configuration.
type WorkerConfig struct {
	// Postgres connection for the execution ledger and dispatch queue.
	DatabaseURL string

	// Object store settings. When MinioEndpoint is empty the worker falls
	// back to a local filesystem store (dev/tests).
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	MinioRegion    string

	// Temporal settings.
	TemporalAddress   string
	TemporalNamespace string
	TemporalTaskQueue string

	// Ledger rows expire this many days after their last write.
	LedgerRetentionDays int
}

// LoadWorkerConfig loads configuration from environment.
func LoadWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		MinioEndpoint:       getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey:      getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:      getEnv("MINIO_SECRET_KEY", ""),
		MinioUseSSL:         getEnv("MINIO_USE_SSL", "false") == "true",
		MinioRegion:         getEnv("MINIO_REGION", ""),
		TemporalAddress:     getEnv("TEMPORAL_ADDRESS", "127.0.0.1:7233"),
		TemporalNamespace:   getEnv("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue:   getEnv("ETL_TASK_QUEUE", "etl-core"),
		LedgerRetentionDays: getEnvInt("LEDGER_RETENTION_DAYS", 90),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
