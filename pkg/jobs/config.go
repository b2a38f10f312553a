package jobs

import (
	"os"
	"strconv"
	"time"
)

// JobConfig controls submission queue behavior.
type JobConfig struct {
	Concurrency     int           // Max submissions processed at once. Default 5.
	RetentionDays   int           // How long to keep finished jobs. Default 7.
	CleanupInterval time.Duration // How often old jobs are purged. Default 1h.
	Enabled         bool          // Whether workers run. Default true.
}

// DefaultJobConfig returns the default job configuration.
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		Concurrency:     5,
		RetentionDays:   7,
		CleanupInterval: time.Hour,
		Enabled:         true,
	}
}

// JobConfigFromEnv loads config from environment variables.
// REGISTRY_INDEX_CONCURRENCY (PACKAGE_INDEXING_CONCURRENCY is accepted as a
// fallback), REGISTRY_JOB_RETENTION_DAYS, REGISTRY_JOB_CLEANUP_INTERVAL_SECONDS,
// REGISTRY_JOB_ENABLED
func JobConfigFromEnv() *JobConfig {
	cfg := DefaultJobConfig()

	for _, key := range []string{"PACKAGE_INDEXING_CONCURRENCY", "REGISTRY_INDEX_CONCURRENCY"} {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				cfg.Concurrency = n
			}
		}
	}

	if v := os.Getenv("REGISTRY_JOB_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RetentionDays = n
		}
	}

	if v := os.Getenv("REGISTRY_JOB_CLEANUP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CleanupInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("REGISTRY_JOB_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	return cfg
}
