// Package ha lets several indexer replicas share one database: schema
// migrations run under a cross-process lock.
package ha

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LockConfig holds configuration for the migration lock.
type LockConfig struct {
	// Enabled controls whether migrations are serialized. When false
	// WithLock simply runs the migration.
	Enabled bool

	// Name identifies the lock. Replicas must agree on it; it is hashed into
	// the PostgreSQL advisory lock key and used as the fallback lock row id.
	Name string

	// Timeout bounds how long the table-based fallback waits for the lock.
	Timeout time.Duration

	// RetryInterval is the pause between fallback acquisition attempts.
	RetryInterval time.Duration

	// StaleAfter is the age after which a fallback lock row left behind by
	// a crashed holder is removed.
	StaleAfter time.Duration

	// Identity is recorded as the fallback lock holder. Defaults to the
	// hostname.
	Identity string
}

// DefaultLockConfig returns a LockConfig with sensible defaults.
func DefaultLockConfig() *LockConfig {
	return &LockConfig{
		Enabled:       true,
		Name:          "registry-indexer-migration",
		Timeout:       30 * time.Second,
		RetryInterval: time.Second,
		StaleAfter:    5 * time.Minute,
		Identity:      defaultIdentity(),
	}
}

// LockConfigFromEnv reads lock configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - REGISTRY_MIGRATION_LOCK_ENABLED: "true" or "false" (default: "true")
//   - REGISTRY_MIGRATION_LOCK_NAME: lock name (default: "registry-indexer-migration")
//   - REGISTRY_MIGRATION_LOCK_TIMEOUT: seconds (default: 30)
//   - HOSTNAME: holder identity
func LockConfigFromEnv() *LockConfig {
	cfg := DefaultLockConfig()

	if v := os.Getenv("REGISTRY_MIGRATION_LOCK_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("REGISTRY_MIGRATION_LOCK_NAME"); v != "" {
		cfg.Name = v
	}
	if v := os.Getenv("REGISTRY_MIGRATION_LOCK_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Timeout = time.Duration(secs) * time.Second
		}
	}

	return cfg
}

func defaultIdentity() string {
	if v := os.Getenv("HOSTNAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
