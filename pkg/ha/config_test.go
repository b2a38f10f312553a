package ha

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLockConfig(t *testing.T) {
	cfg := DefaultLockConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "registry-indexer-migration", cfg.Name)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, time.Second, cfg.RetryInterval)
	assert.Equal(t, 5*time.Minute, cfg.StaleAfter)
	assert.NotEmpty(t, cfg.Identity)
}

func TestLockConfigFromEnv(t *testing.T) {
	t.Setenv("REGISTRY_MIGRATION_LOCK_ENABLED", "false")
	t.Setenv("REGISTRY_MIGRATION_LOCK_NAME", "custom")
	t.Setenv("REGISTRY_MIGRATION_LOCK_TIMEOUT", "5")
	t.Setenv("HOSTNAME", "indexer-0")

	cfg := LockConfigFromEnv()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "custom", cfg.Name)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "indexer-0", cfg.Identity)
}

func TestLockConfigFromEnvIgnoresInvalidTimeout(t *testing.T) {
	t.Setenv("REGISTRY_MIGRATION_LOCK_TIMEOUT", "soon")

	cfg := LockConfigFromEnv()

	assert.Equal(t, 30*time.Second, cfg.Timeout)
}
