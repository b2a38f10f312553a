package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelpkg/registry/pkg/manifest"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlags(t), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "sqlite", cfg.DBType)
	assert.Equal(t, MirrorGitHub, cfg.Mirror)
	assert.Equal(t, manifest.DefaultFileName, cfg.ManifestFile)
	assert.Equal(t, 5, cfg.IndexConcurrency)
	assert.Equal(t, 7, cfg.JobRetentionDays)
	assert.True(t, cfg.JobsEnabled)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.False(t, cfg.Mail().Enabled())

	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestLoadWithoutFlags(t *testing.T) {
	cfg, err := Load(nil, "")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("REGISTRY_DB_TYPE", "postgres")
	t.Setenv("REGISTRY_DB_DSN", "host=db user=registry")
	t.Setenv("REGISTRY_INDEX_CONCURRENCY", "2")
	t.Setenv("REGISTRY_SMTP_HOST", "smtp.example.com")
	t.Setenv("REGISTRY_SMTP_SENDER", "registry@example.com")
	t.Setenv("REGISTRY_GITHUB_PRIVATE", "true")

	cfg, err := Load(newFlags(t), "")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBType)
	assert.Equal(t, "host=db user=registry", cfg.Database().DSN)
	assert.Equal(t, 2, cfg.IndexConcurrency)
	assert.Equal(t, 2, cfg.Jobs().Concurrency)
	assert.True(t, cfg.GitHub().Private)
	assert.True(t, cfg.Mail().Enabled())
}

func TestLegacyConcurrencyVariable(t *testing.T) {
	t.Setenv("PACKAGE_INDEXING_CONCURRENCY", "8")

	cfg, err := Load(newFlags(t), "")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.IndexConcurrency)
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("REGISTRY_LISTEN", ":9000")
	t.Setenv("REGISTRY_INDEX_CONCURRENCY", "2")

	cfg, err := Load(newFlags(t, "--listen", ":7000"), "")
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, 2, cfg.IndexConcurrency)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mirror: local
mirror_root: /srv/mirror
mirror_base_url: https://cdn.example.com
index_concurrency: 3
`), 0o644))
	t.Setenv("REGISTRY_INDEX_CONCURRENCY", "4")

	cfg, err := Load(newFlags(t), path)
	require.NoError(t, err)

	assert.Equal(t, MirrorLocal, cfg.Mirror)
	assert.Equal(t, "/srv/mirror", cfg.MirrorRoot)
	assert.Equal(t, "https://cdn.example.com", cfg.MirrorBaseURL)
	assert.Equal(t, 4, cfg.IndexConcurrency)
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(newFlags(t), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"db type", []string{"--db-type", "oracle"}, "unsupported db_type"},
		{"mirror", []string{"--mirror", "gitlab"}, "unsupported mirror"},
		{"concurrency", []string{"--index-concurrency", "0"}, "index_concurrency"},
		{"retention", []string{"--job-retention-days", "-1"}, "job_retention_days"},
		{"log level", []string{"--log-level", "loud"}, "invalid log_level"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(newFlags(t, tc.args...), "")
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestDatabaseDefaultsSQLiteFile(t *testing.T) {
	cfg, err := Load(newFlags(t, "--workspace-dir", "/var/lib/indexer/workspaces"), "")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/indexer/registry.db", cfg.Database().DSN)
}
