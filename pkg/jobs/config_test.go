package jobs

import (
	"testing"
	"time"
)

func TestDefaultJobConfig(t *testing.T) {
	cfg := DefaultJobConfig()

	if cfg.Concurrency != 5 {
		t.Errorf("expected Concurrency 5, got %d", cfg.Concurrency)
	}
	if cfg.RetentionDays != 7 {
		t.Errorf("expected RetentionDays 7, got %d", cfg.RetentionDays)
	}
	if cfg.CleanupInterval != time.Hour {
		t.Errorf("expected CleanupInterval 1h, got %v", cfg.CleanupInterval)
	}
	if !cfg.Enabled {
		t.Error("expected Enabled to be true")
	}
}

func TestJobConfigFromEnv(t *testing.T) {
	tests := []struct {
		name            string
		envs            map[string]string
		wantConcurrency int
		wantRetention   int
		wantEnabled     bool
	}{
		{
			name:            "defaults",
			envs:            map[string]string{},
			wantConcurrency: 5,
			wantRetention:   7,
			wantEnabled:     true,
		},
		{
			name: "custom values",
			envs: map[string]string{
				"REGISTRY_INDEX_CONCURRENCY":  "2",
				"REGISTRY_JOB_RETENTION_DAYS": "0",
				"REGISTRY_JOB_ENABLED":        "false",
			},
			wantConcurrency: 2,
			wantRetention:   0,
			wantEnabled:     false,
		},
		{
			name: "legacy concurrency variable",
			envs: map[string]string{
				"PACKAGE_INDEXING_CONCURRENCY": "9",
			},
			wantConcurrency: 9,
			wantRetention:   7,
			wantEnabled:     true,
		},
		{
			name: "registry variable wins over legacy",
			envs: map[string]string{
				"PACKAGE_INDEXING_CONCURRENCY": "9",
				"REGISTRY_INDEX_CONCURRENCY":   "3",
			},
			wantConcurrency: 3,
			wantRetention:   7,
			wantEnabled:     true,
		},
		{
			name: "invalid concurrency falls back to default",
			envs: map[string]string{
				"REGISTRY_INDEX_CONCURRENCY": "invalid",
			},
			wantConcurrency: 5,
			wantRetention:   7,
			wantEnabled:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envs {
				t.Setenv(k, v)
			}

			cfg := JobConfigFromEnv()

			if cfg.Concurrency != tt.wantConcurrency {
				t.Errorf("Concurrency = %d, want %d", cfg.Concurrency, tt.wantConcurrency)
			}
			if cfg.RetentionDays != tt.wantRetention {
				t.Errorf("RetentionDays = %d, want %d", cfg.RetentionDays, tt.wantRetention)
			}
			if cfg.Enabled != tt.wantEnabled {
				t.Errorf("Enabled = %v, want %v", cfg.Enabled, tt.wantEnabled)
			}
		})
	}
}
