package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 30*time.Second, cfg.Store.MaxTransactionDuration)
	assert.Equal(t, 100, cfg.Engine.MaxConcurrentWorkflows)
	assert.Equal(t, "rollback", cfg.Engine.RecoveryStrategy)
	assert.Equal(t, "@every 1m", cfg.Schedules.Heal)
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DAGFLOW_HTTP_PORT", "9000")
	t.Setenv("STORAGE_BACKEND", "file")
	t.Setenv("STORAGE_DIR", "/tmp/dagflow")
	t.Setenv("ENGINE_RECOVERY_STRATEGY", "manual")
	t.Setenv("ENGINE_NODE_TIMEOUT", "2s")
	t.Setenv("SCHEDULE_SNAPSHOT", "*/15 * * * *")
	t.Setenv("LLM_ACTORS", "security,quality")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.GetHTTPAddr())
	assert.Equal(t, "/tmp/dagflow", cfg.Storage.Dir)
	assert.Equal(t, "manual", cfg.Engine.RecoveryStrategy)
	assert.Equal(t, 2*time.Second, cfg.Engine.NodeTimeout)
	assert.Equal(t, []string{"security", "quality"}, cfg.LLM.Actors)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"bad port", map[string]string{"DAGFLOW_HTTP_PORT": "70000"}, "invalid HTTP port"},
		{"bad storage", map[string]string{"STORAGE_BACKEND": "s3"}, "unsupported storage backend"},
		{"bad events", map[string]string{"EVENTS_BACKEND": "kafka"}, "unsupported events backend"},
		{"bad strategy", map[string]string{"ENGINE_RECOVERY_STRATEGY": "retry"}, "invalid recovery strategy"},
		{"bad schedule", map[string]string{"SCHEDULE_HEAL": "sometimes"}, "invalid heal schedule"},
		{"bad log level", map[string]string{"LOG_LEVEL": "trace"}, "invalid log level"},
		{"bad provider", map[string]string{"LLM_API_KEY": "k", "LLM_PROVIDER": "other"}, "unsupported LLM provider"},
		{"zero concurrency", map[string]string{"ENGINE_MAX_CONCURRENT_WORKFLOWS": "0"}, "max concurrent workflows"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEmptyScheduleDisablesJob(t *testing.T) {
	t.Setenv("SCHEDULE_SNAPSHOT", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Schedules.Snapshot)
}
