package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
	assert.Equal(t, StorageRedis, cfg.StorageBackend)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.LLM.Model)
	assert.Equal(t, 256, cfg.LLM.MaxTokens)
	assert.Equal(t, 10, cfg.Orchestrator.MaxIterations)
	assert.Equal(t, 3, cfg.Orchestrator.MaxRetries)
	assert.Equal(t, "@every 10m", cfg.Orchestrator.SweepSchedule)
	assert.Equal(t, 24*time.Hour, cfg.Orchestrator.SessionMaxAge)
	assert.Empty(t, cfg.Teams.Endpoints)
}

func TestLoadTeams(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "none")
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("TEAM_ENDPOINTS", "meeting_analysis=http://meetings:8000,email_triage=http://mail:8000")
	t.Setenv("TEAM_PROBE", "email_triage")
	t.Setenv("TEAM_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"meeting_analysis": "http://meetings:8000",
		"email_triage":     "http://mail:8000",
	}, cfg.Teams.Endpoints)
	assert.Equal(t, []string{"email_triage"}, cfg.Teams.Probe)
	assert.Equal(t, 5*time.Second, cfg.Teams.Timeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "missing api key",
			env:  map[string]string{},
			want: "LLM API key is required",
		},
		{
			name: "unknown provider",
			env:  map[string]string{"LLM_PROVIDER": "openai"},
			want: "unsupported LLM provider",
		},
		{
			name: "unknown backend",
			env:  map[string]string{"LLM_PROVIDER": "none", "STORAGE_BACKEND": "sqlite"},
			want: "unsupported storage backend",
		},
		{
			name: "bad log level",
			env:  map[string]string{"LLM_PROVIDER": "none", "LOG_LEVEL": "trace"},
			want: "invalid log level",
		},
		{
			name: "zero retries",
			env:  map[string]string{"LLM_PROVIDER": "none", "ORCHESTRATOR_MAX_RETRIES": "0"},
			want: "max retries",
		},
		{
			name: "probe without endpoint",
			env:  map[string]string{"LLM_PROVIDER": "none", "TEAM_PROBE": "email_triage"},
			want: "probe team email_triage has no endpoint",
		},
		{
			name: "malformed duration",
			env:  map[string]string{"LLM_PROVIDER": "none", "SESSION_MAX_AGE": "soon"},
			want: "failed to parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LLM_API_KEY", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
