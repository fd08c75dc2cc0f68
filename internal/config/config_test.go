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

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 10, cfg.Optimization.WorkerCount)
	assert.Equal(t, 1000, cfg.Optimization.MaxIterations)
	assert.Equal(t, 4, cfg.Optimization.MaxJobs)
	assert.Equal(t, time.Hour, cfg.Optimization.JobRetention)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("OPT_WORKER_COUNT", "2")
	t.Setenv("OPT_MAX_ITERATIONS", "250")
	t.Setenv("OPT_EVALUATION_TIMEOUT", "3s")
	t.Setenv("OPT_SEED", "17")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "info", cfg.Logging.Level)

	run := cfg.RunDefaults()
	assert.Equal(t, 250, run.MaxIterations)
	assert.Equal(t, 3*time.Second, run.EvaluationTimeout)
	assert.Equal(t, int64(17), run.Seed)
	assert.Equal(t, 15, run.MaxUnchangedIterations)
	require.NoError(t, run.Validate())
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"HTTP_PORT", "0"},
		{"HTTP_PORT", "not-a-number"},
		{"OPT_WORKER_COUNT", "-1"},
		{"OPT_MAX_ITERATIONS", "-5"},
		{"OPT_EVALUATION_TIMEOUT", "-1s"},
		{"OPT_MAX_JOBS", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
