package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ShutdownScheduler, cfg.ShutdownStrategy)
	assert.Equal(t, 5*time.Second, cfg.ShutdownGracePeriod)
	assert.Equal(t, 5*time.Second, cfg.BindTimeout)
	assert.Equal(t, 100, cfg.HistoryCapacity)
	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, cfg.Metrics)
	assert.IsType(t, &LoggerSink{}, cfg.Sink)
	assert.Nil(t, cfg.Host)
}

// TestParseConfig verifies YAML fields, durations and env interpolation
func TestParseConfig(t *testing.T) {
	t.Setenv("AFFINITY_WORKERS", "8")

	cfg, err := ParseConfig([]byte(`
worker_count: ${AFFINITY_WORKERS}
shutdown_strategy: manual
shutdown_grace_period: 250ms
bind_timeout: 2s
history_capacity: 16
`))

	require.NoError(t, err)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, ShutdownManual, cfg.ShutdownStrategy)
	assert.Equal(t, 250*time.Millisecond, cfg.ShutdownGracePeriod)
	assert.Equal(t, 2*time.Second, cfg.BindTimeout)
	assert.Equal(t, 16, cfg.HistoryCapacity)
	assert.NotNil(t, cfg.Sink)
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "unknown strategy", yaml: "shutdown_strategy: eventually", want: "invalid shutdown_strategy"},
		{name: "negative grace", yaml: "shutdown_grace_period: -1s", want: "shutdown_grace_period"},
		{name: "negative bind timeout", yaml: "bind_timeout: -5ms", want: "bind_timeout"},
		{name: "bad duration", yaml: "bind_timeout: soon", want: "failed to parse config"},
		{name: "bad yaml", yaml: "worker_count: [", want: "failed to parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "affinity.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker_count: 3\n"), 0o600))

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, 3, cfg.WorkerCount)
	assert.Equal(t, ShutdownScheduler, cfg.ShutdownStrategy)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.ErrorContains(t, err, "failed to read config")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
