package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"mesh": {"broker": "tcp://localhost:1883", "topic_prefix": "fleet"},
		"store": {"path": ":memory:"},
		"dispatch": {"base": {"lat": 44.38, "lon": -79.70}, "queue_size": 100},
		"outbound": {"retry_interval_seconds": 30, "max_attempts": 4},
		"tracker": {"offline_timeout_seconds": 120, "sweep_interval_seconds": 15}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tcp://localhost:1883", cfg.Mesh.Broker)
	assert.Equal(t, "fleet", cfg.Mesh.TopicPrefix)
	assert.Equal(t, ":memory:", cfg.Store.Path)
	assert.Equal(t, 100, cfg.Dispatch.QueueSize)
	assert.Equal(t, 30, cfg.Outbound.RetryIntervalSeconds)
	assert.Equal(t, 4, cfg.Outbound.MaxAttempts)
	assert.Equal(t, 120, cfg.Tracker.OfflineTimeoutSeconds)
}

func TestLoadYAMLWithDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
mesh:
  broker: tcp://localhost:1883
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mesh", cfg.Mesh.TopicPrefix)
	assert.Equal(t, 500, cfg.Dispatch.QueueSize)
	assert.Equal(t, 45, cfg.Outbound.RetryIntervalSeconds)
	assert.Equal(t, 5, cfg.Outbound.MaxAttempts)
	assert.Equal(t, 300, cfg.Tracker.OfflineTimeoutSeconds)
	assert.Equal(t, float64(50), cfg.Dispatch.ArrivalThresholdM)
	assert.Equal(t, "dispatch.db", cfg.Store.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadLogSection(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
mesh:
  broker: tcp://localhost:1883
log:
  level: debug
  format: console
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
mesh:
  broker: tcp://localhost:1883
`)
	t.Setenv("K_MESH__TOPIC_PREFIX", "override")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "override", cfg.Mesh.TopicPrefix)
}

func TestLoadRejectsMissingBroker(t *testing.T) {
	path := writeConfig(t, "config.json", `{}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeConfig(t, "config.toml", `broker = "x"`)
	_, err := Load(path)
	require.Error(t, err)
}
