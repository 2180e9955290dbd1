package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "/ws", cfg.Server.WSPath)
	assert.Equal(t, 500*time.Millisecond, cfg.Panel.PollInterval)
	assert.Equal(t, 30, cfg.Panel.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.Panel.LogPollInterval)
	assert.Equal(t, "devices.log", cfg.Panel.LogFile)
	assert.Equal(t, "pt", cfg.Panel.FallbackLocale)
	assert.Equal(t, "settings.yaml", cfg.Server.SettingsFile)
	assert.Equal(t, "http://localhost:8080/form", cfg.Panel.FormURL)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: 9000
panel:
  max_attempts: 10
  scan_policy: forward
log:
  format: json
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/ws", cfg.Server.WSPath)
	assert.Equal(t, 10, cfg.Panel.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Panel.PollInterval)
	assert.Equal(t, "forward", cfg.Panel.ScanPolicy)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("panel:\n  scan_policy: sideways\n"), 0o644))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "scan_policy")

	require.NoError(t, os.WriteFile(path, []byte("panel:\n  max_attempts: 0\n"), 0o644))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "max_attempts")

	tests := []struct {
		yaml  string
		field string
	}{
		{"instrument:\n  buffer_size: 0\n", "buffer_size"},
		{"instrument:\n  buffer_size: -1\n", "buffer_size"},
		{"instrument:\n  max_connections: 0\n", "max_connections"},
		{"instrument:\n  port: 70000\n", "instrument.port"},
	}
	for _, tt := range tests {
		require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))
		_, err = LoadConfig(path)
		assert.ErrorContains(t, err, tt.field, tt.yaml)
	}
}
