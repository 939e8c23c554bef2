package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
poll_interval: 250ms
storage:
  backend: sqlite
  dir: /var/lib/devhistory
api:
  port: 9000
classification:
  rules:
    - class: DiskDrive
      category: storage
    - name: YubiKey
      category: security
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.EnrichDelay)
	assert.Equal(t, 3, cfg.EnrichAttempts)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/devhistory", cfg.Storage.Dir)
	assert.Equal(t, "127.0.0.1:9000", cfg.API.Addr())
	assert.Equal(t, "info", cfg.Logging.Level)
	require.Len(t, cfg.Classification.Rules, 2)
	assert.Equal(t, "YubiKey", cfg.Classification.Rules[1].Name)
}

func TestDefault(t *testing.T) {
	cfg := builtin()
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, BackendJSON, cfg.Storage.Backend)
	assert.Equal(t, "127.0.0.1:8470", cfg.API.Addr())
	assert.NotEmpty(t, cfg.Storage.Dir)
	assert.NoError(t, cfg.validate())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative interval", "poll_interval: -1s"},
		{"unknown backend", "storage:\n  backend: mongo"},
		{"port out of range", "api:\n  port: 70000"},
		{"rule without category", "classification:\n  rules:\n    - class: DiskDrive"},
		{"rule matching nothing", "classification:\n  rules:\n    - category: storage"},
		{"not yaml", "poll_interval: [1, 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DEVHISTORY_LOG_LEVEL": "debug",
		"DEVHISTORY_DATA_DIR":  "/tmp/dh",
		"DEVHISTORY_BACKEND":   "SQLite",
		"DEVHISTORY_API_PORT":  "8080",
		"DEVHISTORY_API_TOKEN": "s3cret",
	}
	cfg := builtin()
	require.NoError(t, cfg.applyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/dh", cfg.Storage.Dir)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "s3cret", cfg.API.AuthToken)

	env["DEVHISTORY_API_PORT"] = "eighty"
	assert.Error(t, cfg.applyEnv(func(k string) string { return env[k] }))
}

func builtin() *Config {
	cfg := defaultConfig
	cfg.applyDefaults()
	return &cfg
}
