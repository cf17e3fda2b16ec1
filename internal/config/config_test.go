package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "factbase.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 0.0, cfg.Propose.ReplaceConfidenceDelta, 0.0001)
	assert.Equal(t, 3, cfg.Propose.MaxConflictRetries)
	assert.True(t, cfg.Baseline.Enabled)
	assert.Equal(t, 60, cfg.Baseline.DebounceSecs)
	assert.Equal(t, "website_diagnostic", cfg.Baseline.DefaultImporter)
	assert.True(t, cfg.Health.Enabled)
	assert.Equal(t, 168, cfg.Health.StaleAfterHours)
	assert.Equal(t, "memory", cfg.Debounce.Driver)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.False(t, cfg.Monitor.Enabled)
	assert.Equal(t, 300, cfg.Monitor.CheckIntervalSecs)
	assert.False(t, cfg.Findings.AllowCrossField)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/factbase
log:
  level: debug
  format: console
baseline:
  enabled: false
  debounce_secs: 5
propose:
  replace_confidence_delta: 0.1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.False(t, cfg.Baseline.Enabled)
	assert.Equal(t, 5, cfg.Baseline.DebounceSecs)
	assert.InDelta(t, 0.1, cfg.Propose.ReplaceConfidenceDelta, 0.0001)
	// Defaults still apply for unset values
	assert.Equal(t, 168, cfg.Health.StaleAfterHours)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("FACTBASE_STORE_DRIVER", "postgres")
	t.Setenv("FACTBASE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "factbase.db"
	cfg.Debounce.Driver = "memory"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidate_MemoryStoreNeedsNoURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "memory"
	cfg.Store.DatabaseURL = ""
	assert.NoError(t, cfg.Validate("cli"))
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mongo"
	cfg.Debounce.Driver = "redis"
	cfg.Propose.ReplaceConfidenceDelta = 2
	cfg.Server.Port = 0
	cfg.Monitor.Enabled = true

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "debounce.redis_url")
	assert.Contains(t, err.Error(), "replace_confidence_delta")
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "monitoring.webhook_url")
}

func TestValidate_PortIgnoredOutsideServe(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	assert.NoError(t, cfg.Validate("cli"))
}
