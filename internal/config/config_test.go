package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/eqs/internal/core/spatial"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eqs.yaml")
	doc := `
server:
  listen_addr: 0.0.0.0:9000
  rate_limit:
    requests_per_second: 5
    burst: 5
    cleanup_interval: 1m
engine:
  default_cell_size: 0.5
  workers: 4
  default_bounds: {min: [-10, 0, -10], max: [10, 5, 10]}
log:
  level: debug
scenes: scenes.yaml
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	t.Setenv("EQS_LISTEN_ADDR", "127.0.0.1:7000")
	t.Setenv("EQS_WORKERS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.ListenAddr)
	assert.Equal(t, time.Minute, cfg.Server.RateLimit.CleanupInterval)
	assert.Equal(t, 5.0, cfg.Server.RateLimit.RequestsPerSecond)
	assert.Equal(t, 0.5, cfg.Engine.DefaultCellSize)
	assert.Equal(t, 2, cfg.Engine.Workers)
	require.NotNil(t, cfg.Engine.DefaultBounds)
	assert.Equal(t, spatial.V(10, 5, 10), cfg.Engine.DefaultBounds.Max)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "scenes.yaml", cfg.Scenes)
	assert.Equal(t, "json", cfg.Log.Encoding, "untouched fields keep defaults")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eqs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  cell_size: 2\n"), 0o600))
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestApplyEnvErrors(t *testing.T) {
	env := map[string]string{"EQS_WORKERS": "many", "EQS_CELL_SIZE": "x"}
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorContains(t, err, "EQS_WORKERS")
	assert.ErrorContains(t, err, "EQS_CELL_SIZE")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"no addr":    func(c *Config) { c.Server.ListenAddr = "" },
		"cell size":  func(c *Config) { c.Engine.DefaultCellSize = 0 },
		"workers":    func(c *Config) { c.Engine.Workers = 0 },
		"log level":  func(c *Config) { c.Log.Level = "loud" },
		"encoding":   func(c *Config) { c.Log.Encoding = "xml" },
		"rate limit": func(c *Config) { c.Server.RateLimit.Burst = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
