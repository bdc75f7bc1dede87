package injector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/eqs/internal/config"
	"github.com/zeusync/eqs/internal/core/eqs"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Log.Level = "silent"
	return cfg
}

func TestInitializeApp(t *testing.T) {
	app, cleanup, err := InitializeApp(testConfig())
	require.NoError(t, err)
	defer cleanup()

	sum, err := app.Service.InitializeEnvironment(context.Background(), eqs.DefaultInitRequest())
	require.NoError(t, err)
	assert.Equal(t, "default", sum.SceneID)
	assert.Equal(t, 100*10*100, sum.TotalCells)
}

func TestInitializeAppBadSceneFile(t *testing.T) {
	cfg := testConfig()
	cfg.Scenes = filepath.Join(t.TempDir(), "missing.yaml")
	_, _, err := InitializeApp(cfg)
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.InitOnStart = true
	scenes := filepath.Join(t.TempDir(), "scenes.yaml")
	require.NoError(t, os.WriteFile(scenes, []byte("scenes:\n  - id: yard\n    objects:\n      - id: box\n        bounds: {min: [0, 0, 0], max: [4, 2, 4]}\n"), 0o600))
	cfg.Scenes = scenes

	app, cleanup, err := InitializeApp(cfg)
	require.NoError(t, err)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return app.Server.GetStats().Running }, 2*time.Second, 10*time.Millisecond)
	sum, ok := app.Service.Environment()
	require.True(t, ok)
	assert.Equal(t, "yard", sum.SceneID)

	cancel()
	select {
	case err = <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
