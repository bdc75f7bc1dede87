package log

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"":        LevelInfo,
		"DEBUG":   LevelDebug,
		"warning": LevelWarn,
		"error":   LevelError,
		"off":     LevelSilent,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLoggerWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eqs.log")
	logger, err := NewWithOptions(Options{Level: LevelInfo, Output: []string{path}})
	require.NoError(t, err)

	ctx := ContextWithFields(context.Background(), String("query_id", "q-7"))
	l := logger.With(String("component", "coordinator")).WithContext(ctx)
	l.Debug("hidden")
	l.Info("query finished", Int("results", 3), Error(errors.New("none")))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"component":"coordinator"`)
	assert.Contains(t, out, `"query_id":"q-7"`)
	assert.Contains(t, out, `"results":3`)
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestSetLevelPropagates(t *testing.T) {
	logger := NewNop()
	child := logger.With(String("k", "v"))
	logger.SetLevel(LevelError)
	assert.Equal(t, LevelError, child.GetLevel())
}
