package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshrpc/meshrpc-go/internal/config"
)

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "meshrpc.log")

	l, err := New(config.LoggingConfig{
		Level: "debug",
		File:  path,
	})
	require.NoError(t, err)
	defer l.Close()

	zl := l.Zerolog()
	zl.Info().Str("component", "test").Msg("hello")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"message":"hello"`)
	assert.Contains(t, string(raw), `"component":"test"`)
}

func TestNew_RedactionInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshrpc.log")

	l, err := New(config.LoggingConfig{
		Level:     "info",
		File:      path,
		Redaction: true,
	})
	require.NoError(t, err)
	defer l.Close()

	zl := l.Zerolog()
	zl.Info().Str("secret", "sk_cluster-1_abc123").Msg("registering")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk_cluster-1_abc123")
	assert.Contains(t, string(raw), "[REDACTED]")
}

func TestNew_LevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshrpc.log")

	l, err := New(config.LoggingConfig{
		Level: "warn",
		File:  path,
	})
	require.NoError(t, err)
	defer l.Close()

	zl := l.Zerolog()
	zl.Debug().Msg("too quiet")
	zl.Warn().Msg("loud enough")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "too quiet")
	assert.Contains(t, string(raw), "loud enough")
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshrpc.log")

	l, err := New(config.LoggingConfig{
		Level: "chatty",
		File:  path,
	})
	require.NoError(t, err)
	defer l.Close()

	zl := l.Zerolog()
	zl.Info().Msg("visible")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "visible")
}
