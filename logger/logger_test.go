package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesConsoleAndFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	var console bytes.Buffer
	closer := Init(Config{DataDir: dir, Stderr: &console})

	slog.Info("server starting", "port", 3001)
	slog.Debug("hidden at info level")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), `"msg":"server starting"`)
	assert.NotContains(t, console.String(), "hidden at info level")

	data, err := os.ReadFile(filepath.Join(dir, "logs", "server.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"port":3001`)
}

func TestInit_DevModeUsesTextAtDebug(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var console bytes.Buffer
	closer := Init(Config{DevMode: true, Stderr: &console})
	defer closer.Close()

	slog.Debug("details", "key", "value")

	assert.Contains(t, console.String(), "level=DEBUG")
	assert.Contains(t, console.String(), "key=value")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		devMode bool
		want    slog.Level
	}{
		{"debug", false, slog.LevelDebug},
		{"INFO", false, slog.LevelInfo},
		{"warning", false, slog.LevelWarn},
		{"error", false, slog.LevelError},
		{"", false, slog.LevelInfo},
		{"", true, slog.LevelDebug},
		{"verbose", true, slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.name, tt.devMode), "ParseLevel(%q, %v)", tt.name, tt.devMode)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "日本...", Truncate("日本語です", 2))
}
