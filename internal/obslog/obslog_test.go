package obslog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewJSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: zapcore.InfoLevel, Console: true, Format: "json", Stdout: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("move_release", zap.String("move", "e7e5"))
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "move_release", rec["msg"])
	assert.Equal(t, "e7e5", rec["move"])
	assert.Equal(t, "info", rec["level"])
}

func TestNewLegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "limbot.log")
	logger, err := New(Options{Level: zapcore.DebugLevel, File: path, Format: "bogus"})
	require.NoError(t, err)
	logger.Debug("search_start")
	require.NoError(t, logger.Sync())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), " | DEBUG | ")
	assert.Contains(t, string(b), "search_start")
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_TO_CONSOLE", "false")
	t.Setenv("LOG_TO_FILE", "false")
	t.Setenv("LOG_FORMAT", "JSON")
	opts := OptionsFromEnv()
	assert.Equal(t, zapcore.WarnLevel, opts.Level)
	assert.False(t, opts.Console)
	assert.Empty(t, opts.File)
	assert.Equal(t, "json", opts.Format)

	t.Setenv("LOG_TO_FILE", "true")
	t.Setenv("LOG_FILE", "")
	assert.Equal(t, filepath.Join("logs", "limbot.log"), OptionsFromEnv().File)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel(" DEBUG "))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}
