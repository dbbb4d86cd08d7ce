package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/robert-malhotra/go-imaris/internal/config"
)

func TestSafeLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, safeLevel("DEBUG").Level())
	assert.Equal(t, zapcore.WarnLevel, safeLevel("warn").Level())
	assert.Equal(t, zapcore.InfoLevel, safeLevel("verbose").Level())
}

func TestNewStderr(t *testing.T) {
	l, err := New(config.LoggerConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.WarnLevel))
	assert.True(t, l.Core().Enabled(zapcore.ErrorLevel))
}

func TestNewFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "imstool.log")
	l, err := New(config.LoggerConfig{Level: "debug", Format: "json", File: p, MaxSize: 1})
	require.NoError(t, err)
	l.Debug("buffer created", zap.String("id", "abc"))
	require.NoError(t, l.Sync())

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"buffer created"`)
	assert.Contains(t, string(b), `"id":"abc"`)
}

func TestErrorStacktrace(t *testing.T) {
	p := filepath.Join(t.TempDir(), "imstool.log")
	l, err := New(config.LoggerConfig{Level: "info", Format: "json", File: p})
	require.NoError(t, err)
	l.Warn("block slow")
	l.Error("block failed")
	require.NoError(t, l.Sync())

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], `"stacktrace"`)
	assert.Contains(t, lines[1], `"stacktrace"`)
}
