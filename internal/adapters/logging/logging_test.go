package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/felixgeelhaar/replica-install/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_ImplementsInterface(_ *testing.T) {
	var _ ports.Logger = &ZapLogger{}
}

func TestZapLogger_FieldsReachCore(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	logger := NewFromCore(core)
	ctx := context.Background()

	logger.With(ports.F("run_id", "r-1")).Info(ctx, "step done", ports.F("step", "configure-ca"), ports.F("phase", 30))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "step done", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "r-1", fields["run_id"])
	assert.Equal(t, "configure-ca", fields["step"])
	assert.EqualValues(t, 30, fields["phase"])
}

func TestZapLogger_ConsoleLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := New(WithConsole(&buf))
	require.NoError(t, err)
	defer func() { _ = logger.Close() }()

	ctx := context.Background()
	assert.Equal(t, ports.LevelInfo, logger.Level())

	logger.Debug(ctx, "hidden")
	logger.Info(ctx, "shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	logger.SetLevel(ports.LevelDebug)
	assert.Equal(t, ports.LevelDebug, logger.Level())
	logger.Debug(ctx, "now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestZapLogger_LogFileReceivesDebug(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "install.log")
	var console bytes.Buffer
	logger, err := New(WithConsole(&console), WithLogFile(path), WithLevel(ports.LevelWarn))
	require.NoError(t, err)

	ctx := context.Background()
	logger.Debug(ctx, "detail", ports.F("step", "configure-directory"))
	logger.Warn(ctx, "careful")
	require.NoError(t, logger.Close())

	assert.NotContains(t, console.String(), "detail")
	assert.Contains(t, console.String(), "careful")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "detail", first["msg"])
	assert.Equal(t, "configure-directory", first["step"])
	assert.Equal(t, "debug", first["level"])
}

func TestZapLogger_LogFileDirectoryError(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := New(WithConsole(nil), WithLogFile(filepath.Join(blocker, "sub", "install.log")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log directory")
}

func TestLevelConversion(t *testing.T) {
	t.Parallel()

	for _, level := range []ports.Level{ports.LevelDebug, ports.LevelInfo, ports.LevelWarn, ports.LevelError} {
		assert.Equal(t, level, fromZapLevel(toZapLevel(level)), level.String())
	}
}

func TestNewNop(t *testing.T) {
	t.Parallel()

	l := NewNop()
	ctx := context.Background()
	l.Info(ctx, "dropped", ports.F("k", "v"))
	l.With(ports.F("step", "configure-ca")).Error(ctx, "dropped")

	assert.Equal(t, ports.LevelInfo, l.Level())
	l.SetLevel(ports.LevelDebug)
	assert.Equal(t, ports.LevelDebug, l.Level())
	require.NoError(t, l.Close())
}
