package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestNewLoggerConsoleOnly(t *testing.T) {
	logger, err := NewLogger(Config{
		Level:   "info",
		Console: ConsoleConfig{Enabled: true},
	})
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewLoggerFileOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Dir = filepath.Join(dir, "logs")
	cfg.Console.Enabled = false
	cfg.File.Enabled = true

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Info("pipeline started", "channel", "cam1")
	require.NoError(t, Shutdown())

	assert.FileExists(t, filepath.Join(cfg.Dir, "vidbot.log"))
}

func TestLevelFloorDropsBelowMin(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	h := newLevelFloor(inner, slog.LevelWarn)

	logger := slog.New(h)
	logger.Info("quiet")
	logger.Warn("loud")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "loud")
}

func TestFanoutDeliversToAll(t *testing.T) {
	var a, b bytes.Buffer
	h := newFanout(
		slog.NewTextHandler(&a, nil),
		slog.NewJSONHandler(&b, nil),
	)
	require.True(t, h.Enabled(context.Background(), slog.LevelInfo))

	logger := slog.New(h)
	logger.Info("fan out")

	assert.Contains(t, a.String(), "fan out")
	assert.Contains(t, b.String(), "fan out")
}

func TestFanoutSingleHandlerUnwrapped(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, nil)
	assert.Equal(t, slog.Handler(inner), newFanout(inner))
}

// failingHandler accepts every record and fails to write it.
type failingHandler struct{}

func (failingHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (failingHandler) Handle(context.Context, slog.Record) error { return errFull }
func (f failingHandler) WithAttrs([]slog.Attr) slog.Handler      { return f }
func (f failingHandler) WithGroup(string) slog.Handler           { return f }

var errFull = errors.New("disk full")

func TestFanoutIsBestEffort(t *testing.T) {
	var buf bytes.Buffer
	h := newFanout(failingHandler{}, slog.NewTextHandler(&buf, nil))

	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "still delivered", 0)
	err := h.Handle(context.Background(), rec)

	assert.ErrorIs(t, err, errFull, "the failure is reported")
	assert.Contains(t, buf.String(), "still delivered",
		"a failing handler does not silence the others")
}
