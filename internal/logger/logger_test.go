package logger_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subhroacharjee/replaycast/internal/logger"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" DEBUG ": slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, logger.ParseLevel(in), "level %q", in)
	}
}

func TestNewJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := logger.New(logger.Options{Level: "debug", Format: logger.JSON, Output: &buf})
	l.Debug("attached", logger.ConsumerID("c-1"), logger.Capacity(-1))

	out := buf.String()
	assert.Contains(t, out, `"msg":"attached"`)
	assert.Contains(t, out, `"consumer_id":"c-1"`)
	assert.Contains(t, out, `"capacity":"unbounded"`)
}

func TestNewTextFiltersLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := logger.New(logger.Options{Level: "warn", Output: &buf})
	l.Info("hidden")
	l.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestAttrs(t *testing.T) {
	t.Parallel()

	err := errors.New("boom")
	attr := logger.Err(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	assert.True(t, logger.Err(nil).Equal(slog.Attr{}))
	assert.True(t, logger.ConsumerID("").Equal(slog.Attr{}))
	assert.True(t, logger.PeerID("").Equal(slog.Attr{}))
	assert.True(t, logger.Broadcaster("").Equal(slog.Attr{}))
	assert.True(t, logger.Source("").Equal(slog.Attr{}))

	assert.Equal(t, int64(4), logger.Capacity(4).Value.Int64())
	assert.Equal(t, "pending", logger.Count("pending", 3).Key)

	elapsed := logger.Elapsed(time.Now().Add(-time.Second))
	assert.GreaterOrEqual(t, elapsed.Value.Duration(), time.Second)
}
