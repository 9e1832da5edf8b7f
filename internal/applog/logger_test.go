package applog

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestWithPathRoundTrip(t *testing.T) {
	ctx := WithPath(context.Background(), "/org/syncevolution/Session/1")
	require.Equal(t, "/org/syncevolution/Session/1", PathFromContext(ctx))
	require.Equal(t, "", PathFromContext(context.Background()))
}

type recordingSink struct {
	path  string
	level slog.Level
	text  string
}

func (r *recordingSink) Accept(path string, level slog.Level, text string) {
	r.path = path
	r.level = level
	r.text = text
}

func TestTeeHandlerForwardsToSink(t *testing.T) {
	sink := &recordingSink{}
	base := slog.NewTextHandler(noopWriter{}, nil)
	tee := NewTeeHandler(base, sink, "/org/syncevolution/Server")

	logger := slog.New(tee)
	logger.With("path", "/org/syncevolution/Session/7").Info("sync started", "config", "peer1")

	assert.Equal(t, "/org/syncevolution/Session/7", sink.path)
	assert.Equal(t, slog.LevelInfo, sink.level)
	assert.Contains(t, sink.text, "sync started")
}

func TestTeeHandlerFallsBackToSchedulerPath(t *testing.T) {
	sink := &recordingSink{}
	base := slog.NewTextHandler(noopWriter{}, nil)
	tee := NewTeeHandler(base, sink, "/org/syncevolution/Server")

	logger := slog.New(tee)
	logger.Info("idle")

	assert.Equal(t, "/org/syncevolution/Server", sink.path)
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
