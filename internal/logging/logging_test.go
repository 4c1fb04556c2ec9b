package logging_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/LeventeLantos/message-dispatch/internal/logging"
	"github.com/LeventeLantos/message-dispatch/internal/model"
)

type memoryWriter struct {
	mu      sync.Mutex
	entries []*model.LogEntry
}

func (w *memoryWriter) Create(_ context.Context, e *model.LogEntry) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, e)
	return "id", nil
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := logging.New(logging.Config{Format: "xml"})
	assert.Error(t, err)

	_, err = logging.New(logging.Config{Level: "loud"})
	assert.Error(t, err)

	l, err := logging.New(logging.Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestStoreSinkPersistsInfoAndAbove(t *testing.T) {
	t.Parallel()

	w := &memoryWriter{}
	logger := logging.WithStoreSink(zaptest.NewLogger(t), logging.NewStoreCore(w, zapcore.InfoLevel, "worker"))

	logger.Debug("noise")
	logger.With(zap.String(logging.ReferenceKey, "m1")).Warn("gateway slow", zap.Int("attempt", 2))
	logger.Named("api").Error("boom")

	require.Len(t, w.entries, 2)

	first := w.entries[0]
	assert.Equal(t, model.LevelWarning, first.Level)
	assert.Equal(t, "gateway slow attempt=2 message_id=m1", first.Message)
	assert.Equal(t, "m1", first.ReferenceID)
	assert.Equal(t, "worker", first.Origin)
	require.NotNil(t, first.Time)

	assert.Equal(t, model.LevelError, w.entries[1].Level)
	assert.Equal(t, "api", w.entries[1].Origin)
}

func TestScopeLogsOutcome(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	logging.Begin(logger, "enqueue", zap.String("destination", "5511")).End(nil)
	logging.Begin(logger, "enqueue").End(errors.New("broker down"))

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, "operation started", entries[0].Message)
	assert.Equal(t, "operation completed", entries[1].Message)
	assert.Contains(t, entries[1].ContextMap(), "duration_ms")
	assert.Equal(t, "enqueue", entries[1].ContextMap()["operation"])
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "broker down", entries[3].ContextMap()["error"])
}
