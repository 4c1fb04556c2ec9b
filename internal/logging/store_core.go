package logging

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/LeventeLantos/message-dispatch/internal/model"
)

// ReferenceKey is the field whose value is stored as the entry's reference id.
const ReferenceKey = "message_id"

const writeTimeout = 2 * time.Second

// LogWriter persists log entries. *store.Collection of model.LogEntry
// satisfies it.
type LogWriter interface {
	Create(ctx context.Context, entry *model.LogEntry) (string, error)
}

type storeCore struct {
	zapcore.LevelEnabler
	w      LogWriter
	origin string
	fields []zapcore.Field
}

// NewStoreCore returns a core that writes entries at or above level to w.
// Fields are appended to the stored message as key=value pairs.
func NewStoreCore(w LogWriter, level zapcore.LevelEnabler, origin string) zapcore.Core {
	return &storeCore{LevelEnabler: level, w: w, origin: origin}
}

func (c *storeCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *storeCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *storeCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	origin := c.origin
	if ent.LoggerName != "" {
		origin = ent.LoggerName
	}

	at := ent.Time.UTC().Truncate(time.Millisecond)
	entry := &model.LogEntry{
		Level:   levelOf(ent.Level),
		Time:    &at,
		Message: message(ent.Message, enc.Fields),
		Origin:  origin,
	}
	if ref, ok := enc.Fields[ReferenceKey].(string); ok {
		entry.ReferenceID = ref
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if _, err := c.w.Create(ctx, entry); err != nil {
		return fmt.Errorf("logging: store entry: %w", err)
	}
	return nil
}

func (c *storeCore) Sync() error { return nil }

func levelOf(l zapcore.Level) model.LogLevel {
	switch l {
	case zapcore.DebugLevel:
		return model.LevelDebug
	case zapcore.InfoLevel:
		return model.LevelInfo
	case zapcore.WarnLevel:
		return model.LevelWarning
	case zapcore.ErrorLevel:
		return model.LevelError
	default:
		return model.LevelCritical
	}
}

func message(msg string, fields map[string]any) string {
	if len(fields) == 0 {
		return msg
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(msg)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}
