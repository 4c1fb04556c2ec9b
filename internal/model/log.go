package model

import (
	"time"

	"github.com/LeventeLantos/message-dispatch/internal/record"
)

type LogLevel string

const (
	LevelDebug    LogLevel = "DEBUG"
	LevelInfo     LogLevel = "INFO"
	LevelWarning  LogLevel = "WARNING"
	LevelError    LogLevel = "ERROR"
	LevelCritical LogLevel = "CRITICAL"
)

const (
	LogType = "Log"

	LogLevelField = "level"
	LogTime       = "time"
	LogMessage    = "message"
	LogOrigin     = "origem"
	LogReference  = "referencia_id"
)

var LogDescriptor = record.Descriptor{
	Type: LogType,
	Fields: []record.Field{
		record.EnumOf(LogLevelField,
			string(LevelDebug), string(LevelInfo), string(LevelWarning), string(LevelError), string(LevelCritical),
		).AsOptional(),
		record.Optional(LogTime, record.Time),
		record.Optional(LogMessage, record.String),
		record.Optional(LogOrigin, record.String),
		record.Optional(LogReference, record.String),
	},
}

// LogEntry is an application log line persisted to the log collection.
type LogEntry struct {
	Identity
	Level       LogLevel   `json:"level,omitempty"`
	Time        *time.Time `json:"time,omitempty"`
	Message     string     `json:"message,omitempty"`
	Origin      string     `json:"origem,omitempty"`
	ReferenceID string     `json:"referencia_id,omitempty"`
}

func (l *LogEntry) Descriptor() record.Descriptor { return LogDescriptor }

func (l *LogEntry) Values() record.Values {
	v := record.Values{}
	putString(v, LogLevelField, string(l.Level))
	putTime(v, LogTime, l.Time)
	putString(v, LogMessage, l.Message)
	putString(v, LogOrigin, l.Origin)
	putString(v, LogReference, l.ReferenceID)
	return v
}

func (l *LogEntry) Load(v record.Values) error {
	l.Level = LogLevel(str(v, LogLevelField))
	l.Time = optionalTime(v, LogTime)
	l.Message = str(v, LogMessage)
	l.Origin = str(v, LogOrigin)
	l.ReferenceID = str(v, LogReference)
	return nil
}
