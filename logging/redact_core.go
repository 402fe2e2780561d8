package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// redactCore scrubs every field passing through it, including fields bound
// with Logger.With, before handing the entry to the wrapped core.
type redactCore struct {
	zapcore.Core
}

// NewRedactingCore wraps inner so credentials and image payloads never
// reach its encoders. The cores inside inner are expected to share a level.
func NewRedactingCore(inner zapcore.Core) zapcore.Core {
	return &redactCore{Core: inner}
}

func (c *redactCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = RedactSensitiveData(ent.Message)
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	if len(fields) == 0 {
		return fields
	}
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = redactField(f)
	}
	return out
}

func redactField(f zapcore.Field) zapcore.Field {
	if IsSensitiveField(f.Key) {
		return zap.String(f.Key, RedactedPlaceholder)
	}
	switch f.Type {
	case zapcore.StringType:
		if v := RedactField(f.Key, f.String); v != f.String {
			return zap.String(f.Key, v)
		}
	case zapcore.ByteStringType:
		if b, ok := f.Interface.([]byte); ok {
			if v := RedactField(f.Key, string(b)); v != string(b) {
				return zap.String(f.Key, v)
			}
		}
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && err != nil && ContainsSensitiveData(err.Error()) {
			return zap.String(f.Key, RedactSensitiveData(err.Error()))
		}
	}
	return f
}
