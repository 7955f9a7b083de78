package obs

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes one structured line per call. Fields are a flat map; the "op"
// field, when present, becomes the message. A nil *Logger discards everything.
type Logger struct {
	z *zap.Logger
}

func NewLogger() *Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.DisableStacktrace = true
	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

// NewFromZap wraps an existing zap logger, e.g. zaptest or an observer core.
func NewFromZap(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

func (lg *Logger) Info(fields map[string]interface{}) {
	lg.write(zapcore.InfoLevel, fields)
}

func (lg *Logger) Warn(fields map[string]interface{}) {
	lg.write(zapcore.WarnLevel, fields)
}

func (lg *Logger) Error(fields map[string]interface{}) {
	lg.write(zapcore.ErrorLevel, fields)
}

// Sync flushes buffered entries. Safe to defer on a nil logger.
func (lg *Logger) Sync() {
	if lg == nil || lg.z == nil {
		return
	}
	_ = lg.z.Sync()
}

func (lg *Logger) write(level zapcore.Level, fields map[string]interface{}) {
	if lg == nil || lg.z == nil {
		return
	}
	ce := lg.z.Check(level, opName(fields))
	if ce == nil {
		return
	}
	ce.Write(toZap(fields)...)
}

func opName(fields map[string]interface{}) string {
	if op, ok := fields["op"].(string); ok && op != "" {
		return op
	}
	return "event"
}

// toZap converts in key order so identical maps give identical lines.
func toZap(fields map[string]interface{}) []zap.Field {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "op" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		switch v := fields[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
