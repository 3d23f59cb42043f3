package observability

import (
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	base *zap.Logger
}

// NewLogger builds a JSON logger for production and a console logger elsewhere.
func NewLogger(env string) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	if !strings.EqualFold(strings.TrimSpace(env), "production") {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	return &Logger{base: base}, nil
}

func NewNopLogger() *Logger {
	return &Logger{base: zap.NewNop()}
}

func NewLoggerFromZap(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{base: base}
}

func (l *Logger) Info(message string, fields map[string]any) {
	l.write(zapcore.InfoLevel, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]any) {
	l.write(zapcore.WarnLevel, message, fields)
}

func (l *Logger) Error(message string, fields map[string]any) {
	l.write(zapcore.ErrorLevel, message, fields)
}

func (l *Logger) Sync() error {
	if l == nil || l.base == nil {
		return nil
	}
	return l.base.Sync()
}

func (l *Logger) write(level zapcore.Level, message string, fields map[string]any) {
	if l == nil || l.base == nil {
		return
	}

	ce := l.base.Check(level, message)
	if ce == nil {
		return
	}
	ce.Write(toZapFields(fields)...)
}

func toZapFields(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.String(k, err.Error()))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

var emailMask = regexp.MustCompile(`^([^@]{1,3})[^@]*(@.+)$`)

// MaskEmail keeps the first three characters and the domain: john.doe@example.com -> joh***@example.com
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}

	if m := emailMask.FindStringSubmatch(email); len(m) == 3 {
		return m[1] + "***" + m[2]
	}

	return "***"
}
