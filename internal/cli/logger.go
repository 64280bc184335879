package cli

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the stderr JSON logger. --verbose forces debug; otherwise
// the configured level applies. Stdout is left to events.
func newLogger(globals *Globals) *zap.Logger {
	if globals == nil || globals.Stderr == nil {
		return zap.NewNop()
	}
	level := zapcore.WarnLevel
	if globals.Verbose {
		level = zapcore.DebugLevel
	} else if err := level.UnmarshalText([]byte(globals.Level)); err != nil {
		level = zapcore.WarnLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg.EncoderConfig),
		zapcore.Lock(zapcore.AddSync(globals.Stderr)),
		zap.NewAtomicLevelAt(level),
	)
	return zap.New(core).With(zap.String("component", "kbridge"))
}

// sessionLogger tags log lines with the current tracker session
type sessionLogger struct {
	base      *zap.Logger
	sessionFn func() int
}

func newSessionLogger(base *zap.Logger, sessionFn func() int) *sessionLogger {
	return &sessionLogger{base: base, sessionFn: sessionFn}
}

func (l *sessionLogger) Debug(msg string, fields ...zap.Field) {
	session := 0
	if l.sessionFn != nil {
		session = l.sessionFn()
	}
	l.base.Debug(msg, append(fields, zap.Int("session", session))...)
}
