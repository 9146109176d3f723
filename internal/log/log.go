// Package log defines the Logger interface used throughout the engine and
// a zap-backed implementation. The interface shape is the teacher's own
// (Debug/Debugf/Info/Infof), extended with Warn/Error levels since the
// engine now has genuine failure paths (ack timeouts, codec NACKs) worth
// surfacing above Debug.
package log

import (
	"go.uber.org/zap"
)

// Logger is implemented by any value the engine can log through.
type Logger interface {
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	// Named returns a child logger annotated with a component name, e.g.
	// the channel's target address or the conversation's name.
	Named(name string) Logger
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New wraps a *zap.Logger as a Logger.
func New(l *zap.Logger) Logger {
	return &zapLogger{s: l.Sugar()}
}

// NewDevelopment returns a human-readable, debug-level Logger suitable for
// CLI use and tests.
func NewDevelopment() Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewNop()
	}
	return New(l)
}

// NewNop returns a Logger that discards everything, used as the default
// when callers do not supply one.
func NewNop() Logger {
	return New(zap.NewNop())
}

func (z *zapLogger) Debug(v ...interface{})                 { z.s.Debug(v...) }
func (z *zapLogger) Debugf(format string, v ...interface{}) { z.s.Debugf(format, v...) }
func (z *zapLogger) Info(v ...interface{})                  { z.s.Info(v...) }
func (z *zapLogger) Infof(format string, v ...interface{})  { z.s.Infof(format, v...) }
func (z *zapLogger) Warn(v ...interface{})                  { z.s.Warn(v...) }
func (z *zapLogger) Warnf(format string, v ...interface{})  { z.s.Warnf(format, v...) }
func (z *zapLogger) Error(v ...interface{})                 { z.s.Error(v...) }
func (z *zapLogger) Errorf(format string, v ...interface{}) { z.s.Errorf(format, v...) }

func (z *zapLogger) Named(name string) Logger {
	return &zapLogger{s: z.s.Named(name)}
}
