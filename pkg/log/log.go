// Package log provides structured logging for the chogo library on top
// of rs/zerolog.
//
// Models obtain a named logger with GetLoggerWithName; the name is
// attached as the "component" field on every event. The default logger
// writes to stderr at warn level so that library users are not flooded
// unless they opt in with SetLevel.
package log

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Logger is the logging interface used throughout the library.
// Key/value pairs are appended as structured fields; a dangling key is
// logged with a nil value.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

var (
	mu   sync.RWMutex
	root = zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()
)

// SetLevel sets the global log level ("debug", "info", "warn", "error",
// "disabled"). Unknown levels are ignored.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return
	}
	mu.Lock()
	root = root.Level(lvl)
	mu.Unlock()
}

// SetOutput redirects the root logger, mainly for tests.
func SetOutput(w zerolog.LevelWriter) {
	mu.Lock()
	root = zerolog.New(w).With().Timestamp().Logger()
	mu.Unlock()
}

// GetLogger returns the root library logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return &zeroLogger{l: root}
}

// GetLoggerWithName returns a logger tagged with a component name.
//
// Example:
//
//	logger := log.GetLoggerWithName("SimpleMNL")
//	logger.Info("fit finished", "epochs", 50)
func GetLoggerWithName(name string) Logger {
	mu.RLock()
	defer mu.RUnlock()
	return &zeroLogger{l: root.With().Str("component", name).Logger()}
}

type zeroLogger struct {
	l zerolog.Logger
}

func (z *zeroLogger) Debug(msg string, keyvals ...interface{}) {
	emit(z.l.Debug(), msg, keyvals)
}

func (z *zeroLogger) Info(msg string, keyvals ...interface{}) {
	emit(z.l.Info(), msg, keyvals)
}

func (z *zeroLogger) Warn(msg string, keyvals ...interface{}) {
	emit(z.l.Warn(), msg, keyvals)
}

func (z *zeroLogger) Error(msg string, keyvals ...interface{}) {
	emit(z.l.Error(), msg, keyvals)
}

func emit(ev *zerolog.Event, msg string, keyvals []interface{}) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, keyvals[i+1])
	}
	if len(keyvals)%2 == 1 {
		if key, ok := keyvals[len(keyvals)-1].(string); ok {
			ev = ev.Interface(key, nil)
		}
	}
	ev.Msg(msg)
}
