// Package rplog provides the structured logger shared by every component.
package rplog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger so call sites never import zerolog directly.
type Logger struct {
	z zerolog.Logger
}

var base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

// New returns a Logger scoped to a component name.
func New(component string) Logger {
	return Logger{z: base.With().Str("component", component).Logger()}
}

// SetOutput redirects all future loggers to w (tests use this to capture output).
func SetOutput(w io.Writer) {
	base = zerolog.New(w).With().Timestamp().Logger()
}

// SetLevel sets the minimum level emitted globally.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return
	}
	zerolog.SetGlobalLevel(lvl)
}

// With returns a child logger carrying an extra key-value field, e.g. a
// session correlation id.
func (l Logger) With(key, value string) Logger {
	return Logger{z: l.z.With().Str(key, value).Logger()}
}

func (l Logger) Debug(msg string, kv ...any) { event(l.z.Debug(), msg, kv) }
func (l Logger) Info(msg string, kv ...any)  { event(l.z.Info(), msg, kv) }
func (l Logger) Warn(msg string, kv ...any)  { event(l.z.Warn(), msg, kv) }

// Error logs msg at error level, attaching err if non-nil.
func (l Logger) Error(msg string, err error, kv ...any) {
	e := l.z.Error()
	if err != nil {
		e = e.Err(err)
	}
	event(e, msg, kv)
}

func event(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}
