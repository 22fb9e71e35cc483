// Package diag provides structured logging for the host-side tools built
// against this kernel's packages (cmd/mkdiskimg and its tests). It is
// never imported by the freestanding kernel/device packages, which log
// through kernel/kfmt.Printf instead; diag exists because a host process
// has a real stdout/stderr and benefits from structured (JSON or
// console) records the way the pack's server-shaped repos do.
package diag

import (
	"io"
	"strings"

	"github.com/rs/zerolog"

	"protios/kernel/kfmt"
)

// Logger wraps a zerolog.Logger. The human-readable message of each
// record is formatted through kernel/kfmt.Fprintf rather than fmt.Sprintf,
// so the same verbs (%s, %d, %x, %o, %t) behave identically whether the
// call site is this package or a freestanding kernel package.
type Logger struct {
	z zerolog.Logger
}

// New returns a Logger that writes newline-delimited JSON records to w.
func New(w io.Writer) Logger {
	return Logger{z: zerolog.New(w).With().Timestamp().Logger()}
}

// NewConsole returns a Logger that writes human-readable records to w,
// for interactive use (mkdiskimg inspect without --json).
func NewConsole(w io.Writer) Logger {
	cw := zerolog.ConsoleWriter{Out: w, NoColor: true}
	return Logger{z: zerolog.New(cw).With().Timestamp().Logger()}
}

// Fields is a set of structured key/value pairs attached to one record.
type Fields map[string]interface{}

// Event logs one record at level, with fields attached as structured
// key/value pairs and the message built from format/args.
func (l Logger) Event(level zerolog.Level, fields Fields, format string, args ...interface{}) {
	var msg strings.Builder
	kfmt.Fprintf(&msg, format, args...)

	ev := l.z.WithLevel(level)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg.String())
}

// Info logs an informational record.
func (l Logger) Info(fields Fields, format string, args ...interface{}) {
	l.Event(zerolog.InfoLevel, fields, format, args...)
}

// Error logs an error record.
func (l Logger) Error(fields Fields, format string, args ...interface{}) {
	l.Event(zerolog.ErrorLevel, fields, format, args...)
}
