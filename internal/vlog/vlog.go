// Package vlog adapts the teacher's ErrorLog *log.Logger call-site shape
// (srv.logf(format, args...)) onto a structured logger, grounded on
// nabbar-golib and docker-compose's use of github.com/sirupsen/logrus for
// the same "ambient diagnostic logging" concern.
package vlog

import (
	"github.com/sirupsen/logrus"
)

// Logger is the narrow surface connloop/http2/server need: one varargs
// error-level call, matching the teacher's srv.logf(format, args...).
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger writing structured fields through logrus's standard
// logger, tagged with component for every record it emits.
func New(component string) *Logger {
	return &Logger{entry: logrus.WithField("component", component)}
}

// Errorf matches the teacher's srv.logf(format, args...) call sites exactly,
// so connloop.Loop.Log / http2.Engine.Log can be set to l.Errorf directly.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// WithField returns a child Logger carrying one extra structured field,
// e.g. the remote address of the connection being served.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// SetLevel adjusts the package-wide logrus level (e.g. to Debug in tests).
func SetLevel(level logrus.Level) { logrus.SetLevel(level) }
