package sessionmanager

import (
	"github.com/sirupsen/logrus"
)

// logrusLogger adapts a *logrus.Logger to the Logger interface, treating
// args as alternating key/value pairs the same way logrus.WithFields
// expects, so structured fields survive whichever formatter the caller
// configures (text or JSON).
type logrusLogger struct {
	entry *logrus.Entry
}

// NewDefaultLogger returns a Logger backed by l. When l is nil, a new
// logrus.Logger with a full-timestamp text formatter is used; a non-nil
// l keeps whatever formatter and level it was given, so call logrus'
// own SetFormatter/SetLevel on it beforehand to customize output.
func NewDefaultLogger(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.New()
		l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	}
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) Debug(msg string, args ...any) { l.withFields(args).Debug(msg) }
func (l *logrusLogger) Info(msg string, args ...any)  { l.withFields(args).Info(msg) }
func (l *logrusLogger) Warn(msg string, args ...any)  { l.withFields(args).Warn(msg) }
func (l *logrusLogger) Error(msg string, args ...any) { l.withFields(args).Error(msg) }

// withFields turns a flat key/value slice into logrus.Fields, dropping a
// trailing unpaired key rather than panicking on malformed call sites.
func (l *logrusLogger) withFields(args []any) *logrus.Entry {
	if len(args) == 0 {
		return l.entry
	}
	fields := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		fields[key] = args[i+1]
	}
	return l.entry.WithFields(fields)
}
