package rdns

import (
	"github.com/sirupsen/logrus"
)

// Log is the package-wide logger. Replace it, or call SetLevel, before
// starting listeners to control verbosity. Defaults to logrus' standard
// logger at Info level.
var Log Logger = newLogrusLogger(logrus.StandardLogger())

// Logger is a small structured-logging facade implemented on top of
// logrus. It lets call-sites chain contextual fields with With(...) the
// way the resolver stages expect, without reaching for logrus.Fields{}
// at every log line.
type Logger interface {
	With(keyvals ...interface{}) Logger
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

type logrusLogger struct {
	entry *logrus.Entry
}

func newLogrusLogger(l *logrus.Logger) *logrusLogger {
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// SetLevel configures the logging verbosity of the default logger. Valid
// values are the logrus level names: trace, debug, info, warning, error,
// fatal, panic.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	return nil
}

func (l *logrusLogger) With(keyvals ...interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(fieldsFromKeyvals(keyvals))}
}

func (l *logrusLogger) Debug(msg string, keyvals ...interface{}) {
	l.withKeyvals(keyvals).Debug(msg)
}

func (l *logrusLogger) Info(msg string, keyvals ...interface{}) {
	l.withKeyvals(keyvals).Info(msg)
}

func (l *logrusLogger) Warn(msg string, keyvals ...interface{}) {
	l.withKeyvals(keyvals).Warn(msg)
}

func (l *logrusLogger) Error(msg string, keyvals ...interface{}) {
	l.withKeyvals(keyvals).Error(msg)
}

func (l *logrusLogger) withKeyvals(keyvals []interface{}) *logrus.Entry {
	if len(keyvals) == 0 {
		return l.entry
	}
	return l.entry.WithFields(fieldsFromKeyvals(keyvals))
}

func fieldsFromKeyvals(keyvals []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		fields[key] = keyvals[i+1]
	}
	return fields
}
