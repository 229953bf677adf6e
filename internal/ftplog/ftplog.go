// Package ftplog provides the leveled, colorized, structured logger used
// by every client and server component, built on logrus.
package ftplog

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Entry, keeping the teacher's WithField
// texture while delegating formatting, level filtering, and color
// detection to logrus.
type Logger struct {
	entry  *logrus.Entry
	output io.Writer
}

// New builds a Logger writing to output at the given level.
func New(level logrus.Level, output io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(output)
	base.SetLevel(level)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return &Logger{entry: logrus.NewEntry(base), output: output}
}

// NewDefault builds a Logger writing to stdout at INFO level. The CLI
// entry points do not use it; they call New with the level chosen by
// their -v/-q flags.
func NewDefault() *Logger {
	return New(logrus.InfoLevel, os.Stdout)
}

// SetLevel adjusts the underlying logrus level after construction.
func (l *Logger) SetLevel(level logrus.Level) {
	l.entry.Logger.SetLevel(level)
}

// WithField returns a derived Logger carrying one extra structured field,
// mirroring the teacher's per-connection logger cloning (its
// "[CONN:<port>]" prefix becomes a logrus field here instead).
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value), output: l.output}
}

// WithFields returns a derived Logger carrying several extra fields at once.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(fields), output: l.output}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

// Milestone always reaches the output regardless of the configured
// level, mirroring the original's force_info helper for messages like
// "Upload completed" that must reach the operator even when running
// quiet. It bypasses logrus's level filter entirely rather than
// mutating shared logger state.
func (l *Logger) Milestone(format string, args ...interface{}) {
	fields := ""
	for k, v := range l.entry.Data {
		fields += fmt.Sprintf(" %s=%v", k, v)
	}
	fmt.Fprintf(l.output, "%s [INFO]%s %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"), fields, fmt.Sprintf(format, args...))
}
