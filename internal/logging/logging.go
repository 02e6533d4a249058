// Package logging is the wallet's structured logger: leveled console and file output plus a
// separate audit trail.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with an optional audit log that receives every warn+ event and
// explicit Audit records.
type Logger struct {
	zerolog.Logger

	file  *os.File
	audit *os.File
	trail zerolog.Logger
}

// ParseLevel maps debug/info/warn/error/fatal to a zerolog level; anything else is info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	}
	return zerolog.InfoLevel
}

// New creates a logger writing to stdout and, when set, to logFile and auditFile.
func New(level, logFile, auditFile string) (*Logger, error) {
	l := &Logger{trail: zerolog.Nop()}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}}

	if logFile != "" {
		f, err := openAppend(logFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		writers = append(writers, f)
	}

	if auditFile != "" {
		f, err := openAppend(auditFile)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		l.audit = f
		l.trail = zerolog.New(f).With().Timestamp().Str("log", "audit").Logger()
		writers = append(writers, warnFilter{f})
	}

	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(level)).
		With().Timestamp().Logger()
	return l, nil
}

// Nop returns a logger that discards everything, for tests and library defaults.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop(), trail: zerolog.Nop()}
}

// FromWriter builds a logger over w, used to capture output in tests.
func FromWriter(w io.Writer, level string) *Logger {
	return &Logger{
		Logger: zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger(),
		trail:  zerolog.New(w).With().Str("log", "audit").Logger(),
	}
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

// Audit records an event on the audit trail regardless of level.
func (l *Logger) Audit(event string, details map[string]interface{}) {
	l.trail.Log().Str("event", event).Fields(details).Msg("audit")
}

// Close closes the underlying files.
func (l *Logger) Close() error {
	var first error
	for _, f := range []*os.File{l.file, l.audit} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// warnFilter forwards only warn and above.
type warnFilter struct {
	w io.Writer
}

func (f warnFilter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (f warnFilter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel {
		return len(p), nil
	}
	return f.w.Write(p)
}
