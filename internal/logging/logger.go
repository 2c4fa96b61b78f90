// logger.go - Structured logging for the shielded UTXO client
//
// Every entry goes to the console and, when configured, to a log file.
// Warnings and above are also copied to the audit file, which additionally
// receives explicit Audit events.

package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
)

// Logger is a zerolog.Logger that owns its file sinks.
type Logger struct {
	zerolog.Logger
	audit zerolog.Logger
	files []*os.File
}

// New creates a logger writing to stderr. format is "console" or "json";
// empty file names disable the corresponding sink.
func New(level, format, logFile, auditFile string) (*Logger, error) {
	return NewWithWriter(os.Stderr, level, format, logFile, auditFile)
}

// NewWithWriter is New with the console output redirected to w.
func NewWithWriter(w io.Writer, level, format, logFile, auditFile string) (*Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	console := w
	if format != "json" {
		console = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime, NoColor: true}
	}
	writers := []io.Writer{console}
	l := &Logger{audit: zerolog.Nop()}

	if logFile != "" {
		f, err := openAppend(logFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.files = append(l.files, f)
		writers = append(writers, f)
	}

	if auditFile != "" {
		f, err := openAppend(auditFile)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		l.files = append(l.files, f)
		writers = append(writers, &zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: f},
			Level:  zerolog.WarnLevel,
		})
		l.audit = zerolog.New(f).With().Timestamp().Logger()
	}

	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Logger()
	return l, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Audit logs an audit event
func (l *Logger) Audit(event string, details map[string]any) {
	l.audit.Log().Str("event", event).Fields(details).Msg("audit")
}

// CaptureGnark routes gnark's internal logging (constraint compilation,
// setup and proving timings) into l at debug level.
func (l *Logger) CaptureGnark() {
	gnarklogger.Set(l.Component("gnark").Level(zerolog.DebugLevel))
}

// Close closes the logger and its files
func (l *Logger) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}
