// Package logging provides structured logging for kaubo task runs.
// It wraps Go's log/slog package to provide JSON-formatted logs with
// task and phase context for debugging worker processes after the fact.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// RunLogName is the file written by NewLogger inside its directory.
const RunLogName = "kaubo.log"

// Logger provides structured logging with context propagation.
// It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	out    *output     // shared with child loggers
	attrs  []slog.Attr // task, kind, phase, ...
}

// output is the closable destination shared by a logger family.
type output struct {
	mu     sync.Mutex
	closer io.Closer
}

// NewLogger creates a Logger that writes JSON lines to {dir}/kaubo.log.
// If dir is empty, logs are written to stderr.
//
// The level parameter controls which messages are logged:
//   - DEBUG: All messages
//   - INFO: Info, Warn, and Error messages
//   - WARN: Warn and Error messages
//   - ERROR: Only Error messages
func NewLogger(dir string, level string) (*Logger, error) {
	if dir == "" {
		return NewWriterLogger(os.Stderr, level), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(dir, RunLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	l := NewWriterLogger(file, level)
	l.out.closer = file
	return l, nil
}

// NewTaskLogger creates a Logger for one worker process. Entries go to
// {dir}/{taskID}.log through a RotatingWriter and every entry carries the
// task id. If dir is empty, entries go to fallback instead.
func NewTaskLogger(fs afero.Fs, dir, taskID, level string, rotation RotationConfig, fallback io.Writer) (*Logger, error) {
	if dir == "" {
		return NewWriterLogger(fallback, level).WithTask(taskID), nil
	}
	rw, err := NewRotatingWriter(fs, filepath.Join(dir, sanitizeFileName(taskID)+".log"), rotation)
	if err != nil {
		return nil, err
	}
	l := NewWriterLogger(rw, level)
	l.out.closer = rw
	return l.WithTask(taskID), nil
}

// NewWriterLogger creates a Logger writing JSON lines to w. Close does not
// close w.
func NewWriterLogger(w io.Writer, level string) *Logger {
	if w == nil {
		w = io.Discard
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return &Logger{
		logger: slog.New(handler),
		out:    &output{},
	}
}

// sanitizeFileName keeps task ids from escaping the log directory.
func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, name)
}

// parseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithTask returns a child Logger that adds task_id to every entry.
func (l *Logger) WithTask(taskID string) *Logger {
	return l.withAttr(slog.String("task_id", taskID))
}

// WithKind returns a child Logger that adds the task kind to every entry.
func (l *Logger) WithKind(kind string) *Logger {
	return l.withAttr(slog.String("task_kind", kind))
}

// WithPhase returns a child Logger that adds the phase name to every entry.
// Phases are "bind", "configure" and "run".
func (l *Logger) WithPhase(phase string) *Logger {
	return l.withAttr(slog.String("phase", phase))
}

// With returns a new Logger with arbitrary key-value attributes.
// Keys and values are provided as alternating arguments; a non-string key
// skips its pair.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}

	newAttrs := make([]slog.Attr, 0, len(l.attrs)+len(args)/2)
	newAttrs = append(newAttrs, l.attrs...)
	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		newAttrs = append(newAttrs, slog.Any(key, args[i+1]))
	}
	return l.child(newAttrs)
}

func (l *Logger) withAttr(attr slog.Attr) *Logger {
	newAttrs := make([]slog.Attr, len(l.attrs)+1)
	copy(newAttrs, l.attrs)
	newAttrs[len(l.attrs)] = attr
	return l.child(newAttrs)
}

// child shares the handler and the closer with its parent.
func (l *Logger) child(attrs []slog.Attr) *Logger {
	return &Logger{
		logger: l.logger,
		out:    l.out,
		attrs:  attrs,
	}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	allArgs := make([]any, 0, len(l.attrs)*2+len(args))
	for _, attr := range l.attrs {
		allArgs = append(allArgs, attr.Key, attr.Value.Any())
	}
	allArgs = append(allArgs, args...)

	l.logger.Log(context.Background(), level, msg, allArgs...)
}

// Close closes the log file shared by this logger and its children.
// Loggers writing to stderr or a caller-supplied writer are unaffected.
// Calling Close more than once is a no-op.
func (l *Logger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if l.out.closer == nil {
		return nil
	}
	c := l.out.closer
	l.out.closer = nil
	if s, ok := c.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			_ = c.Close()
			return fmt.Errorf("failed to sync log file: %w", err)
		}
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

// NopLogger returns a Logger that discards all log output.
func NopLogger() *Logger {
	return NewWriterLogger(io.Discard, LevelError)
}

// ParseLevel converts a string level to the corresponding constant.
// Returns LevelInfo if the level string is not recognized.
func ParseLevel(level string) string {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
