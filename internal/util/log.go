// Package util holds what the duet packages share: leveled console logging
// with per-session tags, and the process-wide traffic counters in Stats.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	l := &pterm.DefaultLogger
	l.ShowTime = true
	l.TimeFormat = "15:04:05.000"
	l.MaxWidth = 1000
}

// logf formats one line and writes it to pterm's default logger (stderr) at
// the given level.
func logf(level pterm.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case pterm.LogLevelDebug:
		pterm.DefaultLogger.Debug(msg)
	case pterm.LogLevelWarn:
		pterm.DefaultLogger.Warn(msg)
	case pterm.LogLevelError:
		pterm.DefaultLogger.Error(msg)
	default:
		pterm.DefaultLogger.Info(msg)
	}
}

func LogDebug(format string, args ...any)   { logf(pterm.LogLevelDebug, format, args...) }
func LogInfo(format string, args ...any)    { logf(pterm.LogLevelInfo, format, args...) }
func LogWarning(format string, args ...any) { logf(pterm.LogLevelWarn, format, args...) }
func LogError(format string, args ...any)   { logf(pterm.LogLevelError, format, args...) }

// LogSuccess marks a finished step: a completed handshake, a received view.
func LogSuccess(format string, args ...any) { logf(pterm.LogLevelInfo, "✓ "+format, args...) }

// EnableDebug turns on the per-message protocol trace.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Logger tags each line with the component or session it belongs to, so
// the two ends of a local session stay apart in one terminal.
type Logger struct {
	tag string
}

func NewLogger(tag string) *Logger {
	return &Logger{tag: tag}
}

// Tag returns the logger's tag.
func (l *Logger) Tag() string { return l.tag }

func (l *Logger) line(level pterm.LogLevel, format string, args []any) {
	logf(level, "[%s] %s", l.tag, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) { l.line(pterm.LogLevelDebug, format, args) }
func (l *Logger) Info(format string, args ...any)  { l.line(pterm.LogLevelInfo, format, args) }
func (l *Logger) Warn(format string, args ...any)  { l.line(pterm.LogLevelWarn, format, args) }
func (l *Logger) Error(format string, args ...any) { l.line(pterm.LogLevelError, format, args) }
