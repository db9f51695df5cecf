// Package consoleio provides the bridge's process-level logging, mirroring
// the teacher's internal/cli.Logger: timestamped, level-prefixed lines on
// stdout, gated by verbose/debug flags rather than a structured logging
// library.
package consoleio

import (
	"fmt"
	"time"
)

// Logger is the bridge's stdout logger. It intentionally has no
// concept of log levels beyond the four below; the bridge runs as a single
// foreground process and is read by a human watching a terminal, not
// scraped by a log aggregator.
type Logger struct {
	Verbose   bool
	DebugMode bool
}

// NewLogger creates a logger gated by the given verbosity flags.
func NewLogger(verbose, debug bool) *Logger {
	return &Logger{Verbose: verbose, DebugMode: debug}
}

func (l *Logger) stamp() string { return time.Now().Format("15:04:05.000") }

// Info logs a message when Verbose is set.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.Verbose {
		fmt.Printf("[INFO] %s: %s\n", l.stamp(), fmt.Sprintf(format, args...))
	}
}

// Debug logs a message when DebugMode is set.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.DebugMode {
		fmt.Printf("[DEBUG] %s: %s\n", l.stamp(), fmt.Sprintf(format, args...))
	}
}

// Warn always logs.
func (l *Logger) Warn(format string, args ...interface{}) {
	fmt.Printf("[WARN] %s: %s\n", l.stamp(), fmt.Sprintf(format, args...))
}

// Error always logs.
func (l *Logger) Error(format string, args ...interface{}) {
	fmt.Printf("[ERROR] %s: %s\n", l.stamp(), fmt.Sprintf(format, args...))
}
