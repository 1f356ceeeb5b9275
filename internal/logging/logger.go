// Package logging provides structured logging with file output support.
// It uses environment variables for configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying log file, if one was opened
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// NewLoggerWithWriter creates a new logger with the provided writer.
// The writer is never closed by the logger.
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	lg.SetLevel(Level())

	prefix := os.Getenv("EVMIL_LOG_PREFIX")
	if prefix == "" {
		prefix = "evmil "
	}

	return &LoggerCloser{Logger: lg.WithPrefix(prefix)}
}

// NewLogger creates a new logger based on environment variables
// EVMIL_LOG_LEVEL: debug, info, warn, error (default: info)
// EVMIL_LOG_PREFIX: prefix for log messages (default: "evmil ")
// EVMIL_LOG_TO_FILE: when set to "1", logs to a timestamped file instead of stderr
func NewLogger() *LoggerCloser {
	if os.Getenv("EVMIL_LOG_TO_FILE") == "1" {
		timestamp := time.Now().Format("20060102-150405")
		logFile := fmt.Sprintf("evmil-%s-debug.log", timestamp)

		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			lc := NewLoggerWithWriter(f)
			lc.closer = f
			return lc
		}
		// If file creation fails, fall back to stderr
	}

	return NewLoggerWithWriter(os.Stderr)
}

// Level maps EVMIL_LOG_LEVEL to a log level
func Level() log.Level {
	switch os.Getenv("EVMIL_LOG_LEVEL") {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return os.Getenv("EVMIL_LOG_LEVEL") == "debug"
}
