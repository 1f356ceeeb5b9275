// Package log configures the process-wide slog logger used by the evmil
// command line tool.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool
	logOut      atomic.Pointer[os.File]
)

// Setup installs the default slog handler. Records go to logFile when it
// is non-empty and can be opened, otherwise to stderr with a warning.
// Only the first call has an effect.
func Setup(logFile string, debug bool) {
	initOnce.Do(func() {
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}

		w, f, err := openOutput(logFile)
		if f != nil {
			logOut.Store(f)
		}

		handler := slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:     level,
			AddSource: debug,
		})

		slog.SetDefault(slog.New(handler))
		initialized.Store(true)

		if err != nil {
			slog.Warn("Could not open log file, logging to stderr", "path", logFile, "error", err)
		}
	})
}

// openOutput opens logFile for appending. It falls back to stderr when
// logFile is empty or cannot be opened; f is nil in that case.
func openOutput(logFile string) (w io.Writer, f *os.File, err error) {
	if logFile == "" {
		return os.Stderr, nil, nil
	}
	f, err = os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stderr, nil, err
	}
	return f, f, nil
}

// Close closes the log file opened by Setup, if any. Later records still
// go to the closed file and are dropped.
func Close() error {
	if f := logOut.Swap(nil); f != nil {
		return f.Close()
	}
	return nil
}

func Initialized() bool {
	return initialized.Load()
}

// RecoverPanic logs a panic raised in the calling goroutine and runs
// cleanup. It must be deferred directly.
func RecoverPanic(name string, cleanup func()) {
	if r := recover(); r != nil {
		if Initialized() {
			slog.Error(fmt.Sprintf("Panic in %s", name),
				"panic", r,
				"stack", string(debug.Stack()))
		}
		if cleanup != nil {
			cleanup()
		}
	}
}
