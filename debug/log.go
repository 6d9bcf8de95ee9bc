// Package debug is the category logger used across go-ripple.
//
// Logging is off until Enable or EnableWriter is called. Messages carry a
// category attribute so a log file can be grepped per subsystem
// ("clock", "merge", "relay", "led", ...).
package debug

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

var (
	mu       sync.Mutex
	file     *os.File
	logger   = slog.New(slog.NewTextHandler(io.Discard, nil))
	enabled  bool
	counters = make(map[string]int)
)

// Enable starts debug logging to path, truncating any previous log
func Enable(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if enabled {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}

	file = f
	setLocked(f, slog.LevelDebug)
	logger.Debug("=== Debug logging started ===", "cat", "debug")
	return nil
}

// EnableWriter logs to w, used by foreground commands like relay
func EnableWriter(w io.Writer, level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
	setLocked(w, level)
}

func setLocked(w io.Writer, level slog.Level) {
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	enabled = true
}

func closeLocked() {
	if file != nil {
		file.Close()
		file = nil
	}
}

// Disable stops debug logging
func Disable() {
	mu.Lock()
	defer mu.Unlock()

	closeLocked()
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	enabled = false
}

// Enabled reports whether logging is on
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Logger returns a structured logger tagged with category
func Logger(category string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger.With("cat", category)
}

// Log writes a debug message
func Log(category, format string, args ...any) {
	current().Debug(fmt.Sprintf(format, args...), "cat", category)
}

// Warn writes a recoverable failure
func Warn(category, format string, args ...any) {
	current().Warn(fmt.Sprintf(format, args...), "cat", category)
}

func current() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// LogEvery logs only every N calls (use for high-frequency events)
func LogEvery(n int, category, format string, args ...any) {
	if n <= 0 {
		n = 1
	}
	mu.Lock()
	key := category + format
	counters[key]++
	count := counters[key]
	mu.Unlock()

	if count%n == 0 {
		Log(category, format+" (every %d, count=%d)", append(args, n, count)...)
	}
}
