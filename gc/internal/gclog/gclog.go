// Package gclog wraps log/slog with the two log levels the collector
// actually needs: Debug for phase transitions, Warn for overflow and
// degraded-mode events. It carries no third-party logging dependency,
// matching the rest of the collector's runtime/allocator packages.
package gclog

import (
	"log/slog"
	"os"
	"sync"
)

var (
	mu  sync.RWMutex
	log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
)

// SetLogger replaces the package-level logger, for hosts that want the
// collector's events folded into their own slog handler.
func SetLogger(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debug logs a phase transition or other routine collector event.
func Debug(msg string, args ...any) {
	current().Debug(msg, args...)
}

// Warn logs an overflow, degraded-mode fallback, or other condition
// worth an operator's attention but not fatal to the collector.
func Warn(msg string, args ...any) {
	current().Warn(msg, args...)
}
