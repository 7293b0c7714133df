// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides structured logging for nsight. It wraps log/slog
// with a colorized console handler and exposes package-level helpers so call
// sites stay terse: logging.Error("fetch failed", "profile", id, "error", err).
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
)

// Logger is the nsight logger. It is a thin alias over slog so components can
// carry their own scoped logger.
type Logger struct {
	sl *slog.Logger
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(os.Stderr, slog.LevelInfo))
}

// New creates a Logger writing to w at the given level.
func New(w io.Writer, level slog.Level) *Logger {
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
	return &Logger{sl: slog.New(handler)}
}

// Setup replaces the process-wide default logger. level is one of
// "debug", "info", "warn", "error" (case-insensitive, default info).
func Setup(level string) {
	defaultLogger.Store(New(os.Stderr, ParseLevel(level)))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a Logger with the given attributes attached to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{sl: l.sl.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.sl.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sl.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sl.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sl.Error(msg, args...) }

// Default returns the process-wide logger.
func Default() *Logger {
	return defaultLogger.Load()
}

// Package-level helpers logging through the default logger.

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
