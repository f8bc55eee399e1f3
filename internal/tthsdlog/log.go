// Package tthsdlog constructs the engine's root structured logger. A single
// *slog.Logger is built once at library load and threaded explicitly through
// every component that needs it — nothing here is a package-level global
// logger that callers reach for implicitly.
package tthsdlog

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the root logger. When logFile is empty, output goes to stderr
// (the natural default for a library embedded in a host process, which may
// already be capturing its own stderr). When logFile is set, output is
// rotated via lumberjack: a shared library has no init system or logrotate
// entry of its own to lean on, so it rotates its own log file.
func New(level, logFile string) *slog.Logger {
	var w io.Writer = os.Stderr
	if logFile != "" {
		w = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // MiB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info", "":
		fallthrough
	default:
		return slog.LevelInfo
	}
}
