// Package logger holds the process-wide structured logger used by the
// allocator's slow paths (page growth, out-of-memory, corruption, scavenge).
//
// Logging is discarded unless enabled, either by calling Init or by setting
// ALLOCKIT_LOG to one of debug, info, warn or error before the process starts.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvVar names the environment variable that enables stderr logging at init.
const EnvVar = "ALLOCKIT_LOG"

// L is the global logger instance. It's initialized to discard all output by default.
// Call Init() to enable logging.
var L *slog.Logger = discard()

// Options configures the logger initialization.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	Writer  io.Writer  // Destination. Default: os.Stderr
	Level   slog.Level // Minimum log level. Default: LevelInfo when enabled
	JSON    bool       // Emit JSON records instead of key=value text
}

func init() {
	if v := os.Getenv(EnvVar); v != "" {
		Init(Options{Enabled: true, Level: ParseLevel(v)})
	}
}

// Init replaces L according to opts.
func Init(opts Options) {
	L = New(opts)
}

// New builds a logger from opts without touching L.
func New(opts Options) *slog.Logger {
	if !opts.Enabled {
		return discard()
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	level := opts.Level
	if level == 0 {
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean debug,
// since anyone setting the variable wants to see output.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
