package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// level is shared by every handler so SetLevel affects loggers created earlier.
var level = new(slog.LevelVar)

var base atomic.Pointer[slog.Logger]

func init() {
	level.Set(slog.LevelInfo)
	SetOutput(os.Stdout)
}

// Logger returns the process-wide structured logger.
func Logger() *slog.Logger {
	return base.Load()
}

// NewLogger creates a new logger tagged with the given component name
func NewLogger(name string) *slog.Logger {
	return Logger().With("component", name)
}

// SetLevel sets the logging level
func SetLevel(l slog.Level) {
	level.Set(l)
}

// SetOutput redirects JSON log output. Loggers created before the call keep
// their original writer.
func SetOutput(w io.Writer) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	base.Store(slog.New(handler))
}

// ParseLevel maps debug, info, warn and error (case-insensitive) to slog
// levels. Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
