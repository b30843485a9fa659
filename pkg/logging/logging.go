package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a level name (debug, info, warn, error) to a slog.Level.
// An empty name is info.
func ParseLevel(logLevelStr string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(logLevelStr)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", logLevelStr)
	}
}

// Setup installs the default slog logger. Output goes to logPath when it can
// be opened, otherwise to defaultWriter. An unknown level is reported and
// treated as info. The returned io.Closer closes the log file, if any.
func Setup(logLevelStr string, logPath string, defaultWriter io.Writer) io.Closer {
	level, levelErr := ParseLevel(logLevelStr)
	w, closer, openErr := openWriter(logPath, defaultWriter)

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	})))

	if openErr != nil {
		slog.Error("Failed to open configured log file, falling back to default writer", "path", logPath, "error", openErr)
	}
	if levelErr != nil {
		slog.Warn("Invalid log level, using info", "log_level", logLevelStr, "error", levelErr)
	}
	return closer
}

// openWriter opens logPath for appending. On failure, or when logPath is
// empty, it returns defaultWriter with a no-op closer.
func openWriter(logPath string, defaultWriter io.Writer) (io.Writer, io.Closer, error) {
	if logPath == "" {
		return defaultWriter, nopCloser{}, nil
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return defaultWriter, nopCloser{}, err
	}
	return f, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
