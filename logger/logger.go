// Package logger configures the process-wide slog logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how verbosely the server logs.
type Config struct {
	// DataDir receives logs/server.log. Empty disables the file sink.
	DataDir string
	DevMode bool
	// Level is one of debug, info, warn, error. Empty means info, or debug in dev mode.
	Level string
	// Stderr overrides the console sink; nil means os.Stderr.
	Stderr io.Writer
}

// Init installs the default logger and returns a closer for the log file.
func Init(cfg Config) io.Closer {
	console := cfg.Stderr
	if console == nil {
		console = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	w := console
	if cfg.DataDir != "" {
		file := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.DataDir, "logs", "server.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
		}
		w = io.MultiWriter(console, file)
		closer = file
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level, cfg.DevMode)}
	var handler slog.Handler
	if cfg.DevMode {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closer
}

// ParseLevel maps a level name to a slog level. Unknown names fall back to info.
func ParseLevel(name string, devMode bool) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "":
		if devMode {
			return slog.LevelDebug
		}
	}
	return slog.LevelInfo
}

// Truncate shortens s to at most n runes for log output.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
