package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"gpt-relay/internal/config"
)

const (
	maxLogSizeMB  = 20
	maxLogBackups = 5
	maxLogAgeDays = 14
)

// Init configures slog from the logging section and installs the logger as
// the process default. Records go to stderr and, when a file is configured,
// to a rotating log file. The returned closer releases the file.
func Init(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	return initWith(cfg, os.Stderr, isTerminal(os.Stderr))
}

func initWith(cfg config.LoggingConfig, console io.Writer, tty bool) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}

	var (
		out    = console
		closer io.Closer = nopCloser{}
	)

	if path := strings.TrimSpace(cfg.File); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			logger := slog.New(newHandler(cfg.Format, tty, console, opts))
			slog.SetDefault(logger)
			return logger, closer, err
		}
		file := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxLogSizeMB,
			MaxBackups: maxLogBackups,
			MaxAge:     maxLogAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(console, file)
		closer = file
		// Records shared with a file are always JSON.
		tty = false
	}

	logger := slog.New(newHandler(cfg.Format, tty, out, opts))
	slog.SetDefault(logger)
	return logger, closer, nil
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func parseLogLevel(level string) slog.Level {
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

func newHandler(format string, tty bool, out io.Writer, opts *slog.HandlerOptions) slog.Handler {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text":
		return slog.NewTextHandler(out, opts)
	case "json":
		return slog.NewJSONHandler(out, opts)
	}
	if tty {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
