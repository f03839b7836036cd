package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/skypro1111/ws-audio-echo/internal/config"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// initLogger builds the service logger from cfg. The -v flag forces debug
// level with source locations regardless of the configured level. The
// returned closer releases the log file when output is a path.
func initLogger(cfg config.LoggingConfig, verbose bool) (*slog.Logger, io.Closer) {
	level, ok := logLevels[cfg.Level]
	if !ok {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	out, closer := logOutput(cfg.Output)
	opts := &slog.HandlerOptions{Level: level, AddSource: verbose}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts)), closer
	}
	return slog.New(slog.NewTextHandler(out, opts)), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func logOutput(target string) (io.Writer, io.Closer) {
	switch target {
	case "", "stdout":
		return os.Stdout, nopCloser{}
	case "stderr":
		return os.Stderr, nopCloser{}
	}

	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", target, err)
		return os.Stdout, nopCloser{}
	}
	return file, file
}
