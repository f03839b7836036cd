package commands

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skypro1111/ws-audio-echo/internal/config"
)

func TestInitLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		verbose   bool
		wantLevel slog.Level
	}{
		{"configured info", "info", false, slog.LevelInfo},
		{"configured warn", "warn", false, slog.LevelWarn},
		{"configured error", "error", false, slog.LevelError},
		{"unknown falls back to info", "loud", false, slog.LevelInfo},
		{"verbose overrides error", "error", true, slog.LevelDebug},
		{"verbose overrides info", "info", true, slog.LevelDebug},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, closer := initLogger(config.LoggingConfig{Level: tt.level, Output: "stderr"}, tt.verbose)
			defer closer.Close()

			if !logger.Enabled(ctx, tt.wantLevel) {
				t.Errorf("Expected level %v enabled", tt.wantLevel)
			}
			if logger.Enabled(ctx, tt.wantLevel-1) {
				t.Errorf("Expected level %v disabled", tt.wantLevel-1)
			}
		})
	}
}

func TestInitLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")

	logger, closer := initLogger(config.LoggingConfig{Level: "warn", Format: "json", Output: path}, true)
	logger.Debug("verbose line", slog.String("k", "v"))
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("Expected one JSON log line, got %q: %v", data, err)
	}
	if entry["msg"] != "verbose line" || entry["level"] != "DEBUG" {
		t.Errorf("Unexpected entry: %v", entry)
	}
	if _, ok := entry["source"]; !ok {
		t.Error("Expected source location in verbose mode")
	}
}
