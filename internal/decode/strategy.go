package decode

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Mode is the decode capability in effect
type Mode string

const (
	ModeInProcess Mode = "inprocess"
	ModeOffline   Mode = "offline"
	ModeNone      Mode = "none"
)

// Config selects and configures the decode capability. Mode is one of
// "auto", "inprocess", "offline" or "none".
type Config struct {
	Mode       string
	SampleRate int
	Channels   int
	ToolPath   string
	Timeout    time.Duration
}

// Strategy is the decode capability chosen at startup and shared by all
// sessions
type Strategy struct {
	mode    Mode
	config  Config
	offline *OfflineDecoder
}

// Select picks the decode capability. In auto mode the in-process decoder is
// preferred, then the external tool if it exists, then persist-only.
func Select(config Config, logger *slog.Logger) (*Strategy, error) {
	s := &Strategy{config: config}

	switch config.Mode {
	case "auto", "":
		if _, err := NewOpusDecoder(config.SampleRate, config.Channels); err == nil {
			s.mode = ModeInProcess
		} else if toolAvailable(config.ToolPath) {
			logger.Warn("In-process decoder unavailable, using external tool",
				"error", err, "tool", config.ToolPath)
			if err := s.useOffline(); err != nil {
				return nil, err
			}
		} else {
			logger.Warn("No decoder available, recordings will not be decoded",
				"error", err, "tool", config.ToolPath)
			s.mode = ModeNone
		}

	case string(ModeInProcess):
		if _, err := NewOpusDecoder(config.SampleRate, config.Channels); err != nil {
			return nil, fmt.Errorf("in-process decoder unavailable: %w", err)
		}
		s.mode = ModeInProcess

	case string(ModeOffline):
		if !toolAvailable(config.ToolPath) {
			return nil, fmt.Errorf("decode tool not found at %s", config.ToolPath)
		}
		if err := s.useOffline(); err != nil {
			return nil, err
		}

	case string(ModeNone):
		s.mode = ModeNone

	default:
		return nil, fmt.Errorf("unknown decode mode %q", config.Mode)
	}

	logger.Info("Decode strategy selected", "mode", string(s.mode))
	return s, nil
}

// Persistent returns a strategy that never decodes
func Persistent() *Strategy {
	return &Strategy{mode: ModeNone}
}

func (s *Strategy) useOffline() error {
	dec, err := NewOfflineDecoder(OfflineConfig{
		ToolPath:   s.config.ToolPath,
		SampleRate: s.config.SampleRate,
		Timeout:    s.config.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create offline decoder: %w", err)
	}
	s.mode = ModeOffline
	s.offline = dec
	return nil
}

// Mode returns the selected capability
func (s *Strategy) Mode() Mode {
	return s.mode
}

// NewPacketDecoder returns a fresh per-session decoder, or nil when the
// strategy does not decode in process
func (s *Strategy) NewPacketDecoder() (PacketDecoder, error) {
	if s.mode != ModeInProcess {
		return nil, nil
	}
	dec, err := NewOpusDecoder(s.config.SampleRate, s.config.Channels)
	if err != nil {
		return nil, err
	}
	return dec, nil
}

// Offline returns the external decoder, or nil outside offline mode
func (s *Strategy) Offline() *OfflineDecoder {
	return s.offline
}

// Close releases the external decoder
func (s *Strategy) Close() error {
	if s.offline != nil {
		return s.offline.Close()
	}
	return nil
}

func toolAvailable(path string) bool {
	if path == "" {
		return false
	}
	if info, err := os.Stat(path); err == nil {
		return !info.IsDir()
	}
	_, err := exec.LookPath(path)
	return err == nil
}
