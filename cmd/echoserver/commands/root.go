package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skypro1111/ws-audio-echo/internal/config"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "ws-audio-echo"
	serviceVersion    = "1.0.0"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "echoserver",
	Short: "WebSocket audio echo service for voice devices",
	Long: `echoserver - receives Opus audio from voice devices over WebSocket.

Devices stream encoded packets as binary frames (AUD1 || length || payload)
or as JSON envelopes, and end each utterance with {"type":"audio_end"}.
The service echoes the utterance back, records it as Ogg/Opus and decodes
it to WAV when a decoder is available.

Examples:
  # Run with the default configuration file
  echoserver serve

  # Run with a TOML configuration
  echoserver -c configs/config.toml serve

  # Wrap a raw frame capture into a playable file
  echoserver wrap capture.bin -o capture.opus`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to configuration file (.yaml or .toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig loads the configuration file. A missing default file falls back
// to built-in defaults; a missing file named on the command line is an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, nil
	}

	if !cmd.Flags().Changed("config") {
		if _, statErr := os.Stat(configPath); errors.Is(statErr, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return nil, fmt.Errorf("failed to load configuration: %w", err)
}
