package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skypro1111/ws-audio-echo/internal/config"
	"github.com/skypro1111/ws-audio-echo/internal/ogg"
	"github.com/skypro1111/ws-audio-echo/internal/protocol"
)

var wrapOutput string

var wrapCmd = &cobra.Command{
	Use:   "wrap <capture> [-o output.opus]",
	Short: "Wrap a capture of binary frames into an Ogg/Opus file",
	Long: `Read a capture file of consecutive binary frames (AUD1 || length || payload)
and write their payloads as one Ogg/Opus stream. Stream parameters come from
the audio section of the configuration.

Use '-' to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		input := args[0]
		output := wrapOutput
		if output == "" {
			if input == "-" {
				return fmt.Errorf("flag -o is required when reading from stdin")
			}
			output = strings.TrimSuffix(input, ".bin") + ".opus"
		}

		var r io.Reader = os.Stdin
		if input != "-" {
			f, err := os.Open(input)
			if err != nil {
				return fmt.Errorf("failed to open capture: %w", err)
			}
			defer f.Close()
			r = f
		}

		n, err := wrapCapture(bufio.NewReader(r), output, cfg.Audio)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrapped %d packets into %s\n", n, output)
		return nil
	},
}

func init() {
	wrapCmd.Flags().StringVarP(&wrapOutput, "output", "o", "", "output file (default: input with .opus suffix)")
	rootCmd.AddCommand(wrapCmd)
}

// wrapCapture reads every frame from r and writes the Ogg/Opus file
func wrapCapture(r io.Reader, output string, audio config.AudioConfig) (int, error) {
	var packets [][]byte
	for {
		payload, err := protocol.ReadFrame(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("frame %d: %w", len(packets)+1, err)
		}
		packets = append(packets, payload)
	}

	enc, err := ogg.NewEncoder(audio.OggConfig())
	if err != nil {
		return 0, err
	}
	data, err := enc.Encode(packets)
	if err != nil {
		return 0, fmt.Errorf("failed to encode: %w", err)
	}

	if err := os.WriteFile(output, data, 0644); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", output, err)
	}
	return len(packets), nil
}
