package decode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrOfflineDecode is matched by every OfflineError
var ErrOfflineDecode = errors.New("offline decode failed")

// Reason explains why an offline decode failed
type Reason string

const (
	ReasonWrite         Reason = "write"          // container could not be written
	ReasonStart         Reason = "start"          // tool could not be started
	ReasonTimeout       Reason = "timeout"        // tool exceeded the timeout
	ReasonExit          Reason = "exit"           // tool exited with a nonzero status
	ReasonMissingOutput Reason = "missing_output" // tool succeeded but produced nothing
)

// OfflineError describes a failed external decode
type OfflineError struct {
	Reason Reason
	Input  string
	Stderr string
	Err    error
}

func (e *OfflineError) Error() string {
	msg := fmt.Sprintf("offline decode of %s failed (%s)", e.Input, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap returns the underlying error
func (e *OfflineError) Unwrap() error {
	return e.Err
}

// Is reports ErrOfflineDecode as a match
func (e *OfflineError) Is(target error) bool {
	return target == ErrOfflineDecode
}

// OfflineConfig contains external decoder configuration
type OfflineConfig struct {
	ToolPath      string
	SampleRate    int
	Timeout       time.Duration
	MaxConcurrent int
}

// OfflineStats represents decoder statistics
type OfflineStats struct {
	Runs        uint64        `json:"runs"`
	Successes   uint64        `json:"successes"`
	Failures    uint64        `json:"failures"`
	Timeouts    uint64        `json:"timeouts"`
	AvgDuration time.Duration `json:"avg_duration"`
	Active      int           `json:"active"`
}

// OfflineDecoder runs an external opusdec-compatible tool:
//
//	<tool> --rate <sample rate> <input.opus> <output.wav>
type OfflineDecoder struct {
	config    OfflineConfig
	semaphore chan struct{}

	runs        uint64
	successes   uint64
	failures    uint64
	timeouts    uint64
	avgDuration time.Duration

	mu sync.RWMutex
}

// NewOfflineDecoder creates a decoder for the tool at config.ToolPath
func NewOfflineDecoder(config OfflineConfig) (*OfflineDecoder, error) {
	if config.ToolPath == "" {
		return nil, fmt.Errorf("tool path cannot be empty")
	}

	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	return &OfflineDecoder{
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// OutputPath returns the WAV path produced for input
func OutputPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".wav"
}

// DecodeFile converts the Ogg/Opus file at input to WAV and returns the WAV
// path. Every failure is an *OfflineError.
func (d *OfflineDecoder) DecodeFile(ctx context.Context, input string) (string, error) {
	select {
	case d.semaphore <- struct{}{}:
		defer func() { <-d.semaphore }()
	case <-ctx.Done():
		return "", &OfflineError{Reason: ReasonStart, Input: input, Err: ctx.Err()}
	}

	start := time.Now()
	output, err := d.run(ctx, input)
	d.record(err, time.Since(start))
	return output, err
}

func (d *OfflineDecoder) run(ctx context.Context, input string) (string, error) {
	output := OutputPath(input)

	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.config.ToolPath,
		"--rate", strconv.Itoa(d.config.SampleRate), input, output)
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &OfflineError{Reason: ReasonTimeout, Input: input,
				Err: fmt.Errorf("no result after %s", d.config.Timeout)}
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &OfflineError{Reason: ReasonExit, Input: input, Err: err,
				Stderr: strings.TrimSpace(stderr.String())}
		}

		return "", &OfflineError{Reason: ReasonStart, Input: input, Err: err}
	}

	info, err := os.Stat(output)
	if err != nil {
		return "", &OfflineError{Reason: ReasonMissingOutput, Input: input, Err: err}
	}
	if info.Size() == 0 {
		return "", &OfflineError{Reason: ReasonMissingOutput, Input: input,
			Err: fmt.Errorf("%s is empty", output)}
	}

	return output, nil
}

func (d *OfflineDecoder) record(err error, elapsed time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.runs++
	if err == nil {
		d.successes++
	} else {
		d.failures++
		var offErr *OfflineError
		if errors.As(err, &offErr) && offErr.Reason == ReasonTimeout {
			d.timeouts++
		}
	}

	// Simple moving average
	if d.avgDuration == 0 {
		d.avgDuration = elapsed
	} else {
		d.avgDuration = (d.avgDuration + elapsed) / 2
	}
}

// GetStats returns current decoder statistics
func (d *OfflineDecoder) GetStats() OfflineStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return OfflineStats{
		Runs:        d.runs,
		Successes:   d.successes,
		Failures:    d.failures,
		Timeouts:    d.timeouts,
		AvgDuration: d.avgDuration,
		Active:      len(d.semaphore),
	}
}

// Close waits for running tool invocations to finish
func (d *OfflineDecoder) Close() error {
	for i := 0; i < d.config.MaxConcurrent; i++ {
		d.semaphore <- struct{}{}
	}
	return nil
}
