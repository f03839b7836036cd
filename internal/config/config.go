package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/skypro1111/ws-audio-echo/internal/ogg"
)

// Decode modes
const (
	DecodeAuto      = "auto"
	DecodeInProcess = "inprocess"
	DecodeOffline   = "offline"
	DecodeNone      = "none"
)

// Recording formats
const (
	FormatOgg = "ogg"
	FormatRaw = "raw"
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	HTTP      HTTPConfig      `yaml:"http" toml:"http"`
	Audio     AudioConfig     `yaml:"audio" toml:"audio"`
	Echo      EchoConfig      `yaml:"echo" toml:"echo"`
	Recording RecordingConfig `yaml:"recording" toml:"recording"`
	Decode    DecodeConfig    `yaml:"decode" toml:"decode"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig contains WebSocket listener configuration
type ServerConfig struct {
	BindAddress  string `yaml:"bind_address" toml:"bind_address"`
	Port         int    `yaml:"port" toml:"port"`
	Path         string `yaml:"path" toml:"path"`
	ReadLimit    int64  `yaml:"read_limit" toml:"read_limit"`       // bytes per message
	WriteTimeout int    `yaml:"write_timeout" toml:"write_timeout"` // seconds
	MaxSessions  int    `yaml:"max_sessions" toml:"max_sessions"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" toml:"port"`
	Address string `yaml:"address" toml:"address"`
	Enabled bool   `yaml:"enabled" toml:"enabled"`
}

// AudioConfig describes the encoded stream sent by the device
type AudioConfig struct {
	SampleRate              int    `yaml:"sample_rate" toml:"sample_rate"`
	Channels                int    `yaml:"channels" toml:"channels"`
	FrameDurationMs         int    `yaml:"frame_duration_ms" toml:"frame_duration_ms"`
	PreSkip                 int    `yaml:"pre_skip" toml:"pre_skip"`
	OutputGain              int    `yaml:"output_gain" toml:"output_gain"`
	MappingFamily           int    `yaml:"mapping_family" toml:"mapping_family"`
	Serial                  uint32 `yaml:"serial" toml:"serial"`
	Vendor                  string `yaml:"vendor" toml:"vendor"`
	TerminateAlignedPackets bool   `yaml:"terminate_aligned_packets" toml:"terminate_aligned_packets"`
}

// EchoConfig controls the loopback of buffered packets to the device
type EchoConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// RecordingConfig controls persisted utterance artifacts
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	OutputDir string `yaml:"output_dir" toml:"output_dir"`
	Format    string `yaml:"format" toml:"format"`
}

// DecodeConfig selects how utterances are decoded to PCM
type DecodeConfig struct {
	Mode        string `yaml:"mode" toml:"mode"`
	OpusdecPath string `yaml:"opusdec_path" toml:"opusdec_path"`
	Timeout     int    `yaml:"timeout" toml:"timeout"` // seconds
}

// StorageConfig contains optional artifact mirrors
type StorageConfig struct {
	S3 S3Config `yaml:"s3" toml:"s3"`
}

// S3Config configures the S3-compatible artifact mirror. An empty bucket
// disables it.
type S3Config struct {
	Bucket          string `yaml:"bucket" toml:"bucket"`
	Prefix          string `yaml:"prefix" toml:"prefix"`
	Region          string `yaml:"region" toml:"region"`
	Endpoint        string `yaml:"endpoint" toml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style" toml:"path_style"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// Default returns a configuration matching the device firmware defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:  "0.0.0.0",
			Port:         8766,
			Path:         "/",
			ReadLimit:    64 * 1024,
			WriteTimeout: 5,
			MaxSessions:  16,
		},
		HTTP: HTTPConfig{
			Port:    8767,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Audio: AudioConfig{
			SampleRate:              16000,
			Channels:                1,
			FrameDurationMs:         20,
			PreSkip:                 312,
			OutputGain:              0,
			MappingFamily:           0,
			Serial:                  0x12345678,
			Vendor:                  "MVP-W Test Server",
			TerminateAlignedPackets: true,
		},
		Echo: EchoConfig{
			Enabled: true,
		},
		Recording: RecordingConfig{
			Enabled:   true,
			OutputDir: "recordings",
			Format:    FormatOgg,
		},
		Decode: DecodeConfig{
			Mode:        DecodeAuto,
			OpusdecPath: filepath.Join("opus-tools", "opusdec"),
			Timeout:     30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file on top of Default()
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	if err := c.Decode.Validate(); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	if c.Decode.Mode == DecodeOffline && (!c.Recording.Enabled || c.Recording.Format != FormatOgg) {
		return fmt.Errorf("decode config: offline mode decodes the recorded container and needs recording enabled with format %q", FormatOgg)
	}

	if err := c.Storage.S3.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if !strings.HasPrefix(s.Path, "/") {
		return fmt.Errorf("path must start with '/', got '%s'", s.Path)
	}

	if s.ReadLimit < 1024 {
		return fmt.Errorf("read_limit must be at least 1024 bytes, got %d", s.ReadLimit)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", s.MaxSessions)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	validRates := map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}
	if !validRates[a.SampleRate] {
		return fmt.Errorf("sample_rate must be one of [8000, 12000, 16000, 24000, 48000], got %d", a.SampleRate)
	}

	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}

	validDurations := map[int]bool{10: true, 20: true, 40: true, 60: true}
	if !validDurations[a.FrameDurationMs] {
		return fmt.Errorf("frame_duration_ms must be one of [10, 20, 40, 60], got %d", a.FrameDurationMs)
	}

	if a.PreSkip < 0 || a.PreSkip > 0xFFFF {
		return fmt.Errorf("pre_skip must fit in 16 bits, got %d", a.PreSkip)
	}

	if a.OutputGain < -32768 || a.OutputGain > 32767 {
		return fmt.Errorf("output_gain must fit in a signed 16-bit value, got %d", a.OutputGain)
	}

	if a.MappingFamily != 0 {
		return fmt.Errorf("mapping_family must be 0 for mono/stereo streams, got %d", a.MappingFamily)
	}

	return nil
}

// Validate validates recording configuration
func (r *RecordingConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if r.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty when recording is enabled")
	}

	if r.Format != FormatOgg && r.Format != FormatRaw {
		return fmt.Errorf("format must be '%s' or '%s', got '%s'", FormatOgg, FormatRaw, r.Format)
	}

	return nil
}

// Validate validates decode configuration
func (d *DecodeConfig) Validate() error {
	switch d.Mode {
	case DecodeAuto, DecodeInProcess, DecodeOffline, DecodeNone:
	default:
		return fmt.Errorf("mode must be one of [auto, inprocess, offline, none], got '%s'", d.Mode)
	}

	if d.Mode == DecodeOffline && d.OpusdecPath == "" {
		return fmt.Errorf("opusdec_path cannot be empty in offline mode")
	}

	if d.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", d.Timeout)
	}

	return nil
}

// Validate validates the S3 mirror configuration
func (s *S3Config) Validate() error {
	if !s.Enabled() {
		return nil
	}

	if s.Region == "" {
		return fmt.Errorf("s3 region cannot be empty when a bucket is set")
	}

	if (s.AccessKeyID == "") != (s.SecretAccessKey == "") {
		return fmt.Errorf("s3 access_key_id and secret_access_key must be set together")
	}

	return nil
}

// Enabled reports whether artifacts are mirrored to S3
func (s *S3Config) Enabled() bool {
	return s.Bucket != ""
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output is stdout, stderr or a file path.
	return nil
}

// GetWriteTimeoutDuration returns the per-message write timeout
func (s *ServerConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetFrameDuration returns the duration covered by one encoded packet
func (a *AudioConfig) GetFrameDuration() time.Duration {
	return time.Duration(a.FrameDurationMs) * time.Millisecond
}

// SamplesPerFrame returns the number of samples per channel in one packet
func (a *AudioConfig) SamplesPerFrame() int {
	return a.SampleRate * a.FrameDurationMs / 1000
}

// GetTimeoutDuration returns the external decode timeout
func (d *DecodeConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

// OggConfig returns the container parameters for the configured stream
func (a *AudioConfig) OggConfig() ogg.Config {
	return ogg.Config{
		SampleRate:       a.SampleRate,
		Channels:         a.Channels,
		FrameDuration:    a.GetFrameDuration(),
		PreSkip:          uint16(a.PreSkip),
		OutputGain:       int16(a.OutputGain),
		MappingFamily:    uint8(a.MappingFamily),
		Serial:           a.Serial,
		Vendor:           a.Vendor,
		TerminateAligned: a.TerminateAlignedPackets,
	}
}
