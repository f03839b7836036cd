package ogg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Page header layout constants
const (
	CapturePattern = "OggS"

	HeaderTypeContinued = 0x01
	HeaderTypeBOS       = 0x02
	HeaderTypeEOS       = 0x04

	PageHeaderSize = 27
	MaxSegmentSize = 255
	MaxSegments    = 255

	checksumOffset = 22
)

// Config describes the logical stream written by an Encoder.
type Config struct {
	SampleRate    int
	Channels      int
	FrameDuration time.Duration
	PreSkip       uint16
	OutputGain    int16
	MappingFamily uint8
	Serial        uint32
	Vendor        string

	// TerminateAligned appends a zero-length lacing value to packets whose
	// size is a multiple of 255, as the Ogg framing rules require for a
	// demuxer to find the packet end. When false such packets end on a 255
	// lacing value and the next page boundary delimits them.
	TerminateAligned bool
}

// DefaultConfig returns the stream parameters used by the device firmware:
// 16 kHz mono, 20 ms frames.
func DefaultConfig() Config {
	return Config{
		SampleRate:       16000,
		Channels:         1,
		FrameDuration:    20 * time.Millisecond,
		PreSkip:          312,
		OutputGain:       0,
		MappingFamily:    0,
		Serial:           0x12345678,
		Vendor:           "MVP-W Test Server",
		TerminateAligned: true,
	}
}

// Validate checks the stream parameters
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels < 1 || c.Channels > 255 {
		return fmt.Errorf("channels must be between 1 and 255, got %d", c.Channels)
	}
	if c.MappingFamily == 0 && c.Channels > 2 {
		return fmt.Errorf("mapping family 0 supports at most 2 channels, got %d", c.Channels)
	}
	if c.FrameDuration <= 0 {
		return fmt.Errorf("frame duration must be positive, got %s", c.FrameDuration)
	}
	if c.SamplesPerPacket() == 0 {
		return fmt.Errorf("frame duration %s is shorter than one sample at %d Hz", c.FrameDuration, c.SampleRate)
	}
	return nil
}

// SamplesPerPacket returns the granule increment of one data packet.
func (c Config) SamplesPerPacket() uint64 {
	return uint64(c.SampleRate) * uint64(c.FrameDuration) / uint64(time.Second)
}

// Encoder turns an ordered packet sequence into an Ogg/Opus bitstream.
// Page sequence and granule position carry over between Encode calls until
// Reset is called. An Encoder is not safe for concurrent use.
type Encoder struct {
	cfg      Config
	sequence uint32
	granule  uint64
}

// NewEncoder creates an encoder for the given stream parameters
func NewEncoder(cfg Config) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ogg config: %w", err)
	}
	return &Encoder{cfg: cfg}, nil
}

// Config returns the stream parameters
func (e *Encoder) Config() Config {
	return e.cfg
}

// Reset zeroes the page sequence and granule counters. The serial number
// is kept.
func (e *Encoder) Reset() {
	e.sequence = 0
	e.granule = 0
}

// Encode writes the header pages followed by one page per packet. The last
// page written carries the end-of-stream flag; with no packets that is the
// comment header page.
func (e *Encoder) Encode(packets [][]byte) ([]byte, error) {
	for i, p := range packets {
		if err := e.checkFits(p); err != nil {
			return nil, fmt.Errorf("packet %d: %w", i, err)
		}
	}

	size := 2*PageHeaderSize + opusHeadSize + 32 + len(e.cfg.Vendor)
	for _, p := range packets {
		size += PageHeaderSize + len(p)/MaxSegmentSize + 1 + len(p)
	}
	out := bytes.NewBuffer(make([]byte, 0, size))

	out.Write(e.page(OpusHead(e.cfg), 0, HeaderTypeBOS))

	var tagsFlags byte
	if len(packets) == 0 {
		tagsFlags = HeaderTypeEOS
	}
	out.Write(e.page(OpusTags(e.cfg.Vendor), 0, tagsFlags))

	step := e.cfg.SamplesPerPacket()
	for i, p := range packets {
		e.granule += step

		var flags byte
		if i == len(packets)-1 {
			flags = HeaderTypeEOS
		}
		out.Write(e.page(p, e.granule, flags))
	}

	return out.Bytes(), nil
}

// checkFits reports whether payload can be carried by a single page
func (e *Encoder) checkFits(payload []byte) error {
	if n := len(e.lacing(payload)); n > MaxSegments {
		return fmt.Errorf("payload of %d bytes needs %d segments, a page holds %d",
			len(payload), n, MaxSegments)
	}
	return nil
}

// lacing returns the segment table for one packet
func (e *Encoder) lacing(payload []byte) []byte {
	full := len(payload) / MaxSegmentSize
	rem := len(payload) % MaxSegmentSize

	n := full
	if rem > 0 || e.cfg.TerminateAligned {
		n++
	}

	table := make([]byte, n)
	for i := 0; i < full; i++ {
		table[i] = MaxSegmentSize
	}
	if n > full {
		table[full] = byte(rem)
	}
	return table
}

// page builds one complete page and advances the page sequence counter.
// The payload must fit a single page.
func (e *Encoder) page(payload []byte, granule uint64, flags byte) []byte {
	table := e.lacing(payload)

	page := make([]byte, PageHeaderSize+len(table)+len(payload))
	copy(page[0:4], CapturePattern)
	page[4] = 0 // stream structure version
	page[5] = flags
	binary.LittleEndian.PutUint64(page[6:14], granule)
	binary.LittleEndian.PutUint32(page[14:18], e.cfg.Serial)
	binary.LittleEndian.PutUint32(page[18:22], e.sequence)
	// page[22:26] stays zero while the checksum is computed
	page[26] = byte(len(table))
	copy(page[PageHeaderSize:], table)
	copy(page[PageHeaderSize+len(table):], payload)

	binary.LittleEndian.PutUint32(page[checksumOffset:checksumOffset+4], Checksum(page))

	e.sequence++
	return page
}
