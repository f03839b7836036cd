package ogg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/pion/webrtc/v3/pkg/media/oggreader"
)

// walkedPage is a page header decoded by walkPages
type walkedPage struct {
	flags    byte
	granule  uint64
	serial   uint32
	sequence uint32
	checksum uint32
	lacing   []byte
	body     []byte
	raw      []byte
}

// walkPages splits an Ogg bitstream into pages without using the encoder.
func walkPages(t *testing.T, data []byte) []walkedPage {
	t.Helper()

	var pages []walkedPage
	for len(data) > 0 {
		if len(data) < PageHeaderSize {
			t.Fatalf("Trailing %d bytes are shorter than a page header", len(data))
		}
		if string(data[0:4]) != "OggS" {
			t.Fatalf("Expected capture pattern OggS, got %q", data[0:4])
		}
		if data[4] != 0 {
			t.Fatalf("Expected stream structure version 0, got %d", data[4])
		}

		nseg := int(data[26])
		lacing := data[PageHeaderSize : PageHeaderSize+nseg]
		bodyLen := 0
		for _, l := range lacing {
			bodyLen += int(l)
		}
		total := PageHeaderSize + nseg + bodyLen
		if len(data) < total {
			t.Fatalf("Page declares %d bytes, only %d remain", total, len(data))
		}

		pages = append(pages, walkedPage{
			flags:    data[5],
			granule:  binary.LittleEndian.Uint64(data[6:14]),
			serial:   binary.LittleEndian.Uint32(data[14:18]),
			sequence: binary.LittleEndian.Uint32(data[18:22]),
			checksum: binary.LittleEndian.Uint32(data[22:26]),
			lacing:   lacing,
			body:     data[PageHeaderSize+nseg : total],
			raw:      data[:total],
		})
		data = data[total:]
	}
	return pages
}

// bitwiseChecksum computes the Ogg CRC one bit at a time.
func bitwiseChecksum(page []byte) uint32 {
	buf := make([]byte, len(page))
	copy(buf, page)
	copy(buf[22:26], []byte{0, 0, 0, 0})

	var crc uint32
	for _, b := range buf {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func randomPackets(r *rand.Rand, n int) [][]byte {
	packets := make([][]byte, n)
	for i := range packets {
		p := make([]byte, 1+r.Intn(600))
		r.Read(p)
		packets[i] = p
	}
	return packets
}

func TestChecksumKnownValue(t *testing.T) {
	// CRC-32/POSIX of "123456789" before its final inversion.
	if got := Checksum([]byte("123456789")); got != 0x89A1897F {
		t.Errorf("Expected checksum 0x89A1897F, got 0x%08X", got)
	}
	if got := Checksum(nil); got != 0 {
		t.Errorf("Expected checksum of empty input to be 0, got 0x%08X", got)
	}
}

func TestEncodeValidatesWithIndependentParser(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	cfg := DefaultConfig()

	for _, n := range []int{0, 1, 2, 3, 10, 75} {
		packets := randomPackets(r, n)

		enc, err := NewEncoder(cfg)
		if err != nil {
			t.Fatalf("NewEncoder failed: %v", err)
		}
		out, err := enc.Encode(packets)
		if err != nil {
			t.Fatalf("Encode(%d packets) failed: %v", n, err)
		}

		reader, header, err := oggreader.NewWith(bytes.NewReader(out))
		if err != nil {
			t.Fatalf("oggreader rejected %d-packet stream: %v", n, err)
		}
		if header.Channels != uint8(cfg.Channels) {
			t.Errorf("Expected %d channels, got %d", cfg.Channels, header.Channels)
		}
		if header.SampleRate != uint32(cfg.SampleRate) {
			t.Errorf("Expected sample rate %d, got %d", cfg.SampleRate, header.SampleRate)
		}
		if header.PreSkip != cfg.PreSkip {
			t.Errorf("Expected pre-skip %d, got %d", cfg.PreSkip, header.PreSkip)
		}
		if header.Version != 1 {
			t.Errorf("Expected OpusHead version 1, got %d", header.Version)
		}

		// Tags page plus one page per packet remain after the head page.
		var lastGranule uint64
		remaining := 0
		for {
			_, page, err := reader.ParseNextPage()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatalf("oggreader failed on page %d of %d-packet stream: %v", remaining+1, n, err)
			}
			if page.GranulePosition < lastGranule {
				t.Errorf("Granule position decreased: %d after %d", page.GranulePosition, lastGranule)
			}
			lastGranule = page.GranulePosition
			remaining++
		}
		if remaining != n+1 {
			t.Errorf("Expected %d pages after the head page, got %d", n+1, remaining)
		}
		if want := uint64(n) * cfg.SamplesPerPacket(); lastGranule != want {
			t.Errorf("Expected final granule %d, got %d", want, lastGranule)
		}

		pages := walkPages(t, out)
		bos, eos := 0, 0
		for i, p := range pages {
			if p.sequence != uint32(i) {
				t.Errorf("Page %d has sequence %d", i, p.sequence)
			}
			if p.serial != cfg.Serial {
				t.Errorf("Page %d has serial 0x%08X, expected 0x%08X", i, p.serial, cfg.Serial)
			}
			if p.checksum != bitwiseChecksum(p.raw) {
				t.Errorf("Page %d checksum mismatch", i)
			}
			if p.flags&HeaderTypeBOS != 0 {
				bos++
				if i != 0 {
					t.Errorf("Begin-of-stream flag on page %d", i)
				}
			}
			if p.flags&HeaderTypeEOS != 0 {
				eos++
				if i != len(pages)-1 {
					t.Errorf("End-of-stream flag on page %d of %d", i, len(pages))
				}
			}
		}
		if bos != 1 || eos != 1 {
			t.Errorf("%d packets: expected exactly one BOS and one EOS, got %d and %d", n, bos, eos)
		}

		for i, p := range packets {
			if !bytes.Equal(pages[i+2].body, p) {
				t.Errorf("Packet %d not carried verbatim", i)
			}
		}
	}
}

func TestHeaderPackets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputGain = -256

	head := OpusHead(cfg)
	expected := []byte{
		'O', 'p', 'u', 's', 'H', 'e', 'a', 'd',
		0x01,       // version
		0x01,       // channels
		0x38, 0x01, // pre-skip 312
		0x80, 0x3E, 0x00, 0x00, // 16000 Hz
		0x00, 0xFF, // gain -256
		0x00, // mapping family
	}
	if !bytes.Equal(head, expected) {
		t.Errorf("OpusHead mismatch:\nexpected %x\ngot      %x", expected, head)
	}

	tags := OpusTags("abc")
	expectedTags := append([]byte("OpusTags"), 0x03, 0x00, 0x00, 0x00, 'a', 'b', 'c', 0x00, 0x00, 0x00, 0x00)
	if !bytes.Equal(tags, expectedTags) {
		t.Errorf("OpusTags mismatch:\nexpected %x\ngot      %x", expectedTags, tags)
	}
}

func TestEncodeDeterministicAfterReset(t *testing.T) {
	packets := randomPackets(rand.New(rand.NewSource(7)), 20)

	enc, err := NewEncoder(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}

	first, err := enc.Encode(packets)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	enc.Reset()
	second, err := enc.Encode(packets)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("Encodings separated by Reset differ")
	}
}

func TestEncodeWithoutResetContinuesCounters(t *testing.T) {
	enc, err := NewEncoder(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}

	if _, err := enc.Encode([][]byte{{0x01}, {0x02}}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := enc.Encode([][]byte{{0x03}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	pages := walkPages(t, out)
	if pages[0].sequence != 4 {
		t.Errorf("Expected sequence to continue at 4, got %d", pages[0].sequence)
	}
	if pages[0].serial != DefaultConfig().Serial {
		t.Errorf("Serial changed across encodes")
	}

	enc.Reset()
	out, err = enc.Encode([][]byte{{0x03}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if walkPages(t, out)[0].sequence != 0 {
		t.Error("Expected Reset to restart page sequence at 0")
	}
}

func TestAlignedPacketLacing(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		terminate bool
		lacing    []byte
	}{
		{name: "255 bytes terminated", size: 255, terminate: true, lacing: []byte{255, 0}},
		{name: "255 bytes legacy", size: 255, terminate: false, lacing: []byte{255}},
		{name: "510 bytes terminated", size: 510, terminate: true, lacing: []byte{255, 255, 0}},
		{name: "510 bytes legacy", size: 510, terminate: false, lacing: []byte{255, 255}},
		{name: "300 bytes terminated", size: 300, terminate: true, lacing: []byte{255, 45}},
		{name: "300 bytes legacy", size: 300, terminate: false, lacing: []byte{255, 45}},
		{name: "empty terminated", size: 0, terminate: true, lacing: []byte{0}},
		{name: "empty legacy", size: 0, terminate: false, lacing: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TerminateAligned = tt.terminate

			enc, err := NewEncoder(cfg)
			if err != nil {
				t.Fatalf("NewEncoder failed: %v", err)
			}
			out, err := enc.Encode([][]byte{bytes.Repeat([]byte{0x5A}, tt.size)})
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			pages := walkPages(t, out)
			if len(pages) != 3 {
				t.Fatalf("Expected 3 pages, got %d", len(pages))
			}
			if !bytes.Equal(pages[2].lacing, tt.lacing) {
				t.Errorf("Expected lacing %v, got %v", tt.lacing, pages[2].lacing)
			}
			if len(pages[2].body) != tt.size {
				t.Errorf("Expected body of %d bytes, got %d", tt.size, len(pages[2].body))
			}

			// Both framings still pass checksum verification.
			reader, _, err := oggreader.NewWith(bytes.NewReader(out))
			if err != nil {
				t.Fatalf("oggreader rejected stream: %v", err)
			}
			for {
				if _, _, err := reader.ParseNextPage(); err != nil {
					if !errors.Is(err, io.EOF) {
						t.Errorf("oggreader failed: %v", err)
					}
					break
				}
			}
		})
	}
}

func TestEncodeRejectsOversizedPacket(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		terminate bool
		wantErr   bool
	}{
		{name: "largest legacy packet", size: 255 * 255, terminate: false, wantErr: false},
		{name: "largest legacy packet terminated", size: 255 * 255, terminate: true, wantErr: true},
		{name: "largest terminated packet", size: 255*254 + 254, terminate: true, wantErr: false},
		{name: "one byte too many", size: 255*255 + 1, terminate: false, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TerminateAligned = tt.terminate
			enc, err := NewEncoder(cfg)
			if err != nil {
				t.Fatalf("NewEncoder failed: %v", err)
			}

			_, err = enc.Encode([][]byte{make([]byte, tt.size)})
			if tt.wantErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestCorruptedPageFailsChecksum(t *testing.T) {
	enc, err := NewEncoder(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	out, err := enc.Encode([][]byte{{0x01, 0x02, 0x03}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	out[len(out)-1] ^= 0xFF

	reader, _, err := oggreader.NewWith(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Head page should still parse: %v", err)
	}
	if _, _, err := reader.ParseNextPage(); err != nil {
		t.Fatalf("Tags page should still parse: %v", err)
	}
	if _, _, err := reader.ParseNextPage(); err == nil {
		t.Error("Expected checksum error on corrupted data page")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{name: "default", modify: func(*Config) {}, valid: true},
		{name: "zero sample rate", modify: func(c *Config) { c.SampleRate = 0 }},
		{name: "zero channels", modify: func(c *Config) { c.Channels = 0 }},
		{name: "three channels family 0", modify: func(c *Config) { c.Channels = 3 }},
		{name: "three channels family 1", modify: func(c *Config) { c.Channels = 3; c.MappingFamily = 1 }, valid: true},
		{name: "zero duration", modify: func(c *Config) { c.FrameDuration = 0 }},
		{name: "sub-sample duration", modify: func(c *Config) { c.FrameDuration = time.Microsecond }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config, got: %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestSamplesPerPacket(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.SamplesPerPacket(); got != 320 {
		t.Errorf("Expected 320 samples per 20ms frame at 16kHz, got %d", got)
	}

	cfg.SampleRate = 48000
	cfg.FrameDuration = 60 * time.Millisecond
	if got := cfg.SamplesPerPacket(); got != 2880 {
		t.Errorf("Expected 2880 samples per 60ms frame at 48kHz, got %d", got)
	}
}
