package decode

import (
	"bytes"
	"fmt"
	"sync"

	"layeh.com/gopus"
)

// maxFrameMs is the longest frame an Opus packet can carry.
const maxFrameMs = 120

// PacketDecoder decodes one encoded packet to little-endian int16 PCM
type PacketDecoder interface {
	Decode(packet []byte) ([]byte, error)
}

// PCMSink accepts decoded PCM, for example a playback device
type PCMSink interface {
	WritePCM(pcm []byte) error
}

// OpusDecoder wraps a gopus decoder for a single session. Each session gets
// its own decoder so decoder state carries across consecutive packets.
type OpusDecoder struct {
	dec          *gopus.Decoder
	maxFrameSize int
}

// NewOpusDecoder creates a decoder producing PCM at sampleRate
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec:          dec,
		maxFrameSize: sampleRate * maxFrameMs / 1000,
	}, nil
}

// Decode decodes an Opus packet into interleaved PCM and returns it as
// little-endian int16 bytes
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, d.maxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// PCMBuffer accumulates decoded PCM for one utterance. It is safe for
// concurrent use so an admin reader can query its length.
type PCMBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// WritePCM appends pcm
func (p *PCMBuffer) WritePCM(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.buf.Write(pcm)
	return err
}

// Bytes returns a copy of the accumulated PCM
func (p *PCMBuffer) Bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, p.buf.Len())
	copy(out, p.buf.Bytes())
	return out
}

// Len returns the number of buffered bytes
func (p *PCMBuffer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}

// Reset discards the accumulated PCM
func (p *PCMBuffer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.Reset()
}

// int16sToBytes converts PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
