package audio

import (
	"time"
)

// FrameBuffer accumulates the encoded packets of one utterance in arrival
// order. It is owned by a single session and is not safe for concurrent use.
type FrameBuffer struct {
	packets    [][]byte
	totalBytes int

	// Timing and metadata
	startedAt  time.Time // first packet of the current utterance
	lastUpdate time.Time
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	Packets    int       `json:"packets"`
	Bytes      int       `json:"bytes"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	LastUpdate time.Time `json:"last_update,omitempty"`
}

// NewFrameBuffer creates an empty frame buffer
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{
		packets: make([][]byte, 0, 64), // ~1.3s of 20ms frames
	}
}

// Append adds one packet to the end of the utterance. The packet bytes are
// copied so callers may reuse their slice.
func (b *FrameBuffer) Append(packet []byte) {
	p := make([]byte, len(packet))
	copy(p, packet)

	now := time.Now()
	if len(b.packets) == 0 {
		b.startedAt = now
	}
	b.lastUpdate = now

	b.packets = append(b.packets, p)
	b.totalBytes += len(p)
}

// Snapshot returns the buffered packets in order without mutating the buffer.
// The packet slices must be treated as read-only; a later Clear does not
// affect a snapshot already taken.
func (b *FrameBuffer) Snapshot() [][]byte {
	snap := make([][]byte, len(b.packets))
	copy(snap, b.packets)
	return snap
}

// Clear empties the buffer. Call it only after every consumer has taken
// its snapshot.
func (b *FrameBuffer) Clear() {
	b.packets = b.packets[:0]
	b.totalBytes = 0
	b.startedAt = time.Time{}
	b.lastUpdate = time.Time{}
}

// Count returns the number of buffered packets
func (b *FrameBuffer) Count() int {
	return len(b.packets)
}

// TotalBytes returns the sum of buffered packet sizes
func (b *FrameBuffer) TotalBytes() int {
	return b.totalBytes
}

// Empty reports whether no packet has been buffered since the last Clear
func (b *FrameBuffer) Empty() bool {
	return len(b.packets) == 0
}

// GetStats returns current buffer statistics
func (b *FrameBuffer) GetStats() BufferStats {
	return BufferStats{
		Packets:    len(b.packets),
		Bytes:      b.totalBytes,
		StartedAt:  b.startedAt,
		LastUpdate: b.lastUpdate,
	}
}
