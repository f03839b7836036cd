package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Binary frame layout: [Tag:4][Length:4 LE][Payload:Length]
const (
	FrameTag        = "AUD1"
	FrameTagSize    = 4
	FrameLengthSize = 4
	FrameHeaderSize = FrameTagSize + FrameLengthSize

	// MaxFramePayload bounds a single payload read from a byte stream.
	MaxFramePayload = 1 << 20
)

// ErrMalformedFrame is returned when a binary frame is truncated or its
// declared length disagrees with the bytes actually carried.
var ErrMalformedFrame = errors.New("malformed frame")

// EncodeFrame wraps one encoded packet into a binary frame.
// The result is always exactly len(payload)+FrameHeaderSize bytes.
func EncodeFrame(payload []byte) []byte {
	frame := make([]byte, FrameHeaderSize+len(payload))
	copy(frame[0:FrameTagSize], FrameTag)
	binary.LittleEndian.PutUint32(frame[FrameTagSize:FrameHeaderSize], uint32(len(payload)))
	copy(frame[FrameHeaderSize:], payload)
	return frame
}

// HasFrameTag reports whether data starts with the binary frame tag.
func HasFrameTag(data []byte) bool {
	return len(data) >= FrameTagSize && string(data[:FrameTagSize]) == FrameTag
}

// ParseFrame validates a complete binary frame and returns its payload.
// The returned slice aliases data. No payload is returned on error.
func ParseFrame(data []byte) ([]byte, error) {
	if len(data) < FrameHeaderSize {
		return nil, fmt.Errorf("%w: header too short: expected %d bytes, got %d",
			ErrMalformedFrame, FrameHeaderSize, len(data))
	}

	if !HasFrameTag(data) {
		return nil, fmt.Errorf("%w: unexpected tag %q", ErrMalformedFrame, data[:FrameTagSize])
	}

	declared := binary.LittleEndian.Uint32(data[FrameTagSize:FrameHeaderSize])
	actual := len(data) - FrameHeaderSize
	if uint64(declared) != uint64(actual) {
		return nil, fmt.Errorf("%w: length mismatch: header says %d bytes, got %d bytes",
			ErrMalformedFrame, declared, actual)
	}

	return data[FrameHeaderSize:], nil
}

// ReadFrame reads the next binary frame from a byte stream such as a capture
// file. It returns io.EOF only when the stream ends cleanly between frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated header: %v", ErrMalformedFrame, err)
	}

	if !HasFrameTag(header[:]) {
		return nil, fmt.Errorf("%w: unexpected tag %q", ErrMalformedFrame, header[:FrameTagSize])
	}

	length := binary.LittleEndian.Uint32(header[FrameTagSize:])
	if length > MaxFramePayload {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds limit %d", ErrMalformedFrame, length, MaxFramePayload)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: truncated payload: expected %d bytes: %v", ErrMalformedFrame, length, err)
	}

	return payload, nil
}

// WriteFrame writes payload to w as one binary frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if _, err := w.Write(EncodeFrame(payload)); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}
