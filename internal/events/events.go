package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies what happened
type Kind string

const (
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindAudio        Kind = "audio"     // one packet buffered
	KindUtterance    Kind = "utterance" // audio_end processed
	KindEcho         Kind = "echo"
	KindPersisted    Kind = "persisted"
	KindDecoded      Kind = "decoded"
	KindMessage      Kind = "message" // envelope of another type or non-JSON text
	KindError        Kind = "error"
)

// Error classes carried by KindError events
const (
	ErrorMalformedFrame  = "malformed_frame"
	ErrorInvalidEnvelope = "invalid_envelope"
	ErrorPacketDecode    = "packet_decode"
	ErrorOfflineDecode   = "offline_decode"
	ErrorTransportSend   = "transport_send"
	ErrorPersist         = "persist"
)

// Event is one notification from a session
type Event struct {
	Kind      Kind
	SessionID string
	Peer      string
	Time      time.Time

	Packets  int    // packets buffered, echoed or persisted
	Bytes    int    // packet bytes for KindAudio, totals otherwise
	PCMBytes int    // expected decoded size for KindAudio
	Legacy   bool   // packet came from an untagged binary message
	Path     string // artifact path for KindPersisted and KindDecoded
	Type     string // envelope type for KindMessage
	Text     string // message body for KindMessage

	ErrorClass string
	Err        error

	Duration time.Duration // session lifetime on disconnect, tool runtime on decode
}

// Sink receives events. Publish must not block for long; it is called from
// the session's own goroutine.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Event)

// Publish calls f(e)
func (f SinkFunc) Publish(e Event) {
	f(e)
}

// Discard drops every event
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans an event out to several sinks in order
type Multi []Sink

// Publish forwards e to every sink
func (m Multi) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

// ChannelSink buffers events on a channel for an external reader. When the
// channel is full the event is dropped and counted.
type ChannelSink struct {
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
	closed  atomic.Bool
}

// NewChannelSink creates a channel sink with the given capacity
func NewChannelSink(size int) *ChannelSink {
	if size < 1 {
		size = 1
	}
	return &ChannelSink{ch: make(chan Event, size)}
}

// Publish enqueues e without blocking
func (c *ChannelSink) Publish(e Event) {
	if c.closed.Load() {
		c.dropped.Add(1)
		return
	}
	select {
	case c.ch <- e:
	default:
		c.dropped.Add(1)
	}
}

// Events returns the receive side of the channel
func (c *ChannelSink) Events() <-chan Event {
	return c.ch
}

// Dropped returns the number of events lost to a full channel
func (c *ChannelSink) Dropped() uint64 {
	return c.dropped.Load()
}

// Close stops accepting events and closes the channel. Publish must not be
// called concurrently with Close.
func (c *ChannelSink) Close() {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.ch)
	})
}

// LogSink writes events to a structured logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs through logger
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs e at a level matching its kind
func (l *LogSink) Publish(e Event) {
	attrs := []any{"session_id", e.SessionID, "peer", e.Peer}

	switch e.Kind {
	case KindConnected:
		l.logger.Info("Client connected", attrs...)

	case KindDisconnected:
		l.logger.Info("Client disconnected", append(attrs, "duration", e.Duration)...)

	case KindAudio:
		l.logger.Debug("Audio packet buffered",
			append(attrs, "packet_size", e.Bytes, "pcm_size", e.PCMBytes, "legacy", e.Legacy)...)

	case KindUtterance:
		l.logger.Info("Audio stream ended", append(attrs, "frames", e.Packets, "bytes", e.Bytes)...)

	case KindEcho:
		l.logger.Info("Echo complete", append(attrs, "frames", e.Packets, "bytes", e.Bytes)...)

	case KindPersisted:
		l.logger.Info("Saved recording", append(attrs, "path", e.Path, "frames", e.Packets)...)

	case KindDecoded:
		l.logger.Info("Decoded recording", append(attrs, "path", e.Path, "duration", e.Duration)...)

	case KindMessage:
		text := e.Text
		if len(text) > 500 {
			text = text[:500]
		}
		if e.Err != nil {
			l.logger.Info("Non-JSON message", append(attrs, "text", text)...)
			return
		}
		l.logger.Info("Message received", append(attrs, "type", e.Type, "text", text)...)

	case KindError:
		l.logger.Warn("Session error", append(attrs, "class", e.ErrorClass, "error", e.Err)...)

	default:
		l.logger.Debug("Event", append(attrs, "kind", string(e.Kind))...)
	}
}
