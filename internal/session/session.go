package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/skypro1111/ws-audio-echo/internal/audio"
	"github.com/skypro1111/ws-audio-echo/internal/decode"
	"github.com/skypro1111/ws-audio-echo/internal/events"
	"github.com/skypro1111/ws-audio-echo/internal/ogg"
	"github.com/skypro1111/ws-audio-echo/internal/protocol"
)

// Session is one connected device. HandleMessage must be called from a
// single goroutine; the buffer, encoder and decoder belong to it. Counters
// are atomic so Info may be called from anywhere.
type Session struct {
	ID          string
	Peer        string
	ConnectedAt time.Time

	registry *Registry
	conn     Conn
	ctx      context.Context
	cancel   context.CancelFunc

	buffer  *audio.FrameBuffer
	encoder *ogg.Encoder
	decoder decode.PacketDecoder
	pcm     decode.PCMBuffer

	bufferedPackets atomic.Int64
	bufferedBytes   atomic.Int64
	packetsReceived atomic.Uint64
	bytesReceived   atomic.Uint64
	utterances      atomic.Uint64
	echoFrames      atomic.Uint64
	malformed       atomic.Uint64
	decodeErrors    atomic.Uint64
	messages        atomic.Uint64
	lastActivity    atomic.Int64
}

// Info represents session information for monitoring and APIs
type Info struct {
	ID           string        `json:"id"`
	Peer         string        `json:"peer"`
	ConnectedAt  time.Time     `json:"connected_at"`
	LastActivity time.Time     `json:"last_activity"`
	Duration     time.Duration `json:"duration"`

	BufferedPackets int64 `json:"buffered_packets"`
	BufferedBytes   int64 `json:"buffered_bytes"`

	PacketsReceived uint64 `json:"packets_received"`
	BytesReceived   uint64 `json:"bytes_received"`
	Utterances      uint64 `json:"utterances"`
	EchoFrames      uint64 `json:"echo_frames"`
	MalformedFrames uint64 `json:"malformed_frames"`
	DecodeErrors    uint64 `json:"decode_errors"`
	Messages        uint64 `json:"messages"`
}

func newSession(r *Registry, id, peer string, conn Conn, enc *ogg.Encoder, dec decode.PacketDecoder) *Session {
	ctx, cancel := context.WithCancel(r.ctx)
	now := time.Now()

	s := &Session{
		ID:          id,
		Peer:        peer,
		ConnectedAt: now,
		registry:    r,
		conn:        conn,
		ctx:         ctx,
		cancel:      cancel,
		buffer:      audio.NewFrameBuffer(),
		encoder:     enc,
		decoder:     dec,
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// Done is closed when the session has been removed from the registry
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// HandleMessage processes one inbound transport message and returns how it
// was classified. Errors are published as events; none ends the session.
func (s *Session) HandleMessage(isBinary bool, data []byte) protocol.Kind {
	s.lastActivity.Store(time.Now().UnixNano())
	msg := protocol.Demux(isBinary, data)

	switch msg.Kind {
	case protocol.KindAudio:
		s.appendPacket(msg.Packet, msg.Legacy)

	case protocol.KindAudioEnd:
		s.finishUtterance()

	case protocol.KindMalformed:
		s.malformed.Add(1)
		s.publishError(events.ErrorMalformedFrame, msg.Err)

	case protocol.KindDecodeError:
		s.decodeErrors.Add(1)
		s.publishError(events.ErrorPacketDecode, msg.Err)

	case protocol.KindMessage:
		s.messages.Add(1)
		s.publish(events.Event{Kind: events.KindMessage, Type: msg.Type, Text: msg.Text})

	case protocol.KindText:
		s.messages.Add(1)
		s.publish(events.Event{
			Kind:       events.KindMessage,
			Text:       msg.Text,
			ErrorClass: events.ErrorInvalidEnvelope,
			Err:        msg.Err,
		})
	}

	return msg.Kind
}

func (s *Session) appendPacket(packet []byte, legacy bool) {
	s.buffer.Append(packet)
	s.bufferedPackets.Add(1)
	s.bufferedBytes.Add(int64(len(packet)))
	s.packetsReceived.Add(1)
	s.bytesReceived.Add(uint64(len(packet)))

	cfg := s.registry.opts.Ogg
	s.publish(events.Event{
		Kind:     events.KindAudio,
		Packets:  1,
		Bytes:    len(packet),
		PCMBytes: int(cfg.SamplesPerPacket()) * 2 * cfg.Channels,
		Legacy:   legacy,
	})

	if s.decoder == nil {
		return
	}

	pcm, err := s.decoder.Decode(packet)
	if err != nil {
		s.decodeErrors.Add(1)
		s.publishError(events.ErrorPacketDecode, fmt.Errorf("%w: %w", protocol.ErrPacketDecode, err))
		return
	}

	if s.registry.opts.Recording {
		s.pcm.WritePCM(pcm)
	}
	if playback := s.registry.opts.Playback; playback != nil {
		if err := playback.WritePCM(pcm); err != nil {
			s.registry.logger.Debug("Playback sink rejected PCM",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// finishUtterance echoes the buffered packets, hands them to persistence and
// clears the buffer. Both consumers read the same snapshot.
func (s *Session) finishUtterance() {
	packets := s.buffer.Snapshot()
	stats := s.buffer.GetStats()

	s.utterances.Add(1)
	s.registry.utterances.Add(1)
	s.publish(events.Event{Kind: events.KindUtterance, Packets: stats.Packets, Bytes: stats.Bytes})

	if len(packets) == 0 {
		s.pcm.Reset()
		return
	}

	if s.registry.opts.EchoEnabled {
		sent, err := Echo(s.ctx, s.conn, packets)
		s.echoFrames.Add(uint64(sent))
		if err != nil {
			s.publishError(events.ErrorTransportSend, err)
		} else {
			s.publish(events.Event{Kind: events.KindEcho, Packets: sent, Bytes: stats.Bytes})
		}
	}

	if s.registry.opts.Recording {
		s.submitArtifacts(packets)
	}

	s.buffer.Clear()
	s.bufferedPackets.Store(0)
	s.bufferedBytes.Store(0)
	s.pcm.Reset()
}

// SendText sends a text frame to the device
func (s *Session) SendText(ctx context.Context, text []byte) error {
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("session %s closed", s.ID)
	}
	return s.conn.SendText(ctx, text)
}

// Close removes the session from its registry
func (s *Session) Close() {
	s.registry.Close(s)
}

// Info returns a snapshot of the session counters
func (s *Session) Info() Info {
	return Info{
		ID:              s.ID,
		Peer:            s.Peer,
		ConnectedAt:     s.ConnectedAt,
		LastActivity:    time.Unix(0, s.lastActivity.Load()),
		Duration:        time.Since(s.ConnectedAt),
		BufferedPackets: s.bufferedPackets.Load(),
		BufferedBytes:   s.bufferedBytes.Load(),
		PacketsReceived: s.packetsReceived.Load(),
		BytesReceived:   s.bytesReceived.Load(),
		Utterances:      s.utterances.Load(),
		EchoFrames:      s.echoFrames.Load(),
		MalformedFrames: s.malformed.Load(),
		DecodeErrors:    s.decodeErrors.Load(),
		Messages:        s.messages.Load(),
	}
}

func (s *Session) publish(e events.Event) {
	e.SessionID = s.ID
	e.Peer = s.Peer
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	s.registry.sink.Publish(e)
}

func (s *Session) publishError(class string, err error) {
	s.publish(events.Event{Kind: events.KindError, ErrorClass: class, Err: err})
}
