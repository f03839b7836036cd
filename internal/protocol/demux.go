package protocol

import (
	"fmt"
)

// Kind classifies an inbound message.
type Kind uint8

const (
	KindMalformed Kind = iota // binary frame rejected; nothing forwarded
	KindAudio                 // one encoded packet extracted
	KindAudioEnd              // utterance boundary
	KindMessage               // JSON envelope of another type
	KindText                  // text that is not JSON, forwarded as a diagnostic string
	KindDecodeError           // audio envelope whose data could not be decoded
)

// Message is the result of demultiplexing one inbound transport message.
type Message struct {
	Kind   Kind
	Packet []byte // set for KindAudio
	Legacy bool   // packet taken from an untagged binary message
	Type   string // envelope type for KindMessage, KindAudio and KindAudioEnd on text frames
	Text   string // raw text for KindMessage and KindText
	Err    error  // set for KindMalformed, KindDecodeError and KindText
}

// Demux classifies a transport message. isBinary must reflect the transport
// frame type; it is the only fact taken from the transport. Demux never panics
// and never returns a partial payload.
func Demux(isBinary bool, data []byte) Message {
	if isBinary {
		return demuxBinary(data)
	}
	return demuxText(data)
}

func demuxBinary(data []byte) Message {
	if len(data) < FrameHeaderSize {
		return Message{
			Kind: KindMalformed,
			Err: fmt.Errorf("%w: binary message too short: %d bytes",
				ErrMalformedFrame, len(data)),
		}
	}

	if !HasFrameTag(data) {
		// Untagged binary is accepted as a raw packet for early firmware.
		return Message{Kind: KindAudio, Packet: data, Legacy: true}
	}

	payload, err := ParseFrame(data)
	if err != nil {
		return Message{Kind: KindMalformed, Err: err}
	}

	return Message{Kind: KindAudio, Packet: payload}
}

func demuxText(data []byte) Message {
	env, err := ParseEnvelope(data)
	if err != nil {
		return Message{Kind: KindText, Text: string(data), Err: err}
	}

	switch {
	case env.IsAudio():
		packet, err := env.DecodeAudio()
		if err != nil {
			return Message{Kind: KindDecodeError, Type: env.Type, Err: err}
		}
		return Message{Kind: KindAudio, Type: env.Type, Packet: packet}

	case env.Type == TypeAudioEnd:
		return Message{Kind: KindAudioEnd, Type: env.Type}

	default:
		return Message{Kind: KindMessage, Type: env.Type, Text: string(data)}
	}
}

// String returns a human-readable name of the kind
func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindAudio:
		return "audio"
	case KindAudioEnd:
		return "audio_end"
	case KindMessage:
		return "message"
	case KindText:
		return "text"
	case KindDecodeError:
		return "decode_error"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}
