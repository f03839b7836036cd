package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope message types
const (
	TypeAudio     = "audio"
	TypeAudioData = "audio_data" // older firmware
	TypeAudioEnd  = "audio_end"

	// TypeUnknown is reported for JSON without a string type field.
	TypeUnknown = "unknown"
)

var (
	// ErrInvalidEnvelope is returned for text frames that are not valid JSON.
	ErrInvalidEnvelope = errors.New("invalid envelope")

	// ErrPacketDecode is returned when an audio envelope carries data that
	// cannot be decoded into a packet.
	ErrPacketDecode = errors.New("packet decode failed")
)

// Envelope is the JSON value carried on text frames. Data is kept raw so a
// wrongly typed field is reported by DecodeAudio rather than by the parser.
type Envelope struct {
	Type string
	Data json.RawMessage
}

// ParseEnvelope parses a text frame. Any valid JSON is accepted: a value
// that is not an object, or an object whose type is missing or not a
// string, yields an envelope of TypeUnknown. Only text that is not JSON
// fails with ErrInvalidEnvelope.
func ParseEnvelope(text []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(text, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &Envelope{Type: TypeUnknown}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	env := &Envelope{Type: TypeUnknown, Data: fields["data"]}
	var msgType string
	if raw, ok := fields["type"]; ok && json.Unmarshal(raw, &msgType) == nil && msgType != "" {
		env.Type = msgType
	}
	return env, nil
}

// IsAudio reports whether the envelope carries an encoded packet.
func (e *Envelope) IsAudio() bool {
	return e.Type == TypeAudio || e.Type == TypeAudioData
}

// DecodeAudio strictly decodes the base64 data field.
func (e *Envelope) DecodeAudio() ([]byte, error) {
	var data string
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: data field must be a string", ErrPacketDecode)
		}
	}
	if data == "" {
		return nil, fmt.Errorf("%w: empty data field", ErrPacketDecode)
	}

	packet, err := base64.StdEncoding.Strict().DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPacketDecode, err)
	}

	return packet, nil
}

// AudioEnvelope builds the JSON text frame for one encoded packet.
func AudioEnvelope(packet []byte) []byte {
	// Marshal cannot fail for two string fields.
	data, _ := json.Marshal(struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}{
		Type: TypeAudio,
		Data: base64.StdEncoding.EncodeToString(packet),
	})
	return data
}

// AudioEndEnvelope builds the JSON text frame that closes an utterance.
func AudioEndEnvelope() []byte {
	return []byte(`{"type":"audio_end"}`)
}
