package ogg

import (
	"encoding/binary"
)

// Opus identification and comment header signatures
const (
	OpusHeadSignature = "OpusHead"
	OpusTagsSignature = "OpusTags"
	opusVersion       = 1
	opusHeadSize      = 19
)

// OpusHead builds the identification header packet.
// Layout: [Magic:8][Version:1][Channels:1][PreSkip:2][SampleRate:4][Gain:2][Mapping:1]
func OpusHead(cfg Config) []byte {
	head := make([]byte, opusHeadSize)
	copy(head[0:8], OpusHeadSignature)
	head[8] = opusVersion
	head[9] = uint8(cfg.Channels)
	binary.LittleEndian.PutUint16(head[10:12], cfg.PreSkip)
	binary.LittleEndian.PutUint32(head[12:16], uint32(cfg.SampleRate))
	binary.LittleEndian.PutUint16(head[16:18], uint16(cfg.OutputGain))
	head[18] = cfg.MappingFamily
	return head
}

// OpusTags builds the comment header packet with a vendor string and no
// user comments.
func OpusTags(vendor string) []byte {
	tags := make([]byte, 0, 8+4+len(vendor)+4)
	tags = append(tags, OpusTagsSignature...)
	tags = binary.LittleEndian.AppendUint32(tags, uint32(len(vendor)))
	tags = append(tags, vendor...)
	tags = binary.LittleEndian.AppendUint32(tags, 0)
	return tags
}
