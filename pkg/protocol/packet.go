package protocol

import (
	"encoding/binary"
	"errors"
)

// Packet size constants.
const (
	// HeaderSize is the size of the packet header in bytes.
	HeaderSize = 8

	// MaxPacketLength is the largest payload length the framing layer
	// accepts. A header claiming more is a fatal framing error and the
	// offending connection is closed.
	MaxPacketLength = 16 * 1024 * 1024
)

// PacketType identifies the kind of payload that follows the header.
type PacketType uint8

const (
	PacketVideoFrame PacketType = 0x01 // Video frame (key or delta)
	PacketAudioChunk PacketType = 0x02 // PCM audio chunk
	PacketInputEvent PacketType = 0x03 // Input event bitmask
	PacketConfig     PacketType = 0x04 // Opaque configuration blob
	PacketDebugInfo  PacketType = 0x05 // Opaque diagnostic blob
)

// String returns the string representation of the packet type.
func (pt PacketType) String() string {
	switch pt {
	case PacketVideoFrame:
		return "VideoFrame"
	case PacketAudioChunk:
		return "AudioChunk"
	case PacketInputEvent:
		return "InputEvent"
	case PacketConfig:
		return "Config"
	case PacketDebugInfo:
		return "DebugInfo"
	default:
		return "Unknown"
	}
}

// PacketFlags carry per-packet modifiers in the header's second byte.
type PacketFlags uint8

const (
	// FlagDelta marks a video payload as an XOR delta against the
	// previous frame of identical length.
	FlagDelta PacketFlags = 0x01

	// CompressionMask covers the reserved compression-level bits.
	// Carried on the wire, not interpreted by the relay.
	CompressionMask PacketFlags = 0x06
)

// Has returns true if the flags contain the specified flag.
func (pf PacketFlags) Has(flag PacketFlags) bool {
	return pf&flag != 0
}

// Packet errors.
var (
	ErrHeaderTooShort = errors.New("protocol: header too short")
	ErrLengthMismatch = errors.New("protocol: frame length mismatch")
)

// Header is the fixed 8-byte prefix of every packet. All multibyte fields
// are big-endian on the wire regardless of host byte order.
type Header struct {
	Type     PacketType
	Flags    PacketFlags
	Sequence uint16
	Length   uint32
}

// Encode serializes the header into a fresh 8-byte slice.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	h.encodeTo(buf)
	return buf
}

// encodeTo writes the header into buf, which must hold HeaderSize bytes.
func (h Header) encodeTo(buf []byte) {
	buf[0] = byte(h.Type)
	buf[1] = byte(h.Flags)
	binary.BigEndian.PutUint16(buf[2:4], h.Sequence)
	binary.BigEndian.PutUint32(buf[4:8], h.Length)
}

// DecodeHeader parses the first 8 bytes of data into a Header.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, ErrHeaderTooShort
	}
	return Header{
		Type:     PacketType(data[0]),
		Flags:    PacketFlags(data[1]),
		Sequence: binary.BigEndian.Uint16(data[2:4]),
		Length:   binary.BigEndian.Uint32(data[4:8]),
	}, nil
}

// EncodePacket builds the complete on-wire form of a packet: header
// followed by payload in one buffer. A single buffer per packet is a hard
// requirement, not an optimization: the WebSocket transport wraps each
// Send call in exactly one frame, so header and payload must travel in
// the same call.
func EncodePacket(typ PacketType, flags PacketFlags, sequence uint16, payload []byte) []byte {
	h := Header{Type: typ, Flags: flags, Sequence: sequence, Length: uint32(len(payload))}
	buf := make([]byte, HeaderSize+len(payload))
	h.encodeTo(buf[:HeaderSize])
	copy(buf[HeaderSize:], payload)
	return buf
}
