package protocol

import (
	"bytes"
	"encoding/binary"
)

// ProtocolVersion is the current wire protocol version. A client speaking
// any other version is rejected during the handshake.
const ProtocolVersion uint16 = 1

// Handshake frame sizes and magic strings.
const (
	HelloMagic = "PERUN_HELLO"
	HelloSize  = 15 // magic(11) + version(2) + caps(2)

	okMagic    = "OK"
	OkSize     = 6 // magic(2) + version(2) + caps(2)
	errorMagic = "ERROR"
)

// Capabilities is the bitmap of optional protocol behaviors a peer
// supports, exchanged in the handshake. The negotiated set is the bitwise
// intersection of the client's and the server's bitmaps.
type Capabilities uint16

const (
	CapDelta Capabilities = 0x01 // XOR delta video frames
	CapAudio Capabilities = 0x02 // Audio chunk delivery
	CapDebug Capabilities = 0x04 // Debug info packets
)

// Has returns true if the capability set contains flag.
func (c Capabilities) Has(flag Capabilities) bool {
	return c&flag != 0
}

// HelloResult is the outcome of processing a client HELLO.
type HelloResult struct {
	Accepted     bool
	Version      uint16       // ProtocolVersion on accept, client's on version mismatch
	Capabilities Capabilities // negotiated set, valid only on accept
	Reason       string       // rejection reason, empty on accept
}

// ResponseResult is the outcome of processing a server OK or ERROR frame
// on the client side.
type ResponseResult struct {
	Accepted     bool
	Version      uint16
	Capabilities Capabilities
	Reason       string
}

// CreateHello builds the 15-byte client HELLO frame.
func CreateHello(version uint16, caps Capabilities) []byte {
	buf := make([]byte, HelloSize)
	copy(buf, HelloMagic)
	binary.BigEndian.PutUint16(buf[11:13], version)
	binary.BigEndian.PutUint16(buf[13:15], uint16(caps))
	return buf
}

// ProcessHello validates a client HELLO against the server's capability
// set. On success the negotiated capabilities are the intersection of
// client and server bitmaps.
func ProcessHello(data []byte, serverCaps Capabilities) HelloResult {
	if len(data) < HelloSize {
		return HelloResult{Reason: "Handshake too short"}
	}
	if !bytes.Equal(data[:11], []byte(HelloMagic)) {
		return HelloResult{Reason: "Invalid magic string"}
	}
	clientVersion := binary.BigEndian.Uint16(data[11:13])
	if clientVersion != ProtocolVersion {
		return HelloResult{Version: clientVersion, Reason: "Unsupported protocol version"}
	}
	clientCaps := Capabilities(binary.BigEndian.Uint16(data[13:15]))
	return HelloResult{
		Accepted:     true,
		Version:      ProtocolVersion,
		Capabilities: clientCaps & serverCaps,
	}
}

// CreateOK builds the 6-byte server OK frame carrying the negotiated
// capability set.
func CreateOK(version uint16, caps Capabilities) []byte {
	buf := make([]byte, OkSize)
	copy(buf, okMagic)
	binary.BigEndian.PutUint16(buf[2:4], version)
	binary.BigEndian.PutUint16(buf[4:6], uint16(caps))
	return buf
}

// CreateError builds an ERROR frame: the magic string followed by a
// NUL-terminated message.
func CreateError(msg string) []byte {
	buf := make([]byte, 0, len(errorMagic)+len(msg)+1)
	buf = append(buf, errorMagic...)
	buf = append(buf, msg...)
	buf = append(buf, 0)
	return buf
}

// ProcessResponse interprets the server's reply to a HELLO. It recognizes
// OK frames (6 bytes or more) and ERROR frames, whose message runs until
// the NUL terminator or the end of data.
func ProcessResponse(data []byte) ResponseResult {
	if len(data) >= OkSize && bytes.Equal(data[:2], []byte(okMagic)) {
		return ResponseResult{
			Accepted:     true,
			Version:      binary.BigEndian.Uint16(data[2:4]),
			Capabilities: Capabilities(binary.BigEndian.Uint16(data[4:6])),
		}
	}
	if len(data) >= len(errorMagic) && bytes.Equal(data[:5], []byte(errorMagic)) {
		msg := data[5:]
		if i := bytes.IndexByte(msg, 0); i >= 0 {
			msg = msg[:i]
		}
		if len(msg) == 0 {
			return ResponseResult{Reason: "Unknown error"}
		}
		return ResponseResult{Reason: string(msg)}
	}
	return ResponseResult{Reason: "Invalid response format"}
}
