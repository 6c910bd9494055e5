// Package protocol implements the Perun binary wire protocol.
//
// The protocol carries emulator-style video, audio, and input between
// producers and consumers over any byte stream (UNIX socket, TCP, or a
// WebSocket binary-frame stream). It is deliberately simple: fixed-width
// big-endian integers, no reflection, and a one-pass framing loop.
//
// # Wire Format
//
// Every packet starts with an 8-byte header:
//
//	┌────────────┬────────────┬──────────────────┬──────────────────────┐
//	│ Type       │ Flags      │ Sequence         │ Payload Length       │
//	│ (1 byte)   │ (1 byte)   │ (2 bytes, BE)    │ (4 bytes, BE)        │
//	└────────────┴────────────┴──────────────────┴──────────────────────┘
//
// # Packet Types
//
//   - PacketVideoFrame (0x01): width, height, frame bytes (key or delta)
//   - PacketAudioChunk (0x02): sample rate, channels, 16-bit samples
//   - PacketInputEvent (0x03): pressed-button bitmask
//   - PacketConfig (0x04): opaque configuration payload
//   - PacketDebugInfo (0x05): opaque diagnostic payload
//
// # Handshake
//
// Before any packet flows, the client sends a 15-byte HELLO carrying its
// protocol version and capability bitmap. The server answers with a 6-byte
// OK holding the negotiated capabilities (the bitwise intersection of both
// sides), or an ERROR frame with a NUL-terminated message.
//
// # Delta Frames
//
// A video payload whose header carries FlagDelta is the byte-wise XOR of
// the raw frame against the previous raw frame of identical length. The
// receiver keeps the last keyframe and applies deltas in place; see
// ComputeDelta and ApplyDelta.
package protocol
