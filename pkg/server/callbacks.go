package server

import "github.com/perun-stream/perun/pkg/protocol"

// Callbacks is the bag of functions a host wires to observe the relay.
// Nil entries are skipped. Callbacks run synchronously on the thread that
// calls Update and receive client ids, never connection handles; they may
// re-enter the server's send and broadcast API but must not call
// AddTransport, Start, or Stop.
type Callbacks struct {
	// OnClientConnected fires once per client, after its handshake
	// completes, with the negotiated capability set.
	OnClientConnected func(id int, caps protocol.Capabilities)

	// OnClientDisconnected fires at most once per connected client, and
	// only for clients whose handshake had completed.
	OnClientDisconnected func(id int)

	OnVideoFrame func(id int, pkt protocol.VideoFramePacket)
	OnAudioChunk func(id int, pkt protocol.AudioChunkPacket)
	OnInputEvent func(id int, pkt protocol.InputEventPacket)

	// OnConfig and OnDebugInfo receive the raw payload bytes verbatim.
	// The slice is the callback's to keep.
	OnConfig    func(id int, data []byte)
	OnDebugInfo func(id int, data []byte)
}
