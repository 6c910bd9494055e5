// Package client implements a library client for the Perun relay: it
// dials any transport, performs the protocol handshake, frames inbound
// packets, reassembles delta video frames, and exposes send helpers for
// producers. Rendering and playback are the host's business; the client
// only moves and decodes packets.
package client

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/perun-stream/perun/pkg/protocol"
	"github.com/perun-stream/perun/pkg/transport"
)

const (
	// handshakeWait bounds how long Dial waits for the server's OK or
	// ERROR before giving up.
	handshakeWait = time.Second

	// handshakePoll is the receive poll interval during the handshake.
	handshakePoll = 10 * time.Millisecond

	receiveChunk = 64 * 1024
)

// Callbacks is the bag of functions a host wires to observe the stream.
// Nil entries are skipped. Callbacks run synchronously from Update.
type Callbacks struct {
	// OnVideoFrame fires after delta reassembly; pkt.Data always holds
	// a full frame. keyframe reports whether the wire carried a
	// keyframe rather than a delta.
	OnVideoFrame func(pkt protocol.VideoFramePacket, keyframe bool)

	OnAudioChunk func(pkt protocol.AudioChunkPacket)
	OnInputEvent func(pkt protocol.InputEventPacket)
	OnConfig     func(data []byte)
	OnDebugInfo  func(data []byte)

	// OnDisconnected fires exactly once when the connection closes.
	OnDisconnected func()
}

// Client is one handshaked connection to a relay.
type Client struct {
	conn       transport.Connection
	serverCaps protocol.Capabilities
	connected  bool

	buf     []byte
	scratch []byte

	callbacks Callbacks
	frame     FrameBuffer

	logger *slog.Logger
}

// Dial connects over the given transport, sends HELLO with the supplied
// capability bitmap, and waits for the server's verdict. On rejection the
// connection is closed and the server's reason is returned.
func Dial(tr transport.Transport, address string, caps protocol.Capabilities) (*Client, error) {
	conn, err := tr.Connect(address)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:    conn,
		scratch: make([]byte, receiveChunk),
		logger:  slog.Default().With("component", "client"),
	}

	hello := protocol.CreateHello(protocol.ProtocolVersion, caps)
	if n, err := conn.Send(hello, true); err != nil || n != len(hello) {
		conn.Close()
		return nil, fmt.Errorf("client: send hello: %w", err)
	}

	result, err := c.awaitResponse()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !result.Accepted {
		conn.Close()
		return nil, fmt.Errorf("client: handshake rejected: %s", result.Reason)
	}

	c.serverCaps = result.Capabilities
	c.connected = true
	c.logger.Info("connected", "remote", conn.RemoteAddr(), "caps", result.Capabilities)
	return c, nil
}

// awaitResponse accumulates bytes until a complete OK or ERROR frame is
// buffered. Any bytes behind the response stay in the receive buffer for
// the packet loop.
func (c *Client) awaitResponse() (protocol.ResponseResult, error) {
	deadline := time.Now().Add(handshakeWait)
	for {
		n, err := c.conn.Receive(c.scratch)
		if n > 0 {
			c.buf = append(c.buf, c.scratch[:n]...)
		}

		// A complete response may be buffered even if the server hung
		// up right after sending it.
		if frameLen := responseLength(c.buf); frameLen > 0 {
			result := protocol.ProcessResponse(c.buf[:frameLen])
			c.buf = c.buf[frameLen:]
			return result, nil
		}
		if err != nil {
			return protocol.ResponseResult{}, fmt.Errorf("client: connection closed during handshake")
		}

		if time.Now().After(deadline) {
			return protocol.ResponseResult{}, fmt.Errorf("client: handshake timeout")
		}
		if n == 0 {
			time.Sleep(handshakePoll)
		}
	}
}

// responseLength returns the byte length of the handshake response at the
// head of buf, or 0 if it is still incomplete.
func responseLength(buf []byte) int {
	if len(buf) >= protocol.OkSize && bytes.HasPrefix(buf, []byte("OK")) {
		return protocol.OkSize
	}
	if len(buf) >= 5 && bytes.HasPrefix(buf, []byte("ERROR")) {
		if i := bytes.IndexByte(buf[5:], 0); i >= 0 {
			return 5 + i + 1
		}
	}
	return 0
}

// SetCallbacks installs the host's callback bag.
func (c *Client) SetCallbacks(cb Callbacks) {
	c.callbacks = cb
}

// Connected reports whether the connection is still open.
func (c *Client) Connected() bool {
	return c.connected
}

// ServerCapabilities returns the capability set the server granted.
func (c *Client) ServerCapabilities() protocol.Capabilities {
	return c.serverCaps
}

// Frame exposes the reassembled video state.
func (c *Client) Frame() *FrameBuffer {
	return &c.frame
}

// Close tears the connection down. OnDisconnected fires on the next
// Update if the client was connected.
func (c *Client) Close() {
	c.conn.Close()
}

// Update drains the connection, frames complete packets, and dispatches
// them. Call it from the host's main loop.
func (c *Client) Update() {
	if !c.connected {
		return
	}

	closed := false
	for {
		n, err := c.conn.Receive(c.scratch)
		if n > 0 {
			c.buf = append(c.buf, c.scratch[:n]...)
			continue
		}
		if err != nil {
			closed = true
		}
		break
	}

	c.processPackets()

	if closed || !c.conn.IsOpen() {
		c.connected = false
		c.logger.Info("disconnected")
		if c.callbacks.OnDisconnected != nil {
			c.callbacks.OnDisconnected()
		}
	}
}

// processPackets walks the receive buffer packet by packet. Partial
// packets stay buffered until the rest arrives.
func (c *Client) processPackets() {
	consumed := 0
	for {
		buf := c.buf[consumed:]
		if len(buf) < protocol.HeaderSize {
			break
		}
		header, err := protocol.DecodeHeader(buf)
		if err != nil {
			break
		}
		if header.Length > protocol.MaxPacketLength {
			c.logger.Error("oversized packet from server", "length", header.Length)
			c.conn.Close()
			break
		}
		total := protocol.HeaderSize + int(header.Length)
		if len(buf) < total {
			break
		}
		c.dispatch(header, buf[protocol.HeaderSize:total])
		consumed += total
	}
	if consumed > 0 {
		n := copy(c.buf, c.buf[consumed:])
		c.buf = c.buf[:n]
	}
}

func (c *Client) dispatch(header protocol.Header, payload []byte) {
	switch header.Type {
	case protocol.PacketVideoFrame:
		pkt := protocol.DecodeVideoFrame(payload)
		keyframe := !header.Flags.Has(protocol.FlagDelta)
		if err := c.frame.Apply(pkt, keyframe); err != nil {
			c.logger.Warn("dropped video frame", "error", err)
			return
		}
		if c.callbacks.OnVideoFrame != nil {
			full := pkt
			full.Data = c.frame.data
			c.callbacks.OnVideoFrame(full, keyframe)
		}
	case protocol.PacketAudioChunk:
		if c.callbacks.OnAudioChunk != nil {
			c.callbacks.OnAudioChunk(protocol.DecodeAudioChunk(payload))
		}
	case protocol.PacketInputEvent:
		if c.callbacks.OnInputEvent != nil {
			c.callbacks.OnInputEvent(protocol.DecodeInputEvent(payload))
		}
	case protocol.PacketConfig:
		if c.callbacks.OnConfig != nil {
			data := make([]byte, len(payload))
			copy(data, payload)
			c.callbacks.OnConfig(data)
		}
	case protocol.PacketDebugInfo:
		if c.callbacks.OnDebugInfo != nil {
			data := make([]byte, len(payload))
			copy(data, payload)
			c.callbacks.OnDebugInfo(data)
		}
	default:
		c.logger.Warn("unknown packet type", "type", uint8(header.Type))
	}
}

// sendPacket builds the single header+payload buffer and sends it. One
// buffer per packet keeps a WebSocket transport from splitting header and
// payload into separate frames.
func (c *Client) sendPacket(typ protocol.PacketType, flags protocol.PacketFlags, payload []byte, reliable bool) bool {
	if !c.connected {
		return false
	}
	packet := protocol.EncodePacket(typ, flags, 0, payload)
	n, err := c.conn.Send(packet, reliable)
	if err != nil {
		c.logger.Warn("send failed", "type", typ, "error", err)
		return false
	}
	return n == len(packet)
}

// SendVideoFrame sends a frame unreliably. When delta is true the packet
// carries FlagDelta and Data must already be the XOR against the previous
// frame; see protocol.ComputeDelta.
func (c *Client) SendVideoFrame(pkt *protocol.VideoFramePacket, delta bool) bool {
	var flags protocol.PacketFlags
	if delta {
		flags |= protocol.FlagDelta
	}
	return c.sendPacket(protocol.PacketVideoFrame, flags, pkt.Encode(), false)
}

// SendAudioChunk sends an audio chunk reliably.
func (c *Client) SendAudioChunk(pkt *protocol.AudioChunkPacket) bool {
	return c.sendPacket(protocol.PacketAudioChunk, 0, pkt.Encode(), true)
}

// SendInput sends an input event reliably.
func (c *Client) SendInput(pkt *protocol.InputEventPacket) bool {
	return c.sendPacket(protocol.PacketInputEvent, 0, pkt.Encode(), true)
}

// SendConfig sends an opaque configuration payload reliably.
func (c *Client) SendConfig(data []byte) bool {
	return c.sendPacket(protocol.PacketConfig, 0, data, true)
}

// SendDebugInfo sends an opaque diagnostic payload reliably.
func (c *Client) SendDebugInfo(data []byte) bool {
	return c.sendPacket(protocol.PacketDebugInfo, 0, data, true)
}
