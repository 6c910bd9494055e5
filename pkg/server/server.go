// Package server implements the Perun streaming relay core: a
// multi-transport server that accepts connections, performs the protocol
// handshake, frames inbound packets, dispatches them to host callbacks,
// and sends or rebroadcasts packets with per-packet reliability selection.
//
// The server is single-threaded cooperative: all state mutation happens on
// the goroutine that calls Update, Poll, Start, Stop, AddTransport, and
// the send/broadcast API. The transports drain sockets on internal
// goroutines, but hand bytes over through per-connection mailboxes that
// Update drains; see the transport package.
package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/perun-stream/perun/pkg/protocol"
	"github.com/perun-stream/perun/pkg/transport"
)

// Server errors.
var (
	ErrRunning      = errors.New("server: already running")
	ErrNoTransports = errors.New("server: no transports configured")
)

// receiveChunk is the per-read scratch buffer size used when draining
// client connections.
const receiveChunk = 64 * 1024

type transportEntry struct {
	transport transport.Transport
	address   string
}

// Server relays packets between clients connected over any mix of
// transports.
type Server struct {
	config     *Config
	transports []transportEntry
	clients    []*client

	nextClientID int
	running      bool

	callbacks Callbacks

	wake    chan struct{}
	scratch []byte

	logger  *slog.Logger
	metrics *Metrics
}

// New creates a relay server. A nil config selects DefaultConfig.
func New(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	} else {
		defaults := DefaultConfig()
		if config.Capabilities == 0 {
			config.Capabilities = defaults.Capabilities
		}
		if config.MaxPacketLength == 0 {
			config.MaxPacketLength = defaults.MaxPacketLength
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "server")
	}

	return &Server{
		config:       config,
		nextClientID: 1,
		wake:         make(chan struct{}, 1),
		scratch:      make([]byte, receiveChunk),
		logger:       logger,
		metrics:      config.Metrics,
	}
}

// SetCallbacks installs the host's callback bag. The server keeps a
// borrowed reference; replace it only while no Update call is in flight.
func (s *Server) SetCallbacks(cb Callbacks) {
	s.callbacks = cb
}

// signalWake pokes the Poll channel without ever blocking.
func (s *Server) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// AddTransport starts a listener on the given transport and address.
// Only allowed before Start. On failure the transport is not retained,
// so the server is never left partially configured.
func (s *Server) AddTransport(tr transport.Transport, address string) error {
	if s.running {
		return ErrRunning
	}

	tr.SetWake(s.signalWake)
	if err := tr.Listen(address); err != nil {
		s.logger.Error("listen failed", "address", address, "error", err)
		return err
	}

	s.transports = append(s.transports, transportEntry{transport: tr, address: address})
	s.logger.Info("transport listening", "address", address, "network", tr.Addr().Network())
	return nil
}

// Start moves the server into the running state. At least one listening
// transport must have been added.
func (s *Server) Start() error {
	if s.running {
		return nil
	}
	if len(s.transports) == 0 {
		return ErrNoTransports
	}
	s.running = true
	s.logger.Info("server started", "transports", len(s.transports))
	return nil
}

// Stop closes every client (firing disconnect callbacks for handshaked
// ones), clears the client list, closes every transport, and returns the
// server to the not-running state.
func (s *Server) Stop() {
	if !s.running {
		return
	}
	s.logger.Info("server stopping")

	for _, c := range s.clients {
		s.disconnect(c)
	}
	s.clients = nil

	for _, entry := range s.transports {
		entry.transport.Close()
	}

	s.running = false
	s.logger.Info("server stopped")
}

// IsRunning reports whether Start has succeeded and Stop has not run.
func (s *Server) IsRunning() bool {
	return s.running
}

// ClientCount returns the number of tracked clients, handshaked or not.
func (s *Server) ClientCount() int {
	return len(s.clients)
}

// Update performs one cooperative pass: accept pending connections, drain
// every client's bytes, run handshakes, frame and dispatch packets, and
// sweep out closed clients. Callbacks fire synchronously from here.
func (s *Server) Update() {
	if !s.running {
		return
	}

	s.acceptNew()

	for _, c := range s.clients {
		s.processClient(c)
	}

	s.sweep()
}

// Poll blocks until a transport signals readiness or the timeout elapses.
// Callers alternate Update and Poll; an idle server sleeps here instead
// of busy-looping.
func (s *Server) Poll(timeout time.Duration) {
	if !s.running {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.wake:
	case <-timer.C:
	}
}

func (s *Server) acceptNew() {
	for _, entry := range s.transports {
		for {
			conn := entry.transport.Accept()
			if conn == nil {
				break
			}
			c := &client{id: s.nextClientID, conn: conn}
			s.nextClientID++
			s.clients = append(s.clients, c)
			s.metrics.clientAccepted()
			s.logger.Info("connection accepted", "client", c.id, "remote", conn.RemoteAddr())
		}
	}
}

func (s *Server) processClient(c *client) {
	if c.disconnected {
		return
	}

	// Drain everything the connection has buffered.
	received := false
	closed := false
	for {
		n, err := c.conn.Receive(s.scratch)
		if n > 0 {
			c.buf = append(c.buf, s.scratch[:n]...)
			s.metrics.bytesIn(n)
			received = true
			continue
		}
		if err != nil {
			closed = true
		}
		break
	}

	// Process what arrived before honoring a close, so bytes that beat
	// the FIN are not thrown away.
	if received {
		if !c.handshakeComplete {
			s.processHandshake(c)
		} else {
			s.processPackets(c)
		}
	}

	if closed || !c.conn.IsOpen() {
		s.disconnect(c)
	}
}

// processHandshake attempts the HELLO exchange once enough bytes are
// buffered. Until then no packet framing happens and no callback other
// than connect/disconnect can fire.
func (s *Server) processHandshake(c *client) {
	if len(c.buf) < protocol.HelloSize {
		return
	}

	result := protocol.ProcessHello(c.buf, s.config.Capabilities)
	if !result.Accepted {
		s.logger.Warn("handshake rejected", "client", c.id, "reason", result.Reason)
		s.metrics.handshakeRejected()
		c.conn.Send(protocol.CreateError(result.Reason), true)
		s.disconnect(c)
		return
	}

	ok := protocol.CreateOK(result.Version, result.Capabilities)
	if n, err := c.conn.Send(ok, true); err != nil || n != len(ok) {
		s.logger.Warn("handshake response failed", "client", c.id, "error", err)
		s.disconnect(c)
		return
	}

	c.caps = result.Capabilities
	c.handshakeComplete = true
	c.buf = c.buf[:0]
	c.span = s.startSessionSpan(c)
	s.metrics.clientConnected()
	s.logger.Info("handshake complete", "client", c.id, "caps", result.Capabilities)

	if s.callbacks.OnClientConnected != nil {
		s.callbacks.OnClientConnected(c.id, c.caps)
	}
}

// processPackets frames and dispatches complete packets. Each dispatched
// packet's 8+length bytes are removed before the next one is considered.
func (s *Server) processPackets(c *client) {
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
		if header.Length > s.config.MaxPacketLength {
			s.logger.Error("oversized packet, closing client",
				"client", c.id, "type", header.Type, "length", header.Length)
			s.disconnect(c)
			return
		}

		total := protocol.HeaderSize + int(header.Length)
		if len(buf) < total {
			break
		}

		s.dispatch(c, header, buf[protocol.HeaderSize:total])
		consumed += total

		if c.disconnected {
			return
		}
	}

	if consumed > 0 {
		n := copy(c.buf, c.buf[consumed:])
		c.buf = c.buf[:n]
	}
}

// dispatch decodes one payload and hands it to the matching callback.
// Unknown packet types are logged and skipped; their bytes are consumed
// by the framing loop either way.
func (s *Server) dispatch(c *client, header protocol.Header, payload []byte) {
	s.metrics.packetReceived(header.Type)

	switch header.Type {
	case protocol.PacketVideoFrame:
		if s.callbacks.OnVideoFrame != nil {
			s.callbacks.OnVideoFrame(c.id, protocol.DecodeVideoFrame(payload))
		}
	case protocol.PacketAudioChunk:
		if s.callbacks.OnAudioChunk != nil {
			s.callbacks.OnAudioChunk(c.id, protocol.DecodeAudioChunk(payload))
		}
	case protocol.PacketInputEvent:
		if s.callbacks.OnInputEvent != nil {
			s.callbacks.OnInputEvent(c.id, protocol.DecodeInputEvent(payload))
		}
	case protocol.PacketConfig:
		if s.callbacks.OnConfig != nil {
			data := make([]byte, len(payload))
			copy(data, payload)
			s.callbacks.OnConfig(c.id, data)
		}
	case protocol.PacketDebugInfo:
		if s.callbacks.OnDebugInfo != nil {
			data := make([]byte, len(payload))
			copy(data, payload)
			s.callbacks.OnDebugInfo(c.id, data)
		}
	default:
		s.logger.Warn("unknown packet type", "client", c.id, "type", uint8(header.Type))
	}
}

// disconnect tears a client down exactly once. The disconnect callback
// fires only if the handshake had completed.
func (s *Server) disconnect(c *client) {
	c.conn.Close()
	if c.disconnected {
		return
	}
	c.disconnected = true

	if c.span != nil {
		c.span.End()
	}

	if c.handshakeComplete {
		s.metrics.clientDisconnected()
		if s.callbacks.OnClientDisconnected != nil {
			s.callbacks.OnClientDisconnected(c.id)
		}
	}
	s.logger.Info("client disconnected", "client", c.id)
}

// sweep removes clients whose connection has closed.
func (s *Server) sweep() {
	kept := s.clients[:0]
	for _, c := range s.clients {
		if c.conn.IsOpen() && !c.disconnected {
			kept = append(kept, c)
			continue
		}
		s.disconnect(c)
	}
	s.clients = kept
}

func (s *Server) findClient(id int) *client {
	for _, c := range s.clients {
		if c.id == id {
			return c
		}
	}
	return nil
}

// sendPacket serializes one packet into a single header+payload buffer
// and sends it. One buffer per packet is required: the WebSocket
// transport wraps each Send call in exactly one frame.
func (s *Server) sendPacket(c *client, typ protocol.PacketType, payload []byte, reliable bool) bool {
	if c.disconnected || !c.handshakeComplete || !c.conn.IsOpen() {
		return false
	}

	packet := protocol.EncodePacket(typ, 0, 0, payload)
	n, err := c.conn.Send(packet, reliable)
	if err != nil {
		// The connection closed itself; the next sweep reaps it.
		s.logger.Warn("send failed", "client", c.id, "type", typ, "error", err)
		return false
	}
	if n == 0 {
		s.metrics.packetDropped(typ)
		return false
	}

	s.metrics.packetSent(typ, n)
	return true
}

// SendVideoFrame sends one video frame to one client, unreliably: under
// backpressure the frame is dropped rather than queued. Returns true only
// if the full packet was accepted for delivery.
func (s *Server) SendVideoFrame(clientID int, pkt *protocol.VideoFramePacket) bool {
	c := s.findClient(clientID)
	if c == nil {
		return false
	}
	return s.sendPacket(c, protocol.PacketVideoFrame, pkt.Encode(), false)
}

// BroadcastVideoFrame sends a video frame to every handshaked client
// except excludeID, unreliably. Video is allowed to drop; per-client
// failures do not abort the broadcast.
func (s *Server) BroadcastVideoFrame(pkt *protocol.VideoFramePacket, excludeID int) {
	payload := pkt.Encode()
	for _, c := range s.clients {
		if c.handshakeComplete && c.id != excludeID {
			s.sendPacket(c, protocol.PacketVideoFrame, payload, false)
		}
	}
}

// SendAudioChunk sends one audio chunk to one client, reliably: audio
// gaps are more disruptive than video drops.
func (s *Server) SendAudioChunk(clientID int, pkt *protocol.AudioChunkPacket) bool {
	c := s.findClient(clientID)
	if c == nil {
		return false
	}
	return s.sendPacket(c, protocol.PacketAudioChunk, pkt.Encode(), true)
}

// BroadcastAudioChunk sends an audio chunk, reliably, to every handshaked
// client that negotiated CapAudio, except excludeID.
func (s *Server) BroadcastAudioChunk(pkt *protocol.AudioChunkPacket, excludeID int) {
	payload := pkt.Encode()
	for _, c := range s.clients {
		if c.handshakeComplete && c.caps.Has(protocol.CapAudio) && c.id != excludeID {
			s.sendPacket(c, protocol.PacketAudioChunk, payload, true)
		}
	}
}

// BroadcastInputEvent sends an input event, reliably, to every handshaked
// client except excludeID.
func (s *Server) BroadcastInputEvent(pkt *protocol.InputEventPacket, excludeID int) {
	payload := pkt.Encode()
	for _, c := range s.clients {
		if c.handshakeComplete && c.id != excludeID {
			s.sendPacket(c, protocol.PacketInputEvent, payload, true)
		}
	}
}
