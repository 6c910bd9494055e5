package transport

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// DefaultWSWriteTimeout bounds a single frame write on a WebSocket
// connection. It is deliberately tighter than the stream transports: a
// browser peer that cannot drain a frame in 10 ms is already hopelessly
// behind a 60 FPS stream.
const DefaultWSWriteTimeout = 10 * time.Millisecond

// WebSocketTransport carries the wire protocol over RFC 6455 WebSocket
// connections, so browser clients can join the same relay as native ones.
// It listens on a TCP address and upgrades inbound HTTP requests on any
// path; each packet travels as exactly one binary frame in either
// direction. The upgrade handshake, frame masking, and control frames are
// handled by gorilla/websocket.
type WebSocketTransport struct {
	// SendQueueLimit, ReliableWait and WriteTimeout are applied to every
	// accepted or dialed connection. Adjust before Listen or Connect.
	SendQueueLimit int64
	ReliableWait   time.Duration
	WriteTimeout   time.Duration

	ln       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader
	accept   chan Connection
	wake     func()
	closed   atomic.Bool
	logger   *slog.Logger
}

// NewWebSocketTransport creates an unbound WebSocket transport.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{
		SendQueueLimit: DefaultSendQueueLimit,
		ReliableWait:   DefaultReliableWait,
		WriteTimeout:   DefaultWSWriteTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readChunkSize,
			WriteBufferSize: readChunkSize,
			// The relay has no origin policy; hosts that need one put a
			// proxy in front.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		accept: make(chan Connection, mailboxSlots),
		wake:   func() {},
		logger: slog.Default().With("component", "transport.ws"),
	}
}

// SetWake registers the readiness callback. Must be called before Listen.
func (t *WebSocketTransport) SetWake(wake func()) {
	if wake != nil {
		t.wake = wake
	}
}

// Listen binds the given TCP address and serves WebSocket upgrades on it.
func (t *WebSocketTransport) Listen(address string) error {
	if t.ln != nil {
		return ErrListening
	}
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("transport: listen ws %s: %w", address, err)
	}

	r := chi.NewRouter()
	r.HandleFunc("/*", t.handleUpgrade)

	t.ln = ln
	t.srv = &http.Server{Handler: r}
	go func() {
		if err := t.srv.Serve(ln); err != nil && err != http.ErrServerClosed && !t.closed.Load() {
			t.logger.Error("serve failed", "addr", ln.Addr(), "error", err)
		}
	}()
	return nil
}

func (t *WebSocketTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	// Upgrade replies with the computed Sec-WebSocket-Accept on success
	// and an HTTP error (closing the socket) on a malformed request.
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	t.accept <- t.wrap(conn)
	t.wake()
}

func (t *WebSocketTransport) wrap(conn *websocket.Conn) Connection {
	return newStreamConn(&wsStream{conn: conn}, t.SendQueueLimit, t.ReliableWait, t.WriteTimeout, t.wake)
}

// Accept returns the next pending connection, or nil when none is waiting.
func (t *WebSocketTransport) Accept() Connection {
	select {
	case conn := <-t.accept:
		return conn
	default:
		return nil
	}
}

// Connect dials ws://address/. A bare ":port" dials localhost.
func (t *WebSocketTransport) Connect(address string) (Connection, error) {
	u := url.URL{Scheme: "ws", Host: dialAddress(address), Path: "/"}
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("transport: connect ws %s: %w", address, err)
	}
	return t.wrap(conn), nil
}

// Close stops the HTTP listener. Upgraded connections are hijacked from
// the HTTP server and stay open until their owner closes them.
func (t *WebSocketTransport) Close() error {
	if t.srv == nil {
		return nil
	}
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.srv.Close()
}

// Listening reports whether the transport has a live listener.
func (t *WebSocketTransport) Listening() bool {
	return t.ln != nil && !t.closed.Load()
}

// Addr returns the bound listener address, or nil before Listen.
func (t *WebSocketTransport) Addr() net.Addr {
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

// wsStream adapts a websocket.Conn onto rawStream. Message boundaries do
// double duty as packet framing hints on the way out: writeFrame emits
// exactly one binary frame per call, which is why senders must hand the
// engine header and payload in a single buffer. Inbound frames are
// flattened back into a byte stream; peers that split a packet across
// frames are reassembled by the ordinary framing loop upstream.
type wsStream struct {
	conn *websocket.Conn
}

func (ws *wsStream) readChunk() ([]byte, error) {
	// Control frames are consumed inside ReadMessage. Text and binary
	// both count as data; the relay treats everything as bytes.
	_, msg, err := ws.conn.ReadMessage()
	return msg, err
}

func (ws *wsStream) writeFrame(p []byte, deadline time.Time) error {
	if err := ws.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return ws.conn.WriteMessage(websocket.BinaryMessage, p)
}

func (ws *wsStream) close() error {
	return ws.conn.Close()
}

func (ws *wsStream) remoteAddr() net.Addr {
	return ws.conn.RemoteAddr()
}
