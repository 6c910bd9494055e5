// Package transport provides the stream transports that carry the Perun
// wire protocol: UNIX domain sockets, TCP, and WebSocket.
//
// All three backends share one contract. A Transport listens, accepts, and
// dials; a Connection moves bytes with a per-call reliability hint. Sends
// are reliable ("deliver everything or fail and close") or unreliable
// ("drop rather than queue if the outbound is already deep"). Receives
// never block: each connection is drained by an internal reader goroutine
// into a bounded mailbox, and Receive only takes what has already arrived.
//
// Readiness is signaled through a wake callback instead of file
// descriptors: the Go runtime owns the sockets, so pollers register a wake
// function via SetWake and block on their own channel until a listener or
// connection has something new.
package transport

import (
	"errors"
	"net"
	"strings"
	"time"
)

// Tunables shared by all backends.
const (
	// DefaultSendQueueLimit is the queued-unsent byte count above which
	// unreliable sends are dropped. 64 KiB caps the added buffering at
	// roughly eight 640x480 delta frames, about 130 ms at 60 FPS.
	DefaultSendQueueLimit = 64 * 1024

	// DefaultReliableWait bounds how long a reliable send may wait for
	// room in the send queue before failing and closing the connection.
	DefaultReliableWait = 100 * time.Millisecond

	// DefaultWriteTimeout bounds a single wire write on UNIX and TCP
	// connections.
	DefaultWriteTimeout = 100 * time.Millisecond

	// readChunkSize is the read buffer handed to the kernel per read.
	readChunkSize = 64 * 1024

	// mailboxSlots and sendSlots bound the per-connection chunk queues.
	mailboxSlots = 64
	sendSlots    = 64

	// dialTimeout bounds outbound connection establishment.
	dialTimeout = 5 * time.Second
)

// Transport errors.
var (
	ErrClosed       = errors.New("transport: connection closed")
	ErrSendTimeout  = errors.New("transport: reliable send timed out")
	ErrNotListening = errors.New("transport: not listening")
	ErrListening    = errors.New("transport: already listening")
)

// Connection is a single bidirectional byte stream between two peers.
//
// Send queues data for delivery and returns the number of bytes accepted:
// len(data) on success, (0, nil) when an unreliable send was dropped
// because the outbound queue was too deep, and (0, err) on a fatal error,
// in which case the connection has been closed as a side effect. Reliable
// sends either deliver the whole buffer or fail and close; unreliable
// sends never wait and never leave a partial frame on the wire.
//
// Receive copies already-arrived bytes into buf without blocking:
// (n>0, nil) for data, (0, nil) when nothing is pending, and
// (0, ErrClosed) once the connection has terminated and its mailbox is
// drained.
type Connection interface {
	Send(data []byte, reliable bool) (int, error)
	Receive(buf []byte) (int, error)
	Close() error
	IsOpen() bool
	RemoteAddr() net.Addr
}

// Transport listens for and dials Connections over one backend.
//
// Accept never blocks; it returns nil when no connection is pending.
// SetWake registers a readiness callback invoked whenever a new connection
// arrives, data becomes readable, or a connection closes. It must be set
// before Listen.
type Transport interface {
	Listen(address string) error
	Accept() Connection
	Connect(address string) (Connection, error)
	Close() error
	Listening() bool
	Addr() net.Addr
	SetWake(func())
}

// dialAddress rewrites a listen-style address (":8080") into a dialable
// one ("localhost:8080").
func dialAddress(address string) string {
	if strings.HasPrefix(address, ":") {
		return "localhost" + address
	}
	return address
}
