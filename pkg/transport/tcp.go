package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

// tcpSendBuffer is the kernel send buffer requested for every TCP
// connection, sized to absorb bursts of video frames.
const tcpSendBuffer = 128 * 1024

// TCPTransport carries the wire protocol over TCP. Addresses use the
// "host:port" form; an empty host binds all interfaces. Nagle's algorithm
// is disabled on every connection to keep frame latency down.
type TCPTransport struct {
	// SendQueueLimit, ReliableWait and WriteTimeout are applied to every
	// accepted or dialed connection. Adjust before Listen or Connect.
	SendQueueLimit int64
	ReliableWait   time.Duration
	WriteTimeout   time.Duration

	ln     net.Listener
	accept chan Connection
	wake   func()
	closed atomic.Bool
	logger *slog.Logger
}

// NewTCPTransport creates an unbound TCP transport.
func NewTCPTransport() *TCPTransport {
	return &TCPTransport{
		SendQueueLimit: DefaultSendQueueLimit,
		ReliableWait:   DefaultReliableWait,
		WriteTimeout:   DefaultWriteTimeout,
		accept:         make(chan Connection, mailboxSlots),
		wake:           func() {},
		logger:         slog.Default().With("component", "transport.tcp"),
	}
}

// SetWake registers the readiness callback. Must be called before Listen.
func (t *TCPTransport) SetWake(wake func()) {
	if wake != nil {
		t.wake = wake
	}
}

// Listen binds the given address and starts accepting in the background.
func (t *TCPTransport) Listen(address string) error {
	if t.ln != nil {
		return ErrListening
	}
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("transport: listen tcp %s: %w", address, err)
	}
	t.ln = ln
	go t.acceptLoop()
	return nil
}

func (t *TCPTransport) acceptLoop() {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("accept failed", "addr", t.ln.Addr(), "error", err)
			continue
		}
		t.accept <- t.wrap(conn)
		t.wake()
	}
}

// wrap tunes the socket for low-latency frame delivery and attaches the
// stream engine.
func (t *TCPTransport) wrap(conn net.Conn) Connection {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		tc.SetWriteBuffer(tcpSendBuffer)
	}
	return newStreamConn(newNetStream(conn), t.SendQueueLimit, t.ReliableWait, t.WriteTimeout, t.wake)
}

// Accept returns the next pending connection, or nil when none is waiting.
func (t *TCPTransport) Accept() Connection {
	select {
	case conn := <-t.accept:
		return conn
	default:
		return nil
	}
}

// Connect dials the given "host:port" address. A bare ":port" dials
// localhost.
func (t *TCPTransport) Connect(address string) (Connection, error) {
	conn, err := net.DialTimeout("tcp", dialAddress(address), dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("transport: connect tcp %s: %w", address, err)
	}
	return t.wrap(conn), nil
}

// Close stops the listener. Accepted connections stay open; their owner
// closes them.
func (t *TCPTransport) Close() error {
	if t.ln == nil {
		return nil
	}
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.ln.Close()
}

// Listening reports whether the transport has a live listener.
func (t *TCPTransport) Listening() bool {
	return t.ln != nil && !t.closed.Load()
}

// Addr returns the bound listener address, or nil before Listen.
func (t *TCPTransport) Addr() net.Addr {
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}
