package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"
)

// UnixTransport carries the wire protocol over AF_UNIX stream sockets.
// The listen address is a filesystem path; a stale socket file left by a
// crashed process is unlinked before binding, and the path is removed
// exactly once when the listener closes.
type UnixTransport struct {
	// SendQueueLimit, ReliableWait and WriteTimeout are applied to every
	// accepted or dialed connection. Adjust before Listen or Connect.
	SendQueueLimit int64
	ReliableWait   time.Duration
	WriteTimeout   time.Duration

	path   string
	ln     *net.UnixListener
	accept chan Connection
	wake   func()
	closed atomic.Bool
	logger *slog.Logger
}

// NewUnixTransport creates an unbound UNIX socket transport.
func NewUnixTransport() *UnixTransport {
	return &UnixTransport{
		SendQueueLimit: DefaultSendQueueLimit,
		ReliableWait:   DefaultReliableWait,
		WriteTimeout:   DefaultWriteTimeout,
		accept:         make(chan Connection, mailboxSlots),
		wake:           func() {},
		logger:         slog.Default().With("component", "transport.unix"),
	}
}

// SetWake registers the readiness callback. Must be called before Listen.
func (t *UnixTransport) SetWake(wake func()) {
	if wake != nil {
		t.wake = wake
	}
}

// Listen binds the given socket path and starts accepting in the
// background. Any stale socket file at the path is removed first.
func (t *UnixTransport) Listen(address string) error {
	if t.ln != nil {
		return ErrListening
	}

	// Unlink a stale socket left behind by an unclean shutdown. Whatever
	// sits at the path is removed, including the socket of a listener that
	// is still running; the bind below then takes the path over.
	if err := os.Remove(address); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("transport: remove stale socket %s: %w", address, err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: address, Net: "unix"})
	if err != nil {
		return fmt.Errorf("transport: listen unix %s: %w", address, err)
	}
	ln.SetUnlinkOnClose(true)

	t.path = address
	t.ln = ln
	go t.acceptLoop()
	return nil
}

func (t *UnixTransport) acceptLoop() {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("accept failed", "path", t.path, "error", err)
			continue
		}
		t.accept <- t.wrap(conn)
		t.wake()
	}
}

func (t *UnixTransport) wrap(conn net.Conn) Connection {
	return newStreamConn(newNetStream(conn), t.SendQueueLimit, t.ReliableWait, t.WriteTimeout, t.wake)
}

// Accept returns the next pending connection, or nil when none is waiting.
func (t *UnixTransport) Accept() Connection {
	select {
	case conn := <-t.accept:
		return conn
	default:
		return nil
	}
}

// Connect dials the socket at the given path.
func (t *UnixTransport) Connect(address string) (Connection, error) {
	conn, err := net.DialTimeout("unix", address, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("transport: connect unix %s: %w", address, err)
	}
	return t.wrap(conn), nil
}

// Close stops the listener and unlinks the socket path.
func (t *UnixTransport) Close() error {
	if t.ln == nil {
		return nil
	}
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.ln.Close()
}

// Listening reports whether the transport has a live listener.
func (t *UnixTransport) Listening() bool {
	return t.ln != nil && !t.closed.Load()
}

// Addr returns the bound listener address, or nil before Listen.
func (t *UnixTransport) Addr() net.Addr {
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}
