package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// rawStream is the minimal surface the connection engine needs from a
// backend: a blocking chunk read, a single-frame write with a deadline,
// and teardown. net.Conn and websocket.Conn both adapt onto it.
type rawStream interface {
	// readChunk blocks until at least one byte arrives and returns a
	// fresh slice the engine may keep.
	readChunk() ([]byte, error)

	// writeFrame writes p as one wire unit before the deadline. It must
	// either complete the frame or return an error; a partial frame left
	// on the wire is a protocol hazard, so any error closes the stream.
	writeFrame(p []byte, deadline time.Time) error

	close() error
	remoteAddr() net.Addr
}

// streamConn runs the shared send/receive machinery on top of a rawStream.
//
// One reader goroutine drains the peer into a bounded mailbox of chunks;
// one writer goroutine drains a bounded send queue onto the wire. All
// caller-facing methods are non-blocking except a reliable Send, which may
// wait up to reliableWait for queue room before failing and closing.
type streamConn struct {
	raw rawStream

	inbox   chan []byte // reader -> Receive, closed by the reader on exit
	pending []byte      // partially consumed chunk

	out    chan []byte
	queued atomic.Int64 // bytes sitting in out

	queueLimit   int64
	reliableWait time.Duration
	writeTimeout time.Duration

	open      atomic.Bool
	closedCh  chan struct{}
	closeOnce sync.Once
	wake      func()
}

func newStreamConn(raw rawStream, queueLimit int64, reliableWait, writeTimeout time.Duration, wake func()) *streamConn {
	if wake == nil {
		wake = func() {}
	}
	s := &streamConn{
		raw:          raw,
		inbox:        make(chan []byte, mailboxSlots),
		out:          make(chan []byte, sendSlots),
		queueLimit:   queueLimit,
		reliableWait: reliableWait,
		writeTimeout: writeTimeout,
		closedCh:     make(chan struct{}),
		wake:         wake,
	}
	s.open.Store(true)
	go s.readLoop()
	go s.writeLoop()
	return s
}

// readLoop pulls chunks off the wire into the mailbox until the stream
// dies. Mailbox backpressure is intentional: a full mailbox pauses the
// reader, which in turn pushes backpressure onto the peer's socket.
func (s *streamConn) readLoop() {
	defer close(s.inbox)
	for {
		chunk, err := s.raw.readChunk()
		if len(chunk) > 0 {
			select {
			case s.inbox <- chunk:
				s.wake()
			case <-s.closedCh:
				return
			}
		}
		if err != nil {
			s.Close()
			return
		}
	}
}

// writeLoop drains the send queue onto the wire and owns the socket
// teardown: the descriptor only closes after frames queued before Close
// have been flushed, so a reliable send immediately followed by Close
// (the handshake-reject ERROR, for one) still reaches the peer. Any
// write failure, including a deadline hit, ends the connection: a
// half-written frame would corrupt the stream for good.
func (s *streamConn) writeLoop() {
	defer s.raw.close()
	for {
		select {
		case buf := <-s.out:
			if !s.writeOne(buf) {
				return
			}
		case <-s.closedCh:
			// Flush what was queued before the close, then tear down.
			for {
				select {
				case buf := <-s.out:
					if !s.writeOne(buf) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// writeOne puts a single frame on the wire, reporting false once the
// connection is beyond use.
func (s *streamConn) writeOne(buf []byte) bool {
	var deadline time.Time
	if s.writeTimeout > 0 {
		deadline = time.Now().Add(s.writeTimeout)
	}
	err := s.raw.writeFrame(buf, deadline)
	s.queued.Add(-int64(len(buf)))
	if err != nil {
		s.Close()
		return false
	}
	return true
}

func (s *streamConn) Send(data []byte, reliable bool) (int, error) {
	if !s.open.Load() {
		return 0, ErrClosed
	}

	if !reliable && s.queued.Load() > s.queueLimit {
		return 0, nil
	}

	// The queue hands buffers to another goroutine, so take a copy; the
	// caller is free to reuse data as soon as Send returns.
	buf := make([]byte, len(data))
	copy(buf, data)

	s.queued.Add(int64(len(buf)))
	if reliable {
		timer := time.NewTimer(s.reliableWait)
		defer timer.Stop()
		select {
		case s.out <- buf:
		case <-s.closedCh:
			s.queued.Add(-int64(len(buf)))
			return 0, ErrClosed
		case <-timer.C:
			s.queued.Add(-int64(len(buf)))
			s.Close()
			return 0, ErrSendTimeout
		}
	} else {
		select {
		case s.out <- buf:
		default:
			s.queued.Add(-int64(len(buf)))
			return 0, nil
		}
	}
	return len(data), nil
}

func (s *streamConn) Receive(buf []byte) (int, error) {
	if len(s.pending) == 0 {
		select {
		case chunk, ok := <-s.inbox:
			if !ok {
				return 0, ErrClosed
			}
			s.pending = chunk
		default:
			return 0, nil
		}
	}
	n := copy(buf, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Close marks the connection closed and wakes both loops. The socket
// itself is closed by the writer once pending frames have flushed.
func (s *streamConn) Close() error {
	s.closeOnce.Do(func() {
		s.open.Store(false)
		close(s.closedCh)
		s.wake()
	})
	return nil
}

func (s *streamConn) IsOpen() bool {
	return s.open.Load()
}

func (s *streamConn) RemoteAddr() net.Addr {
	return s.raw.remoteAddr()
}

// netStream adapts a net.Conn (UNIX or TCP) onto rawStream. Writes on a
// stream socket have no framing, so writeFrame is a plain full write.
// Go never raises SIGPIPE for socket writes, so a dead peer surfaces as
// an ordinary error instead of killing the process.
type netStream struct {
	conn    net.Conn
	scratch []byte
}

func newNetStream(conn net.Conn) *netStream {
	return &netStream{conn: conn, scratch: make([]byte, readChunkSize)}
}

func (ns *netStream) readChunk() ([]byte, error) {
	n, err := ns.conn.Read(ns.scratch)
	if n > 0 {
		chunk := make([]byte, n)
		copy(chunk, ns.scratch[:n])
		return chunk, err
	}
	return nil, err
}

func (ns *netStream) writeFrame(p []byte, deadline time.Time) error {
	if err := ns.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := ns.conn.Write(p)
	return err
}

func (ns *netStream) close() error {
	return ns.conn.Close()
}

func (ns *netStream) remoteAddr() net.Addr {
	return ns.conn.RemoteAddr()
}
