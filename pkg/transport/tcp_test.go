package transport

import (
	"bytes"
	"testing"
	"time"
)

func acceptConn(t *testing.T, tr Transport) Connection {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if conn := tr.Accept(); conn != nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatal("no connection accepted")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTCPListenAcceptConnect(t *testing.T) {
	srv := NewTCPTransport()
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer srv.Close()

	if !srv.Listening() {
		t.Fatal("Listening() = false after Listen")
	}

	cli := NewTCPTransport()
	peer, err := cli.Connect(srv.Addr().String())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer peer.Close()

	conn := acceptConn(t, srv)
	defer conn.Close()

	// Client to server.
	msg := []byte("from client")
	if n, err := peer.Send(msg, true); n != len(msg) || err != nil {
		t.Fatalf("client Send() = (%d, %v)", n, err)
	}
	if got := recvAll(t, conn, len(msg)); !bytes.Equal(got, msg) {
		t.Errorf("server received %q, want %q", got, msg)
	}

	// Server to client.
	reply := []byte("from server")
	if n, err := conn.Send(reply, true); n != len(reply) || err != nil {
		t.Fatalf("server Send() = (%d, %v)", n, err)
	}
	if got := recvAll(t, peer, len(reply)); !bytes.Equal(got, reply) {
		t.Errorf("client received %q, want %q", got, reply)
	}
}

func TestTCPEmptyHostBindsAllInterfaces(t *testing.T) {
	srv := NewTCPTransport()
	if err := srv.Listen(":0"); err != nil {
		t.Fatalf("Listen(\":0\") error = %v", err)
	}
	defer srv.Close()

	cli := NewTCPTransport()
	peer, err := cli.Connect(srv.Addr().String())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	peer.Close()
}

func TestTCPAcceptWouldBlock(t *testing.T) {
	srv := NewTCPTransport()
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer srv.Close()

	if conn := srv.Accept(); conn != nil {
		t.Error("Accept() with no pending connection returned non-nil")
	}
}

func TestTCPConnectRefused(t *testing.T) {
	cli := NewTCPTransport()
	// Reserve a port, then close it so nothing is listening there.
	probe := NewTCPTransport()
	if err := probe.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	addr := probe.Addr().String()
	probe.Close()
	time.Sleep(10 * time.Millisecond)

	if _, err := cli.Connect(addr); err == nil {
		t.Error("Connect() to dead port succeeded")
	}
}

func TestTCPDoubleListen(t *testing.T) {
	srv := NewTCPTransport()
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer srv.Close()

	if err := srv.Listen("127.0.0.1:0"); err != ErrListening {
		t.Errorf("second Listen() error = %v, want ErrListening", err)
	}
}

func TestTCPCloseStopsListening(t *testing.T) {
	srv := NewTCPTransport()
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	srv.Close()

	if srv.Listening() {
		t.Error("Listening() = true after Close")
	}
}

func TestTCPPeerCloseTerminatesConnection(t *testing.T) {
	srv := NewTCPTransport()
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer srv.Close()

	cli := NewTCPTransport()
	peer, err := cli.Connect(srv.Addr().String())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn := acceptConn(t, srv)

	peer.Close()

	buf := make([]byte, 64)
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := conn.Receive(buf)
		if err == ErrClosed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server side never observed the close")
		}
		time.Sleep(time.Millisecond)
	}
	if conn.IsOpen() {
		t.Error("IsOpen() = true after peer close")
	}
}
