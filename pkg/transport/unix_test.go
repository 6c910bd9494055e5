package transport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestUnixListenConnectRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.sock")

	srv := NewUnixTransport()
	if err := srv.Listen(path); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer srv.Close()

	cli := NewUnixTransport()
	peer, err := cli.Connect(path)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer peer.Close()

	conn := acceptConn(t, srv)
	defer conn.Close()

	msg := []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	if n, err := peer.Send(msg, true); n != len(msg) || err != nil {
		t.Fatalf("Send() = (%d, %v)", n, err)
	}
	if got := recvAll(t, conn, len(msg)); !bytes.Equal(got, msg) {
		t.Errorf("received % X, want % X", got, msg)
	}
}

func TestUnixListenRemovesStalePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.sock")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	srv := NewUnixTransport()
	if err := srv.Listen(path); err != nil {
		t.Fatalf("Listen() over stale socket error = %v", err)
	}
	srv.Close()
}

func TestUnixCloseUnlinksPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.sock")

	srv := NewUnixTransport()
	if err := srv.Listen(path); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("socket path missing while listening: %v", err)
	}

	srv.Close()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("socket path still present after Close: %v", err)
	}
}

func TestUnixConnectMissingPath(t *testing.T) {
	cli := NewUnixTransport()
	if _, err := cli.Connect(filepath.Join(t.TempDir(), "nope.sock")); err == nil {
		t.Error("Connect() to missing path succeeded")
	}
}
