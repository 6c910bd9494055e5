package client

import (
	"bytes"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/perun-stream/perun/pkg/protocol"
	"github.com/perun-stream/perun/pkg/server"
	"github.com/perun-stream/perun/pkg/transport"
)

// startRelay brings up a relay over a UNIX socket with fan-out wiring for
// video and audio, and returns the server, its socket path, and a function
// that halts the background Update loop (so a test may call Stop itself).
func startRelay(t *testing.T) (*server.Server, string, func()) {
	t.Helper()

	s := server.New(nil)
	s.SetCallbacks(server.Callbacks{
		OnVideoFrame: func(id int, pkt protocol.VideoFramePacket) {
			s.BroadcastVideoFrame(&pkt, id)
		},
		OnAudioChunk: func(id int, pkt protocol.AudioChunkPacket) {
			s.BroadcastAudioChunk(&pkt, id)
		},
	})

	path := filepath.Join(t.TempDir(), "relay.sock")
	if err := s.AddTransport(transport.NewUnixTransport(), path); err != nil {
		t.Fatalf("AddTransport() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(s.Stop)

	// The single-threaded relay needs someone turning its crank while
	// clients dial and exchange packets.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				s.Update()
				s.Poll(2 * time.Millisecond)
			}
		}
	}()
	halted := false
	halt := func() {
		if halted {
			return
		}
		halted = true
		close(stop)
		<-done
	}
	t.Cleanup(halt)

	return s, path, halt
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestDialHandshake(t *testing.T) {
	_, path, _ := startRelay(t)

	c, err := Dial(transport.NewUnixTransport(), path, protocol.CapDelta|protocol.CapAudio)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if !c.Connected() {
		t.Error("Connected() = false after successful Dial")
	}
	if got := c.ServerCapabilities(); got != protocol.CapDelta|protocol.CapAudio {
		t.Errorf("ServerCapabilities() = %#x, want 0x03", got)
	}
}

func TestDialRejected(t *testing.T) {
	// A stub server that refuses every handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.ReadFull(conn, make([]byte, protocol.HelloSize))
		conn.Write(protocol.CreateError("Unsupported protocol version"))
		time.Sleep(100 * time.Millisecond)
	}()

	_, err = Dial(transport.NewTCPTransport(), ln.Addr().String(), protocol.CapDelta)
	if err == nil {
		t.Fatal("Dial() against a rejecting server succeeded")
	}
	if !strings.Contains(err.Error(), "Unsupported protocol version") {
		t.Errorf("Dial() error = %v, want the server's reason", err)
	}
}

func TestDialTimeout(t *testing.T) {
	// A server that accepts and then says nothing.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(3 * time.Second)
	}()

	start := time.Now()
	if _, err := Dial(transport.NewTCPTransport(), ln.Addr().String(), protocol.CapDelta); err == nil {
		t.Fatal("Dial() against a mute server succeeded")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Dial() took %v, want ~1s handshake timeout", elapsed)
	}
}

func TestVideoRelayStripsDeltaFlag(t *testing.T) {
	_, path, _ := startRelay(t)

	producer, err := Dial(transport.NewUnixTransport(), path, protocol.CapDelta)
	if err != nil {
		t.Fatalf("producer Dial() error = %v", err)
	}
	defer producer.Close()

	viewer, err := Dial(transport.NewUnixTransport(), path, protocol.CapDelta)
	if err != nil {
		t.Fatalf("viewer Dial() error = %v", err)
	}
	defer viewer.Close()

	var frames [][]byte
	viewer.SetCallbacks(Callbacks{
		OnVideoFrame: func(pkt protocol.VideoFramePacket, keyframe bool) {
			frames = append(frames, append([]byte(nil), pkt.Data...))
		},
	})

	// Keyframe, then a delta against it. The relay re-sends every video
	// frame with flags 0, so the delta reaches the viewer marked as a
	// keyframe and is stored as-is instead of being XOR-applied.
	key := []byte{0x00, 0x11, 0x22, 0x33}
	next := []byte{0xFF, 0x11, 0x22, 0x30}

	if !producer.SendVideoFrame(&protocol.VideoFramePacket{Width: 2, Height: 2, Data: key}, false) {
		t.Fatal("keyframe send failed")
	}
	waitFor(t, func() bool {
		viewer.Update()
		return len(frames) == 1
	}, "keyframe at viewer")

	deltaBytes, err := protocol.ComputeDelta(next, key)
	if err != nil {
		t.Fatal(err)
	}
	if !producer.SendVideoFrame(&protocol.VideoFramePacket{Width: 2, Height: 2, Data: deltaBytes}, true) {
		t.Fatal("delta send failed")
	}
	waitFor(t, func() bool {
		viewer.Update()
		return len(frames) == 2
	}, "delta at viewer")

	if !bytes.Equal(frames[0], key) {
		t.Errorf("frame 0 = % X, want % X", frames[0], key)
	}
	if !bytes.Equal(frames[1], deltaBytes) {
		t.Errorf("frame 1 = % X, want % X (delta bytes relayed as a keyframe)", frames[1], deltaBytes)
	}

	// The producer, excluded from its own broadcast, saw nothing.
	producer.Update()
	if producer.Frame().Ready() {
		t.Error("producer received its own frame back")
	}
}

func TestAudioRelayBetweenClients(t *testing.T) {
	_, path, _ := startRelay(t)

	sender, err := Dial(transport.NewUnixTransport(), path, protocol.CapAudio)
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	listener, err := Dial(transport.NewUnixTransport(), path, protocol.CapAudio)
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	var got []protocol.AudioChunkPacket
	listener.SetCallbacks(Callbacks{
		OnAudioChunk: func(pkt protocol.AudioChunkPacket) {
			got = append(got, pkt)
		},
	})

	chunk := protocol.AudioChunkPacket{SampleRate: 22050, Channels: 1, Samples: []int16{-3, 3}}
	if !sender.SendAudioChunk(&chunk) {
		t.Fatal("SendAudioChunk failed")
	}

	waitFor(t, func() bool {
		listener.Update()
		return len(got) == 1
	}, "audio at listener")

	if got[0].SampleRate != 22050 || got[0].Samples[0] != -3 {
		t.Errorf("relayed chunk = %+v", got[0])
	}
}

func TestClientObservesServerShutdown(t *testing.T) {
	s, path, haltPump := startRelay(t)

	c, err := Dial(transport.NewUnixTransport(), path, protocol.CapDelta)
	if err != nil {
		t.Fatal(err)
	}

	disconnects := 0
	c.SetCallbacks(Callbacks{
		OnDisconnected: func() { disconnects++ },
	})

	haltPump()
	s.Stop()

	waitFor(t, func() bool {
		c.Update()
		return !c.Connected()
	}, "client to notice shutdown")

	if disconnects != 1 {
		t.Errorf("OnDisconnected fired %d times, want 1", disconnects)
	}

	if c.SendInput(&protocol.InputEventPacket{Buttons: 1}) {
		t.Error("SendInput succeeded after disconnect")
	}
}
