package server

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/perun-stream/perun/pkg/protocol"
	"github.com/perun-stream/perun/pkg/transport"
)

// client is the server-side state for one accepted connection. The server
// owns it exclusively and mutates it only from the Update thread.
type client struct {
	id   int
	conn transport.Connection

	// buf accumulates raw bytes until a full handshake or packet is
	// available. Consumed prefixes are removed before the next packet
	// is considered.
	buf []byte

	handshakeComplete bool
	caps              protocol.Capabilities

	// disconnected latches once teardown ran, so the disconnect
	// callback cannot fire twice.
	disconnected bool

	span trace.Span
}
