package server

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/perun-stream/perun/pkg/protocol"
)

// Config holds configuration for the relay server.
type Config struct {
	// Capabilities is the server's capability bitmap offered during the
	// handshake. The negotiated set per client is the intersection with
	// the client's bitmap.
	// Default: CapDelta | CapAudio | CapDebug.
	Capabilities protocol.Capabilities

	// MaxPacketLength is the largest payload length accepted from a
	// client. A header claiming more is a fatal framing error and the
	// client is closed.
	// Default: protocol.MaxPacketLength (16 MiB).
	MaxPacketLength uint32

	// Logger receives the server's structured log output.
	// Default: slog.Default() scoped with component=server.
	Logger *slog.Logger

	// Metrics collects Prometheus metrics for the server.
	// Default: nil (collection disabled).
	Metrics *Metrics

	// Tracer emits one span per client session.
	// Default: the global otel tracer, a no-op unless an SDK is installed.
	Tracer trace.Tracer
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Capabilities:    protocol.CapDelta | protocol.CapAudio | protocol.CapDebug,
		MaxPacketLength: protocol.MaxPacketLength,
	}
}
