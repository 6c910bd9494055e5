package server

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies the relay's spans in a tracing backend.
const tracerName = "github.com/perun-stream/perun/pkg/server"

// startSessionSpan opens one span covering a client's whole session, from
// handshake completion to disconnect. With no SDK installed the global
// tracer is a no-op and this costs nothing.
func (s *Server) startSessionSpan(c *client) trace.Span {
	tracer := s.config.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	_, span := tracer.Start(context.Background(), "client.session",
		trace.WithAttributes(
			attribute.Int("client.id", c.id),
			attribute.Int("client.capabilities", int(c.caps)),
			attribute.String("client.remote", remoteString(c)),
		))
	return span
}

func remoteString(c *client) string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
