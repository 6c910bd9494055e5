package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perun-stream/perun/pkg/protocol"
	"github.com/perun-stream/perun/pkg/server"
	"github.com/perun-stream/perun/pkg/transport"
)

// Default listeners used when no listener flag is given.
const (
	defaultUnixPath = "/tmp/perun.sock"
	defaultTCPAddr  = ":8080"
)

// pollInterval is the idle wait per relay loop turn; inbound traffic cuts
// it short through the server's wake channel.
const pollInterval = 10 * time.Millisecond

type relayFlags struct {
	unix        []string
	tcp         []string
	ws          []string
	metricsAddr string
	caps        string
	logLevel    string
	logJSON     bool
}

func runRelay(flags *relayFlags) error {
	logger, err := buildLogger(flags)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	caps, err := parseCaps(flags.caps)
	if err != nil {
		return err
	}

	config := server.DefaultConfig()
	config.Capabilities = caps
	if flags.metricsAddr != "" {
		config.Metrics = server.NewMetrics(prometheus.DefaultRegisterer)
	}

	srv := server.New(config)
	srv.SetCallbacks(relayCallbacks(srv, logger))

	// No listener flags: one UNIX socket and one TCP listener.
	if len(flags.unix) == 0 && len(flags.tcp) == 0 && len(flags.ws) == 0 {
		flags.unix = []string{defaultUnixPath}
		flags.tcp = []string{defaultTCPAddr}
	}

	for _, path := range flags.unix {
		if err := srv.AddTransport(transport.NewUnixTransport(), path); err != nil {
			return err
		}
	}
	for _, addr := range flags.tcp {
		if err := srv.AddTransport(transport.NewTCPTransport(), addr); err != nil {
			return err
		}
	}
	for _, addr := range flags.ws {
		if err := srv.AddTransport(transport.NewWebSocketTransport(), addr); err != nil {
			return err
		}
	}

	if err := srv.Start(); err != nil {
		return err
	}

	if flags.metricsAddr != "" {
		go serveMetrics(flags.metricsAddr, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("relay running", "pid", os.Getpid())
	for ctx.Err() == nil {
		srv.Update()
		srv.Poll(pollInterval)
	}

	logger.Info("signal received, shutting down")
	srv.Stop()
	return nil
}

// relayCallbacks wires the fan-out behavior: every packet a client sends
// is rebroadcast to all other handshaked clients, audio gated on the
// audio capability.
func relayCallbacks(srv *server.Server, logger *slog.Logger) server.Callbacks {
	return server.Callbacks{
		OnClientConnected: func(id int, caps protocol.Capabilities) {
			logger.Info("client joined", "client", id, "caps", caps)
		},
		OnClientDisconnected: func(id int) {
			logger.Info("client left", "client", id)
		},
		OnVideoFrame: func(id int, pkt protocol.VideoFramePacket) {
			srv.BroadcastVideoFrame(&pkt, id)
		},
		OnAudioChunk: func(id int, pkt protocol.AudioChunkPacket) {
			srv.BroadcastAudioChunk(&pkt, id)
		},
		OnInputEvent: func(id int, pkt protocol.InputEventPacket) {
			srv.BroadcastInputEvent(&pkt, id)
		},
		OnConfig: func(id int, data []byte) {
			logger.Debug("config received", "client", id, "bytes", len(data))
		},
		OnDebugInfo: func(id int, data []byte) {
			logger.Debug("debug info received", "client", id, "payload", string(data))
		},
	}
}

func serveMetrics(addr string, logger *slog.Logger) {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("metrics server failed", "error", err)
	}
}

func buildLogger(flags *relayFlags) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(flags.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", flags.logLevel)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if flags.logJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler), nil
}

func parseCaps(s string) (protocol.Capabilities, error) {
	var caps protocol.Capabilities
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "delta":
			caps |= protocol.CapDelta
		case "audio":
			caps |= protocol.CapAudio
		case "debug":
			caps |= protocol.CapDebug
		case "":
		default:
			return 0, fmt.Errorf("unknown capability %q", name)
		}
	}
	if caps == 0 {
		return 0, fmt.Errorf("no capabilities selected")
	}
	return caps, nil
}
