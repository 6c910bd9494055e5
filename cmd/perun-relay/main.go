package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	flags := &relayFlags{}

	rootCmd := &cobra.Command{
		Use:   "perun-relay",
		Short: "Multi-transport streaming relay for the Perun protocol",
		Long: `perun-relay accepts emulator streaming clients over UNIX sockets,
TCP, and WebSocket, and rebroadcasts every client's video, audio, and
input packets to all other handshaked clients (audio only to clients
that negotiated the audio capability).

Without listener flags it serves one UNIX socket at /tmp/perun.sock
and one TCP listener at :8080.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(flags)
		},
	}

	rootCmd.Flags().StringArrayVarP(&flags.unix, "unix", "u", nil, "add a UNIX socket listener at the given path (repeatable)")
	rootCmd.Flags().StringArrayVarP(&flags.tcp, "tcp", "t", nil, "add a TCP listener at host:port (repeatable)")
	rootCmd.Flags().StringArrayVarP(&flags.ws, "ws", "w", nil, "add a WebSocket listener at host:port (repeatable)")
	rootCmd.Flags().StringVar(&flags.metricsAddr, "metrics", "", "serve Prometheus metrics and health at this address")
	rootCmd.Flags().StringVar(&flags.caps, "caps", "delta,audio,debug", "capabilities offered to clients")
	rootCmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&flags.logJSON, "log-json", false, "emit logs as JSON")

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("perun-relay %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
