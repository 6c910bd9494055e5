package main

import (
	"testing"

	"github.com/perun-stream/perun/pkg/protocol"
)

func TestParseCaps(t *testing.T) {
	tests := []struct {
		in      string
		want    protocol.Capabilities
		wantErr bool
	}{
		{in: "delta,audio,debug", want: protocol.CapDelta | protocol.CapAudio | protocol.CapDebug},
		{in: "audio", want: protocol.CapAudio},
		{in: "Delta, AUDIO", want: protocol.CapDelta | protocol.CapAudio},
		{in: "delta,bogus", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range tests {
		got, err := parseCaps(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseCaps(%q) succeeded, want error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseCaps(%q) error = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseCaps(%q) = %#x, want %#x", tc.in, got, tc.want)
		}
	}
}

func TestBuildLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := buildLogger(&relayFlags{logLevel: "verbose"}); err == nil {
		t.Error("buildLogger accepted an unknown level")
	}
	if _, err := buildLogger(&relayFlags{logLevel: "warn", logJSON: true}); err != nil {
		t.Errorf("buildLogger(warn) error = %v", err)
	}
}
