package protocol

import (
	"bytes"
	"testing"
)

func TestCreateHelloGoldenBytes(t *testing.T) {
	// HELLO with version 1 and caps DELTA|AUDIO.
	want := []byte{
		0x50, 0x45, 0x52, 0x55, 0x4E, 0x5F, 0x48, 0x45, 0x4C, 0x4C, 0x4F, // "PERUN_HELLO"
		0x00, 0x01, // version
		0x00, 0x03, // capabilities
	}
	if got := CreateHello(1, CapDelta|CapAudio); !bytes.Equal(got, want) {
		t.Errorf("CreateHello() = % X, want % X", got, want)
	}
}

func TestProcessHello(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		serverCaps Capabilities
		wantOK     bool
		wantCaps   Capabilities
		wantVer    uint16
		wantReason string
	}{
		{
			name:       "accept_full_caps",
			data:       CreateHello(ProtocolVersion, CapDelta|CapAudio|CapDebug),
			serverCaps: CapDelta | CapAudio | CapDebug,
			wantOK:     true,
			wantCaps:   CapDelta | CapAudio | CapDebug,
			wantVer:    ProtocolVersion,
		},
		{
			name:       "caps_intersection",
			data:       CreateHello(ProtocolVersion, CapDelta|CapAudio),
			serverCaps: CapAudio | CapDebug,
			wantOK:     true,
			wantCaps:   CapAudio,
			wantVer:    ProtocolVersion,
		},
		{
			name:       "too_short",
			data:       []byte("PERUN_HELLO"),
			serverCaps: CapDelta,
			wantReason: "Handshake too short",
		},
		{
			name:       "bad_magic",
			data:       append([]byte("PERUN_OLLEH"), 0x00, 0x01, 0x00, 0x01),
			serverCaps: CapDelta,
			wantReason: "Invalid magic string",
		},
		{
			name:       "version_mismatch",
			data:       CreateHello(0x0063, CapDelta),
			serverCaps: CapDelta,
			wantVer:    0x0063,
			wantReason: "Unsupported protocol version",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ProcessHello(tc.data, tc.serverCaps)
			if got.Accepted != tc.wantOK {
				t.Fatalf("Accepted = %v, want %v (reason %q)", got.Accepted, tc.wantOK, got.Reason)
			}
			if got.Version != tc.wantVer {
				t.Errorf("Version = %d, want %d", got.Version, tc.wantVer)
			}
			if tc.wantOK && got.Capabilities != tc.wantCaps {
				t.Errorf("Capabilities = %#x, want %#x", got.Capabilities, tc.wantCaps)
			}
			if !tc.wantOK && got.Reason != tc.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tc.wantReason)
			}
		})
	}
}

func TestCreateOKGoldenBytes(t *testing.T) {
	// Server with caps 0x07 answering a HELLO that offered caps 0x03.
	want := []byte{0x4F, 0x4B, 0x00, 0x01, 0x00, 0x03}
	if got := CreateOK(ProtocolVersion, CapDelta|CapAudio); !bytes.Equal(got, want) {
		t.Errorf("CreateOK() = % X, want % X", got, want)
	}
}

func TestCreateError(t *testing.T) {
	got := CreateError("Unsupported protocol version")
	want := append([]byte("ERRORUnsupported protocol version"), 0)
	if !bytes.Equal(got, want) {
		t.Errorf("CreateError() = % X, want % X", got, want)
	}
}

func TestProcessResponse(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		wantOK     bool
		wantCaps   Capabilities
		wantReason string
	}{
		{
			name:     "ok",
			data:     CreateOK(ProtocolVersion, CapDelta|CapAudio),
			wantOK:   true,
			wantCaps: CapDelta | CapAudio,
		},
		{
			name:       "error_with_message",
			data:       CreateError("Unsupported protocol version"),
			wantReason: "Unsupported protocol version",
		},
		{
			name:       "error_without_message",
			data:       []byte("ERROR"),
			wantReason: "Unknown error",
		},
		{
			name:       "error_unterminated",
			data:       []byte("ERRORboom"),
			wantReason: "boom",
		},
		{
			name:       "garbage",
			data:       []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x00},
			wantReason: "Invalid response format",
		},
		{
			name:       "truncated_ok",
			data:       []byte("OK\x00"),
			wantReason: "Invalid response format",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ProcessResponse(tc.data)
			if got.Accepted != tc.wantOK {
				t.Fatalf("Accepted = %v, want %v", got.Accepted, tc.wantOK)
			}
			if tc.wantOK {
				if got.Version != ProtocolVersion {
					t.Errorf("Version = %d, want %d", got.Version, ProtocolVersion)
				}
				if got.Capabilities != tc.wantCaps {
					t.Errorf("Capabilities = %#x, want %#x", got.Capabilities, tc.wantCaps)
				}
			} else if got.Reason != tc.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tc.wantReason)
			}
		})
	}
}

func TestHelloRoundTrip(t *testing.T) {
	hello := CreateHello(ProtocolVersion, CapAudio)
	result := ProcessHello(hello, CapDelta|CapAudio|CapDebug)
	if !result.Accepted {
		t.Fatalf("ProcessHello rejected own HELLO: %q", result.Reason)
	}
	if result.Capabilities != CapAudio {
		t.Errorf("negotiated = %#x, want %#x", result.Capabilities, CapAudio)
	}

	ok := CreateOK(result.Version, result.Capabilities)
	resp := ProcessResponse(ok)
	if !resp.Accepted || resp.Capabilities != CapAudio {
		t.Errorf("ProcessResponse() = %+v, want accepted with caps %#x", resp, CapAudio)
	}
}
