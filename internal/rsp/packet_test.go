package rsp

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestEncodePacket(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name:    "empty",
			payload: "",
			want:    "$#00",
		},
		{
			name:    "stop query",
			payload: "?",
			want:    "$?#3f",
		},
		{
			name:    "continue",
			payload: "c",
			want:    "$c#63",
		},
		{
			name:    "escaped characters",
			payload: "a#b",
			want:    "$a}\x03b#43",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(encodePacket([]byte(tt.payload)))
			if got != tt.want {
				t.Errorf("encodePacket(%q) = %q, want %q", tt.payload, got, tt.want)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "plain",
			raw:  "OK",
			want: "OK",
		},
		{
			name: "escape",
			raw:  "a}\x03b",
			want: "a#b",
		},
		{
			name: "run length",
			raw:  "0* ",
			want: "0000",
		},
		{
			name: "run length after escape",
			raw:  "}\x5d*!",
			want: "}}}}}",
		},
		{
			name:    "truncated escape",
			raw:     "ab}",
			wantErr: true,
		},
		{
			name:    "run length without previous byte",
			raw:     "* ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePayload([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Errorf("decodePayload(%q) succeeded, want error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodePayload(%q) failed: %v", tt.raw, err)
			}
			if string(got) != tt.want {
				t.Errorf("decodePayload(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestReadPacket(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{
			name:   "valid",
			input:  "$OK#9a",
			want:   "OK",
			wantOK: true,
		},
		{
			name:   "leading ack is skipped",
			input:  "+$OK#9a",
			want:   "OK",
			wantOK: true,
		},
		{
			name:   "notification is skipped",
			input:  "%Stop:T05#b9$OK#9a",
			want:   "OK",
			wantOK: true,
		},
		{
			name:   "bad checksum",
			input:  "$OK#00",
			want:   "OK",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, ok, err := readPacket(bufio.NewReader(strings.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("readPacket failed: %v", err)
			}
			if string(raw) != tt.want {
				t.Errorf("payload = %q, want %q", raw, tt.want)
			}
			if ok != tt.wantOK {
				t.Errorf("checksum ok = %v, want %v", ok, tt.wantOK)
			}
		})
	}
}

func TestEncodeRoundTripThroughWire(t *testing.T) {
	payload := []byte("M400000,4:$#}*")
	wire := encodePacket(payload)

	raw, ok, err := readPacket(bufio.NewReader(bytes.NewReader(wire)))
	if err != nil {
		t.Fatalf("readPacket failed: %v", err)
	}
	if !ok {
		t.Fatalf("checksum mismatch for %q", wire)
	}
	got, err := decodePayload(raw)
	if err != nil {
		t.Fatalf("decodePayload failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("round trip = %q, want %q", got, payload)
	}
}

func TestLittleEndian(t *testing.T) {
	if got := encodeLittleEndian(0x400af3, 8); got != "f30a400000000000" {
		t.Errorf("encodeLittleEndian = %s", got)
	}
	if got := encodeLittleEndian(0x246, 4); got != "46020000" {
		t.Errorf("encodeLittleEndian(4) = %s", got)
	}
	v, err := decodeLittleEndian([]byte("f30a400000000000"))
	if err != nil {
		t.Fatalf("decodeLittleEndian failed: %v", err)
	}
	if v != 0x400af3 {
		t.Errorf("decodeLittleEndian = %#x, want 0x400af3", v)
	}
}
