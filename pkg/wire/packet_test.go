package wire

import (
	"bytes"
	"testing"
)

func samplePacket(version uint8, payloadLen int) *Packet {
	p := &Packet{
		Version:   version,
		Type:      TypeMessage,
		TTL:       7,
		Timestamp: 1700000000000,
		SenderID:  [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		Payload:   bytes.Repeat([]byte{0xAB}, payloadLen),
	}
	if version >= 2 {
		p.Route = [][8]byte{{9, 9, 9, 9, 9, 9, 9, 9}}
	}
	return p
}

func TestRoundTripUnpadded(t *testing.T) {
	tests := []struct {
		name       string
		version    uint8
		payloadLen int
		recipient  bool
		sig        bool
	}{
		{"v1 small", 1, 10, false, false},
		{"v1 with recipient", 1, 40, true, false},
		{"v1 with signature", 1, 40, false, true},
		{"v2 with route", 2, 40, false, false},
		{"v2 everything", 2, 300, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := samplePacket(tt.version, tt.payloadLen)
			if tt.recipient {
				r := [8]byte{0xFF, 0xFE, 0xFD, 0xFC, 0xFB, 0xFA, 0xF9, 0xF8}
				p.RecipientID = &r
			}
			if tt.sig {
				var s [64]byte
				for i := range s {
					s[i] = byte(i)
				}
				p.Signature = &s
			}

			encoded, err := Encode(p, false)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			assertPacketsEqual(t, p, decoded)
		})
	}
}

func TestRoundTripPadded(t *testing.T) {
	for _, payloadLen := range []int{0, 10, 100, 300, 1000, 3000} {
		p := samplePacket(2, payloadLen)
		encoded, err := Encode(p, true)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}

		if len(encoded) > 2048 {
			// left unpadded above the top cell size: just confirm round trip
		} else {
			found := false
			for _, cell := range cellSizes {
				if len(encoded) == cell {
					found = true
					break
				}
			}
			if !found && len(encoded) != mustCoreLen(t, p) {
				t.Fatalf("padded length %d not in cell ladder and not core length", len(encoded))
			}
		}

		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("decode padded (len %d): %v", payloadLen, err)
		}
		assertPacketsEqual(t, p, decoded)
	}
}

func mustCoreLen(t *testing.T, p *Packet) int {
	t.Helper()
	core, err := encodeCore(p)
	if err != nil {
		t.Fatalf("encodeCore: %v", err)
	}
	return len(core)
}

func TestCompressionRoundTrip(t *testing.T) {
	p := samplePacket(2, 0)
	p.Payload = bytes.Repeat([]byte("hello bitchat mesh "), 50) // compressible, > 256B

	encoded, err := Encode(p, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.Payload, p.Payload) {
		t.Fatalf("payload mismatch after compressed round trip")
	}
}

func TestDecompressBombRejected(t *testing.T) {
	// A crafted compressed section whose claimed original length wildly
	// exceeds what the compressed bytes could plausibly expand to.
	_, err := decodePayloadSection([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01}, true, 2)
	if err == nil {
		t.Fatalf("expected bomb-ratio rejection")
	}
}

func TestPaddingLeftUnpaddedOverLimit(t *testing.T) {
	p := samplePacket(2, 4000)
	// Incompressible bytes, so the frame really stays over 2048 after the
	// codec's compression step.
	x := uint32(1)
	for i := range p.Payload {
		x = x*1103515245 + 12345
		p.Payload[i] = byte(x >> 16)
	}
	encoded, err := Encode(p, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(encoded) <= 2048 {
		t.Fatalf("expected frame over 2048 to stay unpadded-sized, got %d", len(encoded))
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	assertPacketsEqual(t, p, decoded)
}

func assertPacketsEqual(t *testing.T, want, got *Packet) {
	t.Helper()
	if want.Version != got.Version || want.Type != got.Type || want.TTL != got.TTL || want.Timestamp != got.Timestamp {
		t.Fatalf("header mismatch: want %+v got %+v", want, got)
	}
	if want.SenderID != got.SenderID {
		t.Fatalf("sender id mismatch")
	}
	if (want.RecipientID == nil) != (got.RecipientID == nil) {
		t.Fatalf("recipient presence mismatch")
	}
	if want.RecipientID != nil && *want.RecipientID != *got.RecipientID {
		t.Fatalf("recipient id mismatch")
	}
	if !bytes.Equal(want.Payload, got.Payload) {
		t.Fatalf("payload mismatch: want %v got %v", want.Payload, got.Payload)
	}
	if (want.Signature == nil) != (got.Signature == nil) {
		t.Fatalf("signature presence mismatch")
	}
	if want.Signature != nil && *want.Signature != *got.Signature {
		t.Fatalf("signature mismatch")
	}
	if len(want.Route) != len(got.Route) {
		t.Fatalf("route length mismatch")
	}
	for i := range want.Route {
		if want.Route[i] != got.Route[i] {
			t.Fatalf("route hop %d mismatch", i)
		}
	}
}
