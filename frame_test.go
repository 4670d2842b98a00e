package xpc

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte("hello xpc")
	f := Frame{ProtocolVersion: protocolVersion, SequenceID: 7, PayloadLength: uint64(len(payload))}
	buf := f.MarshalHeader(payload)

	if len(buf) != frameHeaderSize+len(payload) {
		t.Fatalf("MarshalHeader length = %d; want %d", len(buf), frameHeaderSize+len(payload))
	}

	got, gotPayload, err := ParseFrame(buf)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if got != f {
		t.Fatalf("ParseFrame header = %+v; want %+v", got, f)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("ParseFrame payload = %q; want %q", gotPayload, payload)
	}
}

func TestParseFrameRejectsBadVersion(t *testing.T) {
	f := Frame{ProtocolVersion: 99, SequenceID: 1, PayloadLength: 0}
	buf := f.MarshalHeader(nil)

	if _, _, err := ParseFrame(buf); err == nil {
		t.Fatal("ParseFrame with unsupported version: want error, got nil")
	}
}

func TestParseFrameRejectsOverlongPayloadLength(t *testing.T) {
	f := Frame{ProtocolVersion: protocolVersion, SequenceID: 1, PayloadLength: 0}
	buf := f.MarshalHeader(nil)
	// Tamper with the payload_length field directly so it claims 1000
	// bytes while the buffer actually carries none after the header.
	buf[22] = 0x03
	buf[23] = 0xe8 // 0x03e8 == 1000

	if _, _, err := ParseFrame(buf); err == nil {
		t.Fatal("ParseFrame with payload_length exceeding available bytes: want error, got nil")
	}
}

func TestParseFrameRejectsShortBuffer(t *testing.T) {
	if _, _, err := ParseFrame([]byte{1, 2, 3}); err == nil {
		t.Fatal("ParseFrame with a buffer shorter than the header: want error, got nil")
	}
}
