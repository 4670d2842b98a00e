package xpc

import "encoding/binary"

// protocolVersion is the only version this implementation understands.
// A Frame carrying any other value is a fatal frame error.
const protocolVersion = 1

// frameHeaderSize is the fixed header size in bytes: three uint64
// fields (version, sequence id, payload length) followed by four
// reserved uint64 words folded into one 32-byte reserved block.
const frameHeaderSize = 8 + 8 + 8 + 32

// Frame is the fixed header that precedes every codec payload on the
// wire.
type Frame struct {
	ProtocolVersion uint64
	SequenceID      uint64
	PayloadLength   uint64
}

// MarshalHeader writes the 56-byte frame header for f, followed by
// payload, into a single contiguous buffer.
func (f Frame) MarshalHeader(payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint64(buf[0:8], f.ProtocolVersion)
	binary.BigEndian.PutUint64(buf[8:16], f.SequenceID)
	binary.BigEndian.PutUint64(buf[16:24], uint64(len(payload)))
	// bytes 24..55 are reserved: zero on send, which make() already
	// gives us.
	copy(buf[frameHeaderSize:], payload)
	return buf
}

// ParseFrame validates and extracts the header from buf, returning the
// header and the payload slice (sharing buf's backing array, no copy).
// ProtocolVersion must equal 1; payload_length must not exceed the
// bytes actually available after the header, or this is a fatal
// Invalid frame error.
func ParseFrame(buf []byte) (Frame, []byte, error) {
	if len(buf) < frameHeaderSize {
		return Frame{}, nil, newErrorf(Invalid, "frame shorter than header: %d bytes", len(buf))
	}
	f := Frame{
		ProtocolVersion: binary.BigEndian.Uint64(buf[0:8]),
		SequenceID:      binary.BigEndian.Uint64(buf[8:16]),
		PayloadLength:   binary.BigEndian.Uint64(buf[16:24]),
	}
	if f.ProtocolVersion != protocolVersion {
		return Frame{}, nil, newErrorf(Invalid, "unsupported protocol version %d", f.ProtocolVersion)
	}
	available := uint64(len(buf) - frameHeaderSize)
	if f.PayloadLength > available {
		return Frame{}, nil, newErrorf(Invalid, "payload length %d exceeds %d bytes received", f.PayloadLength, available)
	}
	payload := buf[frameHeaderSize : frameHeaderSize+f.PayloadLength]
	return f, payload, nil
}
