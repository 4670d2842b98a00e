package xpc

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/jceel/libxpc/internal/nodepool"
)

// decodeHardDepthCeiling bounds how far nested container recursion is
// ever allowed to grow, regardless of how many times the decoder's
// depth budget doubles. This is the last line of defense against a
// pathological but technically well-formed document (deeply nested
// single-element arrays) exhausting the goroutine stack.
const decodeHardDepthCeiling = 1 << 16

type decoder struct {
	buf      []byte
	pos      int
	pool     *nodepool.Pool
	depth    int
	maxDepth int
}

// Decode parses a single MessagePack-shaped value from buf per spec
// §4.2. The decoder bounds both total node allocation and recursion
// depth so that a malformed or adversarial header (a map32 claiming
// billions of entries, or pathological nesting) fails fast instead of
// exhausting memory or stack: a container whose declared children are
// not backed by bytes fails with Invalid when the input runs out, and
// nesting past the depth ceiling or an exhausted node budget fails
// with TooBig. These errors are returned wrapped with errors.Wrap.
func Decode(buf []byte, cfg Config) (*Value, error) {
	cfg = cfg.withDefaults()

	// A well-formed document can encode at most one node per byte (the
	// smallest possible node, a fixint or nil tag, is one byte), so the
	// buffer length is a safe conservative upper bound on how many
	// nodes decoding it could ever legitimately produce.
	maxNodes := len(buf) + 1

	d := &decoder{
		buf:      buf,
		pool:     nodepool.New(maxNodes, cfg.NodePoolPageSize),
		maxDepth: cfg.InitialParseDepth,
	}
	v, err := d.decodeValue()
	if err != nil {
		return nil, errors.Wrap(err, "decode xpc value")
	}
	if d.pos != len(buf) {
		v.Release()
		return nil, newErrorf(Invalid, "%d trailing bytes after value", len(buf)-d.pos)
	}
	return v, nil
}

func (d *decoder) enterContainer() error {
	d.depth++
	if d.depth > d.maxDepth {
		if d.maxDepth*2 > decodeHardDepthCeiling {
			d.depth--
			return newErrorf(TooBig, "nesting depth exceeds %d", decodeHardDepthCeiling)
		}
		d.maxDepth *= 2
	}
	return nil
}

func (d *decoder) leaveContainer() {
	d.depth--
}

func (d *decoder) take() error {
	if !d.pool.Take() {
		return newError(TooBig, "decoder node budget exhausted")
	}
	return nil
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, newError(Invalid, "unexpected end of buffer")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readN(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, newErrorf(Invalid, "need %d bytes, only %d remain", n, len(d.buf)-d.pos)
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) readUint16() (uint16, error) {
	b, err := d.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *decoder) readUint32() (uint32, error) {
	b, err := d.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *decoder) readUint64() (uint64, error) {
	b, err := d.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (d *decoder) decodeValue() (*Value, error) {
	if err := d.take(); err != nil {
		return nil, err
	}

	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}

	switch {
	case tag <= positiveFixMax:
		return NewInt64(int64(tag)), nil
	case tag >= negFixintMin:
		return NewInt64(int64(int8(tag))), nil
	case tag&0xe0 == fixstrBase:
		return d.decodeStr(int(tag & fixstrMax))
	case tag&0xf0 == fixarrayBase:
		return d.decodeArray(int(tag & fixcontainerMax))
	case tag&0xf0 == fixmapBase:
		return d.decodeDict(int(tag & fixcontainerMax))
	}

	switch tag {
	case tagNil:
		return NewNull(), nil
	case tagFalse:
		return NewBool(false), nil
	case tagTrue:
		return NewBool(true), nil
	case tagUint8:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return NewUint64(uint64(b)), nil
	case tagUint16:
		n, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		return NewUint64(uint64(n)), nil
	case tagUint32:
		n, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		return NewUint64(uint64(n)), nil
	case tagUint64:
		n, err := d.readUint64()
		if err != nil {
			return nil, err
		}
		return NewUint64(n), nil
	case tagInt8:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return NewInt64(int64(int8(b))), nil
	case tagInt16:
		n, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		return NewInt64(int64(int16(n))), nil
	case tagInt32:
		n, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		return NewInt64(int64(int32(n))), nil
	case tagInt64:
		n, err := d.readUint64()
		if err != nil {
			return nil, err
		}
		return NewInt64(int64(n)), nil
	case tagFloat32:
		n, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		return NewDouble(float64(math.Float32frombits(n))), nil
	case tagFloat64:
		n, err := d.readUint64()
		if err != nil {
			return nil, err
		}
		return NewDouble(math.Float64frombits(n)), nil
	case tagBin8:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.decodeBin(int(b))
	case tagBin16:
		n, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		return d.decodeBin(int(n))
	case tagBin32:
		n, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		return d.decodeBin(int(n))
	case tagStr8:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.decodeStr(int(b))
	case tagStr16:
		n, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		return d.decodeStr(int(n))
	case tagStr32:
		n, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		return d.decodeStr(int(n))
	case tagArray16:
		n, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		return d.decodeArray(int(n))
	case tagArray32:
		n, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		return d.decodeArray(int(n))
	case tagMap16:
		n, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		return d.decodeDict(int(n))
	case tagMap32:
		n, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		return d.decodeDict(int(n))
	case tagFixext1:
		return d.decodeExt(1)
	case tagFixext2:
		return d.decodeExt(2)
	case tagFixext4:
		return d.decodeExt(4)
	case tagFixext8:
		return d.decodeExt(8)
	case tagFixext16:
		return d.decodeExt(16)
	case tagExt8:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.decodeExt(int(b))
	case tagExt16:
		n, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		return d.decodeExt(int(n))
	case tagExt32:
		n, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		return d.decodeExt(int(n))
	default:
		return nil, newErrorf(Invalid, "unknown tag byte 0x%02x", tag)
	}
}

func (d *decoder) decodeStr(n int) (*Value, error) {
	b, err := d.readN(n)
	if err != nil {
		return nil, err
	}
	return NewString(string(b)), nil
}

func (d *decoder) decodeBin(n int) (*Value, error) {
	b, err := d.readN(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return NewData(out), nil
}

func (d *decoder) decodeArray(n int) (*Value, error) {
	if err := d.enterContainer(); err != nil {
		return nil, err
	}
	defer d.leaveContainer()

	arr := NewArray()
	for i := 0; i < n; i++ {
		child, err := d.decodeValue()
		if err != nil {
			arr.Release()
			return nil, err
		}
		if err := arr.ArrayAppend(child); err != nil {
			child.Release()
			arr.Release()
			return nil, err
		}
		child.Release()
	}
	return arr, nil
}

func (d *decoder) decodeDict(n int) (*Value, error) {
	if err := d.enterContainer(); err != nil {
		return nil, err
	}
	defer d.leaveContainer()

	dict := NewDictionary()
	for i := 0; i < n; i++ {
		keyVal, err := d.decodeValue()
		if err != nil {
			dict.Release()
			return nil, err
		}
		key, err := keyVal.String()
		keyVal.Release()
		if err != nil {
			dict.Release()
			return nil, newError(Invalid, "map key is not a string")
		}
		val, err := d.decodeValue()
		if err != nil {
			dict.Release()
			return nil, err
		}
		if err := dict.DictSet(key, val); err != nil {
			val.Release()
			dict.Release()
			return nil, err
		}
		val.Release()
	}
	return dict, nil
}

func (d *decoder) decodeExt(n int) (*Value, error) {
	extTypeByte, err := d.readByte()
	if err != nil {
		return nil, err
	}
	extType := int8(extTypeByte)
	payload, err := d.readN(n)
	if err != nil {
		return nil, err
	}

	switch extType {
	case extUUID:
		if len(payload) != 16 {
			return nil, newErrorf(Invalid, "uuid ext payload is %d bytes, want 16", len(payload))
		}
		var raw [16]byte
		copy(raw[:], payload)
		return NewUUID(raw), nil
	case extDate:
		if len(payload) != 8 {
			return nil, newErrorf(Invalid, "date ext payload is %d bytes, want 8", len(payload))
		}
		return NewDate(int64(binary.BigEndian.Uint64(payload))), nil
	case extFd:
		if len(payload) != 8 {
			return nil, newErrorf(Invalid, "fd ext payload is %d bytes, want 8", len(payload))
		}
		return NewFd(int(int64(binary.BigEndian.Uint64(payload)))), nil
	case extSharedMemory:
		if len(payload) != 16 {
			return nil, newErrorf(Invalid, "shared memory ext payload is %d bytes, want 16", len(payload))
		}
		handle := int(int64(binary.BigEndian.Uint64(payload[0:8])))
		size := binary.BigEndian.Uint64(payload[8:16])
		return NewSharedMemory(handle, size), nil
	case extEndpoint:
		return NewEndpoint(string(payload)), nil
	case extError:
		if len(payload) < 8 {
			return nil, newErrorf(Invalid, "error ext payload is %d bytes, want at least 8", len(payload))
		}
		code := int64(binary.BigEndian.Uint64(payload[0:8]))
		return NewErrorValue(code, string(payload[8:])), nil
	default:
		return nil, newErrorf(Invalid, "unknown ext type %d", extType)
	}
}
