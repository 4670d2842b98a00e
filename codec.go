package xpc

import (
	"encoding/binary"
	"math"
)

// MessagePack-shaped tag bytes, per spec §4.2.
const (
	tagNil          = 0xc0
	tagFalse        = 0xc2
	tagTrue         = 0xc3
	tagBin8         = 0xc4
	tagBin16        = 0xc5
	tagBin32        = 0xc6
	tagExt8         = 0xc7
	tagExt16        = 0xc8
	tagExt32        = 0xc9
	tagFloat32      = 0xca
	tagFloat64      = 0xcb
	tagUint8        = 0xcc
	tagUint16       = 0xcd
	tagUint32       = 0xce
	tagUint64       = 0xcf
	tagInt8         = 0xd0
	tagInt16        = 0xd1
	tagInt32        = 0xd2
	tagInt64        = 0xd3
	tagFixext1      = 0xd4
	tagFixext2      = 0xd5
	tagFixext4      = 0xd6
	tagFixext8      = 0xd7
	tagFixext16     = 0xd8
	tagStr8         = 0xd9
	tagStr16        = 0xda
	tagStr32        = 0xdb
	tagArray16      = 0xdc
	tagArray32      = 0xdd
	tagMap16        = 0xde
	tagMap32        = 0xdf
	fixmapBase      = 0x80
	fixarrayBase    = 0x90
	fixstrBase      = 0xa0
	negFixintMin    = 0xe0
	positiveFixMax  = 0x7f
	fixcontainerMax = 0x0f
	fixstrMax       = 0x1f
)

// Ext types distinguishing the resource/identity-bearing variants that
// ride inside msgpack ext payloads.
const (
	extUUID         = 1
	extDate         = 2
	extFd           = 3
	extSharedMemory = 4
	extEndpoint     = 5
	extError        = 6
)

// Encode serializes v into the MessagePack-shaped wire format described
// in spec §4.2. Fd and SharedMemory values are encoded with their raw
// handle numbers (and size); Encode does not build a resource table and
// attaches no descriptors. The descriptors themselves travel only as
// the Resources a caller passes separately to PipeSend or a Connection
// send.
func Encode(v *Value) ([]byte, error) {
	var buf []byte
	buf, err := encodeValue(buf, v)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func encodeValue(buf []byte, v *Value) ([]byte, error) {
	if v == nil {
		return append(buf, tagNil), nil
	}
	switch v.kind {
	case KindNull:
		return append(buf, tagNil), nil
	case KindBool:
		if v.b {
			return append(buf, tagTrue), nil
		}
		return append(buf, tagFalse), nil
	case KindInt64:
		return encodeInt64(buf, v.i64), nil
	case KindUint64:
		return encodeUint64(buf, v.u64), nil
	case KindDouble:
		buf = append(buf, tagFloat64)
		return appendUint64(buf, math.Float64bits(v.f64)), nil
	case KindString:
		return encodeStr(buf, []byte(v.str)), nil
	case KindData:
		return encodeBin(buf, v.data), nil
	case KindUUID:
		return appendFixext(buf, tagFixext16, extUUID, v.uid[:]), nil
	case KindDate:
		payload := make([]byte, 8)
		binary.BigEndian.PutUint64(payload, uint64(v.date))
		return appendFixext(buf, tagFixext8, extDate, payload), nil
	case KindFd:
		// The resource itself travels out-of-band via the Transport;
		// the payload is the handle number itself as an 8-byte
		// big-endian integer, so round-tripping within one process (e.g.
		// tests against the loopback transport) still works without a
		// real sideband table.
		payload := make([]byte, 8)
		binary.BigEndian.PutUint64(payload, uint64(int64(v.fd)))
		return appendFixext(buf, tagFixext8, extFd, payload), nil
	case KindSharedMemory:
		payload := make([]byte, 16)
		binary.BigEndian.PutUint64(payload[0:8], uint64(int64(v.shmHandle)))
		binary.BigEndian.PutUint64(payload[8:16], v.shmSize)
		return appendFixext(buf, tagFixext16, extSharedMemory, payload), nil
	case KindEndpoint:
		return encodeExt(buf, extEndpoint, []byte(v.endpoint)), nil
	case KindError:
		payload := make([]byte, 8+len(v.errMessage))
		binary.BigEndian.PutUint64(payload[0:8], uint64(v.errCode))
		copy(payload[8:], v.errMessage)
		return encodeExt(buf, extError, payload), nil
	case KindArray:
		return encodeArray(buf, v)
	case KindDictionary:
		return encodeDict(buf, v)
	default:
		return nil, newErrorf(Invalid, "cannot encode kind %d", v.kind)
	}
}

func encodeArray(buf []byte, v *Value) ([]byte, error) {
	buf = appendContainerHeader(buf, len(v.arr), fixarrayBase, tagArray16, tagArray32)
	var err error
	for _, child := range v.arr {
		buf, err = encodeValue(buf, child)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func encodeDict(buf []byte, v *Value) ([]byte, error) {
	buf = appendContainerHeader(buf, len(v.dict), fixmapBase, tagMap16, tagMap32)
	var err error
	for _, e := range v.dict {
		buf = encodeStr(buf, []byte(e.key))
		buf, err = encodeValue(buf, e.value)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendContainerHeader(buf []byte, n int, fixBase, tag16, tag32 byte) []byte {
	switch {
	case n <= fixcontainerMax:
		return append(buf, fixBase|byte(n))
	case n <= 0xffff:
		buf = append(buf, tag16)
		return appendUint16(buf, uint16(n))
	default:
		buf = append(buf, tag32)
		return appendUint32(buf, uint32(n))
	}
}

func encodeStr(buf []byte, s []byte) []byte {
	n := len(s)
	switch {
	case n <= fixstrMax:
		buf = append(buf, fixstrBase|byte(n))
	case n <= 0xff:
		buf = append(buf, tagStr8, byte(n))
	case n <= 0xffff:
		buf = append(buf, tagStr16)
		buf = appendUint16(buf, uint16(n))
	default:
		buf = append(buf, tagStr32)
		buf = appendUint32(buf, uint32(n))
	}
	return append(buf, s...)
}

func encodeBin(buf []byte, b []byte) []byte {
	n := len(b)
	switch {
	case n <= 0xff:
		buf = append(buf, tagBin8, byte(n))
	case n <= 0xffff:
		buf = append(buf, tagBin16)
		buf = appendUint16(buf, uint16(n))
	default:
		buf = append(buf, tagBin32)
		buf = appendUint32(buf, uint32(n))
	}
	return append(buf, b...)
}

func encodeExt(buf []byte, extType int8, payload []byte) []byte {
	n := len(payload)
	switch n {
	case 1:
		return appendFixext(buf, tagFixext1, extType, payload)
	case 2:
		return appendFixext(buf, tagFixext2, extType, payload)
	case 4:
		return appendFixext(buf, tagFixext4, extType, payload)
	case 8:
		return appendFixext(buf, tagFixext8, extType, payload)
	case 16:
		return appendFixext(buf, tagFixext16, extType, payload)
	}
	switch {
	case n <= 0xff:
		buf = append(buf, tagExt8, byte(n), byte(extType))
	case n <= 0xffff:
		buf = append(buf, tagExt16)
		buf = appendUint16(buf, uint16(n))
		buf = append(buf, byte(extType))
	default:
		buf = append(buf, tagExt32)
		buf = appendUint32(buf, uint32(n))
		buf = append(buf, byte(extType))
	}
	return append(buf, payload...)
}

func appendFixext(buf []byte, tag byte, extType int8, payload []byte) []byte {
	buf = append(buf, tag, byte(extType))
	return append(buf, payload...)
}

// encodeInt64 writes n using the shortest representation that can hold
// it: a non-negative value always uses the unsigned encoding (so 42
// becomes a positive fixint and 300 becomes uint16), matching spec
// §4.2's encoder policy and the worked examples in §8.2.
func encodeInt64(buf []byte, n int64) []byte {
	if n >= 0 {
		return encodeUint64(buf, uint64(n))
	}
	switch {
	case n >= -32:
		return append(buf, byte(int8(n)))
	case n >= math.MinInt8:
		return append(buf, tagInt8, byte(int8(n)))
	case n >= math.MinInt16:
		buf = append(buf, tagInt16)
		return appendUint16(buf, uint16(int16(n)))
	case n >= math.MinInt32:
		buf = append(buf, tagInt32)
		return appendUint32(buf, uint32(int32(n)))
	default:
		buf = append(buf, tagInt64)
		return appendUint64(buf, uint64(n))
	}
}

func encodeUint64(buf []byte, n uint64) []byte {
	switch {
	case n <= positiveFixMax:
		return append(buf, byte(n))
	case n <= math.MaxUint8:
		return append(buf, tagUint8, byte(n))
	case n <= math.MaxUint16:
		buf = append(buf, tagUint16)
		return appendUint16(buf, uint16(n))
	case n <= math.MaxUint32:
		buf = append(buf, tagUint32)
		return appendUint32(buf, uint32(n))
	default:
		buf = append(buf, tagUint64)
		return appendUint64(buf, n)
	}
}

func appendUint16(buf []byte, n uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], n)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, n uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], n)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, n uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], n)
	return append(buf, tmp[:]...)
}
