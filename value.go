// Package xpc implements a typed, hierarchical object model and a
// connection-oriented message-passing layer on top of it, in the style
// of Apple's XPC: clients and services exchange request/response pairs
// and unsolicited events over bidirectional pipes, with per-message
// peer credentials and optional out-of-band resources.
package xpc

import (
	"sync/atomic"

	uuid "github.com/satori/go.uuid"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindNull
	KindBool
	KindInt64
	KindUint64
	KindDouble
	KindString
	KindData
	KindUUID
	KindDate
	KindFd
	KindSharedMemory
	KindEndpoint
	KindArray
	KindDictionary
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindUint64:
		return "uint64"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindData:
		return "data"
	case KindUUID:
		return "uuid"
	case KindDate:
		return "date"
	case KindFd:
		return "fd"
	case KindSharedMemory:
		return "shmem"
	case KindEndpoint:
		return "endpoint"
	case KindArray:
		return "array"
	case KindDictionary:
		return "dictionary"
	case KindError:
		return "error"
	default:
		return "invalid"
	}
}

// dictEntry is one (key, value) pair of a Dictionary, kept in insertion
// order.
type dictEntry struct {
	key   string
	value *Value
}

// Value is a tagged, reference-counted, recursive variant: the single
// currency type that flows across a Connection. A freshly constructed
// Value has a reference count of one; Retain/Release manage the rest of
// its lifetime. Containers (Array, Dictionary) exclusively own their
// children: inserting retains, removing or destroying releases.
type Value struct {
	kind     Kind
	refcount int32

	b    bool
	i64  int64
	u64  uint64
	f64  float64
	str  string
	data []byte

	uid  uuid.UUID
	date int64 // nanoseconds since epoch

	fd        int
	shmHandle int
	shmSize   uint64

	endpoint string

	arr  []*Value
	dict []dictEntry

	errCode    int64
	errMessage string
}

func newValue(k Kind) *Value {
	return &Value{kind: k, refcount: 1}
}

// Kind reports which variant v holds.
func (v *Value) Kind() Kind { return v.kind }

// Retain increments v's reference count and returns v, so it can be
// chained at a call site (e.g. dict.DictSet("k", child.Retain())).
func (v *Value) Retain() *Value {
	atomic.AddInt32(&v.refcount, 1)
	return v
}

// Release decrements v's reference count, destroying v (and releasing
// its children, recursively) when the count reaches zero. Releasing a
// Value more times than it has been retained is a caller bug; in debug
// builds this would trip an assertion, here it is simply not allowed by
// contract.
func (v *Value) Release() {
	if v == nil {
		return
	}
	if atomic.AddInt32(&v.refcount, -1) == 0 {
		v.destroy()
	}
}

func (v *Value) destroy() {
	switch v.kind {
	case KindArray:
		for _, child := range v.arr {
			child.Release()
		}
		v.arr = nil
	case KindDictionary:
		for _, e := range v.dict {
			e.value.Release()
		}
		v.dict = nil
	}
}

// DeepCopy returns an independent value tree holding the same data as v,
// each node starting with a reference count of one. Used by the
// connection layer at the one boundary where a caller-retained Value
// crosses into the send queue goroutine, so later mutation by the
// caller can't race the in-flight send.
func (v *Value) DeepCopy() *Value {
	if v == nil {
		return nil
	}
	out := newValue(v.kind)
	out.b, out.i64, out.u64, out.f64 = v.b, v.i64, v.u64, v.f64
	out.str = v.str
	if v.data != nil {
		out.data = append([]byte(nil), v.data...)
	}
	out.uid = v.uid
	out.date = v.date
	out.fd, out.shmHandle, out.shmSize = v.fd, v.shmHandle, v.shmSize
	out.endpoint = v.endpoint
	out.errCode, out.errMessage = v.errCode, v.errMessage
	if v.arr != nil {
		out.arr = make([]*Value, len(v.arr))
		for i, c := range v.arr {
			out.arr[i] = c.DeepCopy()
		}
	}
	if v.dict != nil {
		out.dict = make([]dictEntry, len(v.dict))
		for i, e := range v.dict {
			out.dict[i] = dictEntry{key: e.key, value: e.value.DeepCopy()}
		}
	}
	return out
}

// --- constructors ---

func NewNull() *Value { return newValue(KindNull) }

func NewBool(b bool) *Value {
	v := newValue(KindBool)
	v.b = b
	return v
}

func NewInt64(i int64) *Value {
	v := newValue(KindInt64)
	v.i64 = i
	return v
}

func NewUint64(u uint64) *Value {
	v := newValue(KindUint64)
	v.u64 = u
	return v
}

func NewDouble(d float64) *Value {
	v := newValue(KindDouble)
	v.f64 = d
	return v
}

// NewString constructs a String value. s is copied; the byte length of
// s is authoritative and is always valid UTF-8 since it comes from a Go
// string.
func NewString(s string) *Value {
	v := newValue(KindString)
	v.str = s
	return v
}

// NewData constructs a Data value from opaque, non-UTF8-validated bytes.
// b is copied.
func NewData(b []byte) *Value {
	v := newValue(KindData)
	v.data = append([]byte(nil), b...)
	return v
}

// NewUUID constructs a Uuid value from 16 raw bytes.
func NewUUID(id [16]byte) *Value {
	v := newValue(KindUUID)
	copy(v.uid[:], id[:])
	return v
}

// NewUUIDString parses a canonical UUID string.
func NewUUIDString(s string) (*Value, error) {
	id, err := uuid.FromString(s)
	if err != nil {
		return nil, newError(Invalid, "parse uuid: "+err.Error())
	}
	return NewUUID(id), nil
}

// NewDate constructs a Date value: signed nanoseconds since the epoch.
func NewDate(nanosSinceEpoch int64) *Value {
	v := newValue(KindDate)
	v.date = nanosSinceEpoch
	return v
}

// NewFd constructs an Fd value wrapping a resource handle. The handle is
// owned by the Value until it is transferred to a Transport send, at
// which point ownership conceptually moves to the receiver.
func NewFd(handle int) *Value {
	v := newValue(KindFd)
	v.fd = handle
	return v
}

// NewSharedMemory constructs a SharedMemory value wrapping a resource
// handle and its size in bytes.
func NewSharedMemory(handle int, size uint64) *Value {
	v := newValue(KindSharedMemory)
	v.shmHandle = handle
	v.shmSize = size
	return v
}

// NewEndpoint constructs an Endpoint value from a transport-specific
// port token. Connection.Endpoint uses the service name as the token,
// and NewClientFromEndpoint reconnects by looking that name up; no
// transport-level port is transferred.
func NewEndpoint(token string) *Value {
	v := newValue(KindEndpoint)
	v.endpoint = token
	return v
}

// NewArray constructs an Array value. Each element is retained.
func NewArray(items ...*Value) *Value {
	v := newValue(KindArray)
	v.arr = make([]*Value, 0, len(items))
	for _, it := range items {
		v.arr = append(v.arr, it.Retain())
	}
	return v
}

// NewDictionary constructs an empty, insertion-ordered Dictionary.
func NewDictionary() *Value {
	v := newValue(KindDictionary)
	return v
}

// NewErrorValue constructs the distinguished Error sentinel Value: any
// Value received via a Pipe or Connection may be an Error instead of
// the structure the caller expected.
func NewErrorValue(code int64, message string) *Value {
	v := newValue(KindError)
	v.errCode = code
	v.errMessage = message
	return v
}

// --- typed accessors ---

func (v *Value) wrongKind(want Kind) error {
	return newError(TypeMismatch, "want "+want.String()+", have "+v.kind.String())
}

func (v *Value) Bool() (bool, error) {
	if v.kind != KindBool {
		return false, v.wrongKind(KindBool)
	}
	return v.b, nil
}

func (v *Value) Int64() (int64, error) {
	if v.kind != KindInt64 {
		return 0, v.wrongKind(KindInt64)
	}
	return v.i64, nil
}

func (v *Value) Uint64() (uint64, error) {
	if v.kind != KindUint64 {
		return 0, v.wrongKind(KindUint64)
	}
	return v.u64, nil
}

func (v *Value) Double() (float64, error) {
	if v.kind != KindDouble {
		return 0, v.wrongKind(KindDouble)
	}
	return v.f64, nil
}

func (v *Value) String() (string, error) {
	if v.kind != KindString {
		return "", v.wrongKind(KindString)
	}
	return v.str, nil
}

func (v *Value) Data() ([]byte, error) {
	if v.kind != KindData {
		return nil, v.wrongKind(KindData)
	}
	return v.data, nil
}

func (v *Value) UUID() ([16]byte, error) {
	var out [16]byte
	if v.kind != KindUUID {
		return out, v.wrongKind(KindUUID)
	}
	copy(out[:], v.uid[:])
	return out, nil
}

func (v *Value) Date() (int64, error) {
	if v.kind != KindDate {
		return 0, v.wrongKind(KindDate)
	}
	return v.date, nil
}

func (v *Value) Fd() (int, error) {
	if v.kind != KindFd {
		return 0, v.wrongKind(KindFd)
	}
	return v.fd, nil
}

func (v *Value) SharedMemory() (handle int, size uint64, err error) {
	if v.kind != KindSharedMemory {
		return 0, 0, v.wrongKind(KindSharedMemory)
	}
	return v.shmHandle, v.shmSize, nil
}

func (v *Value) Endpoint() (string, error) {
	if v.kind != KindEndpoint {
		return "", v.wrongKind(KindEndpoint)
	}
	return v.endpoint, nil
}

// ErrorValue returns the code and message of an Error-kind Value.
func (v *Value) ErrorValue() (code int64, message string, err error) {
	if v.kind != KindError {
		return 0, "", v.wrongKind(KindError)
	}
	return v.errCode, v.errMessage, nil
}

// IsError reports whether v is the distinguished Error sentinel.
func (v *Value) IsError() bool { return v != nil && v.kind == KindError }
