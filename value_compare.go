package xpc

import "math"

// tagRank orders variants for the total comparison: Null < Bool <
// Int/UInt < Double < String < Data < Array < Dictionary < Ext (the
// remaining resource/identity-bearing kinds, grouped together since
// none of them have a natural cross-kind numeric relationship).
func tagRank(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInt64, KindUint64:
		return 2
	case KindDouble:
		return 3
	case KindString:
		return 4
	case KindData:
		return 5
	case KindArray:
		return 6
	case KindDictionary:
		return 7
	default:
		return 8 // Uuid, Date, Fd, SharedMemory, Endpoint, Error
	}
}

// Compare implements the total order described by spec §4.1: variant
// tags compare in a fixed order, positive Int64 compares equal to the
// corresponding Uint64 (the sign-neutral range is normalized), Array and
// Dictionary compare by length first (the header-level ordering the
// codec's shortest-representation policy relies on) and then
// child-by-child, and Double compares by raw bit pattern so NaN is
// equal to itself when the bits match (a deliberate choice: it makes
// values hashable/deduplicable).
func Compare(a, b *Value) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	ra, rb := tagRank(a.kind), tagRank(b.kind)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch ra {
	case 0: // Null
		return 0
	case 1: // Bool
		return compareBool(a.b, b.b)
	case 2: // Int64/Uint64, sign-neutral
		return compareNumeric(a, b)
	case 3: // Double, raw bits
		return compareUint64(math.Float64bits(a.f64), math.Float64bits(b.f64))
	case 4: // String
		return compareBytes([]byte(a.str), []byte(b.str))
	case 5: // Data
		return compareBytes(a.data, b.data)
	case 6: // Array
		if c := compareInt(len(a.arr), len(b.arr)); c != 0 {
			return c
		}
		for i := range a.arr {
			if c := Compare(a.arr[i], b.arr[i]); c != 0 {
				return c
			}
		}
		return 0
	case 7: // Dictionary
		if c := compareInt(len(a.dict), len(b.dict)); c != 0 {
			return c
		}
		for i := range a.dict {
			if c := compareBytes([]byte(a.dict[i].key), []byte(b.dict[i].key)); c != 0 {
				return c
			}
			if c := Compare(a.dict[i].value, b.dict[i].value); c != 0 {
				return c
			}
		}
		return 0
	default: // Ext group: Uuid, Date, Fd, SharedMemory, Endpoint, Error
		return compareExt(a, b)
	}
}

// Equal reports whether a and b are deeply, structurally equal under
// Compare's rules.
func Equal(a, b *Value) bool { return Compare(a, b) == 0 }

func compareExt(a, b *Value) int {
	if a.kind != b.kind {
		return compareInt(int(a.kind), int(b.kind))
	}
	switch a.kind {
	case KindUUID:
		return compareBytes(a.uid[:], b.uid[:])
	case KindDate:
		return compareInt64(a.date, b.date)
	case KindFd:
		return compareInt(a.fd, b.fd)
	case KindSharedMemory:
		if c := compareInt(a.shmHandle, b.shmHandle); c != 0 {
			return c
		}
		return compareUint64(a.shmSize, b.shmSize)
	case KindEndpoint:
		return compareBytes([]byte(a.endpoint), []byte(b.endpoint))
	case KindError:
		if c := compareInt64(a.errCode, b.errCode); c != 0 {
			return c
		}
		return compareBytes([]byte(a.errMessage), []byte(b.errMessage))
	default:
		return 0
	}
}

// compareNumeric normalizes Int64/Uint64 so that a non-negative Int64
// compares equal to the Uint64 holding the same magnitude.
func compareNumeric(a, b *Value) int {
	au, aok := asUint(a)
	bu, bok := asUint(b)
	if aok && bok {
		return compareUint64(au, bu)
	}
	// At least one side is a negative Int64, which can never equal a
	// Uint64 (Uint64 has no negative range); order negative Int64
	// values below any Uint64/non-negative Int64 value.
	if !aok && bok {
		return -1
	}
	if aok && !bok {
		return 1
	}
	return compareInt64(a.i64, b.i64)
}

func asUint(v *Value) (uint64, bool) {
	switch v.kind {
	case KindUint64:
		return v.u64, true
	case KindInt64:
		if v.i64 >= 0 {
			return uint64(v.i64), true
		}
		return 0, false
	}
	return 0, false
}

func compareBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return compareInt(len(a), len(b))
}
