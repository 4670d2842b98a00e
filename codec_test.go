package xpc

import (
	"bytes"
	"testing"
)

func TestEncodeIntegerWidthSelection(t *testing.T) {
	cases := []struct {
		name string
		v    *Value
		want []byte
	}{
		{"fixint 42", NewInt64(42), []byte{0x2a}},
		{"negative fixint -1 as 0xff", NewInt64(-1), []byte{0xff}},
		{"uint8 128 -> 0xcc 0x80", NewInt64(128), []byte{0xcc, 0x80}},
		{"int16 -129 -> 0xd1 0xff 0x7f", NewInt64(-129), []byte{0xd1, 0xff, 0x7f}},
		{"positive uint64 stays unsigned", NewUint64(300), []byte{0xcd, 0x01, 0x2c}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			defer c.v.Release()
			got, err := Encode(c.v)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if !bytes.Equal(got, c.want) {
				t.Fatalf("Encode(%s) = % x; want % x", c.name, got, c.want)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	dict := NewDictionary()
	defer dict.Release()
	_ = dict.DictSetString("name", "xpc")
	_ = dict.DictSetInt64("count", -42)
	_ = dict.DictSetBool("ok", true)
	_ = dict.DictSetDouble("ratio", 0.5)

	arr := NewArray(NewInt64(1), NewInt64(2), NewInt64(3))
	if err := dict.DictSet("items", arr); err != nil {
		t.Fatalf("DictSet: %v", err)
	}
	arr.Release()

	buf, err := Encode(dict)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(buf, DefaultConfig())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer decoded.Release()

	if !Equal(dict, decoded) {
		t.Fatalf("round trip mismatch: original=%s decoded=%s", dict.Describe(), decoded.Describe())
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	v := NewBool(true)
	defer v.Release()
	buf, _ := Encode(v)
	buf = append(buf, 0xff)

	if _, err := Decode(buf, DefaultConfig()); err == nil {
		t.Fatal("Decode with trailing bytes: want error, got nil")
	}
}

func TestDecodeRejectsOversizedMapHeaderWithoutData(t *testing.T) {
	// map32 header claiming 0xffffffff entries, backed by zero payload
	// bytes: a well-formed decoder must refuse to allocate anywhere
	// near that many nodes and fail fast instead.
	buf := []byte{tagMap32, 0xff, 0xff, 0xff, 0xff}

	if _, err := Decode(buf, DefaultConfig()); err == nil {
		t.Fatal("Decode of malicious map32 header: want error, got nil")
	}
}

func TestDecodeRejectsDeepNesting(t *testing.T) {
	// A long run of single-element fixarray headers with no terminal
	// value: decoding must fail on either the hard depth ceiling or on
	// running out of buffer, but it must not stack-overflow the test
	// process.
	buf := bytes.Repeat([]byte{fixarrayBase | 0x01}, 1<<17)

	if _, err := Decode(buf, DefaultConfig()); err == nil {
		t.Fatal("Decode of pathologically deep nesting: want error, got nil")
	}
}

func TestEncodeResourceExtTypes(t *testing.T) {
	fd := NewFd(7)
	defer fd.Release()
	buf, err := Encode(fd)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(buf, DefaultConfig())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer decoded.Release()
	got, err := decoded.Fd()
	if err != nil || got != 7 {
		t.Fatalf("Fd() = %d, %v; want 7, nil", got, err)
	}
}

func TestErrorValueRoundTrip(t *testing.T) {
	v := NewErrorValue(int64(ConnectionInvalid), "peer gone")
	defer v.Release()

	buf, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(buf, DefaultConfig())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer decoded.Release()

	code, msg, err := decoded.ErrorValue()
	if err != nil || code != int64(ConnectionInvalid) || msg != "peer gone" {
		t.Fatalf("ErrorValue() = %d, %q, %v", code, msg, err)
	}
}
