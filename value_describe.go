package xpc

import (
	"fmt"
	"strings"
)

// Describe renders v to a human-readable, line-wrapped representation
// with indentation proportional to nesting depth, for logging only.
// Each line is prefixed with the variant's type name in parentheses.
func (v *Value) Describe() string {
	var b strings.Builder
	describeLevel(v, &b, 0)
	return b.String()
}

func describeLevel(v *Value, b *strings.Builder, level int) {
	if v == nil {
		b.WriteString("<null value>\n")
		return
	}

	fmt.Fprintf(b, "(%s) ", v.kind)

	switch v.kind {
	case KindDictionary:
		b.WriteString("\n")
		for _, e := range v.dict {
			fmt.Fprintf(b, "%*s\"%s\": ", level*4, "", e.key)
			describeLevel(e.value, b, level+1)
		}
	case KindArray:
		b.WriteString("\n")
		for i, child := range v.arr {
			fmt.Fprintf(b, "%*s%d: ", level*4, "", i)
			describeLevel(child, b, level+1)
		}
	case KindBool:
		fmt.Fprintf(b, "%v\n", v.b)
	case KindString:
		fmt.Fprintf(b, "%q\n", v.str)
	case KindData:
		fmt.Fprintf(b, "<%d bytes>\n", len(v.data))
	case KindInt64:
		fmt.Fprintf(b, "%d\n", v.i64)
	case KindUint64:
		fmt.Fprintf(b, "%#x\n", v.u64)
	case KindDouble:
		fmt.Fprintf(b, "%g\n", v.f64)
	case KindDate:
		fmt.Fprintf(b, "%d\n", v.date)
	case KindUUID:
		fmt.Fprintf(b, "%s\n", v.uid.String())
	case KindFd:
		fmt.Fprintf(b, "<fd %d>\n", v.fd)
	case KindSharedMemory:
		fmt.Fprintf(b, "<shmem %d, %d bytes>\n", v.shmHandle, v.shmSize)
	case KindEndpoint:
		fmt.Fprintf(b, "<%s>\n", v.endpoint)
	case KindError:
		fmt.Fprintf(b, "<%d: %s>\n", v.errCode, v.errMessage)
	case KindNull:
		b.WriteString("<null>\n")
	default:
		b.WriteString("<invalid>\n")
	}
}
