// Package valuejson is a debug/test convenience for rendering an
// xpc.Value tree as JSON, or building one back from JSON. It is not
// part of the wire protocol — the codec never touches JSON — and is
// meant for dumping a Value in a log line or a test fixture, not for
// round-tripping resource-bearing variants (Fd, SharedMemory, Uuid,
// Date, Endpoint, Error), which are rendered as their Describe string
// rather than reconstructed.
package valuejson

import (
	jsoniter "github.com/json-iterator/go"

	xpc "github.com/jceel/libxpc"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Marshal renders v as JSON: Null->null, Bool->bool, Int64/Uint64/
// Double->number, String->string, Data->base64 string (via jsoniter's
// default []byte handling), Array->array, Dictionary->object in
// insertion order. Any other variant renders as its Describe string.
func Marshal(v *xpc.Value) ([]byte, error) {
	return jsonAPI.Marshal(toJSON(v))
}

func toJSON(v *xpc.Value) interface{} {
	if v == nil {
		return nil
	}
	switch v.Kind() {
	case xpc.KindNull:
		return nil
	case xpc.KindBool:
		b, _ := v.Bool()
		return b
	case xpc.KindInt64:
		i, _ := v.Int64()
		return i
	case xpc.KindUint64:
		u, _ := v.Uint64()
		return u
	case xpc.KindDouble:
		d, _ := v.Double()
		return d
	case xpc.KindString:
		s, _ := v.String()
		return s
	case xpc.KindData:
		d, _ := v.Data()
		return d
	case xpc.KindArray:
		n, _ := v.ArrayLen()
		out := make([]interface{}, 0, n)
		_ = v.ArrayApply(func(_ int, child *xpc.Value) bool {
			out = append(out, toJSON(child))
			return true
		})
		return out
	case xpc.KindDictionary:
		out := make(map[string]interface{})
		var order []string
		_ = v.DictApply(func(key string, child *xpc.Value) bool {
			out[key] = toJSON(child)
			order = append(order, key)
			return true
		})
		return orderedMap{keys: order, values: out}
	default:
		return v.Describe()
	}
}

// orderedMap implements jsoniter's MarshalerFaster-free path by
// rendering a map in a fixed key order, since Go map iteration order
// would otherwise scramble the Dictionary's insertion order on every
// Marshal call.
type orderedMap struct {
	keys   []string
	values map[string]interface{}
}

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, k := range m.keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := jsonAPI.Marshal(k)
		if err != nil {
			return nil, err
		}
		valJSON, err := jsonAPI.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// Unmarshal parses JSON into a fresh Value tree: JSON null/bool/string
// map directly to Null/Bool/String; JSON numbers become Double (JSON
// has no integer/float distinction); arrays and objects become Array
// and Dictionary. Objects are decoded through a Go map, so the
// resulting Dictionary's key order is not defined and need not match
// the order in the input.
func Unmarshal(data []byte) (*xpc.Value, error) {
	var raw interface{}
	if err := jsonAPI.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return fromJSON(raw), nil
}

func fromJSON(raw interface{}) *xpc.Value {
	switch t := raw.(type) {
	case nil:
		return xpc.NewNull()
	case bool:
		return xpc.NewBool(t)
	case float64:
		return xpc.NewDouble(t)
	case string:
		return xpc.NewString(t)
	case []interface{}:
		arr := xpc.NewArray()
		for _, elem := range t {
			child := fromJSON(elem)
			_ = arr.ArrayAppend(child)
			child.Release()
		}
		return arr
	case map[string]interface{}:
		dict := xpc.NewDictionary()
		for k, elem := range t {
			child := fromJSON(elem)
			_ = dict.DictSet(k, child)
			child.Release()
		}
		return dict
	default:
		return xpc.NewNull()
	}
}
