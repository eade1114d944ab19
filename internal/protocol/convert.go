package protocol

import (
	"fmt"
	"strconv"
	"time"

	"github.com/flashdb/nsredis/internal/namespace"
)

// ToNamespace converts a decoded reply into the shapes understood by the
// rewrite engine. Strings become scalars, arrays and pushes sequences, maps
// mappings; integers, nulls and nested error replies become opaque values.
func ToNamespace(v Value) namespace.Value {
	if v.Null {
		return namespace.Other(nil)
	}
	switch v.Type {
	case TypeSimpleString, TypeBulkString:
		return namespace.Str(v.Str)
	case TypeInteger:
		return namespace.Other(v.Num)
	case TypeError:
		return namespace.Other(Error(v.Str))
	case TypeArray, TypePush:
		items := make([]namespace.Value, len(v.Array))
		for i, item := range v.Array {
			items[i] = ToNamespace(item)
		}
		return namespace.List(items...)
	case TypeMap:
		pairs := make([]namespace.Pair, len(v.Array)/2)
		for i := range pairs {
			pairs[i] = namespace.Pair{
				Key: ToNamespace(v.Array[2*i]),
				Val: ToNamespace(v.Array[2*i+1]),
			}
		}
		return namespace.Map(pairs...)
	default:
		return namespace.Other(nil)
	}
}

// Rebuild writes the scalars of nv back into a copy of orig, keeping every
// RESP type of orig. nv must have come from ToNamespace(orig) followed by a
// rewrite that only changed scalar text, which is what RewriteResponse and
// RewriteMessage do.
func Rebuild(orig Value, nv namespace.Value) Value {
	switch orig.Type {
	case TypeSimpleString, TypeBulkString:
		if s, ok := nv.Str(); ok && !orig.Null {
			orig.Str = s
		}
		return orig
	case TypeArray, TypePush:
		items := nv.Items()
		if orig.Null || len(items) != len(orig.Array) {
			return orig
		}
		out := make([]Value, len(orig.Array))
		for i := range orig.Array {
			out[i] = Rebuild(orig.Array[i], items[i])
		}
		orig.Array = out
		return orig
	case TypeMap:
		pairs := nv.Pairs()
		if len(pairs)*2 != len(orig.Array) {
			return orig
		}
		out := make([]Value, len(orig.Array))
		for i, p := range pairs {
			out[2*i] = Rebuild(orig.Array[2*i], p.Key)
			out[2*i+1] = Rebuild(orig.Array[2*i+1], p.Val)
		}
		orig.Array = out
		return orig
	default:
		return orig
	}
}

// Args flattens command arguments into bulk strings: sequences are spread,
// mappings become key, value, key, value, and opaque values are formatted.
func Args(vals []namespace.Value) [][]byte {
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = appendArg(out, v)
	}
	return out
}

func appendArg(dst [][]byte, v namespace.Value) [][]byte {
	switch v.Shape() {
	case namespace.Scalar:
		s, _ := v.Str()
		return append(dst, []byte(s))
	case namespace.Sequence:
		for _, item := range v.Items() {
			dst = appendArg(dst, item)
		}
		return dst
	case namespace.Mapping:
		for _, p := range v.Pairs() {
			dst = appendArg(dst, p.Key)
			dst = appendArg(dst, p.Val)
		}
		return dst
	default:
		return append(dst, formatRaw(v.Raw()))
	}
}

func formatRaw(raw any) []byte {
	switch x := raw.(type) {
	case nil:
		return []byte{}
	case int:
		return strconv.AppendInt(nil, int64(x), 10)
	case int8:
		return strconv.AppendInt(nil, int64(x), 10)
	case int16:
		return strconv.AppendInt(nil, int64(x), 10)
	case int32:
		return strconv.AppendInt(nil, int64(x), 10)
	case int64:
		return strconv.AppendInt(nil, x, 10)
	case uint:
		return strconv.AppendUint(nil, uint64(x), 10)
	case uint8:
		return strconv.AppendUint(nil, uint64(x), 10)
	case uint16:
		return strconv.AppendUint(nil, uint64(x), 10)
	case uint32:
		return strconv.AppendUint(nil, uint64(x), 10)
	case uint64:
		return strconv.AppendUint(nil, x, 10)
	case float32:
		return strconv.AppendFloat(nil, float64(x), 'f', -1, 32)
	case float64:
		return strconv.AppendFloat(nil, x, 'f', -1, 64)
	case bool:
		if x {
			return []byte("1")
		}
		return []byte("0")
	case time.Duration:
		return strconv.AppendInt(nil, x.Milliseconds(), 10)
	case fmt.Stringer:
		return []byte(x.String())
	default:
		return []byte(fmt.Sprint(x))
	}
}
