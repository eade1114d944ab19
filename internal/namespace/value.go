package namespace

import (
	"fmt"
	"sort"
	"strings"
)

// Shape identifies which argument shape a Value holds.
type Shape uint8

const (
	// Opaque values (integers, floats, nil, anything unrecognised) are never rewritten.
	Opaque Shape = iota
	// Scalar is a textual or byte string.
	Scalar
	// Sequence is an ordered list of values.
	Sequence
	// Mapping is an ordered list of key/value pairs.
	Mapping
)

func (s Shape) String() string {
	switch s {
	case Scalar:
		return "scalar"
	case Sequence:
		return "sequence"
	case Mapping:
		return "mapping"
	default:
		return "opaque"
	}
}

// Value is a command argument or decoded response element.
// The zero Value is an opaque nil.
type Value struct {
	shape Shape
	str   string
	items []Value
	pairs []Pair
	raw   any
}

// Pair is one entry of a Mapping.
type Pair struct {
	Key Value
	Val Value
}

// Str returns a Scalar holding s.
func Str(s string) Value { return Value{shape: Scalar, str: s} }

// Bin returns a Scalar holding the bytes of b.
func Bin(b []byte) Value { return Value{shape: Scalar, str: string(b)} }

// List returns a Sequence of items.
func List(items ...Value) Value { return Value{shape: Sequence, items: items} }

// Strs returns a Sequence of scalars.
func Strs(ss ...string) Value {
	items := make([]Value, len(ss))
	for i, s := range ss {
		items[i] = Str(s)
	}
	return List(items...)
}

// Map returns a Mapping of pairs, kept in the given order.
func Map(pairs ...Pair) Value { return Value{shape: Mapping, pairs: pairs} }

// Other wraps v as an Opaque value.
func Other(v any) Value { return Value{shape: Opaque, raw: v} }

// Of converts common Go values into a Value. Strings and byte slices become
// scalars, slices become sequences, string-keyed maps become mappings sorted by
// key, and anything else is opaque.
func Of(v any) Value {
	switch x := v.(type) {
	case Value:
		return x
	case string:
		return Str(x)
	case []byte:
		return Bin(x)
	case []Value:
		return List(x...)
	case []string:
		return Strs(x...)
	case [][]byte:
		items := make([]Value, len(x))
		for i, b := range x {
			items[i] = Bin(b)
		}
		return List(items...)
	case []any:
		items := make([]Value, len(x))
		for i, e := range x {
			items[i] = Of(e)
		}
		return List(items...)
	case map[string]string:
		keys := sortedKeys(x)
		pairs := make([]Pair, len(keys))
		for i, k := range keys {
			pairs[i] = Pair{Key: Str(k), Val: Str(x[k])}
		}
		return Map(pairs...)
	case map[string]any:
		keys := sortedKeys(x)
		pairs := make([]Pair, len(keys))
		for i, k := range keys {
			pairs[i] = Pair{Key: Str(k), Val: Of(x[k])}
		}
		return Map(pairs...)
	default:
		return Other(v)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flatten spreads sequences and mappings into one value per wire argument,
// in the order they are sent: sequence elements in order, mapping entries as
// key then value. Scalars and opaques keep their position.
func Flatten(args []Value) []Value {
	out := make([]Value, 0, len(args))
	for _, a := range args {
		out = appendFlat(out, a)
	}
	return out
}

func appendFlat(dst []Value, v Value) []Value {
	switch v.shape {
	case Sequence:
		for _, item := range v.items {
			dst = appendFlat(dst, item)
		}
	case Mapping:
		for _, p := range v.pairs {
			dst = appendFlat(dst, p.Key)
			dst = appendFlat(dst, p.Val)
		}
	default:
		dst = append(dst, v)
	}
	return dst
}

// Shape reports the shape of v.
func (v Value) Shape() Shape { return v.shape }

// Str returns the scalar text and true, or "" and false for other shapes.
func (v Value) Str() (string, bool) {
	if v.shape != Scalar {
		return "", false
	}
	return v.str, true
}

// Items returns the elements of a Sequence, nil otherwise.
func (v Value) Items() []Value {
	if v.shape != Sequence {
		return nil
	}
	return v.items
}

// Pairs returns the entries of a Mapping, nil otherwise.
func (v Value) Pairs() []Pair {
	if v.shape != Mapping {
		return nil
	}
	return v.pairs
}

// Raw returns the wrapped value of an Opaque, nil otherwise.
func (v Value) Raw() any {
	if v.shape != Opaque {
		return nil
	}
	return v.raw
}

// Empty reports whether v is falsy: an empty scalar, an empty sequence or
// mapping, or an opaque nil.
func (v Value) Empty() bool {
	switch v.shape {
	case Scalar:
		return v.str == ""
	case Sequence:
		return len(v.items) == 0
	case Mapping:
		return len(v.pairs) == 0
	default:
		return v.raw == nil
	}
}

// Is reports whether v is a scalar equal to s, ignoring case.
func (v Value) Is(s string) bool {
	return v.shape == Scalar && strings.EqualFold(v.str, s)
}

func (v Value) String() string {
	switch v.shape {
	case Scalar:
		return fmt.Sprintf("%q", v.str)
	case Sequence:
		parts := make([]string, len(v.items))
		for i, item := range v.items {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, " ") + "]"
	case Mapping:
		parts := make([]string, len(v.pairs))
		for i, p := range v.pairs {
			parts[i] = p.Key.String() + ":" + p.Val.String()
		}
		return "{" + strings.Join(parts, " ") + "}"
	default:
		if v.raw == nil {
			return "(nil)"
		}
		return fmt.Sprint(v.raw)
	}
}
