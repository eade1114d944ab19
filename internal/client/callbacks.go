package client

import (
	"fmt"
	"strconv"

	"github.com/flashdb/nsredis/internal/namespace"
)

// ResponseCallback converts a namespaced reply into a Go value for Call.
type ResponseCallback func(namespace.Value) (any, error)

// ScanResult is one page of a SCAN-style reply.
type ScanResult struct {
	Cursor uint64
	Keys   []string
}

func defaultCallbacks() map[string]ResponseCallback {
	ok := func(v namespace.Value) (any, error) { return toOK(v), nil }
	integer := func(v namespace.Value) (any, error) { return toInt(v) }
	strs := func(v namespace.Value) (any, error) { return toStrings(v) }
	hash := func(v namespace.Value) (any, error) { return toStringMap(v) }
	scan := func(v namespace.Value) (any, error) { return toScan(v) }

	cbs := map[string]ResponseCallback{
		"ping":    func(v namespace.Value) (any, error) { return toString(v) },
		"hgetall": hash,
		"keys":    strs,
		"scan":    scan,
		"sscan":   scan,
		"hscan":   scan,
		"zscan":   scan,
	}
	for _, name := range []string{"set", "mset", "rename", "hmset", "select", "flushdb", "ltrim", "lset", "restore", "migrate"} {
		cbs[name] = ok
	}
	for _, name := range []string{"del", "unlink", "exists", "incr", "decr", "incrby", "decrby", "expire", "pexpire", "ttl", "pttl", "hset", "publish", "dbsize"} {
		cbs[name] = integer
	}
	return cbs
}

// Natural converts v into plain Go values: string, int64, []any,
// map[string]any, the opaque payload, or nil.
func Natural(v namespace.Value) any {
	switch v.Shape() {
	case namespace.Scalar:
		s, _ := v.Str()
		return s
	case namespace.Sequence:
		items := v.Items()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = Natural(item)
		}
		return out
	case namespace.Mapping:
		out := make(map[string]any, len(v.Pairs()))
		for _, p := range v.Pairs() {
			out[fmt.Sprint(Natural(p.Key))] = Natural(p.Val)
		}
		return out
	default:
		return v.Raw()
	}
}

func toOK(v namespace.Value) bool {
	s, ok := v.Str()
	return ok && s == "OK"
}

func toString(v namespace.Value) (string, error) {
	if v.Shape() == namespace.Opaque && v.Raw() == nil {
		return "", Nil
	}
	if s, ok := v.Str(); ok {
		return s, nil
	}
	if n, ok := v.Raw().(int64); ok {
		return strconv.FormatInt(n, 10), nil
	}
	return "", fmt.Errorf("client: expected string reply, got %s", v.Shape())
}

func toInt(v namespace.Value) (int64, error) {
	switch x := v.Raw().(type) {
	case int64:
		return x, nil
	case nil:
		if v.Shape() == namespace.Opaque {
			return 0, Nil
		}
	}
	if s, ok := v.Str(); ok {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("client: parse integer reply %q: %w", s, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("client: expected integer reply, got %s", v.Shape())
}

// toStrings converts a sequence of scalars. Null elements become "".
func toStrings(v namespace.Value) ([]string, error) {
	if v.Shape() == namespace.Opaque && v.Raw() == nil {
		return nil, nil
	}
	if v.Shape() != namespace.Sequence {
		return nil, fmt.Errorf("client: expected array reply, got %s", v.Shape())
	}
	items := v.Items()
	out := make([]string, len(items))
	for i, item := range items {
		s, err := toString(item)
		if err != nil && err != Nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// toStringMap accepts a RESP3 map or a flat RESP2 field/value array.
func toStringMap(v namespace.Value) (map[string]string, error) {
	switch v.Shape() {
	case namespace.Mapping:
		out := make(map[string]string, len(v.Pairs()))
		for _, p := range v.Pairs() {
			k, err := toString(p.Key)
			if err != nil {
				return nil, err
			}
			val, err := toString(p.Val)
			if err != nil && err != Nil {
				return nil, err
			}
			out[k] = val
		}
		return out, nil
	case namespace.Sequence:
		flat, err := toStrings(v)
		if err != nil {
			return nil, err
		}
		if len(flat)%2 != 0 {
			return nil, fmt.Errorf("client: odd number of elements in hash reply")
		}
		out := make(map[string]string, len(flat)/2)
		for i := 0; i < len(flat); i += 2 {
			out[flat[i]] = flat[i+1]
		}
		return out, nil
	default:
		if v.Raw() == nil {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("client: expected map reply, got %s", v.Shape())
	}
}

func toScan(v namespace.Value) (ScanResult, error) {
	items := v.Items()
	if len(items) != 2 {
		return ScanResult{}, fmt.Errorf("client: expected [cursor, keys] scan reply, got %s", v)
	}
	cur, err := toString(items[0])
	if err != nil {
		return ScanResult{}, err
	}
	cursor, err := strconv.ParseUint(cur, 10, 64)
	if err != nil {
		return ScanResult{}, fmt.Errorf("client: parse scan cursor %q: %w", cur, err)
	}
	keys, err := toStrings(items[1])
	if err != nil {
		return ScanResult{}, err
	}
	return ScanResult{Cursor: cursor, Keys: keys}, nil
}
