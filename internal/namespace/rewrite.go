package namespace

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrResponseShape is returned when a reply does not have the shape its
// command's After rule expects.
var ErrResponseShape = errors.New("namespace: unexpected response shape")

// AddPrefix prefixes every key held by v: a scalar, each element of a
// sequence, or each key of a mapping. Opaque values are returned unchanged.
func AddPrefix(ns string, v Value) Value {
	if ns == "" {
		return v
	}
	switch v.shape {
	case Scalar:
		return Str(ns + v.str)
	case Sequence:
		items := make([]Value, len(v.items))
		for i, item := range v.items {
			items[i] = AddPrefix(ns, item)
		}
		return List(items...)
	case Mapping:
		pairs := make([]Pair, len(v.pairs))
		for i, p := range v.pairs {
			pairs[i] = Pair{Key: AddPrefix(ns, p.Key), Val: p.Val}
		}
		return Map(pairs...)
	default:
		return v
	}
}

// StripPrefix reverses AddPrefix. Scalars that do not start with ns are left
// untouched rather than truncated.
func StripPrefix(ns string, v Value) Value {
	if ns == "" {
		return v
	}
	switch v.shape {
	case Scalar:
		if s, ok := strings.CutPrefix(v.str, ns); ok {
			return Str(s)
		}
		return v
	case Sequence:
		items := make([]Value, len(v.items))
		for i, item := range v.items {
			items[i] = StripPrefix(ns, item)
		}
		return List(items...)
	case Mapping:
		pairs := make([]Pair, len(v.pairs))
		for i, p := range v.pairs {
			pairs[i] = Pair{Key: StripPrefix(ns, p.Key), Val: p.Val}
		}
		return Map(pairs...)
	default:
		return v
	}
}

// Prefix returns key inside namespace ns.
func Prefix(ns, key string) string { return ns + key }

// Unprefix returns key with ns removed, or key itself if it lies outside ns.
func Unprefix(ns, key string) string {
	if s, ok := strings.CutPrefix(key, ns); ok {
		return s
	}
	return key
}

// RewriteArgs places the keys of a command into namespace ns. args[0] is the
// command name; command is used to look up its rule. The input slice is never
// modified. With an empty namespace, no arguments, or a command without a
// Before rule, args is returned as is.
func RewriteArgs(ns, command string, args []Value) []Value {
	if ns == "" || len(args) < 2 {
		return args
	}
	name, n := resolveSub(strings.ToLower(command), args)
	before := commands[name].Before
	if before == BeforeNone {
		return args
	}

	rest := make([]Value, len(args)-n)
	copy(rest, args[n:])
	rest = rewriteRest(ns, before, rest)

	out := make([]Value, 0, n+len(rest))
	out = append(out, args[:n]...)
	return append(out, rest...)
}

// rewriteRest applies before to the arguments following the command name.
// rest is owned by the caller and may be modified in place.
func rewriteRest(ns string, before Before, rest []Value) []Value {
	if len(rest) == 0 {
		return rest
	}
	switch before {
	case BeforeNone:
	case BeforeFirst:
		rest[0] = AddPrefix(ns, rest[0])
	case BeforeAll:
		prefixRange(ns, rest, 0, len(rest))
	case BeforeExcludeFirst:
		prefixRange(ns, rest, 1, len(rest))
	case BeforeExcludeLast:
		prefixRange(ns, rest, 0, len(rest)-1)
	case BeforeExcludeOptions:
		rest[0] = AddPrefix(ns, rest[0])
		prefixRange(ns, rest, 2, 2+numKeys(rest))
	case BeforeAlternate:
		for i := 0; i < len(rest); i += 2 {
			rest[i] = AddPrefix(ns, rest[i])
		}
	case BeforeEvalStyle:
		prefixRange(ns, rest, 2, 2+numKeys(rest))
	case BeforeScanStyle:
		return scanMatch(ns, rest)
	case BeforeSort:
		sortKeys(ns, rest)
	default:
		panic(fmt.Sprintf("namespace: unhandled before rule %d", before))
	}
	return rest
}

func prefixRange(ns string, args []Value, from, to int) {
	to = min(to, len(args))
	for i := from; i < to; i++ {
		args[i] = AddPrefix(ns, args[i])
	}
}

// numKeys reads the key count stored at rest[1]. Counts that cannot be parsed
// or are negative yield zero.
func numKeys(rest []Value) int {
	if len(rest) < 2 {
		return 0
	}
	n, ok := intValue(rest[1])
	if !ok || n < 0 {
		return 0
	}
	return n
}

func intValue(v Value) (int, bool) {
	switch v.shape {
	case Scalar:
		n, err := strconv.Atoi(v.str)
		return n, err == nil
	case Opaque:
		switch x := v.raw.(type) {
		case int:
			return x, true
		case int8:
			return int(x), true
		case int16:
			return int(x), true
		case int32:
			return int(x), true
		case int64:
			return int(x), true
		case uint:
			return int(x), true
		case uint8:
			return int(x), true
		case uint16:
			return int(x), true
		case uint32:
			return int(x), true
		case uint64:
			return int(x), true
		}
	}
	return 0, false
}

// scanMatch prefixes an existing MATCH pattern, or appends "match ns*" right
// after the cursor so an unfiltered scan stays inside the namespace.
func scanMatch(ns string, rest []Value) []Value {
	for i, arg := range rest {
		if !arg.Is("match") {
			continue
		}
		if i+1 < len(rest) {
			rest[i+1] = AddPrefix(ns, rest[i+1])
		}
		return rest
	}
	out := make([]Value, 0, len(rest)+2)
	out = append(out, rest[0], Str("match"), Str(ns+"*"))
	return append(out, rest[1:]...)
}

// sortKeys handles SORT key [BY pattern] [LIMIT offset count]
// [GET pattern ...] [ASC|DESC] [ALPHA] [STORE destination].
// "BY nosort" and "GET #" are not keys.
func sortKeys(ns string, rest []Value) {
	rest[0] = AddPrefix(ns, rest[0])
	for i := 1; i < len(rest); i++ {
		arg := rest[i]
		switch {
		case arg.Is("limit"):
			i += 2
		case arg.Is("by"), arg.Is("get"), arg.Is("store"):
			if i+1 >= len(rest) {
				return
			}
			i++
			if arg.Is("by") && rest[i].Is("nosort") {
				continue
			}
			if s, ok := rest[i].Str(); ok && s == "#" && arg.Is("get") {
				continue
			}
			rest[i] = AddPrefix(ns, rest[i])
		}
	}
}

// RewriteResponse removes namespace ns from the keys in the reply to command.
// Empty or falsy replies and commands without an After rule are returned as
// is. resp is never modified.
func RewriteResponse(ns, command string, resp Value) (Value, error) {
	if ns == "" || resp.Empty() {
		return resp, nil
	}
	switch after := Lookup(command).After; after {
	case AfterNone:
		return resp, nil
	case AfterAll:
		return StripPrefix(ns, resp), nil
	case AfterFirst:
		return stripAt(ns, command, resp, 0)
	case AfterSecond:
		return stripAt(ns, command, resp, 1)
	default:
		panic(fmt.Sprintf("namespace: unhandled after rule %d", after))
	}
}

func stripAt(ns, command string, resp Value, idx int) (Value, error) {
	if resp.shape != Sequence || len(resp.items) <= idx {
		return resp, fmt.Errorf("%w: %s reply %s needs at least %d elements",
			ErrResponseShape, command, resp.shape, idx+1)
	}
	items := make([]Value, len(resp.items))
	copy(items, resp.items)
	items[idx] = StripPrefix(ns, items[idx])
	return List(items...), nil
}
