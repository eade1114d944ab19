package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ns = "ns:"

func cmd(args ...any) []Value {
	out := make([]Value, len(args))
	for i, a := range args {
		out[i] = Of(a)
	}
	return out
}

func TestAddPrefix_Shapes(t *testing.T) {
	assert.Equal(t, Str("ns:foo"), AddPrefix(ns, Str("foo")))
	assert.Equal(t, Str("ns:foo"), AddPrefix(ns, Bin([]byte("foo"))))
	assert.Equal(t, Str("ns:"), AddPrefix(ns, Str("")))
	assert.Equal(t, Strs("ns:a", "ns:b"), AddPrefix(ns, Strs("a", "b")))
	assert.Equal(t,
		List(Str("ns:a"), List(Str("ns:b"), Other(3))),
		AddPrefix(ns, List(Str("a"), List(Str("b"), Other(3)))))

	m := Map(Pair{Key: Str("k1"), Val: Str("v1")}, Pair{Key: Str("k2"), Val: Other(2)})
	assert.Equal(t,
		Map(Pair{Key: Str("ns:k1"), Val: Str("v1")}, Pair{Key: Str("ns:k2"), Val: Other(2)}),
		AddPrefix(ns, m))

	assert.Equal(t, Other(42), AddPrefix(ns, Other(42)))
	assert.Equal(t, Other(nil), AddPrefix(ns, Other(nil)))
	assert.Equal(t, Str("foo"), AddPrefix("", Str("foo")))
}

func TestStripPrefix_RoundTrip(t *testing.T) {
	for _, key := range []string{"foo", "", "ns:", "a:b:c", "ns:ns:x", "ünïcode"} {
		got := StripPrefix(ns, AddPrefix(ns, Str(key)))
		assert.Equal(t, Str(key), got, "key %q", key)
		assert.Equal(t, key, Unprefix(ns, Prefix(ns, key)))
	}
}

func TestStripPrefix_LeavesForeignKeys(t *testing.T) {
	assert.Equal(t, Str("other:foo"), StripPrefix(ns, Str("other:foo")))
	assert.Equal(t, Strs("a", "other:b"), StripPrefix(ns, Strs("ns:a", "other:b")))
	assert.Equal(t, "xy", Unprefix(ns, "xy"))
}

func TestStripPrefix_MappingKeysOnly(t *testing.T) {
	m := Map(Pair{Key: Str("ns:chan"), Val: Str("ns:value")})
	assert.Equal(t, Map(Pair{Key: Str("chan"), Val: Str("ns:value")}), StripPrefix(ns, m))
}

func TestRewriteArgs_First(t *testing.T) {
	got := RewriteArgs(ns, "get", cmd("get", "foo"))
	assert.Equal(t, cmd("get", "ns:foo"), got)

	got = RewriteArgs(ns, "SET", cmd("SET", "foo", "bar", "EX", 10))
	assert.Equal(t, cmd("SET", "ns:foo", "bar", "EX", 10), got)
}

func TestRewriteArgs_All(t *testing.T) {
	got := RewriteArgs(ns, "mget", cmd("mget", "a", "b"))
	assert.Equal(t, cmd("mget", "ns:a", "ns:b"), got)

	got = RewriteArgs(ns, "del", cmd("del", []string{"a", "b"}, "c"))
	assert.Equal(t, cmd("del", []string{"ns:a", "ns:b"}, "ns:c"), got)
}

func TestRewriteArgs_ExcludeFirst(t *testing.T) {
	got := RewriteArgs(ns, "bitop", cmd("bitop", "AND", "dest", "k1", "k2"))
	assert.Equal(t, cmd("bitop", "AND", "ns:dest", "ns:k1", "ns:k2"), got)

	got = RewriteArgs(ns, "object", cmd("object", "encoding", "k"))
	assert.Equal(t, cmd("object", "encoding", "ns:k"), got)
}

func TestRewriteArgs_ExcludeLast(t *testing.T) {
	got := RewriteArgs(ns, "blpop", cmd("blpop", "q1", "q2", "5"))
	assert.Equal(t, cmd("blpop", "ns:q1", "ns:q2", "5"), got)

	got = RewriteArgs(ns, "smove", cmd("smove", "src", "dst", "member"))
	assert.Equal(t, cmd("smove", "ns:src", "ns:dst", "member"), got)
}

func TestRewriteArgs_ExcludeOptions(t *testing.T) {
	got := RewriteArgs(ns, "zunionstore",
		cmd("zunionstore", "out", "2", "z1", "z2", "WEIGHTS", "1", "2", "AGGREGATE", "SUM"))
	assert.Equal(t,
		cmd("zunionstore", "ns:out", "2", "ns:z1", "ns:z2", "WEIGHTS", "1", "2", "AGGREGATE", "SUM"),
		got)

	got = RewriteArgs(ns, "zinterstore", cmd("zinterstore", "out", 1, "z1", "WEIGHTS", "3"))
	assert.Equal(t, cmd("zinterstore", "ns:out", 1, "ns:z1", "WEIGHTS", "3"), got)
}

func TestRewriteArgs_Alternate(t *testing.T) {
	got := RewriteArgs(ns, "mset", cmd("mset", "k1", "v1", "k2", "v2"))
	assert.Equal(t, cmd("mset", "ns:k1", "v1", "ns:k2", "v2"), got)
}

func TestRewriteArgs_EvalStyle(t *testing.T) {
	got := RewriteArgs(ns, "eval", cmd("eval", "script", "2", "k1", "k2", "arg1"))
	assert.Equal(t, cmd("eval", "script", "2", "ns:k1", "ns:k2", "arg1"), got)

	got = RewriteArgs(ns, "evalsha", cmd("evalsha", "abc123", 0, "arg1"))
	assert.Equal(t, cmd("evalsha", "abc123", 0, "arg1"), got)
}

func TestRewriteArgs_NumKeysOutOfRange(t *testing.T) {
	got := RewriteArgs(ns, "eval", cmd("eval", "script", "5", "k1"))
	assert.Equal(t, cmd("eval", "script", "5", "ns:k1"), got)

	got = RewriteArgs(ns, "eval", cmd("eval", "script", "many", "k1"))
	assert.Equal(t, cmd("eval", "script", "many", "k1"), got)

	got = RewriteArgs(ns, "eval", cmd("eval", "script", "-1", "k1"))
	assert.Equal(t, cmd("eval", "script", "-1", "k1"), got)
}

func TestRewriteArgs_ScanStyle(t *testing.T) {
	got := RewriteArgs(ns, "scan", cmd("scan", "0"))
	assert.Equal(t, cmd("scan", "0", "match", "ns:*"), got)

	got = RewriteArgs(ns, "scan", cmd("scan", "0", "match", "foo*"))
	assert.Equal(t, cmd("scan", "0", "match", "ns:foo*"), got)

	got = RewriteArgs(ns, "SCAN", cmd("SCAN", "17", "COUNT", "100", "MATCH", "user:*"))
	assert.Equal(t, cmd("SCAN", "17", "COUNT", "100", "MATCH", "ns:user:*"), got)

	got = RewriteArgs(ns, "scan", cmd("scan", "0", "count", "10"))
	assert.Equal(t, cmd("scan", "0", "match", "ns:*", "count", "10"), got)
}

func TestRewriteArgs_Sort(t *testing.T) {
	got := RewriteArgs(ns, "sort", cmd("sort", "list",
		"BY", "weight_*", "LIMIT", "0", "10", "GET", "#", "GET", "obj_*->name",
		"DESC", "ALPHA", "STORE", "out"))
	assert.Equal(t, cmd("sort", "ns:list",
		"BY", "ns:weight_*", "LIMIT", "0", "10", "GET", "#", "GET", "ns:obj_*->name",
		"DESC", "ALPHA", "STORE", "ns:out"), got)

	got = RewriteArgs(ns, "sort", cmd("sort", "list", "by", "nosort", "get"))
	assert.Equal(t, cmd("sort", "ns:list", "by", "nosort", "get"), got)
}

func TestRewriteArgs_TwoWordCommands(t *testing.T) {
	got := RewriteArgs(ns, "memory", cmd("MEMORY", "USAGE", "k"))
	assert.Equal(t, cmd("MEMORY", "USAGE", "ns:k"), got)

	got = RewriteArgs(ns, "pubsub", cmd("pubsub", "numsub", "c1", "c2"))
	assert.Equal(t, cmd("pubsub", "numsub", "ns:c1", "ns:c2"), got)

	got = RewriteArgs(ns, "pubsub", cmd("pubsub", "channels", "c*"))
	assert.Equal(t, cmd("pubsub", "channels", "c*"), got)
}

func TestRewriteArgs_Watch(t *testing.T) {
	got := RewriteArgs(ns, "watch", cmd("watch", "a", "b"))
	assert.Equal(t, cmd("watch", "ns:a", "ns:b"), got)
}

func TestRewriteArgs_Passthrough(t *testing.T) {
	cases := [][]Value{
		cmd("frobnicate", "a", "b"),
		cmd("ping", "hello"),
		cmd("config", "get", "maxmemory"),
		cmd("georadius", "geo", "15", "37", "200", "km"),
		cmd("get"),
	}
	for _, args := range cases {
		name, _ := args[0].Str()
		assert.Equal(t, args, RewriteArgs(ns, name, args), name)
	}
}

func TestRewriteArgs_EmptyNamespace(t *testing.T) {
	for _, name := range Commands() {
		args := cmd(name, "a", "1", "b", "c")
		assert.Equal(t, args, RewriteArgs("", name, args), name)
	}
}

func TestRewriteArgs_DoesNotMutateInput(t *testing.T) {
	args := cmd("mset", "k1", "v1")
	_ = RewriteArgs(ns, "mset", args)
	assert.Equal(t, cmd("mset", "k1", "v1"), args)

	args = cmd("scan", "0")
	_ = RewriteArgs(ns, "scan", args)
	assert.Equal(t, cmd("scan", "0"), args)
}

func TestRewriteResponse(t *testing.T) {
	got, err := RewriteResponse(ns, "mget", Strs("ns:x", "ns:y"))
	require.NoError(t, err)
	assert.Equal(t, Strs("x", "y"), got)

	got, err = RewriteResponse(ns, "get", Str("ns:value"))
	require.NoError(t, err)
	assert.Equal(t, Str("ns:value"), got)

	got, err = RewriteResponse(ns, "KEYS", Strs("ns:a", "ns:b"))
	require.NoError(t, err)
	assert.Equal(t, Strs("a", "b"), got)

	got, err = RewriteResponse(ns, "blpop", Strs("ns:queue", "job"))
	require.NoError(t, err)
	assert.Equal(t, Strs("queue", "job"), got)

	got, err = RewriteResponse(ns, "scan", List(Str("42"), Strs("ns:a", "ns:b")))
	require.NoError(t, err)
	assert.Equal(t, List(Str("42"), Strs("a", "b")), got)

	numsub := Map(Pair{Key: Str("ns:c1"), Val: Other(int64(3))})
	got, err = RewriteResponse(ns, "pubsub numsub", numsub)
	require.NoError(t, err)
	assert.Equal(t, Map(Pair{Key: Str("c1"), Val: Other(int64(3))}), got)
}

func TestRewriteResponse_EmptyPassesThrough(t *testing.T) {
	for _, resp := range []Value{Other(nil), Str(""), List(), Map()} {
		got, err := RewriteResponse(ns, "scan", resp)
		require.NoError(t, err)
		assert.Equal(t, resp, got)
	}
}

func TestRewriteResponse_Shape(t *testing.T) {
	_, err := RewriteResponse(ns, "scan", List(Str("0")))
	assert.ErrorIs(t, err, ErrResponseShape)

	_, err = RewriteResponse(ns, "blpop", Str("ns:queue"))
	assert.ErrorIs(t, err, ErrResponseShape)
}

func TestRewriteResponse_EmptyNamespaceAndUnknown(t *testing.T) {
	resp := Strs("ns:x", "ns:y")
	for _, name := range append(Commands(), "frobnicate") {
		got, err := RewriteResponse("", name, resp)
		require.NoError(t, err)
		assert.Equal(t, resp, got, name)
	}

	got, err := RewriteResponse(ns, "frobnicate", resp)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestRewriteResponse_DoesNotMutateInput(t *testing.T) {
	items := []Value{Str("ns:q"), Str("v")}
	resp := List(items...)
	_, err := RewriteResponse(ns, "brpop", resp)
	require.NoError(t, err)
	assert.Equal(t, Str("ns:q"), items[0])
}
