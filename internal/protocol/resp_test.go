package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_SimpleString(t *testing.T) {
	r := NewReader(bytes.NewBufferString("+OK\r\n"))

	val, err := r.ReadValue()
	require.NoError(t, err)
	assert.Equal(t, byte(TypeSimpleString), val.Type)
	assert.Equal(t, "OK", val.Str)
	assert.NoError(t, val.Err())
}

func TestReader_Error(t *testing.T) {
	r := NewReader(bytes.NewBufferString("-ERR unknown command\r\n"))

	val, err := r.ReadValue()
	require.NoError(t, err)
	assert.Equal(t, byte(TypeError), val.Type)
	assert.Equal(t, "ERR unknown command", val.Str)

	var replyErr Error
	require.ErrorAs(t, val.Err(), &replyErr)
	assert.Equal(t, "ERR unknown command", replyErr.Error())
}

func TestReader_Integer(t *testing.T) {
	r := NewReader(bytes.NewBufferString(":-100\r\n"))

	val, err := r.ReadValue()
	require.NoError(t, err)
	assert.Equal(t, byte(TypeInteger), val.Type)
	assert.Equal(t, int64(-100), val.Num)
}

func TestReader_InvalidInteger(t *testing.T) {
	r := NewReader(bytes.NewBufferString(":abc\r\n"))

	_, err := r.ReadValue()
	assert.ErrorIs(t, err, ErrInvalidProtocol)
}

func TestReader_BulkString(t *testing.T) {
	r := NewReader(bytes.NewBufferString("$5\r\nhello\r\n$0\r\n\r\n$-1\r\n"))

	val, err := r.ReadValue()
	require.NoError(t, err)
	assert.Equal(t, "hello", val.Str)
	assert.False(t, val.Null)

	val, err = r.ReadValue()
	require.NoError(t, err)
	assert.Equal(t, "", val.Str)
	assert.False(t, val.Null)

	val, err = r.ReadValue()
	require.NoError(t, err)
	assert.True(t, val.Null)
}

func TestReader_BulkStringTooLarge(t *testing.T) {
	r := NewReader(bytes.NewBufferString("$536870913\r\n"))

	_, err := r.ReadValue()
	assert.ErrorIs(t, err, ErrInvalidProtocol)
}

func TestReader_NestedArray(t *testing.T) {
	input := "*2\r\n$1\r\n0\r\n*2\r\n$5\r\nns:k1\r\n$5\r\nns:k2\r\n"
	r := NewReader(bytes.NewBufferString(input))

	val, err := r.ReadValue()
	require.NoError(t, err)
	assert.Equal(t, byte(TypeArray), val.Type)
	require.Len(t, val.Array, 2)
	assert.Equal(t, "0", val.Array[0].Str)
	require.Len(t, val.Array[1].Array, 2)
	assert.Equal(t, "ns:k2", val.Array[1].Array[1].Str)
}

func TestReader_NullArray(t *testing.T) {
	r := NewReader(bytes.NewBufferString("*-1\r\n"))

	val, err := r.ReadValue()
	require.NoError(t, err)
	assert.Equal(t, byte(TypeArray), val.Type)
	assert.True(t, val.Null)
}

func TestReader_ArrayTooLarge(t *testing.T) {
	r := NewReader(bytes.NewBufferString("*1000001\r\n"))

	_, err := r.ReadValue()
	assert.ErrorIs(t, err, ErrInvalidProtocol)
}

func TestReader_AggregateLengthLimits(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"array", "*1000001\r\n"},
		{"push", ">1000001\r\n"},
		{"map", "%500001\r\n"},
		{"map overflowing entry count", "%4611686018427387904\r\n"},
		{"array at int64 max", "*9223372036854775807\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(bytes.NewBufferString(tt.input))
			_, err := r.ReadValue()
			assert.ErrorIs(t, err, ErrInvalidProtocol)
		})
	}
}

func TestReader_Map(t *testing.T) {
	input := "%2\r\n$4\r\nns:a\r\n:1\r\n$4\r\nns:b\r\n:2\r\n"
	r := NewReader(bytes.NewBufferString(input))

	val, err := r.ReadValue()
	require.NoError(t, err)
	assert.Equal(t, byte(TypeMap), val.Type)
	require.Len(t, val.Array, 4)
	assert.Equal(t, "ns:a", val.Array[0].Str)
	assert.Equal(t, int64(2), val.Array[3].Num)
}

func TestReader_Null(t *testing.T) {
	r := NewReader(bytes.NewBufferString("_\r\n"))

	val, err := r.ReadValue()
	require.NoError(t, err)
	assert.True(t, val.Null)
}

func TestReader_UnknownType(t *testing.T) {
	r := NewReader(bytes.NewBufferString("!oops\r\n"))

	_, err := r.ReadValue()
	assert.ErrorIs(t, err, ErrInvalidProtocol)
}

func TestWriter_Command(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	err := w.WriteCommand([][]byte{[]byte("GET"), []byte("ns:key")})
	require.NoError(t, err)
	assert.Equal(t, "*2\r\n$3\r\nGET\r\n$6\r\nns:key\r\n", buf.String())
}

func TestWriter_AutoFlushDisabled(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.SetAutoFlush(false)

	require.NoError(t, w.WriteCommand([][]byte{[]byte("PING")}))
	require.NoError(t, w.WriteCommand([][]byte{[]byte("PING")}))
	assert.Zero(t, buf.Len())

	require.NoError(t, w.Flush())
	assert.Equal(t, "*1\r\n$4\r\nPING\r\n*1\r\n$4\r\nPING\r\n", buf.String())
}

func TestWriter_SimpleStringAndError(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteSimpleString("OK"))
	require.NoError(t, w.WriteSimpleString("QUEUED"))
	require.NoError(t, w.WriteError("ERR unknown command"))
	assert.Equal(t, "+OK\r\n+QUEUED\r\n-ERR unknown command\r\n", buf.String())
}

func TestWriter_ValueRoundtrip(t *testing.T) {
	values := []Value{
		{Type: TypeSimpleString, Str: "PONG"},
		{Type: TypeError, Str: "WRONGTYPE nope"},
		Int(42),
		Bulk("hello"),
		NullBulk(),
		Array(Bulk("0"), Array(Bulk("a"), Bulk("b"))),
		{Type: TypeArray, Null: true},
		{Type: TypeMap, Array: []Value{Bulk("k"), Int(1)}},
		{Type: TypePush, Array: []Value{Bulk("message"), Bulk("ch"), Bulk("hi")}},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, v := range values {
		require.NoError(t, w.WriteValue(v))
	}

	r := NewReader(&buf)
	for _, want := range values {
		got, err := r.ReadValue()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestWriter_UnexpectedType(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	err := w.WriteValue(Value{Type: '?'})
	assert.ErrorIs(t, err, ErrUnexpectedType)
}
