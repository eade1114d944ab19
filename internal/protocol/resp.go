// Package protocol implements the RESP (Redis Serialization Protocol) reader and
// writer shared by the namespacing client and proxy.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
)

var (
	// ErrInvalidProtocol indicates malformed RESP data
	ErrInvalidProtocol = errors.New("protocol: invalid RESP format")
	// ErrUnexpectedType indicates an unexpected RESP type
	ErrUnexpectedType = errors.New("protocol: unexpected type")
)

// Error is an error reply sent by the server ("-ERR ...").
type Error string

func (e Error) Error() string { return string(e) }

// Value represents a RESP value.
//
// Maps (RESP3 '%') are stored flattened in Array as key, value, key, value.
type Value struct {
	Type  byte
	Str   string
	Num   int64
	Array []Value
	Null  bool
}

// RESP type constants
const (
	TypeSimpleString = '+'
	TypeError        = '-'
	TypeInteger      = ':'
	TypeBulkString   = '$'
	TypeArray        = '*'
	TypeMap          = '%'
	TypeNull         = '_'
	TypePush         = '>'
)

const (
	maxBulkStringLength = 512 * 1024 * 1024 // 512 MiB
	maxArrayLength      = 1_000_000
	defaultBufSize      = 64 * 1024
)

var (
	crlfBytes = []byte("\r\n")
	nullBytes = []byte("$-1\r\n")
	okBytes   = []byte("+OK\r\n")
)

// intBufPool provides scratch buffers for integer formatting.
var intBufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 20)
		return &b
	},
}

// Bulk returns a bulk string value.
func Bulk(s string) Value { return Value{Type: TypeBulkString, Str: s} }

// Int returns an integer value.
func Int(n int64) Value { return Value{Type: TypeInteger, Num: n} }

// Array returns an array value holding items.
func Array(items ...Value) Value { return Value{Type: TypeArray, Array: items} }

// NullBulk returns the RESP2 null bulk string.
func NullBulk() Value { return Value{Type: TypeBulkString, Null: true} }

// Err converts an error reply into an Error. It returns nil for any other type.
func (v Value) Err() error {
	if v.Type != TypeError {
		return nil
	}
	return Error(v.Str)
}

// Reader wraps a bufio.Reader for RESP parsing
type Reader struct {
	rd *bufio.Reader
}

// NewReader creates a new RESP Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{rd: bufio.NewReaderSize(r, defaultBufSize)}
}

// Buffered returns the number of bytes that can be read without a syscall.
func (r *Reader) Buffered() int {
	return r.rd.Buffered()
}

// ReadValue reads a single RESP value from the reader
func (r *Reader) ReadValue() (Value, error) {
	typeByte, err := r.rd.ReadByte()
	if err != nil {
		return Value{}, err
	}

	switch typeByte {
	case TypeSimpleString, TypeError:
		line, err := r.readLine()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: typeByte, Str: line}, nil
	case TypeInteger:
		return r.readInteger()
	case TypeBulkString:
		return r.readBulkString()
	case TypeArray, TypePush:
		return r.readAggregate(typeByte, 1)
	case TypeMap:
		return r.readAggregate(TypeMap, 2)
	case TypeNull:
		if _, err := r.readLine(); err != nil {
			return Value{}, err
		}
		return Value{Type: TypeNull, Null: true}, nil
	default:
		return Value{}, fmt.Errorf("%w: unknown type %c", ErrInvalidProtocol, typeByte)
	}
}

// readLine reads a line until \r\n
func (r *Reader) readLine() (string, error) {
	line, err := r.rd.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return "", ErrInvalidProtocol
	}
	return line[:len(line)-2], nil
}

func (r *Reader) readLength(what string) (int64, error) {
	line, err := r.readLine()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s length", ErrInvalidProtocol, what)
	}
	return n, nil
}

func (r *Reader) readInteger() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}
	num, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("%w: invalid integer", ErrInvalidProtocol)
	}
	return Value{Type: TypeInteger, Num: num}, nil
}

func (r *Reader) readBulkString() (Value, error) {
	length, err := r.readLength("bulk string")
	if err != nil {
		return Value{}, err
	}
	if length == -1 {
		return Value{Type: TypeBulkString, Null: true}, nil
	}
	if length < 0 {
		return Value{}, fmt.Errorf("%w: negative bulk string length", ErrInvalidProtocol)
	}
	if length > maxBulkStringLength {
		return Value{}, fmt.Errorf("%w: bulk string too large", ErrInvalidProtocol)
	}

	data := make([]byte, length+2)
	if _, err := io.ReadFull(r.rd, data); err != nil {
		return Value{}, err
	}
	if data[length] != '\r' || data[length+1] != '\n' {
		return Value{}, ErrInvalidProtocol
	}
	return Value{Type: TypeBulkString, Str: string(data[:length])}, nil
}

// readAggregate reads arrays, pushes and maps. Maps carry two values per entry.
func (r *Reader) readAggregate(typ byte, per int64) (Value, error) {
	count, err := r.readLength("aggregate")
	if err != nil {
		return Value{}, err
	}
	if count == -1 {
		return Value{Type: typ, Null: true}, nil
	}
	if count < 0 {
		return Value{}, fmt.Errorf("%w: negative aggregate length", ErrInvalidProtocol)
	}
	if count > maxArrayLength/per {
		return Value{}, fmt.Errorf("%w: aggregate too large", ErrInvalidProtocol)
	}

	items := make([]Value, count*per)
	for i := range items {
		val, err := r.ReadValue()
		if err != nil {
			return Value{}, err
		}
		items[i] = val
	}
	return Value{Type: typ, Array: items}, nil
}

// Writer wraps a bufio.Writer for RESP encoding.
// Every Write* call flushes unless auto flush is disabled; pipelines disable
// it and call Flush once per batch.
type Writer struct {
	wr        *bufio.Writer
	autoFlush bool
}

// NewWriter creates a new RESP Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{wr: bufio.NewWriterSize(w, defaultBufSize), autoFlush: true}
}

// SetAutoFlush controls whether each Write* call flushes automatically.
func (w *Writer) SetAutoFlush(on bool) { w.autoFlush = on }

// Flush writes any buffered data to the underlying io.Writer.
func (w *Writer) Flush() error { return w.wr.Flush() }

func (w *Writer) flush() error {
	if w.autoFlush {
		return w.wr.Flush()
	}
	return nil
}

func (w *Writer) writeTypedInt(prefix byte, n int64) error {
	if err := w.wr.WriteByte(prefix); err != nil {
		return err
	}
	bp := intBufPool.Get().(*[]byte)
	b := strconv.AppendInt((*bp)[:0], n, 10)
	_, err := w.wr.Write(b)
	*bp = b
	intBufPool.Put(bp)
	if err != nil {
		return err
	}
	_, err = w.wr.Write(crlfBytes)
	return err
}

func (w *Writer) writeLine(prefix byte, s string) error {
	if err := w.wr.WriteByte(prefix); err != nil {
		return err
	}
	if _, err := w.wr.WriteString(s); err != nil {
		return err
	}
	_, err := w.wr.Write(crlfBytes)
	return err
}

func (w *Writer) writeBulk(s string) error {
	if err := w.writeTypedInt(TypeBulkString, int64(len(s))); err != nil {
		return err
	}
	if _, err := w.wr.WriteString(s); err != nil {
		return err
	}
	_, err := w.wr.Write(crlfBytes)
	return err
}

// WriteCommand writes a command as an array of bulk strings.
func (w *Writer) WriteCommand(args [][]byte) error {
	if err := w.writeTypedInt(TypeArray, int64(len(args))); err != nil {
		return err
	}
	for _, arg := range args {
		if err := w.writeTypedInt(TypeBulkString, int64(len(arg))); err != nil {
			return err
		}
		if _, err := w.wr.Write(arg); err != nil {
			return err
		}
		if _, err := w.wr.Write(crlfBytes); err != nil {
			return err
		}
	}
	return w.flush()
}

// WriteSimpleString writes a simple string reply.
func (w *Writer) WriteSimpleString(s string) error {
	if s == "OK" {
		if _, err := w.wr.Write(okBytes); err != nil {
			return err
		}
		return w.flush()
	}
	if err := w.writeLine(TypeSimpleString, s); err != nil {
		return err
	}
	return w.flush()
}

// WriteError writes an error reply. msg should carry its own error code
// prefix ("ERR ...", "NOAUTH ...").
func (w *Writer) WriteError(msg string) error {
	if err := w.writeLine(TypeError, msg); err != nil {
		return err
	}
	return w.flush()
}

// WriteValue writes v and everything nested in it.
func (w *Writer) WriteValue(v Value) error {
	if err := w.writeValue(v); err != nil {
		return err
	}
	return w.flush()
}

func (w *Writer) writeValue(v Value) error {
	switch v.Type {
	case TypeSimpleString, TypeError:
		return w.writeLine(v.Type, v.Str)
	case TypeInteger:
		return w.writeTypedInt(TypeInteger, v.Num)
	case TypeBulkString:
		if v.Null {
			_, err := w.wr.Write(nullBytes)
			return err
		}
		return w.writeBulk(v.Str)
	case TypeNull:
		_, err := w.wr.WriteString("_\r\n")
		return err
	case TypeArray, TypePush, TypeMap:
		if v.Null {
			return w.writeTypedInt(v.Type, -1)
		}
		n := int64(len(v.Array))
		if v.Type == TypeMap {
			n /= 2
		}
		if err := w.writeTypedInt(v.Type, n); err != nil {
			return err
		}
		for _, item := range v.Array {
			if err := w.writeValue(item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %c", ErrUnexpectedType, v.Type)
	}
}
