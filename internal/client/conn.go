package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/flashdb/nsredis/internal/protocol"
)

// Transport sends already-rewritten commands and returns raw replies.
// Error replies are returned as values, not as errors; errors are reserved
// for I/O and protocol failures.
type Transport interface {
	Roundtrip(ctx context.Context, cmd [][]byte) (protocol.Value, error)
	RoundtripBatch(ctx context.Context, cmds [][][]byte) ([]protocol.Value, error)
	Close() error
}

// Conn is a single RESP connection to a Redis server. It dials lazily and
// serializes callers. After an I/O error the connection is dropped and the
// next call dials again.
type Conn struct {
	opts Options

	mu     sync.Mutex
	nc     net.Conn
	rd     *protocol.Reader
	wr     *protocol.Writer
	closed bool
}

// NewConn returns a Conn for opts.Addr without dialing.
func NewConn(opts Options) *Conn {
	return &Conn{opts: opts.withDefaults()}
}

// Dial returns a connected Conn, having run AUTH and SELECT if configured.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	c := NewConn(opts)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) connect(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	if c.nc != nil {
		return nil
	}

	d := net.Dialer{Timeout: c.opts.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", c.opts.Addr)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", c.opts.Addr, err)
	}
	c.nc = nc
	c.rd = protocol.NewReader(nc)
	c.wr = protocol.NewWriter(nc)

	if err := c.handshake(ctx); err != nil {
		c.drop()
		return err
	}
	return nil
}

func (c *Conn) handshake(ctx context.Context) error {
	var cmds [][][]byte
	if c.opts.Password != "" {
		if c.opts.Username != "" {
			cmds = append(cmds, bytesArgs("AUTH", c.opts.Username, c.opts.Password))
		} else {
			cmds = append(cmds, bytesArgs("AUTH", c.opts.Password))
		}
	}
	if c.opts.DB > 0 {
		cmds = append(cmds, bytesArgs("SELECT", strconv.Itoa(c.opts.DB)))
	}
	if len(cmds) == 0 {
		return nil
	}

	replies, err := c.exchange(ctx, cmds, c.opts.ReadTimeout)
	if err != nil {
		return fmt.Errorf("client: handshake: %w", err)
	}
	for _, reply := range replies {
		if err := reply.Err(); err != nil {
			return fmt.Errorf("client: handshake: %w", err)
		}
	}
	return nil
}

// Roundtrip writes one command and reads its reply.
func (c *Conn) Roundtrip(ctx context.Context, cmd [][]byte) (protocol.Value, error) {
	replies, err := c.RoundtripBatch(ctx, [][][]byte{cmd})
	if err != nil {
		return protocol.Value{}, err
	}
	return replies[0], nil
}

// RoundtripBatch writes every command with a single flush, then reads one
// reply per command.
func (c *Conn) RoundtripBatch(ctx context.Context, cmds [][][]byte) ([]protocol.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	replies, err := c.exchange(ctx, cmds, c.opts.ReadTimeout)
	if err != nil {
		c.drop()
		return nil, err
	}
	return replies, nil
}

// exchange requires c.mu to be held and a live connection.
func (c *Conn) exchange(ctx context.Context, cmds [][][]byte, readTimeout time.Duration) ([]protocol.Value, error) {
	stop := c.watch(ctx)
	defer stop()

	c.nc.SetWriteDeadline(deadline(ctx, c.opts.WriteTimeout))
	c.wr.SetAutoFlush(false)
	for _, cmd := range cmds {
		if err := c.wr.WriteCommand(cmd); err != nil {
			return nil, ctxErr(ctx, err)
		}
	}
	if err := c.wr.Flush(); err != nil {
		return nil, ctxErr(ctx, err)
	}

	c.nc.SetReadDeadline(deadline(ctx, readTimeout))
	replies := make([]protocol.Value, len(cmds))
	for i := range cmds {
		reply, err := c.rd.ReadValue()
		if err != nil {
			return nil, ctxErr(ctx, err)
		}
		replies[i] = reply
	}
	return replies, nil
}

// Send writes a command without waiting for a reply. Used by subscribers,
// whose replies arrive through Receive.
func (c *Conn) Send(ctx context.Context, cmd [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return err
	}
	stop := c.watch(ctx)
	defer stop()

	c.nc.SetWriteDeadline(deadline(ctx, c.opts.WriteTimeout))
	c.wr.SetAutoFlush(true)
	if err := c.wr.WriteCommand(cmd); err != nil {
		c.drop()
		return ctxErr(ctx, err)
	}
	return nil
}

// Receive reads the next value pushed by the server without a read timeout.
// It does not hold the connection lock while blocked, so Send can proceed;
// only one goroutine may receive at a time.
func (c *Conn) Receive(ctx context.Context) (protocol.Value, error) {
	c.mu.Lock()
	if err := c.connect(ctx); err != nil {
		c.mu.Unlock()
		return protocol.Value{}, err
	}
	nc, rd := c.nc, c.rd
	c.mu.Unlock()

	stop := watchConn(ctx, nc)
	defer stop()
	nc.SetReadDeadline(deadline(ctx, 0))
	v, err := rd.ReadValue()
	if err != nil {
		return protocol.Value{}, ctxErr(ctx, err)
	}
	return v, nil
}

// Close closes the connection. Further calls return ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.nc == nil {
		return nil
	}
	err := c.nc.Close()
	c.nc = nil
	return err
}

func (c *Conn) drop() {
	if c.nc != nil {
		c.nc.Close()
	}
	c.nc, c.rd, c.wr = nil, nil, nil
}

func (c *Conn) watch(ctx context.Context) func() {
	return watchConn(ctx, c.nc)
}

// watchConn unblocks pending I/O on nc when ctx is cancelled.
func watchConn(ctx context.Context, nc net.Conn) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			nc.SetDeadline(time.Now())
		case <-done:
		}
	}()
	return func() { close(done) }
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var t time.Time
	if timeout > 0 {
		t = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (t.IsZero() || d.Before(t)) {
		t = d
	}
	return t
}

func ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}

func bytesArgs(args ...string) [][]byte {
	out := make([][]byte, len(args))
	for i, a := range args {
		out[i] = []byte(a)
	}
	return out
}
