// Package client is a Redis client that confines every command to a key
// namespace. Arguments are rewritten by package namespace before they are sent
// and replies are rewritten before they are returned, so callers work with
// plain key names while the server stores "<namespace><key>".
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flashdb/nsredis/internal/namespace"
	"github.com/flashdb/nsredis/internal/protocol"
)

const tracerName = "github.com/flashdb/nsredis/internal/client"

var (
	// Nil is returned by typed helpers when the server replies with a null.
	Nil = errors.New("client: nil reply")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client: connection closed")
	// ErrEmptyCommand is returned when Do is called without a command name.
	ErrEmptyCommand = errors.New("client: empty command")
	// ErrTxAborted is returned by a transactional pipeline whose EXEC was
	// discarded because a watched key changed.
	ErrTxAborted = errors.New("client: transaction aborted")
)

// Options configures a Client.
type Options struct {
	// Addr is the server address (host:port).
	Addr string
	// Namespace is prepended to every key. Empty disables rewriting.
	Namespace string

	Username string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Callbacks override or extend the default response callbacks used by Call.
	Callbacks map[string]ResponseCallback

	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:6379"
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 3 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = o.ReadTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.TracerProvider == nil {
		o.TracerProvider = otel.GetTracerProvider()
	}
	return o
}

// Client issues namespaced commands. It is safe for concurrent use; commands
// from concurrent callers are serialized on the underlying transport.
type Client struct {
	ns        string
	opts      Options
	tr        Transport
	callbacks map[string]ResponseCallback
	tracer    trace.Tracer
	logger    *slog.Logger
}

// New returns a Client that dials opts.Addr on first use.
func New(opts Options) *Client {
	opts = opts.withDefaults()
	return NewWithTransport(NewConn(opts), opts)
}

// NewWithTransport returns a Client sending through tr. opts.Addr is still
// used to dial dedicated connections for Subscribe.
func NewWithTransport(tr Transport, opts Options) *Client {
	opts = opts.withDefaults()
	callbacks := defaultCallbacks()
	for name, cb := range opts.Callbacks {
		callbacks[name] = cb
	}
	return &Client{
		ns:        opts.Namespace,
		opts:      opts,
		tr:        tr,
		callbacks: callbacks,
		tracer:    opts.TracerProvider.Tracer(tracerName),
		logger:    opts.Logger,
	}
}

// Namespace returns the client's key prefix.
func (c *Client) Namespace() string { return c.ns }

// WithNamespace returns a Client sharing c's transport but using ns.
func (c *Client) WithNamespace(ns string) *Client {
	clone := *c
	clone.ns = ns
	clone.opts.Namespace = ns
	return &clone
}

// Close closes the transport. Clients derived with WithNamespace share it.
func (c *Client) Close() error {
	return c.tr.Close()
}

// command is one namespaced command ready to send.
type command struct {
	name string // registered name, e.g. "get" or "memory usage"
	args []namespace.Value
}

// prepare spreads slice and map arguments to their wire positions before the
// positional rules run, so Do("MSET", []string{"k", "v"}) and
// Do("MSET", "k", "v") are rewritten alike.
func (c *Client) prepare(ns string, args []any) (command, error) {
	vals := make([]namespace.Value, len(args))
	for i, a := range args {
		vals[i] = namespace.Of(a)
	}
	vals = namespace.Flatten(vals)
	name, _ := namespace.Resolve(vals)
	if name == "" {
		return command{}, ErrEmptyCommand
	}
	first, _ := vals[0].Str()
	vals = namespace.RewriteGeoRadius(ns, namespace.RewriteArgs(ns, first, vals))
	return command{name: name, args: vals}, nil
}

// Do sends a command and returns its reply with the namespace removed from
// any keys it contains. args[0] is the command name. Error replies are
// returned as protocol.Error.
func (c *Client) Do(ctx context.Context, args ...any) (namespace.Value, error) {
	cmd, err := c.prepare(c.ns, args)
	if err != nil {
		return namespace.Value{}, err
	}
	rule := namespace.Lookup(cmd.name)

	ctx, span := c.tracer.Start(ctx, cmd.name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", cmd.name),
			attribute.String("nsredis.namespace", c.ns),
			attribute.String("nsredis.rule", rule.String()),
		))
	defer span.End()

	c.logger.Debug("command", "cmd", cmd.name, "rule", rule.String(), "namespace", c.ns)

	reply, err := c.tr.Roundtrip(ctx, protocol.Args(cmd.args))
	if err == nil {
		err = reply.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return namespace.Value{}, err
	}

	resp, err := namespace.RewriteResponse(c.ns, cmd.name, protocol.ToNamespace(reply))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return namespace.Value{}, fmt.Errorf("client: %s: %w", cmd.name, err)
	}
	return resp, nil
}

// CallOption changes how Call handles a reply.
type CallOption func(*callOptions)

type callOptions struct {
	empty    any
	hasEmpty bool
}

// WithEmptyResponse makes Call return v instead of an error reply.
// I/O errors are still returned.
func WithEmptyResponse(v any) CallOption {
	return func(o *callOptions) {
		o.empty = v
		o.hasEmpty = true
	}
}

// Call is Do followed by the response callback registered for the command.
// Commands without a callback return their reply converted to plain Go values
// (string, int64, []any, map[string]any or nil).
func (c *Client) Call(ctx context.Context, args []any, opts ...CallOption) (any, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	resp, err := c.Do(ctx, args...)
	if err != nil {
		var replyErr protocol.Error
		if o.hasEmpty && errors.As(err, &replyErr) {
			return o.empty, nil
		}
		return nil, err
	}

	cmd, _ := c.prepare("", args[:min(len(args), 2)])
	if cb, ok := c.callbacks[cmd.name]; ok {
		return cb(resp)
	}
	return Natural(resp), nil
}
