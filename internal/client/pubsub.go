package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flashdb/nsredis/internal/namespace"
	"github.com/flashdb/nsredis/internal/protocol"
)

// Message is a decoded pub/sub push with the namespace removed from its
// channel and pattern.
type Message struct {
	// Kind is the push type: message, pmessage, subscribe, unsubscribe,
	// psubscribe, punsubscribe or pong.
	Kind    string
	Pattern string
	Channel string
	Payload string
	// Count is the number of active subscriptions reported by (un)subscribe
	// confirmations.
	Count int64
}

// PubSub is a subscription on a dedicated connection.
type PubSub struct {
	ns     string
	conn   *Conn
	logger *slog.Logger

	chOnce    sync.Once
	ch        chan *Message
	done      chan struct{}
	closeOnce sync.Once
}

// Subscribe opens a dedicated connection subscribed to channels.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (*PubSub, error) {
	return c.newPubSub(ctx, "SUBSCRIBE", channels)
}

// PSubscribe opens a dedicated connection subscribed to patterns.
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) (*PubSub, error) {
	return c.newPubSub(ctx, "PSUBSCRIBE", patterns)
}

func (c *Client) newPubSub(ctx context.Context, verb string, names []string) (*PubSub, error) {
	ps := &PubSub{ns: c.ns, conn: NewConn(c.opts), logger: c.logger, done: make(chan struct{})}
	if len(names) == 0 {
		return ps, nil
	}
	if err := ps.send(ctx, verb, names); err != nil {
		ps.conn.Close()
		return nil, err
	}
	return ps, nil
}

func (ps *PubSub) send(ctx context.Context, verb string, names []string) error {
	args := make([]namespace.Value, 0, len(names)+1)
	args = append(args, namespace.Str(verb))
	for _, name := range names {
		args = append(args, namespace.Str(name))
	}
	args = namespace.RewriteArgs(ps.ns, verb, args)
	if err := ps.conn.Send(ctx, protocol.Args(args)); err != nil {
		return fmt.Errorf("client: %s: %w", verb, err)
	}
	return nil
}

// Subscribe adds channels to the subscription.
func (ps *PubSub) Subscribe(ctx context.Context, channels ...string) error {
	return ps.send(ctx, "SUBSCRIBE", channels)
}

// PSubscribe adds patterns to the subscription.
func (ps *PubSub) PSubscribe(ctx context.Context, patterns ...string) error {
	return ps.send(ctx, "PSUBSCRIBE", patterns)
}

// Unsubscribe removes channels, or every channel when none are given.
func (ps *PubSub) Unsubscribe(ctx context.Context, channels ...string) error {
	return ps.send(ctx, "UNSUBSCRIBE", channels)
}

// PUnsubscribe removes patterns, or every pattern when none are given.
func (ps *PubSub) PUnsubscribe(ctx context.Context, patterns ...string) error {
	return ps.send(ctx, "PUNSUBSCRIBE", patterns)
}

// Ping asks the server for a pong push carrying payload.
func (ps *PubSub) Ping(ctx context.Context, payload string) error {
	args := [][]byte{[]byte("PING")}
	if payload != "" {
		args = append(args, []byte(payload))
	}
	return ps.conn.Send(ctx, args)
}

// Receive blocks for the next push. It must not be called concurrently with
// itself or after Channel.
func (ps *PubSub) Receive(ctx context.Context) (*Message, error) {
	v, err := ps.conn.Receive(ctx)
	if err != nil {
		return nil, err
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	nv, err := namespace.RewriteMessage(ps.ns, protocol.ToNamespace(v))
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	return decodeMessage(nv)
}

// Channel returns a channel delivering message and pmessage pushes. It is
// closed when the PubSub is closed or the connection fails.
func (ps *PubSub) Channel() <-chan *Message {
	ps.chOnce.Do(func() {
		ps.ch = make(chan *Message, 100)
		go ps.pump()
	})
	return ps.ch
}

func (ps *PubSub) pump() {
	defer close(ps.ch)
	for {
		msg, err := ps.Receive(context.Background())
		if err != nil {
			if !errors.Is(err, ErrClosed) {
				ps.logger.Warn("pubsub receive failed", "error", err)
			}
			return
		}
		if msg.Kind != "message" && msg.Kind != "pmessage" {
			continue
		}
		select {
		case ps.ch <- msg:
		case <-ps.done:
			return
		}
	}
}

// Close closes the dedicated connection. A Channel pump blocked on a
// consumer that stopped reading is released.
func (ps *PubSub) Close() error {
	ps.closeOnce.Do(func() { close(ps.done) })
	return ps.conn.Close()
}

func decodeMessage(v namespace.Value) (*Message, error) {
	items := v.Items()
	if len(items) < 2 {
		return nil, fmt.Errorf("client: malformed pub/sub push %s", v)
	}
	kind, err := toString(items[0])
	if err != nil {
		return nil, fmt.Errorf("client: pub/sub push type: %w", err)
	}

	text := func(i int) string {
		if i >= len(items) {
			return ""
		}
		s, _ := toString(items[i])
		return s
	}

	msg := &Message{Kind: kind}
	switch kind {
	case "message":
		msg.Channel, msg.Payload = text(1), text(2)
	case "pmessage":
		msg.Pattern, msg.Channel, msg.Payload = text(1), text(2), text(3)
	case "subscribe", "unsubscribe", "psubscribe", "punsubscribe":
		msg.Channel = text(1)
		if len(items) > 2 {
			msg.Count, _ = toInt(items[2])
		}
	case "pong":
		msg.Payload = text(1)
	default:
		return nil, fmt.Errorf("client: unknown pub/sub push %q", kind)
	}
	return msg, nil
}
