package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/flashdb/nsredis/internal/client"
	"github.com/flashdb/nsredis/internal/namespace"
	"github.com/flashdb/nsredis/internal/protocol"
)

// subscriberCommands are the only commands accepted once a session has
// subscribed.
var subscriberCommands = map[string]bool{
	"subscribe":    true,
	"psubscribe":   true,
	"unsubscribe":  true,
	"punsubscribe": true,
	"ping":         true,
}

// session is one client connection and its upstream connection.
type session struct {
	srv      *Server
	id       string
	conn     net.Conn
	rd       *protocol.Reader
	upstream *client.Conn
	limiter  *rate.Limiter
	logger   *slog.Logger

	writeMu sync.Mutex
	wr      *protocol.Writer

	// Transaction state. queued holds the resolved names of the commands
	// accepted since MULTI, so EXEC results can be rewritten per command.
	inMulti bool
	queued  []string

	// Once subscribed, upstream replies are read by pump.
	subscribed bool
	pumpDone   chan struct{}

	closeOnce sync.Once
}

func newSession(srv *Server, id string, conn net.Conn) *session {
	sess := &session{
		srv:      srv,
		id:       id,
		conn:     conn,
		rd:       protocol.NewReader(conn),
		wr:       protocol.NewWriter(conn),
		upstream: client.NewConn(srv.cfg.Upstream),
		logger:   srv.logger.With("session", id, "remote", conn.RemoteAddr().String()),
	}
	if srv.cfg.RateLimit > 0 {
		sess.limiter = rate.NewLimiter(rate.Limit(srv.cfg.RateLimit), max(srv.cfg.Burst, 1))
	}
	return sess
}

func (s *session) serve(ctx context.Context) {
	defer func() {
		s.close()
		if s.pumpDone != nil {
			<-s.pumpDone
		}
		s.logger.Debug("session closed")
	}()
	s.logger.Debug("session opened")

	for {
		if ctx.Err() != nil {
			return
		}
		if s.srv.cfg.IdleTimeout > 0 && !s.subscribed {
			s.conn.SetReadDeadline(time.Now().Add(s.srv.cfg.IdleTimeout))
		} else {
			s.conn.SetReadDeadline(time.Time{})
		}

		val, err := s.rd.ReadValue()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					s.logger.Debug("idle timeout")
				} else {
					s.logger.Warn("read failed", "err", err)
				}
			}
			return
		}
		s.srv.totalCmds.Add(1)

		if val.Type != protocol.TypeArray || val.Null || len(val.Array) == 0 {
			s.writeError("ERR invalid command format")
			continue
		}
		if quit := s.handle(ctx, val.Array); quit {
			return
		}
	}
}

// handle processes one command and reports whether the session should end.
func (s *session) handle(ctx context.Context, raw []protocol.Value) bool {
	args := make([]namespace.Value, len(raw))
	for i, a := range raw {
		args[i] = protocol.ToNamespace(a)
	}
	name, _ := namespace.Resolve(args)
	if name == "" {
		s.writeError("ERR invalid command name")
		return false
	}
	first, _ := args[0].Str()
	verb := strings.ToLower(first)

	switch {
	case verb == "quit":
		s.write(func(w *protocol.Writer) error { return w.WriteSimpleString("OK") })
		return true
	case s.srv.denied(verb, name):
		s.reject(reasonDenied, fmt.Sprintf("ERR command '%s' is not allowed through the namespace proxy", name))
		return false
	case unsupported[verb]:
		s.reject(reasonUnsupported, fmt.Sprintf("ERR command '%s' is not supported by the namespace proxy", name))
		return false
	case s.srv.cfg.Strict && !namespace.Known(name):
		s.reject(reasonUnknown, fmt.Sprintf("ERR unknown command '%s', with args beginning with: %s", name, argPreview(raw[1:])))
		return false
	case s.limiter != nil && !s.limiter.Allow():
		s.reject(reasonRateLimited, "ERR rate limit exceeded")
		return false
	}

	ns := s.srv.cfg.Namespace
	rewritten := protocol.Args(namespace.RewriteGeoRadius(ns, namespace.RewriteArgs(ns, first, args)))
	rule := namespace.Lookup(name)
	if s.srv.hot != nil && rule.Before != namespace.BeforeScanStyle {
		if key, ok := firstKey(ns, raw, rewritten); ok {
			s.srv.hot.Record(key)
		}
	}

	if s.subscribed {
		if !subscriberCommands[verb] {
			s.reject(reasonPubSubMode, fmt.Sprintf(
				"ERR Can't execute '%s': only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT are allowed in this context", name))
			return false
		}
		return s.send(ctx, rule.String(), rewritten)
	}
	if verb == "subscribe" || verb == "psubscribe" {
		if s.inMulti {
			// Redis queues these inside MULTI like any other command.
			return s.forward(ctx, name, rule.String(), rewritten)
		}
		if quit := s.send(ctx, rule.String(), rewritten); quit {
			return true
		}
		s.subscribed = true
		s.pumpDone = make(chan struct{})
		go s.pump()
		return false
	}
	return s.forward(ctx, name, rule.String(), rewritten)
}

// firstKey returns the first argument that the rewrite placed into ns.
func firstKey(ns string, orig []protocol.Value, rewritten [][]byte) (string, bool) {
	for i := 1; i < len(orig) && i < len(rewritten); i++ {
		key := orig[i].Str
		if len(rewritten[i]) == len(ns)+len(key) && string(rewritten[i]) == ns+key {
			return key, true
		}
	}
	return "", false
}

// forward sends a command upstream and relays the rewritten reply.
func (s *session) forward(ctx context.Context, name, rule string, cmd [][]byte) bool {
	ctx, span := s.srv.tracer.Start(ctx, "proxy "+name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", name),
			attribute.String("nsredis.namespace", s.srv.cfg.Namespace),
			attribute.String("nsredis.rule", rule),
			attribute.String("nsredis.session", s.id),
		))
	defer span.End()

	start := time.Now()
	reply, err := s.upstream.Roundtrip(ctx, cmd)
	s.srv.metrics.Duration.WithLabelValues(rule).Observe(time.Since(start).Seconds())
	s.srv.metrics.Commands.WithLabelValues(rule).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.upstreamFailed(err)
		return true
	}

	out, err := s.translate(name, reply)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("reply rewrite failed", "cmd", name, "err", err)
		s.reject(reasonRewrite, "ERR "+err.Error())
		return false
	}
	return !s.write(func(w *protocol.Writer) error { return w.WriteValue(out) })
}

// translate removes the namespace from reply and tracks MULTI/EXEC state.
func (s *session) translate(name string, reply protocol.Value) (protocol.Value, error) {
	ns := s.srv.cfg.Namespace
	if reply.Type == protocol.TypeError {
		if name == "exec" || name == "discard" {
			s.inMulti, s.queued = false, nil
		}
		return reply, nil
	}

	switch {
	case name == "multi":
		s.inMulti, s.queued = true, nil
		return reply, nil
	case name == "discard":
		s.inMulti, s.queued = false, nil
		return reply, nil
	case name == "exec":
		queued := s.queued
		s.inMulti, s.queued = false, nil
		if reply.Null || len(reply.Array) != len(queued) {
			return reply, nil
		}
		out := reply
		out.Array = make([]protocol.Value, len(reply.Array))
		for i, item := range reply.Array {
			rewritten, err := rewriteReply(ns, queued[i], item)
			if err != nil {
				return protocol.Value{}, err
			}
			out.Array[i] = rewritten
		}
		return out, nil
	case s.inMulti:
		s.queued = append(s.queued, name)
		return reply, nil
	}
	return rewriteReply(ns, name, reply)
}

func rewriteReply(ns, name string, reply protocol.Value) (protocol.Value, error) {
	if reply.Type == protocol.TypeError {
		return reply, nil
	}
	nv, err := namespace.RewriteResponse(ns, name, protocol.ToNamespace(reply))
	if err != nil {
		return protocol.Value{}, err
	}
	return protocol.Rebuild(reply, nv), nil
}

// send writes a subscriber command whose replies arrive through pump.
func (s *session) send(ctx context.Context, rule string, cmd [][]byte) bool {
	s.srv.metrics.Commands.WithLabelValues(rule).Inc()
	if err := s.upstream.Send(ctx, cmd); err != nil {
		s.upstreamFailed(err)
		return true
	}
	return false
}

// pump relays pushes from the upstream subscription until either side closes.
func (s *session) pump() {
	defer close(s.pumpDone)
	ns := s.srv.cfg.Namespace
	for {
		v, err := s.upstream.Receive(context.Background())
		if err != nil {
			if !errors.Is(err, client.ErrClosed) {
				s.srv.metrics.UpstreamErrors.Inc()
				s.logger.Warn("upstream subscription failed", "err", err)
			}
			s.close()
			return
		}

		out := v
		if v.Type == protocol.TypeArray || v.Type == protocol.TypePush {
			nv, err := namespace.RewriteMessage(ns, protocol.ToNamespace(v))
			if err != nil {
				s.logger.Warn("message rewrite failed", "err", err)
				continue
			}
			out = protocol.Rebuild(v, nv)
		}
		if !s.write(func(w *protocol.Writer) error { return w.WriteValue(out) }) {
			s.close()
			return
		}
	}
}

func (s *session) upstreamFailed(err error) {
	s.srv.metrics.UpstreamErrors.Inc()
	s.logger.Warn("upstream failed", "upstream", s.srv.cfg.Upstream.Addr, "err", err)
	s.writeError("ERR upstream unavailable: " + err.Error())
}

func (s *session) reject(reason, msg string) {
	s.srv.metrics.Rejected.WithLabelValues(reason).Inc()
	s.logger.Debug("command rejected", "reason", reason)
	s.writeError(msg)
}

func (s *session) writeError(msg string) {
	s.write(func(w *protocol.Writer) error { return w.WriteError(msg) })
}

// write serializes writes from the command loop and the pump. It reports
// whether the write succeeded.
func (s *session) write(fn func(*protocol.Writer) error) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := fn(s.wr); err != nil {
		if !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("write failed", "err", err)
		}
		return false
	}
	return true
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.conn.Close()
		s.upstream.Close()
	})
}

func argPreview(args []protocol.Value) string {
	var b strings.Builder
	for i, a := range args {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, "'%s' ", a.Str)
	}
	return b.String()
}
