// Package proxy implements a RESP proxy that confines unmodified Redis
// clients to a key namespace. Every client connection gets its own upstream
// connection; commands are rewritten on the way in and replies on the way out.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/flashdb/nsredis/internal/client"
	"github.com/flashdb/nsredis/internal/hotkeys"
	"github.com/flashdb/nsredis/internal/protocol"
)

const tracerName = "github.com/flashdb/nsredis/internal/proxy"

// Config holds proxy configuration.
type Config struct {
	// Addr is the listen address.
	Addr string
	// Namespace is prepended to every key.
	Namespace  string
	MaxClients int
	// IdleTimeout closes client connections idle for longer. Zero disables it.
	IdleTimeout time.Duration
	// RateLimit is commands per second per connection. Zero disables it.
	RateLimit float64
	Burst     int
	// Strict rejects commands missing from the registry.
	Strict bool
	// Deny lists command names that are never forwarded.
	Deny []string
	// HotKeys is how many distinct keys the access tracker keeps. Zero
	// disables tracking.
	HotKeys int
	// HotKeyHalfLife halves every tracked count at this interval.
	HotKeyHalfLife time.Duration
	// Upstream configures the per-client upstream connection. Its Namespace
	// field is ignored.
	Upstream client.Options
}

// DefaultConfig returns the default proxy configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":6380",
		MaxClients:     10000,
		Deny:           DefaultDeny(),
		HotKeys:        1024,
		HotKeyHalfLife: time.Minute,
		Upstream:       client.Options{Addr: "127.0.0.1:6379"},
	}
}

// DefaultDeny lists the commands that reach past the namespace: they act on
// the whole server or database, move keys to another database, or return
// keys of other namespaces.
func DefaultDeny() []string {
	return []string{
		"flushdb", "flushall", "swapdb", "select", "move", "randomkey",
		"shutdown", "config", "script", "debug",
		"save", "bgsave", "bgrewriteaof", "slaveof", "replicaof",
	}
}

// unsupported commands take over the connection in ways a rewriting relay
// cannot follow.
var unsupported = map[string]bool{
	"monitor": true,
	"sync":    true,
	"psync":   true,
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the collectors. The default is an unregistered set.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTracerProvider sets the tracer provider. The default is the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) { s.tracer = tp.Tracer(tracerName) }
}

// Server is the namespacing proxy.
type Server struct {
	cfg     Config
	deny    atomic.Pointer[map[string]bool]
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	hot     *hotkeys.Tracker

	mu        sync.RWMutex
	listener  net.Listener
	closed    bool
	sessions  map[string]*session
	wg        sync.WaitGroup
	startTime time.Time
	totalCmds atomic.Int64
}

// New creates a Server.
func New(cfg Config, opts ...Option) *Server {
	cfg.Upstream.Namespace = ""

	s := &Server{
		cfg:       cfg,
		logger:    slog.Default(),
		tracer:    otel.GetTracerProvider().Tracer(tracerName),
		sessions:  make(map[string]*session),
		startTime: time.Now(),
	}
	s.SetDeny(cfg.Deny)
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if cfg.HotKeys > 0 {
		s.hot = hotkeys.New(cfg.HotKeys, cfg.HotKeyHalfLife)
	}
	s.cfg.Upstream.Logger = s.logger
	return s
}

// SetDeny replaces the deny list. Commands already being forwarded are not
// affected.
func (s *Server) SetDeny(names []string) {
	deny := make(map[string]bool, len(names))
	for _, name := range names {
		deny[strings.ToLower(strings.TrimSpace(name))] = true
	}
	s.deny.Store(&deny)
}

// denied reports whether verb or the resolved command name is denied.
func (s *Server) denied(verb, name string) bool {
	deny := *s.deny.Load()
	return deny[verb] || deny[name]
}

// Namespace returns the namespace applied to every client.
func (s *Server) Namespace() string { return s.cfg.Namespace }

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("proxy: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("proxy listening",
		"addr", ln.Addr().String(),
		"upstream", s.cfg.Upstream.Addr,
		"namespace", s.cfg.Namespace,
		"strict", s.cfg.Strict)

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", "err", err)
			select {
			case <-time.After(acceptBackoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		sess, err := s.register(conn)
		if errors.Is(err, errClosed) {
			conn.Close()
			return nil
		}
		if err != nil {
			s.metrics.Rejected.WithLabelValues(reasonMaxClients).Inc()
			s.logger.Warn("max clients reached, rejecting connection", "remote", conn.RemoteAddr().String())
			w := protocol.NewWriter(conn)
			w.WriteError("ERR max number of clients reached")
			conn.Close()
			continue
		}

		go func() {
			defer s.wg.Done()
			defer s.unregister(sess)
			sess.serve(ctx)
		}()
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// acceptBackoff is the pause after a failed Accept, such as when the process
// runs out of file descriptors.
const acceptBackoff = 50 * time.Millisecond

var (
	errClosed     = errors.New("proxy: server closed")
	errMaxClients = errors.New("proxy: max clients reached")
)

func (s *Server) register(conn net.Conn) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	if s.cfg.MaxClients > 0 && len(s.sessions) >= s.cfg.MaxClients {
		return nil, errMaxClients
	}
	sess := newSession(s, ulid.Make().String(), conn)
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	s.metrics.Connections.Inc()
	return sess, nil
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	s.metrics.Connections.Dec()
}

// Close stops accepting, disconnects every client and waits for their
// handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, sess := range sessions {
		sess.close()
	}
	s.wg.Wait()
	if s.hot != nil {
		s.hot.Close()
	}
	s.logger.Info("proxy stopped")
	return err
}

// Sessions returns the number of connected clients.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// TotalCommands returns the number of commands received since start.
func (s *Server) TotalCommands() int64 { return s.totalCmds.Load() }

// Uptime returns the time since New.
func (s *Server) Uptime() time.Duration { return time.Since(s.startTime) }

// HotKeys returns the n most used namespace-relative keys, or nil when
// tracking is disabled.
func (s *Server) HotKeys(n int) []hotkeys.Entry {
	if s.hot == nil {
		return nil
	}
	return s.hot.Top(n)
}

// Ping dials the upstream server and sends PING.
func (s *Server) Ping(ctx context.Context) error {
	conn, err := client.Dial(ctx, s.cfg.Upstream)
	if err != nil {
		return err
	}
	defer conn.Close()

	reply, err := conn.Roundtrip(ctx, [][]byte{[]byte("PING")})
	if err != nil {
		return err
	}
	return reply.Err()
}
