// Package web provides the admin HTTP interface of the namespacing proxy:
// Prometheus metrics, health probes, runtime stats and an offline view of the
// namespacing rules.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flashdb/nsredis/internal/hotkeys"
	"github.com/flashdb/nsredis/internal/namespace"
	"github.com/flashdb/nsredis/internal/protocol"
	"github.com/flashdb/nsredis/internal/version"
)

const apiVersionPath = "/api/v1"

// Backend is the proxy state exposed over HTTP.
type Backend interface {
	Namespace() string
	Sessions() int
	TotalCommands() int64
	Uptime() time.Duration
	// HotKeys returns the n most used keys, nil when tracking is off.
	HotKeys(n int) []hotkeys.Entry
	// Ping checks that the upstream server answers.
	Ping(ctx context.Context) error
}

// Server is the admin HTTP server.
type Server struct {
	addr     string
	backend  Backend
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	server   *http.Server
}

// New creates an admin server. Metrics are read from g.
func New(addr string, b Backend, g prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		backend:  b,
		gatherer: g,
		logger:   logger,
	}
}

// RewriteRequest asks for the upstream form of a command. Either Command
// holds the whole command line, or Command is the name and Args the rest.
type RewriteRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// RewriteResponse is the rewritten command.
type RewriteResponse struct {
	Success   bool     `json:"success"`
	Command   string   `json:"command,omitempty"`
	Rule      string   `json:"rule,omitempty"`
	Namespace string   `json:"namespace,omitempty"`
	Args      []string `json:"args,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// RuleInfo describes one registry entry.
type RuleInfo struct {
	Command string `json:"command"`
	Before  string `json:"before"`
	After   string `json:"after"`
}

// StatsResponse represents proxy statistics.
type StatsResponse struct {
	Version       string `json:"version"`
	Namespace     string `json:"namespace"`
	Uptime        int64  `json:"uptime"`
	UptimeHuman   string `json:"uptime_human"`
	Sessions      int    `json:"sessions"`
	TotalCommands int64  `json:"total_commands"`
	GoRoutines    int    `json:"goroutines"`
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("admin listening", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	mux.HandleFunc(apiVersionPath+"/stats", s.handleStats)
	mux.HandleFunc(apiVersionPath+"/hotkeys", s.handleHotKeys)
	mux.HandleFunc(apiVersionPath+"/rules", s.handleRules)
	mux.HandleFunc(apiVersionPath+"/rewrite", s.handleRewrite)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady reports ready only while the upstream answers PING.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.backend.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "err", err)
		writeJSONWithStatus(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"ready":  false,
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, map[string]any{
		"status": "ready",
		"ready":  true,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := s.backend.Uptime()
	writeJSON(w, StatsResponse{
		Version:       version.Version,
		Namespace:     s.backend.Namespace(),
		Uptime:        int64(uptime.Seconds()),
		UptimeHuman:   formatDuration(uptime),
		Sessions:      s.backend.Sessions(),
		TotalCommands: s.backend.TotalCommands(),
		GoRoutines:    runtime.NumGoroutine(),
	})
}

// handleHotKeys returns the most used keys, ?n=10 by default.
func (s *Server) handleHotKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n := 10
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeJSONWithStatus(w, http.StatusBadRequest, map[string]any{"error": "n must be a non-negative integer"})
			return
		}
		n = parsed
	}

	keys := s.backend.HotKeys(n)
	if keys == nil {
		keys = []hotkeys.Entry{}
	}
	writeJSON(w, map[string]any{
		"namespace": s.backend.Namespace(),
		"keys":      keys,
	})
}

// handleRules lists registry rules, all of them or those named by
// ?command=get&command=memory+usage.
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names := r.URL.Query()["command"]
	if len(names) == 0 {
		names = namespace.Commands()
	}

	rules := make([]RuleInfo, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if !namespace.Known(name) {
			writeJSONWithStatus(w, http.StatusNotFound, map[string]any{
				"error": fmt.Sprintf("unknown command %q", name),
			})
			return
		}
		rule := namespace.Lookup(name)
		rules = append(rules, RuleInfo{Command: name, Before: rule.Before.String(), After: rule.After.String()})
	}
	writeJSON(w, rules)
}

// handleRewrite shows how a command would be sent upstream without sending it.
func (s *Server) handleRewrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RewriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, http.StatusBadRequest, RewriteResponse{Error: "invalid request"})
		return
	}

	parts := req.Args
	if len(parts) == 0 {
		parts = parseCommand(req.Command)
	} else {
		parts = append([]string{strings.TrimSpace(req.Command)}, parts...)
	}
	if len(parts) == 0 || parts[0] == "" {
		writeJSONWithStatus(w, http.StatusBadRequest, RewriteResponse{Error: "empty command"})
		return
	}

	args := make([]namespace.Value, len(parts))
	for i, p := range parts {
		args[i] = namespace.Str(p)
	}
	ns := s.backend.Namespace()
	name, _ := namespace.Resolve(args)
	wire := protocol.Args(namespace.RewriteGeoRadius(ns, namespace.RewriteArgs(ns, parts[0], args)))

	out := make([]string, len(wire))
	for i, a := range wire {
		out[i] = string(a)
	}
	writeJSON(w, RewriteResponse{
		Success:   true,
		Command:   name,
		Rule:      namespace.Lookup(name).String(),
		Namespace: ns,
		Args:      out,
	})
}

// parseCommand splits a command line on spaces, honouring single and double
// quotes.
func parseCommand(input string) []string {
	var parts []string
	var current strings.Builder
	inQuote := false
	quoteChar := byte(0)

	for i := 0; i < len(input); i++ {
		c := input[i]
		switch {
		case inQuote && c == quoteChar:
			inQuote = false
		case inQuote:
			current.WriteByte(c)
		case c == '"' || c == '\'':
			inQuote = true
			quoteChar = c
		case c == ' ':
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteByte(c)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeJSONWithStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// formatDuration formats a duration as "1d 2h 3m 4s", dropping leading zero
// units.
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, mins, secs)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, mins, secs)
	}
	if mins > 0 {
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%ds", secs)
}
