package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashdb/nsredis/internal/hotkeys"
	"github.com/flashdb/nsredis/internal/logger"
)

type fakeBackend struct {
	pingErr error
}

func (f *fakeBackend) Namespace() string              { return "tenant:" }
func (f *fakeBackend) Sessions() int                  { return 3 }
func (f *fakeBackend) TotalCommands() int64           { return 42 }
func (f *fakeBackend) Uptime() time.Duration          { return 90 * time.Second }
func (f *fakeBackend) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeBackend) HotKeys(n int) []hotkeys.Entry {
	top := []hotkeys.Entry{{Key: "user:1", Count: 9}, {Key: "user:2", Count: 4}}
	if n > 0 && n < len(top) {
		top = top[:n]
	}
	return top
}

func newTestWebServer(t *testing.T, b *fakeBackend) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(":0", b, reg, logger.Discard()), reg
}

func do(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthAndReadiness(t *testing.T) {
	b := &fakeBackend{}
	s, _ := newTestWebServer(t, b)
	h := s.routes()

	rr := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)

	rr = do(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"ready":true`)

	b.pingErr = errors.New("connection refused")
	rr = do(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "connection refused")

	rr = do(t, h, http.MethodPost, "/healthz", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestMetrics(t *testing.T) {
	s, reg := newTestWebServer(t, &fakeBackend{})
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "nsredis_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(7)

	rr := do(t, s.routes(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "nsredis_test_total 7")
}

func TestStats(t *testing.T) {
	s, _ := newTestWebServer(t, &fakeBackend{})

	rr := do(t, s.routes(), http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, "tenant:", stats.Namespace)
	assert.Equal(t, 3, stats.Sessions)
	assert.Equal(t, int64(42), stats.TotalCommands)
	assert.Equal(t, int64(90), stats.Uptime)
	assert.Equal(t, "1m 30s", stats.UptimeHuman)
}

func TestHotKeys(t *testing.T) {
	s, _ := newTestWebServer(t, &fakeBackend{})
	h := s.routes()

	rr := do(t, h, http.MethodGet, "/api/v1/hotkeys?n=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Namespace string          `json:"namespace"`
		Keys      []hotkeys.Entry `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "tenant:", resp.Namespace)
	assert.Equal(t, []hotkeys.Entry{{Key: "user:1", Count: 9}}, resp.Keys)

	rr = do(t, h, http.MethodGet, "/api/v1/hotkeys?n=x", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRules(t *testing.T) {
	s, _ := newTestWebServer(t, &fakeBackend{})
	h := s.routes()

	rr := do(t, h, http.MethodGet, "/api/v1/rules?command=BLPOP&command=memory+usage", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var rules []RuleInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rules))
	assert.Equal(t, []RuleInfo{
		{Command: "blpop", Before: "exclude_last", After: "first"},
		{Command: "memory usage", Before: "first", After: "none"},
	}, rules)

	rr = do(t, h, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rules))
	assert.Greater(t, len(rules), 100)

	rr = do(t, h, http.MethodGet, "/api/v1/rules?command=nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRewrite(t *testing.T) {
	s, _ := newTestWebServer(t, &fakeBackend{})
	h := s.routes()

	tests := []struct {
		name string
		body string
		want []string
		cmd  string
	}{
		{
			name: "command line",
			body: `{"command":"MSET a 1 b 2"}`,
			want: []string{"MSET", "tenant:a", "1", "tenant:b", "2"},
			cmd:  "mset",
		},
		{
			name: "quoted",
			body: `{"command":"SET 'my key' \"a b\""}`,
			want: []string{"SET", "tenant:my key", "a b"},
			cmd:  "set",
		},
		{
			name: "explicit args",
			body: `{"command":"EVAL","args":["return 1","1","k","v"]}`,
			want: []string{"EVAL", "return 1", "1", "tenant:k", "v"},
			cmd:  "eval",
		},
		{
			name: "georadius store",
			body: `{"command":"GEORADIUS places 15 37 200 km STORE near"}`,
			want: []string{"GEORADIUS", "tenant:places", "15", "37", "200", "km", "STORE", "tenant:near"},
			cmd:  "georadius",
		},
		{
			name: "scan",
			body: `{"command":"SCAN 0"}`,
			want: []string{"SCAN", "0", "match", "tenant:*"},
			cmd:  "scan",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/api/v1/rewrite", []byte(tt.body))
			require.Equal(t, http.StatusOK, rr.Code)
			var resp RewriteResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.True(t, resp.Success)
			assert.Equal(t, tt.want, resp.Args)
			assert.Equal(t, tt.cmd, resp.Command)
			assert.Equal(t, "tenant:", resp.Namespace)
		})
	}

	rr := do(t, h, http.MethodPost, "/api/v1/rewrite", []byte(`{"command":"  "}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, h, http.MethodPost, "/api/v1/rewrite", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, h, http.MethodGet, "/api/v1/rewrite", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestParseCommand(t *testing.T) {
	assert.Equal(t, []string{"SET", "a b", "c"}, parseCommand(`SET "a b"  c`))
	assert.Empty(t, parseCommand("   "))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", formatDuration(5*time.Second))
	assert.Equal(t, "2h 0m 1s", formatDuration(2*time.Hour+time.Second))
	assert.Equal(t, "1d 1h 0m 0s", formatDuration(25*time.Hour))
}
