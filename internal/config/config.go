// Package config loads nsproxy configuration from defaults, an optional YAML
// file and NSREDIS_ environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/flashdb/nsredis/internal/logger"
	"github.com/flashdb/nsredis/internal/proxy"
)

// EnvPrefix is the prefix of environment overrides. NSREDIS_PROXY_MAX_CLIENTS
// sets proxy.max_clients.
const EnvPrefix = "NSREDIS_"

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the nsproxy configuration.
type Config struct {
	// Namespace is the key prefix applied to every proxied command.
	Namespace string         `koanf:"namespace"`
	Proxy     ProxyConfig    `koanf:"proxy"`
	Upstream  UpstreamConfig `koanf:"upstream"`
	Admin     AdminConfig    `koanf:"admin"`
	Log       LogConfig      `koanf:"log"`
	Tracing   TracingConfig  `koanf:"tracing"`
}

// ProxyConfig controls the client-facing listener.
type ProxyConfig struct {
	Addr        string        `koanf:"addr"`
	MaxClients  int           `koanf:"max_clients"`
	IdleTimeout time.Duration `koanf:"idle_timeout"`
	// RateLimit is commands per second per connection; 0 disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
	// Strict rejects commands missing from the registry.
	Strict bool `koanf:"strict"`
	// Deny lists commands that are never forwarded.
	Deny []string `koanf:"deny"`
	// HotKeys caps the access tracker; 0 disables it.
	HotKeys        int           `koanf:"hot_keys"`
	HotKeyHalfLife time.Duration `koanf:"hot_key_half_life"`
}

// UpstreamConfig describes the Redis server behind the proxy.
type UpstreamConfig struct {
	Addr         string        `koanf:"addr"`
	Username     string        `koanf:"username"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// AdminConfig controls the HTTP endpoint serving /metrics and /healthz.
type AdminConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// LogConfig is passed to logger.New.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TracingConfig enables OTLP/HTTP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Proxy: ProxyConfig{
			Addr:           ":6380",
			MaxClients:     10000,
			Deny:           proxy.DefaultDeny(),
			HotKeys:        1024,
			HotKeyHalfLife: time.Minute,
		},
		Upstream: UpstreamConfig{
			Addr:         "127.0.0.1:6379",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		Admin: AdminConfig{
			Enabled: true,
			Addr:    ":9121",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName: "nsproxy",
		},
	}
}

// Load reads path (skipped when empty) and the environment over Default
// and validates the result.
func Load(path string) (Config, error) {
	return LoadWith(path, nil)
}

// LoadWith is Load with a final layer of overrides, keyed by dotted koanf
// paths. Command-line flags use it.
func LoadWith(path string, overrides map[string]any) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}
	if len(overrides) > 0 {
		if err := k.Load(mapProvider(overrides), nil); err != nil {
			return Config{}, fmt.Errorf("config: load overrides: %w", err)
		}
	}
	return unmarshal(k)
}

// LoadMap applies overrides over Default. Keys are dotted koanf paths such
// as "proxy.addr".
func LoadMap(overrides map[string]any) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(mapProvider(overrides), nil); err != nil {
		return Config{}, fmt.Errorf("config: load map: %w", err)
	}
	return unmarshal(k)
}

func unmarshal(k *koanf.Koanf) (Config, error) {
	cfg := Default()
	// Decoding onto a non-empty slice would merge element-wise.
	if k.Exists("proxy.deny") {
		cfg.Proxy.Deny = nil
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKey maps NSREDIS_UPSTREAM_READ_TIMEOUT to upstream.read_timeout: the
// first underscore separates the section from the field.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(s, "_")
	if !ok {
		return section
	}
	return section + "." + field
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Namespace == "":
		return fmt.Errorf("%w: namespace is required", ErrInvalid)
	case c.Proxy.Addr == "":
		return fmt.Errorf("%w: proxy.addr is required", ErrInvalid)
	case c.Upstream.Addr == "":
		return fmt.Errorf("%w: upstream.addr is required", ErrInvalid)
	case c.Proxy.MaxClients < 0:
		return fmt.Errorf("%w: proxy.max_clients must not be negative", ErrInvalid)
	case c.Proxy.RateLimit < 0:
		return fmt.Errorf("%w: proxy.rate_limit must not be negative", ErrInvalid)
	case c.Proxy.RateLimit > 0 && c.Proxy.Burst < 1:
		return fmt.Errorf("%w: proxy.burst must be at least 1 when rate_limit is set", ErrInvalid)
	case c.Proxy.HotKeys < 0:
		return fmt.Errorf("%w: proxy.hot_keys must not be negative", ErrInvalid)
	case c.Upstream.DB < 0:
		return fmt.Errorf("%w: upstream.db must not be negative", ErrInvalid)
	case c.Admin.Enabled && c.Admin.Addr == "":
		return fmt.Errorf("%w: admin.addr is required when admin is enabled", ErrInvalid)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	return nil
}

// mapProvider serves a map to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return unflatten(out), nil
}

// unflatten turns {"proxy.addr": x} into {"proxy": {"addr": x}}.
func unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = v
	}
	return out
}
