package client

import (
	"context"
	"strconv"
	"time"

	"github.com/flashdb/nsredis/internal/namespace"
)

// Ping sends PING and returns the server's reply text.
func (c *Client) Ping(ctx context.Context) (string, error) {
	v, err := c.Do(ctx, "PING")
	if err != nil {
		return "", err
	}
	return toString(v)
}

// Get returns the value of key, or Nil if it does not exist.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.Do(ctx, "GET", key)
	if err != nil {
		return "", err
	}
	return toString(v)
}

// Set stores value at key. A positive ttl sets an expiry with millisecond
// precision.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	args := []any{"SET", key, value}
	if ttl > 0 {
		args = append(args, "PX", ttl.Milliseconds())
	}
	_, err := c.Do(ctx, args...)
	return err
}

// Del removes keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	v, err := c.Do(ctx, "DEL", keys)
	if err != nil {
		return 0, err
	}
	return toInt(v)
}

// Exists returns how many of keys exist.
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	v, err := c.Do(ctx, "EXISTS", keys)
	if err != nil {
		return 0, err
	}
	return toInt(v)
}

// MGet returns the values of keys. Missing keys yield "" and a false entry
// in found.
func (c *Client) MGet(ctx context.Context, keys ...string) (values []string, found []bool, err error) {
	v, err := c.Do(ctx, "MGET", keys)
	if err != nil {
		return nil, nil, err
	}
	items := v.Items()
	values = make([]string, len(items))
	found = make([]bool, len(items))
	for i, item := range items {
		s, err := toString(item)
		if err == Nil {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		values[i], found[i] = s, true
	}
	return values, found, nil
}

// MSet stores every key/value pair of kv.
func (c *Client) MSet(ctx context.Context, kv map[string]string) error {
	_, err := c.Do(ctx, "MSET", kv)
	return err
}

// Keys returns the keys matching pattern inside the namespace.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	v, err := c.Do(ctx, "KEYS", pattern)
	if err != nil {
		return nil, err
	}
	return toStrings(v)
}

// Scan returns one page of keys. An empty match scans the whole namespace.
func (c *Client) Scan(ctx context.Context, cursor uint64, match string, count int64) (ScanResult, error) {
	args := []any{"SCAN", strconv.FormatUint(cursor, 10)}
	if match != "" {
		args = append(args, "MATCH", match)
	}
	if count > 0 {
		args = append(args, "COUNT", count)
	}
	v, err := c.Do(ctx, args...)
	if err != nil {
		return ScanResult{}, err
	}
	return toScan(v)
}

// ScanEach calls fn for every key returned by a full SCAN iteration.
// Returning an error from fn stops the iteration.
func (c *Client) ScanEach(ctx context.Context, match string, count int64, fn func(key string) error) error {
	var cursor uint64
	for {
		page, err := c.Scan(ctx, cursor, match, count)
		if err != nil {
			return err
		}
		for _, key := range page.Keys {
			if err := fn(key); err != nil {
				return err
			}
		}
		if page.Cursor == 0 {
			return nil
		}
		cursor = page.Cursor
	}
}

// HSet sets fields of the hash at key and returns how many were added.
func (c *Client) HSet(ctx context.Context, key string, fields map[string]string) (int64, error) {
	v, err := c.Do(ctx, "HSET", key, flatten(fields))
	if err != nil {
		return 0, err
	}
	return toInt(v)
}

// HGetAll returns every field of the hash at key.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	v, err := c.Do(ctx, "HGETALL", key)
	if err != nil {
		return nil, err
	}
	return toStringMap(v)
}

// Publish sends message on channel and returns the number of receivers.
func (c *Client) Publish(ctx context.Context, channel string, message any) (int64, error) {
	v, err := c.Do(ctx, "PUBLISH", channel, message)
	if err != nil {
		return 0, err
	}
	return toInt(v)
}

// Eval runs a Lua script. keys are namespaced, args are not.
func (c *Client) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	cmd := make([]any, 0, 3+len(keys)+len(args))
	cmd = append(cmd, "EVAL", script, strconv.Itoa(len(keys)))
	for _, key := range keys {
		cmd = append(cmd, key)
	}
	cmd = append(cmd, args...)

	v, err := c.Do(ctx, cmd...)
	if err != nil {
		return nil, err
	}
	return Natural(v), nil
}

// SortOptions are the optional clauses of SORT. Patterns and Store are given
// without the namespace.
type SortOptions struct {
	By     string
	Offset int64
	Count  int64 // LIMIT is sent when Count > 0
	Get    []string
	Desc   bool
	Alpha  bool
	Store  string
}

// Sort runs SORT on key. With Store set it returns the number of stored
// elements as a single-element slice.
func (c *Client) Sort(ctx context.Context, key string, opts SortOptions) ([]string, error) {
	args := []any{"SORT", key}
	if opts.By != "" {
		args = append(args, "BY", opts.By)
	}
	if opts.Count > 0 {
		args = append(args, "LIMIT", opts.Offset, opts.Count)
	}
	for _, pattern := range opts.Get {
		args = append(args, "GET", pattern)
	}
	if opts.Desc {
		args = append(args, "DESC")
	}
	if opts.Alpha {
		args = append(args, "ALPHA")
	}
	if opts.Store != "" {
		args = append(args, "STORE", opts.Store)
	}

	v, err := c.Do(ctx, args...)
	if err != nil {
		return nil, err
	}
	if n, ok := v.Raw().(int64); ok {
		return []string{strconv.FormatInt(n, 10)}, nil
	}
	return toStrings(v)
}

// GeoRadiusOptions are the optional clauses of GEORADIUS and
// GEORADIUSBYMEMBER.
type GeoRadiusOptions struct {
	WithCoord bool
	WithDist  bool
	WithHash  bool
	Count     int64
	Sort      string // "ASC" or "DESC"
	Store     string
	StoreDist string
}

func (o GeoRadiusOptions) args() []any {
	var args []any
	if o.WithCoord {
		args = append(args, "WITHCOORD")
	}
	if o.WithDist {
		args = append(args, "WITHDIST")
	}
	if o.WithHash {
		args = append(args, "WITHHASH")
	}
	if o.Count > 0 {
		args = append(args, "COUNT", o.Count)
	}
	if o.Sort != "" {
		args = append(args, o.Sort)
	}
	if o.Store != "" {
		args = append(args, "STORE", o.Store)
	}
	if o.StoreDist != "" {
		args = append(args, "STOREDIST", o.StoreDist)
	}
	return args
}

// GeoRadius queries the geo set at key around a longitude/latitude. The key
// and the store targets are namespaced by Do.
func (c *Client) GeoRadius(ctx context.Context, key string, longitude, latitude, radius float64, unit string, opts GeoRadiusOptions) (namespace.Value, error) {
	args := []any{"GEORADIUS", key, longitude, latitude, radius, unit}
	return c.Do(ctx, append(args, opts.args()...)...)
}

// GeoRadiusByMember is GeoRadius centred on an existing member.
func (c *Client) GeoRadiusByMember(ctx context.Context, key, member string, radius float64, unit string, opts GeoRadiusOptions) (namespace.Value, error) {
	args := []any{"GEORADIUSBYMEMBER", key, member, radius, unit}
	return c.Do(ctx, append(args, opts.args()...)...)
}

func flatten(m map[string]string) []string {
	v := namespace.Of(m)
	out := make([]string, 0, 2*len(m))
	for _, p := range v.Pairs() {
		k, _ := p.Key.Str()
		val, _ := p.Val.Str()
		out = append(out, k, val)
	}
	return out
}
