// Package redis stores run summaries in Redis: one hash per run keyed by
// direction, plus a capped list of the most recent summaries.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/crimson-sun/speedtrace/internal/model"
)

const (
	defaultPrefix  = "speedtrace:"
	defaultKeep    = 1000
	defaultTimeout = 5 * time.Second
)

// Client is the subset of *goredis.Client the output uses.
type Client interface {
	HSet(ctx context.Context, key string, values ...any) *goredis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd
	LPush(ctx context.Context, key string, values ...any) *goredis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *goredis.StatusCmd
	Close() error
}

// Option configures a redis Output.
type Option func(*Output)

// WithPrefix sets the key prefix. Default: "speedtrace:".
func WithPrefix(p string) Option {
	return func(o *Output) { o.prefix = p }
}

// WithTTL expires run hashes after d. Default: no expiry.
func WithTTL(d time.Duration) Option {
	return func(o *Output) { o.ttl = d }
}

// WithKeep caps the recent-runs list at n entries. Default: 1000.
func WithKeep(n int64) Option {
	return func(o *Output) { o.keep = n }
}

// WithClient replaces the client built from the URL.
func WithClient(c Client) Option {
	return func(o *Output) { o.client = c }
}

// Output writes summaries to Redis.
type Output struct {
	client Client
	prefix string
	ttl    time.Duration
	keep   int64
}

// New creates a redis output for a redis:// or rediss:// URL. No connection
// is made until the first Write.
func New(url string, opts ...Option) (*Output, error) {
	o := &Output{prefix: defaultPrefix, keep: defaultKeep}
	for _, opt := range opts {
		opt(o)
	}
	if o.client == nil {
		opt, err := goredis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("redis output: parse url: %w", err)
		}
		o.client = goredis.NewClient(opt)
	}
	return o, nil
}

// RunKey returns the hash key holding a run's summaries.
func (o *Output) RunKey(runID string) string {
	return o.prefix + "run:" + runID
}

// ListKey returns the key of the recent-runs list.
func (o *Output) ListKey() string {
	return o.prefix + "runs"
}

// Write stores the result's summary under its run hash and pushes it onto
// the recent-runs list.
func (o *Output) Write(ctx context.Context, res *model.Result) error {
	if res.RunID == "" {
		return fmt.Errorf("redis output: result has no run id")
	}
	data, err := json.Marshal(res.Summary())
	if err != nil {
		return fmt.Errorf("redis output: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	key := o.RunKey(res.RunID)
	if err := o.client.HSet(ctx, key, string(res.Direction), data).Err(); err != nil {
		return fmt.Errorf("redis output: hset %s: %w", key, err)
	}
	if o.ttl > 0 {
		if err := o.client.Expire(ctx, key, o.ttl).Err(); err != nil {
			return fmt.Errorf("redis output: expire %s: %w", key, err)
		}
	}
	list := o.ListKey()
	if err := o.client.LPush(ctx, list, data).Err(); err != nil {
		return fmt.Errorf("redis output: lpush %s: %w", list, err)
	}
	if o.keep > 0 {
		if err := o.client.LTrim(ctx, list, 0, o.keep-1).Err(); err != nil {
			return fmt.Errorf("redis output: ltrim %s: %w", list, err)
		}
	}
	return nil
}

// Close closes the client.
func (o *Output) Close() error {
	if err := o.client.Close(); err != nil {
		return fmt.Errorf("redis output: close: %w", err)
	}
	return nil
}
