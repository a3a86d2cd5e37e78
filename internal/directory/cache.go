package directory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"pointdist/pkg/platform/circuit"
)

const cacheKeyPrefix = "pointdist:directory:"

// Lookuper is the lookup half of the directory.
type Lookuper interface {
	ListAccounts(ctx context.Context, group string) ([]Entry, error)
	Lookup(ctx context.Context, group, accountID string) (Entry, error)
}

// CachedClient serves Lookup from Redis when it can. Cache failures are
// logged and fall through to the directory; after repeated failures a
// circuit breaker stops calling Redis until a probe succeeds. ListAccounts is
// never cached so new accounts show up on the next sync.
type CachedClient struct {
	next    Lookuper
	redis   redis.Cmdable
	ttl     time.Duration
	logger  *slog.Logger
	breaker *circuit.Breaker
}

type CacheOption func(*CachedClient)

// WithBreaker replaces the default Redis circuit breaker.
func WithBreaker(b *circuit.Breaker) CacheOption {
	return func(c *CachedClient) {
		if b != nil {
			c.breaker = b
		}
	}
}

// NewCachedClient decorates next with a Redis lookup cache.
func NewCachedClient(next Lookuper, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger, opts ...CacheOption) *CachedClient {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CachedClient{
		next:    next,
		redis:   rdb,
		ttl:     ttl,
		logger:  logger,
		breaker: circuit.New("directory-cache", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(1)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(group, accountID string) string {
	return cacheKeyPrefix + group + ":" + accountID
}

func (c *CachedClient) ListAccounts(ctx context.Context, group string) ([]Entry, error) {
	return c.next.ListAccounts(ctx, group)
}

func (c *CachedClient) Lookup(ctx context.Context, group, accountID string) (Entry, error) {
	key := cacheKey(group, accountID)
	useCache := c.breaker.Allow()
	if useCache {
		raw, err := c.redis.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			c.cacheOK(ctx)
			var entry Entry
			if jsonErr := json.Unmarshal(raw, &entry); jsonErr == nil {
				return entry, nil
			}
			c.logger.WarnContext(ctx, "discarding corrupt directory cache entry", "key", key)
		case errors.Is(err, redis.Nil):
			c.cacheOK(ctx)
		default:
			useCache = c.cacheFailed(ctx, "read", err)
		}
	}

	entry, err := c.next.Lookup(ctx, group, accountID)
	if err != nil {
		return Entry{}, err
	}

	if useCache {
		payload, err := json.Marshal(entry)
		if err == nil {
			if setErr := c.redis.Set(ctx, key, payload, c.ttl).Err(); setErr != nil {
				c.cacheFailed(ctx, "write", setErr)
			}
		}
	}
	return entry, nil
}

func (c *CachedClient) cacheOK(ctx context.Context) {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "directory cache re-enabled", "breaker", c.breaker.Name())
	}
}

// cacheFailed records a Redis failure and reports whether the cache may
// still be used for this call.
func (c *CachedClient) cacheFailed(ctx context.Context, op string, err error) bool {
	c.logger.WarnContext(ctx, "directory cache "+op+" failed", "error", err)
	useFallback, change := c.breaker.RecordFailure()
	if change.Opened {
		c.logger.WarnContext(ctx, "directory cache disabled", "breaker", c.breaker.Name())
	}
	return !useFallback
}
