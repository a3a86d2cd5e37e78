package directory

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pointdist/pkg/platform/circuit"
)

type stubDirectory struct {
	entries map[string]Entry
	lookups int
}

func (s *stubDirectory) ListAccounts(_ context.Context, _ string) ([]Entry, error) {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

func (s *stubDirectory) Lookup(_ context.Context, _, accountID string) (Entry, error) {
	s.lookups++
	e, ok := s.entries[accountID]
	if !ok {
		return Entry{}, NewError(ErrorNotFound, "lookup", "account not found", nil)
	}
	return e, nil
}

// Redis on a port nothing listens on: every cache call fails fast.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestCachedClientFallsThroughWhenRedisIsDown(t *testing.T) {
	var logs bytes.Buffer
	next := &stubDirectory{entries: map[string]Entry{
		"a1": {AccountID: "a1", Name: "Member One", Email: "member1@example.com"},
	}}
	c := NewCachedClient(next, unreachableRedis(t), time.Minute, slog.New(slog.NewTextHandler(&logs, nil)))

	entry, err := c.Lookup(context.Background(), "group-1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "member1@example.com", entry.Email)
	assert.Equal(t, 1, next.lookups)
	assert.Contains(t, logs.String(), "directory cache read failed")
}

func TestCachedClientPropagatesDirectoryErrors(t *testing.T) {
	c := NewCachedClient(&stubDirectory{}, unreachableRedis(t), time.Minute, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	_, err := c.Lookup(context.Background(), "group-1", "missing")
	var de *DirectoryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, ErrorNotFound, de.Category)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "pointdist:directory:group-1:a1", cacheKey("group-1", "a1"))
}

func TestCachedClientStopsCallingRedisAfterRepeatedFailures(t *testing.T) {
	var logs bytes.Buffer
	next := &stubDirectory{entries: map[string]Entry{
		"a1": {AccountID: "a1", Email: "member1@example.com"},
	}}
	breaker := circuit.New("test-cache", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	c := NewCachedClient(next, unreachableRedis(t), time.Minute,
		slog.New(slog.NewTextHandler(&logs, nil)), WithBreaker(breaker))

	for range 3 {
		_, err := c.Lookup(context.Background(), "group-1", "a1")
		require.NoError(t, err)
	}

	assert.True(t, breaker.IsOpen())
	assert.Equal(t, 3, next.lookups)
	assert.Contains(t, logs.String(), "directory cache disabled")
}
