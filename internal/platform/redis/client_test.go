package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pointdist/internal/platform/config"
)

func TestOptions(t *testing.T) {
	cfg := config.Default().Redis
	cfg.URL = "redis://cache.internal:6380/2"

	opts, err := options(cfg)
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 10, opts.PoolSize)
	assert.Equal(t, 2, opts.MinIdleConns)
	assert.Equal(t, 3*time.Second, opts.ReadTimeout)
}

func TestOptionsRejectsBadURL(t *testing.T) {
	_, err := options(config.RedisConfig{URL: "http://not-redis"})
	assert.ErrorContains(t, err, "parse redis URL")
}

func TestNewWithoutURLIsDisabled(t *testing.T) {
	c, err := New(context.Background(), config.RedisConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	cfg := config.Default().Redis
	cfg.URL = "redis://127.0.0.1:1"
	cfg.DialTimeout = 50 * time.Millisecond

	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "redis ping 127.0.0.1:1")
}
