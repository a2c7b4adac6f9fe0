package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlm/internal/testutil"
)

type report struct {
	Root  string `json:"root"`
	Count int    `json:"count"`
}

func TestRedisCache(t *testing.T) {
	client := testutil.Redis(t)
	c := New(client, "test:")
	ctx := context.Background()

	var got report
	assert.ErrorIs(t, c.Get(ctx, "missing", &got), ErrMiss)

	require.NoError(t, c.Set(ctx, "r1", report{Root: "a", Count: 3}, time.Minute))
	require.NoError(t, c.Get(ctx, "r1", &got))
	assert.Equal(t, report{Root: "a", Count: 3}, got)

	// values live under the prefix
	raw, err := client.Get(ctx, "test:r1").Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"root":"a","count":3}`, raw)
	ttl, err := client.TTL(ctx, "test:r1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	n, err := c.Increment(ctx, "version")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = c.Increment(ctx, "version")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var version int64
	require.NoError(t, c.Get(ctx, "version", &version))
	assert.Equal(t, int64(2), version)
}
