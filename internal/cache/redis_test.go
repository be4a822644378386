package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/rewards/config"
)

func TestDisabledCache(t *testing.T) {
	c, err := NewRedisCache(config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, c.Enabled())
	assert.NoError(t, c.Set(ctx, StatusKey("cap-gold"), map[string]int{"a": 1}, time.Minute))

	var out map[string]int
	assert.ErrorIs(t, c.Get(ctx, StatusKey("cap-gold"), &out), ErrDisabled)

	assert.NoError(t, c.MarkSoldOut(ctx, "cap-gold"))
	assert.False(t, c.IsSoldOut(ctx, "cap-gold"))
	assert.NoError(t, c.Invalidate(ctx, "cap-gold"))
	assert.NoError(t, c.Ping(ctx))
	assert.NoError(t, c.Close())
}

func TestNilCacheIsDisabled(t *testing.T) {
	var c *RedisCache
	assert.False(t, c.Enabled())
	assert.False(t, c.IsSoldOut(context.Background(), "cap-gold"))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "rewards:soldout:cap-gold", SoldOutKey("cap-gold"))
	assert.Equal(t, "rewards:status:cap-gold", StatusKey("cap-gold"))
}
