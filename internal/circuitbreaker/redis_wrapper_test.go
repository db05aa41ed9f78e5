package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapper_NormalOperations(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, "doc-cache-test", zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, wrapper.Ping(ctx))
	require.NoError(t, wrapper.Set(ctx, "docs:react:hooks", "useEffect runs after render", time.Minute))

	val, err := wrapper.Get(ctx, "docs:react:hooks")
	require.NoError(t, err)
	assert.Equal(t, "useEffect runs after render", val)

	_, err = wrapper.Get(ctx, "docs:missing")
	assert.ErrorIs(t, err, redis.Nil)
	assert.False(t, wrapper.IsCircuitBreakerOpen())
}

func TestRedisWrapper_CircuitBreakerTriggering(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer client.Close()

	wrapper := NewRedisWrapper(client, "doc-cache-test", zaptest.NewLogger(t))
	ctx := context.Background()
	s.Close()

	for i := 0; i < 3; i++ {
		assert.Error(t, wrapper.Ping(ctx))
	}
	assert.True(t, wrapper.IsCircuitBreakerOpen())

	_, err = wrapper.Get(ctx, "any:key")
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

func TestRedisWrapper_RedisNilHandling(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, "doc-cache-test", zaptest.NewLogger(t))
	for i := 0; i < 10; i++ {
		_, err := wrapper.Get(context.Background(), "nonexistent:key")
		assert.ErrorIs(t, err, redis.Nil)
	}
	assert.False(t, wrapper.IsCircuitBreakerOpen())
}
