package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper wraps the documentation-cache redis client with a circuit
// breaker so an unreachable redis degrades to the in-process cache quickly.
type RedisWrapper struct {
	client  *redis.Client
	cb      *CircuitBreaker
	service string
	logger  *zap.Logger
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker
func NewRedisWrapper(client *redis.Client, service string, logger *zap.Logger) *RedisWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := NewCircuitBreaker("redis", GetRedisConfig().ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("redis", service, cb)
	return &RedisWrapper{client: client, cb: cb, service: service, logger: logger}
}

func (rw *RedisWrapper) record(err error) {
	GlobalMetricsCollector.RecordRequest("redis", rw.service, rw.cb.State(), err == nil)
}

// Ping wraps Redis Ping with circuit breaker
func (rw *RedisWrapper) Ping(ctx context.Context) error {
	err := rw.cb.Execute(ctx, func() error {
		return rw.client.Ping(ctx).Err()
	})
	rw.record(err)
	return err
}

// Get returns the value at key. A missing key returns redis.Nil and does
// not count against the breaker.
func (rw *RedisWrapper) Get(ctx context.Context, key string) (string, error) {
	var val string
	var missing bool
	err := rw.cb.Execute(ctx, func() error {
		v, err := rw.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			missing = true
			return nil
		}
		val = v
		return err
	})
	rw.record(err)
	if err != nil {
		return "", err
	}
	if missing {
		return "", redis.Nil
	}
	return val, nil
}

// Set wraps Redis Set with circuit breaker
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	err := rw.cb.Execute(ctx, func() error {
		return rw.client.Set(ctx, key, value, expiration).Err()
	})
	rw.record(err)
	return err
}

// Close wraps Redis Close
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
