package docs

import (
	"container/list"
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
)

// Store is one cache tier.
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

// LocalLRU is an in-process LRU with TTL.
type LocalLRU struct {
	mu   sync.Mutex
	cap  int
	list *list.List               // front = most recent
	m    map[string]*list.Element // key -> element
}

type lruEntry struct {
	key string
	val string
	exp time.Time
}

func NewLocalLRU(capacity int) *LocalLRU {
	if capacity <= 0 {
		capacity = 256
	}
	return &LocalLRU{cap: capacity, list: list.New(), m: make(map[string]*list.Element, capacity)}
}

func (l *LocalLRU) Get(_ context.Context, key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.m[key]; ok {
		ent := el.Value.(lruEntry)
		if ent.exp.After(time.Now()) {
			l.list.MoveToFront(el)
			return ent.val, true
		}
		l.list.Remove(el)
		delete(l.m, key)
	}
	return "", false
}

func (l *LocalLRU) Set(_ context.Context, key, value string, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ent := lruEntry{key: key, val: value, exp: time.Now().Add(ttl)}
	if el, ok := l.m[key]; ok {
		el.Value = ent
		l.list.MoveToFront(el)
		return
	}
	l.m[key] = l.list.PushFront(ent)
	if l.list.Len() > l.cap {
		if lru := l.list.Back(); lru != nil {
			delete(l.m, lru.Value.(lruEntry).key)
			l.list.Remove(lru)
		}
	}
}

// Len returns the number of live and expired entries held.
func (l *LocalLRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.Len()
}

// RedisStore is a circuit-breaker wrapped Redis tier shared across
// processes.
type RedisStore struct {
	cli *circuitbreaker.RedisWrapper
}

// NewRedisStore connects to addr and pings it once.
func NewRedisStore(ctx context.Context, addr string, logger *zap.Logger) (*RedisStore, error) {
	rc := redis.NewClient(&redis.Options{Addr: addr})
	wrapper := circuitbreaker.NewRedisWrapper(rc, "docs-cache", logger)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := wrapper.Ping(pingCtx); err != nil {
		_ = wrapper.Close()
		return nil, err
	}
	return &RedisStore{cli: wrapper}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool) {
	v, err := r.cli.Get(ctx, key)
	if err != nil {
		return "", false
	}
	return v, true
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) {
	_ = r.cli.Set(ctx, key, value, ttl)
}

func (r *RedisStore) Close() error { return r.cli.Close() }

// MakeKey derives the cache key for a library/topic pair.
func MakeKey(library, topic string) string {
	h := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(library)) + "|" + strings.ToLower(strings.TrimSpace(topic))))
	return "docs:" + hex.EncodeToString(h[:])
}

// Cache checks the local tier, then the remote tier, back-filling local on a
// remote hit.
type Cache struct {
	local  *LocalLRU
	remote Store
	ttl    time.Duration
}

// NewCache builds a two-tier cache. remote may be nil.
func NewCache(local *LocalLRU, remote Store, ttl time.Duration) *Cache {
	if local == nil {
		local = NewLocalLRU(0)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{local: local, remote: remote, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if v, ok := c.local.Get(ctx, key); ok {
		metrics.DocCacheHits.WithLabelValues("local").Inc()
		return v, true
	}
	if c.remote != nil {
		if v, ok := c.remote.Get(ctx, key); ok {
			metrics.DocCacheHits.WithLabelValues("redis").Inc()
			c.local.Set(ctx, key, v, c.ttl)
			return v, true
		}
	}
	metrics.DocCacheMisses.Inc()
	return "", false
}

func (c *Cache) Set(ctx context.Context, key, value string) {
	c.local.Set(ctx, key, value, c.ttl)
	if c.remote != nil {
		c.remote.Set(ctx, key, value, c.ttl)
	}
}

// CachedLookup serves Fetch from the cache when possible. Misses and errors
// are not cached.
type CachedLookup struct {
	inner  Lookup
	cache  *Cache
	logger *zap.Logger
}

func NewCachedLookup(inner Lookup, cache *Cache, logger *zap.Logger) *CachedLookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedLookup{inner: inner, cache: cache, logger: logger}
}

func (c *CachedLookup) Fetch(ctx context.Context, library, topic string) (string, error) {
	key := MakeKey(library, topic)
	if v, ok := c.cache.Get(ctx, key); ok {
		return v, nil
	}
	v, err := c.inner.Fetch(ctx, library, topic)
	if err != nil {
		if IsNotFound(err) {
			metrics.RecordCollaborator("docs", "not_found")
		} else {
			metrics.RecordCollaborator("docs", "error")
		}
		return "", err
	}
	metrics.RecordCollaborator("docs", "success")
	c.cache.Set(ctx, key, v)
	c.logger.Debug("Docs cached", zap.String("library", library), zap.Int("bytes", len(v)))
	return v, nil
}
