// Package ratelimit abstracts per-key request throttling behind a Limiter
// interface so a single-replica deployment can enforce limits with a local
// in-memory token bucket while a multi-replica deployment (see
// internal/leader and internal/messenger's Postgres LISTEN/NOTIFY backend)
// coordinates limits across every replica through Redis instead of each
// replica enforcing its own independent bucket.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result holds the outcome of a rate limit check.
type Result struct {
	Allowed   bool  // Whether the request is allowed.
	Remaining int   // Approximate tokens/requests remaining before the limit hits.
	ResetMs   int64 // Milliseconds until capacity becomes available (0 if allowed).
	Limit     int   // Maximum burst size / window capacity.
}

// Limiter abstracts rate limiting behind a simple interface. Implementations
// may be local (in-memory, per-process) or distributed (Redis, coordinating
// across every ratd replica).
type Limiter interface {
	// Allow checks whether a request identified by key (typically an IP
	// address) should be permitted.
	Allow(ctx context.Context, key string) (Result, error)

	// Close releases any resources held by the limiter (goroutines, Redis
	// connections).
	Close() error
}

// Config holds rate limiter configuration shared across implementations.
type Config struct {
	RequestsPerSecond float64       // Token refill rate / average rate.
	Burst             int           // Maximum burst size (local bucket capacity).
	Window            time.Duration // Sliding window size (Redis implementation only).
	CleanupInterval   time.Duration // How often LocalLimiter evicts stale entries.
}

// DefaultConfig returns sensible defaults (50 req/s, burst 100, 1-minute window).
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 50,
		Burst:             100,
		Window:            time.Minute,
		CleanupInterval:   5 * time.Minute,
	}
}

// tokenBucket implements a simple per-key token bucket.
type tokenBucket struct {
	tokens   float64
	maxBurst float64
	rate     float64 // tokens per second
	lastSeen time.Time
}

func (b *tokenBucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.lastSeen).Seconds()
	b.tokens += elapsed * b.rate
	if b.tokens > b.maxBurst {
		b.tokens = b.maxBurst
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// LocalLimiter is a concurrent-safe, in-memory per-key token bucket. It is
// correct for single-replica deployments. Under ratd's multi-replica
// topology each replica enforces its own independent bucket, so effective
// throughput per key scales with the number of replicas — use RedisLimiter
// when that's not acceptable.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	config  Config
	stop    chan struct{}
}

// NewLocalLimiter creates an in-memory rate limiter and starts its
// background cleanup goroutine.
func NewLocalLimiter(cfg Config) *LocalLimiter {
	l := &LocalLimiter{
		buckets: make(map[string]*tokenBucket),
		config:  cfg,
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{
			tokens:   float64(l.config.Burst),
			maxBurst: float64(l.config.Burst),
			rate:     l.config.RequestsPerSecond,
			lastSeen: now,
		}
		l.buckets[key] = b
	}

	allowed := b.allow(now)
	remaining := int(math.Max(0, b.tokens))
	var resetMs int64
	if !allowed && b.rate > 0 {
		resetMs = int64((1.0 - b.tokens) / b.rate * 1000)
		if resetMs < 0 {
			resetMs = 1000
		}
	}

	return Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetMs:   resetMs,
		Limit:     int(b.maxBurst),
	}, nil
}

func (l *LocalLimiter) cleanup() {
	interval := l.config.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-10 * time.Minute)
			for key, b := range l.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *LocalLimiter) Close() error {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	return nil
}

// redisKeyPrefix namespaces rate limit keys in the shared Redis keyspace.
const redisKeyPrefix = "ratd:rl:"

// RedisLimiter coordinates rate limits across every ratd replica using a
// sliding window counter in Redis: each replica INCRs a per-window counter
// for key, and the previous window's count is weighted by how much of it
// still overlaps the current instant. This gives every replica the same
// view of a key's recent request rate regardless of which replica a given
// request landed on.
type RedisLimiter struct {
	client *redis.Client
	config Config
}

// NewRedisLimiter builds a RedisLimiter against redisURL (e.g.
// "redis://localhost:6379/0"). It does not dial eagerly — the first Allow
// call surfaces any connection error.
func NewRedisLimiter(redisURL string, cfg Config) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse redis url: %w", err)
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RedisLimiter{client: redis.NewClient(opts), config: cfg}, nil
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	window := r.config.Window
	now := time.Now()
	windowStart := now.Truncate(window)
	prevStart := windowStart.Add(-window)

	curKey := fmt.Sprintf("%s%s:%d", redisKeyPrefix, key, windowStart.Unix())
	prevKey := fmt.Sprintf("%s%s:%d", redisKeyPrefix, key, prevStart.Unix())

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, curKey)
	pipe.Expire(ctx, curKey, 2*window)
	prevGet := pipe.Get(ctx, prevKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Result{}, fmt.Errorf("ratelimit: redis pipeline: %w", err)
	}

	var prevCount int64
	if v, err := prevGet.Int64(); err == nil {
		prevCount = v
	}
	curCount := incr.Val()

	overlap := float64(window-now.Sub(windowStart)) / float64(window)
	estimate := float64(prevCount)*overlap + float64(curCount)

	limit := int(r.config.RequestsPerSecond * window.Seconds())
	if limit <= 0 {
		limit = r.config.Burst
	}

	allowed := estimate <= float64(limit)
	remaining := limit - int(estimate)
	if remaining < 0 {
		remaining = 0
	}

	var resetMs int64
	if !allowed {
		resetMs = windowStart.Add(window).Sub(now).Milliseconds()
		if resetMs < 0 {
			resetMs = 0
		}
	}

	return Result{Allowed: allowed, Remaining: remaining, ResetMs: resetMs, Limit: limit}, nil
}

func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
