package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rat-data/ratd-core/internal/ratelimit"
)

// RateLimitConfig configures the per-IP rate limiter. When RedisURL is set,
// limits are enforced through Redis so every replica behind a load balancer
// shares the same view of a client's request rate; otherwise an in-process
// token bucket is used and limits are per-replica.
type RateLimitConfig struct {
	RequestsPerSecond float64       // Token refill rate (e.g. 50 = 50 req/s)
	Burst             int           // Max burst size (tokens in bucket)
	CleanupInterval   time.Duration // How often to evict stale entries (local limiter only)
	Window            time.Duration // Sliding window size (Redis limiter only, defaults to 1 minute)
	RedisURL          string        // When set, rate limiting is coordinated across replicas via Redis
}

// DefaultRateLimitConfig returns sensible defaults (50 req/s, burst of 100).
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		Burst:             100,
		CleanupInterval:   5 * time.Minute,
		Window:            time.Minute,
	}
}

func (cfg RateLimitConfig) toLimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		Window:            cfg.Window,
		CleanupInterval:   cfg.CleanupInterval,
	}
}

// RateLimiter wraps a ratelimit.Limiter to provide the per-IP HTTP
// middleware and Stop lifecycle this package's callers depend on.
type RateLimiter struct {
	limiter ratelimit.Limiter
}

// Stop releases the underlying limiter's resources (cleanup goroutine or
// Redis connection).
func (rl *RateLimiter) Stop() {
	_ = rl.limiter.Close()
}

// setRateLimitHeaders adds standard rate limit headers to the response.
// These headers follow the IETF RateLimit header fields draft:
// - RateLimit-Limit: maximum requests per window
// - RateLimit-Remaining: remaining requests in current window
// - Retry-After: seconds until next request allowed (only on 429)
func setRateLimitHeaders(w http.ResponseWriter, result ratelimit.Result) {
	w.Header().Set("RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.Allowed {
		retryAfterSecs := (result.ResetMs + 999) / 1000 // round up to seconds
		if retryAfterSecs < 1 {
			retryAfterSecs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSecs, 10))
	}
}

// RateLimit returns a middleware that limits requests per IP. The returned
// RateLimiter can be stopped via its Stop() method. On 429 responses,
// standard rate limit headers are included.
//
// If cfg.RedisURL is set, limits are enforced through Redis so they hold
// across every ratd replica. If the Redis client cannot be constructed
// (bad URL), RateLimit logs the error and falls back to the in-process
// limiter rather than failing startup. Redis is not contacted at startup;
// if a later check fails (e.g. Redis unreachable), the error is logged and
// the request is let through.
func RateLimit(cfg RateLimitConfig) (*RateLimiter, func(http.Handler) http.Handler) {
	limiterCfg := cfg.toLimiterConfig()

	var lim ratelimit.Limiter
	if cfg.RedisURL != "" {
		redisLim, err := ratelimit.NewRedisLimiter(cfg.RedisURL, limiterCfg)
		if err != nil {
			slog.Error("distributed rate limiter failed to start, continuing with per-process limiting",
				"error", err)
			lim = ratelimit.NewLocalLimiter(limiterCfg)
		} else {
			lim = redisLim
		}
	} else {
		lim = ratelimit.NewLocalLimiter(limiterCfg)
	}

	rl := &RateLimiter{limiter: lim}

	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			// chi's RealIP middleware sets X-Real-IP
			if xri := r.Header.Get("X-Real-Ip"); xri != "" {
				ip = xri
			}

			result, err := rl.limiter.Allow(r.Context(), ip)
			if err != nil {
				slog.Error("rate limiter check failed, allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			setRateLimitHeaders(w, result)

			if !result.Allowed {
				errorJSON(w, "rate limit exceeded", "RESOURCE_EXHAUSTED", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	return rl, mw
}
