package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/brightwave-solutions/advisor/internal/metrics"
)

// RateLimiter enforces a process-wide request ceiling per client IP.
// There is no auth layer, so the remote address is the only caller
// identity available. With Redis configured the window is counted
// there, shared across replicas; without Redis each process bounds its
// own traffic with an in-memory token bucket, so the ceiling always
// holds. A Redis error fails open; bounding throughput is not worth
// refusing all traffic.
type RateLimiter struct {
	redis    *redis.Client
	local    *localLimiter
	logger   *zap.Logger
	requests int
	window   time.Duration
}

// NewRateLimiter creates a rate limiter allowing requests per window.
// redisClient may be nil; the in-process limiter is used instead.
func NewRateLimiter(redisClient *redis.Client, requests int, window time.Duration, logger *zap.Logger) *RateLimiter {
	rl := &RateLimiter{
		redis:    redisClient,
		logger:   logger,
		requests: requests,
		window:   window,
	}
	if redisClient == nil {
		rl.local = newLocalLimiter(requests, window)
	}
	return rl
}

// Middleware returns the HTTP middleware function.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			allowed   bool
			remaining int
			resetAt   time.Time
		)
		key := fmt.Sprintf("ratelimit:ip:%s", clientIP(r))
		if rl.redis != nil {
			allowed, remaining, resetAt = rl.check(r.Context(), key)
		} else {
			allowed, remaining, resetAt = rl.local.check(clientIP(r))
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.requests))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))

		if !allowed {
			metrics.RequestsRateLimited.Inc()
			rl.logger.Warn("Rate limit exceeded",
				zap.String("client_ip", clientIP(r)),
				zap.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", fmt.Sprintf("%d", resetAt.Unix()-time.Now().Unix()))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"message": "Too many requests. Please retry after the rate limit window resets.",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) check(ctx context.Context, key string) (allowed bool, remaining int, resetAt time.Time) {
	now := time.Now()
	window := now.Truncate(rl.window)
	windowKey := fmt.Sprintf("%s:%d", key, window.Unix())

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, rl.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Error("Rate limit check failed", zap.Error(err))
		// Fail open
		return true, rl.requests, window.Add(rl.window)
	}

	count := incr.Val()
	remaining = rl.requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(rl.requests), remaining, window.Add(rl.window)
}

// localLimiter keeps a token bucket per client IP, sized so a full
// bucket equals the per-window request ceiling. The map grows with the
// number of distinct client IPs seen by the process; the Redis-backed
// path is the one meant for deployments with a wide client population.
type localLimiter struct {
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	requests int
	window   time.Duration
}

func newLocalLimiter(requests int, window time.Duration) *localLimiter {
	return &localLimiter{
		visitors: make(map[string]*rate.Limiter),
		requests: requests,
		window:   window,
	}
}

func (l *localLimiter) check(ip string) (allowed bool, remaining int, resetAt time.Time) {
	l.mu.Lock()
	lim, ok := l.visitors[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.window/time.Duration(l.requests)), l.requests)
		l.visitors[ip] = lim
	}
	l.mu.Unlock()

	allowed = lim.Allow()
	remaining = int(lim.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	now := time.Now()
	return allowed, remaining, now.Truncate(l.window).Add(l.window)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
