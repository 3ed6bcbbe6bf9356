package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func doRequest(handler http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/dataset", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterAllowsUnderCeiling(t *testing.T) {
	rl := NewRateLimiter(newRedis(t), 5, time.Minute, zap.NewNop())
	handler := rl.Middleware(okHandler())

	for i := 0; i < 5; i++ {
		rec := doRequest(handler)
		assert.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}
}

func TestRateLimiterRejectsOverCeiling(t *testing.T) {
	rl := NewRateLimiter(newRedis(t), 3, time.Minute, zap.NewNop())
	handler := rl.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, doRequest(handler).Code)
	}

	rec := doRequest(handler)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, rec.Body.String(), "Too many requests")
}

func TestRateLimiterSeparatesClients(t *testing.T) {
	rl := NewRateLimiter(newRedis(t), 1, time.Minute, zap.NewNop())
	handler := rl.Middleware(okHandler())

	require.Equal(t, http.StatusOK, doRequest(handler).Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(handler).Code)

	req := httptest.NewRequest(http.MethodGet, "/dataset", nil)
	req.RemoteAddr = "198.51.100.9:40000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterHoldsCeilingWithoutRedis(t *testing.T) {
	rl := NewRateLimiter(nil, 3, time.Minute, zap.NewNop())
	handler := rl.Middleware(okHandler())

	ok, rejected := 0, 0
	for i := 0; i < 50; i++ {
		switch doRequest(handler).Code {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			rejected++
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 47, rejected)
}

func TestRateLimiterRejectionShapeWithoutRedis(t *testing.T) {
	rl := NewRateLimiter(nil, 1, time.Minute, zap.NewNop())
	handler := rl.Middleware(okHandler())

	require.Equal(t, http.StatusOK, doRequest(handler).Code)

	rec := doRequest(handler)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, rec.Body.String(), "Too many requests")
}

func TestRateLimiterSeparatesClientsWithoutRedis(t *testing.T) {
	rl := NewRateLimiter(nil, 1, time.Minute, zap.NewNop())
	handler := rl.Middleware(okHandler())

	require.Equal(t, http.StatusOK, doRequest(handler).Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(handler).Code)

	req := httptest.NewRequest(http.MethodGet, "/dataset", nil)
	req.RemoteAddr = "198.51.100.9:40000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterFailsOpenOnRedisError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	rl := NewRateLimiter(client, 1, time.Minute, zap.NewNop())
	handler := rl.Middleware(okHandler())

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, doRequest(handler).Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	m := NewRequestID(zap.NewNop())
	var seen string
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(RequestIDKey).(string)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}
