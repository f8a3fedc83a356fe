package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(config *RateLimitConfig) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	rl := NewRateLimiter(config)
	rl.now = clock.Now
	return rl, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Second, BurstSize: 2}
	limiter, clock := newTestLimiter(config)
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 20; i++ {
		d, err := limiter.Allow(ctx, "k")
		require.NoError(t, err)
		if d.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 12, allowed, "capacity is rate plus burst")

	d, err := limiter.Allow(ctx, "other")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "keys are independent")

	clock.Advance(100 * time.Millisecond)
	d, err = limiter.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "one token refills every 100ms")
	d, err = limiter.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.WithinDuration(t, clock.Now().Add(1200*time.Millisecond), d.ResetAt, time.Millisecond)
}

func TestRateLimiter_RemainingAndCleanup(t *testing.T) {
	config := &RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Second, BurstSize: 2}
	limiter, clock := newTestLimiter(config)

	assert.Equal(t, 12, limiter.Remaining("k"))
	_, _ = limiter.Allow(context.Background(), "k")
	assert.Equal(t, 11, limiter.Remaining("k"))

	clock.Advance(3 * time.Second)
	limiter.Cleanup()
	limiter.mu.Lock()
	assert.Empty(t, limiter.buckets)
	limiter.mu.Unlock()
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestDistributedRateLimiter(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}, "test")

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "ip")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}
	d, err := limiter.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Minute, mr.TTL("test:ip"))

	mr.FastForward(time.Minute)
	d, err = limiter.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a new window starts after expiry")

	require.NoError(t, limiter.Reset(ctx, "ip"))
	assert.False(t, mr.Exists("test:ip"))
	assert.NoError(t, limiter.HealthCheck(ctx))

	mr.Close()
	d, err = limiter.Allow(ctx, "ip")
	assert.Error(t, err)
	assert.True(t, d.Allowed)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, assert.AnError
}

func TestRateLimitMiddleware_Handler(t *testing.T) {
	limiter, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	handler := NewRateLimitMiddleware(limiter, "auth", nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	request := func(ip string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		r.RemoteAddr = ip + ":5000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	w := request("10.0.0.1")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	assert.Equal(t, http.StatusNoContent, request("10.0.0.1").Code)
	w = request("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)

	assert.Equal(t, http.StatusNoContent, request("10.0.0.2").Code, "limits are per client ip")
}

func TestRateLimitMiddleware_BackendFailure(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	m := NewRateLimitMiddleware(failingLimiter{}, "auth", nil)

	w := httptest.NewRecorder()
	m.Handler(next).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code, "fails open by default")

	m.SetFailOpen(false)
	w = httptest.NewRecorder()
	m.Handler(next).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
