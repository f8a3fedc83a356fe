package gateway

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/keystone/pkg/identity"
)

func testConn(userID, sessionID string) *Conn {
	return newConn(nil, &identity.Principal{ID: userID}, sessionID)
}

func TestPool_Add(t *testing.T) {
	p := NewPool(3, 2)

	require.NoError(t, p.Add(testConn("u1", "a")))
	assert.ErrorIs(t, p.Add(testConn("u1", "a")), ErrDuplicateSession)
	require.NoError(t, p.Add(testConn("u1", "b")))

	err := p.Add(testConn("u1", "c"))
	var limitErr *userLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 2, limitErr.limit)

	require.NoError(t, p.Add(testConn("u2", "a")))
	assert.ErrorIs(t, p.Add(testConn("u3", "a")), ErrServerFull)
}

func TestPool_Remove(t *testing.T) {
	p := NewPool(10, 2)
	c := testConn("u1", "a")
	require.NoError(t, p.Add(c))

	assert.True(t, p.Remove(c))
	assert.False(t, p.Remove(c))
	assert.Empty(t, p.UserConnections("u1"))
	assert.Zero(t, p.Stats().UniqueUsers)

	// the same session id may reconnect once the old socket is gone
	require.NoError(t, p.Add(testConn("u1", "a")))
}

func TestPool_Close(t *testing.T) {
	p := NewPool(10, 2)
	a, b := testConn("u1", "a"), testConn("u2", "b")
	require.NoError(t, p.Add(a))
	require.NoError(t, p.Add(b))

	assert.ElementsMatch(t, []*Conn{a, b}, p.Close())
	assert.ErrorIs(t, p.Add(testConn("u3", "c")), ErrPoolClosed)
	assert.Equal(t, 2, p.Stats().ActiveConnections)

	p.Remove(a)
	assert.ElementsMatch(t, []*Conn{b}, p.Close())
}

func TestPool_StaleAndStats(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewPool(4, 2)
	p.now = func() time.Time { return now }

	idle := testConn("u1", "a")
	busy := testConn("u2", "a")
	require.NoError(t, p.Add(idle))
	require.NoError(t, p.Add(busy))

	now = now.Add(30 * time.Minute)
	p.touch(busy)
	p.touch(busy)
	p.touch(busy)
	now = now.Add(time.Minute)

	stale := p.Stale(now.Add(-10 * time.Minute))
	assert.Equal(t, []*Conn{idle}, stale)

	s := p.Stats()
	assert.Equal(t, 2, s.ActiveConnections)
	assert.Equal(t, 2, s.UniqueUsers)
	assert.InDelta(t, 50.0, s.UtilizationPercent, 0.001)
	assert.Equal(t, int64(3), s.TotalMessages)
	assert.InDelta(t, 1.5, s.AverageMessagesPerConn, 0.001)
	assert.Equal(t, int64(31*60), s.OldestConnectionAgeSec)
	assert.Len(t, p.All(), 2)
}

func TestTokenBucketLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewTokenBucketLimiter(2, time.Second)
	l.now = func() time.Time { return now }
	ctx := context.Background()
	c := testConn("u1", "a")

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, c)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, wait, err := l.Allow(ctx, c)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait)

	// buckets are per connection
	ok, _, _ = l.Allow(ctx, testConn("u1", "b"))
	assert.True(t, ok)

	now = now.Add(500 * time.Millisecond)
	ok, _, _ = l.Allow(ctx, c)
	assert.True(t, ok)
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewRedisLimiter(client, 2, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	// the window is per user, across that user's sockets
	for _, c := range []*Conn{testConn("u1", "a"), testConn("u1", "b")} {
		ok, _, err := l.Allow(ctx, c)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, retry, err := l.Allow(ctx, testConn("u1", "c"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retry)

	ok, _, err = l.Allow(ctx, testConn("u2", "a"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("keystone:ws_rl:u1"))

	now = now.Add(2 * time.Minute)
	ok, _, err = l.Allow(ctx, testConn("u1", "a"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	ok, _, err := NewRedisLimiter(client, 1, time.Minute).Allow(context.Background(), testConn("u1", "a"))
	assert.Error(t, err)
	assert.True(t, ok)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no global cap", func(c *Config) { c.MaxConnections = 0 }},
		{"per user above global", func(c *Config) { c.MaxConnectionsPerUser = c.MaxConnections + 1 }},
		{"no rate window", func(c *Config) { c.MessageRateWindow = 0 }},
		{"no message size", func(c *Config) { c.MaxMessageSize = 0 }},
		{"no stale timeout", func(c *Config) { c.StaleTimeout = 0 }},
	}
	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestOriginChecker(t *testing.T) {
	assert.Nil(t, originChecker(nil))

	check := originChecker([]string{"https://app.example.com/"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, check(r), tt.origin)
	}

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://anything.example.com")
	assert.True(t, originChecker([]string{"*"})(r))
}

func TestParseEvent(t *testing.T) {
	e, err := parseEvent([]byte(`{"type":"ping","payload":{"a":1}}`))
	require.NoError(t, err)
	assert.Equal(t, "ping", e.Type)
	assert.JSONEq(t, `{"a":1}`, string(e.Payload))

	_, err = parseEvent([]byte(`{"payload":1}`))
	assert.ErrorIs(t, err, errMissingType)

	_, err = parseEvent([]byte(`[`))
	assert.Error(t, err)
}
