package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_RunsHooksInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)

	var mu sync.Mutex
	var order []string
	record := func(name string) ShutdownFunc {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	sm.Register("database", record("database"))
	sm.Register("sessions", record("sessions"))
	sm.Register("gateway", record("gateway"))
	sm.Register("ignored", nil)

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []string{"gateway", "sessions", "database"}, order)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)
	ran := false
	sm.Register("first", func(context.Context) error { ran = true; return nil })
	sm.Register("broken", func(context.Context) error { return errors.New("flush failed") })

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: flush failed")
	assert.True(t, ran, "a failing hook must not stop the others")
}

func TestShutdownManager_ExpiredContextSkipsHooks(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)
	called := false
	sm.Register("late", func(context.Context) error { called = true; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sm.Shutdown(ctx)
	require.Error(t, err)
	assert.False(t, called)
}

func TestShutdownManager_StopsServer(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Start()
	defer srv.Close()

	sm := NewShutdownManager(nil, srv.Config, time.Second)
	require.NoError(t, sm.Shutdown(context.Background()))

	_, err := http.Get(srv.URL)
	assert.Error(t, err)
}

func TestShutdownManager_WaitForShutdownOnContext(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)
	done := make(chan struct{})
	sm.Register("marker", func(context.Context) error { close(done); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sm.WaitForShutdown(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForShutdown did not return")
	}
	<-done
}

func TestRecoverPanic(t *testing.T) {
	logger := NewNopLogger()

	assert.NotPanics(t, func() {
		defer RecoverPanic(logger, "test")
		panic("boom")
	})

	cleaned := false
	assert.NotPanics(t, func() {
		defer RecoverPanicWithCallback(logger, "test", func() { cleaned = true })
		panic("boom")
	})
	assert.True(t, cleaned)

	assert.Nil(t, MustRecover(nil))
	assert.EqualError(t, MustRecover("bad"), "panic: bad")
}
