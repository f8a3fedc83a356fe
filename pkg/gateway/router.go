package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	errMissingType  = errors.New("message has no type")
	errUnknownEvent = errors.New("unknown event type")
)

// HandlerFunc handles one inbound event
type HandlerFunc func(ctx context.Context, c *Conn, e *Event) error

// Router dispatches events by type and notifies listeners when a
// connection goes away
type Router struct {
	mu           sync.RWMutex
	handlers     map[string]HandlerFunc
	onDisconnect []func(c *Conn)
}

// NewRouter creates a router answering "ping" with "pong"
func NewRouter() *Router {
	r := &Router{handlers: make(map[string]HandlerFunc)}
	r.Handle("ping", func(_ context.Context, c *Conn, _ *Event) error {
		return c.Send(Frame{Type: FramePong})
	})
	return r
}

// Handle registers fn for events of type eventType
func (r *Router) Handle(eventType string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = fn
}

// OnDisconnect registers fn to release per-connection state on close
func (r *Router) OnDisconnect(fn func(c *Conn)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = append(r.onDisconnect, fn)
}

// Dispatch routes e to its handler
func (r *Router) Dispatch(ctx context.Context, c *Conn, e *Event) error {
	r.mu.RLock()
	fn, ok := r.handlers[e.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", errUnknownEvent, e.Type)
	}
	return fn(ctx, c, e)
}

func (r *Router) disconnect(c *Conn) {
	r.mu.RLock()
	listeners := append([]func(*Conn){}, r.onDisconnect...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}
