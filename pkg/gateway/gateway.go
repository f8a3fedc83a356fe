package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/identity"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/tokens"
)

const (
	// SessionCookie carries a client chosen id for the socket
	SessionCookie = "ws_session_id"
	tokenCookie   = "token"

	// messages past hardReadFactor*MaxMessageSize close the socket instead of
	// getting a size error frame
	hardReadFactor = 4
)

// TokenVerifier checks an access token
type TokenVerifier interface {
	VerifyAccessToken(token string) (*tokens.Claims, error)
}

// IdentityResolver rebuilds a principal from the data model
type IdentityResolver interface {
	Resolve(ctx context.Context, userID, workspaceID string) (*identity.Principal, error)
}

// Options are the optional collaborators of a Gateway
type Options struct {
	// Limiter defaults to a per-connection token bucket
	Limiter MessageLimiter
	// Router defaults to NewRouter()
	Router  *Router
	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Gateway admits authenticated WebSocket connections and routes their
// messages
type Gateway struct {
	cfg      Config
	tokens   TokenVerifier
	resolver IdentityResolver
	pool     *Pool
	router   *Router
	limiter  MessageLimiter
	upgrader websocket.Upgrader
	metrics  *observability.Metrics
	logger   *observability.Logger

	cron *cron.Cron

	// mu orders wg.Add in ServeHTTP against the closing flag in Shutdown
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New creates a gateway
func New(cfg Config, verifier TokenVerifier, resolver IdentityResolver, opts Options) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}
	if verifier == nil || resolver == nil {
		return nil, errors.New("gateway requires a token verifier and an identity resolver")
	}

	g := &Gateway{
		cfg:      cfg,
		tokens:   verifier,
		resolver: resolver,
		pool:     NewPool(cfg.MaxConnections, cfg.MaxConnectionsPerUser),
		router:   opts.Router,
		limiter:  opts.Limiter,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		cron:     cron.New(),
	}
	if g.router == nil {
		g.router = NewRouter()
	}
	if g.limiter == nil {
		g.limiter = NewTokenBucketLimiter(cfg.MessageRateLimit, cfg.MessageRateWindow)
	}
	if g.logger == nil {
		g.logger = observability.NewNopLogger()
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	if cfg.CleanupSchedule != "" {
		if _, err := g.cron.AddFunc(cfg.CleanupSchedule, g.cleanupStale); err != nil {
			return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.CleanupSchedule, err)
		}
	}
	return g, nil
}

// originChecker returns nil for an empty list, which keeps the upgrader's
// same origin check
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimSuffix(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Router returns the event router so callers can register handlers
func (g *Gateway) Router() *Router {
	return g.router
}

// Start begins the stale connection sweep
func (g *Gateway) Start() {
	g.cron.Start()
}

// Shutdown stops the sweep, closes every socket with 1001 and waits for the
// read loops to exit
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()
	stopped := g.cron.Stop()

	for _, c := range g.pool.Close() {
		_ = c.Close(websocket.CloseGoingAway, "Server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the connection pool
func (g *Gateway) Stats() Stats {
	return g.pool.Stats()
}

// BroadcastToUser sends v to every socket of userID and returns how many
// writes succeeded
func (g *Gateway) BroadcastToUser(userID string, v any) int {
	sent := 0
	for _, c := range g.pool.UserConnections(userID) {
		if err := c.Send(v); err != nil {
			g.logger.WithError(err).WithField("user_id", userID).Debug("broadcast write failed")
			continue
		}
		sent++
	}
	return sent
}

func (g *Gateway) cleanupStale() {
	cutoff := g.pool.now().Add(-g.cfg.StaleTimeout)
	stale := g.pool.Stale(cutoff)
	for _, c := range stale {
		_ = c.Close(websocket.CloseGoingAway, "Connection idle")
	}
	if len(stale) > 0 {
		g.logger.WithField("count", len(stale)).Info("closed stale websocket connections")
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.admit() {
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE")
		return
	}
	defer g.wg.Done()

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		g.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}

	ctx := r.Context()
	p, err := g.authenticate(ctx, r)
	if err != nil {
		g.logger.WithError(err).Debug("websocket authentication failed")
		g.metrics.RecordWSRejected("unauthorized")
		newConn(ws, nil, "").reject(Frame{
			Type:    FrameAuthError,
			Message: "Authentication required. Please log in and try again.",
		}, CloseUnauthorized, "Unauthorized")
		return
	}

	c := newConn(ws, p, sessionID(r, time.Now()))
	if err := g.pool.Add(c); err != nil {
		code, reason, label := CloseTooMany, "Too Many Connections", "capacity"
		var userErr *userLimitError
		switch {
		case errors.Is(err, ErrDuplicateSession):
			code, reason, label = CloseDuplicateSession, "Duplicate Session", "duplicate_session"
		case errors.As(err, &userErr):
			label = "user_limit"
		case errors.Is(err, ErrPoolClosed):
			code, reason, label = websocket.CloseGoingAway, "Server shutting down", "shutdown"
		}
		g.logger.WithField("user_id", p.ID).WithField("reason", label).Warn("websocket connection rejected")
		g.metrics.RecordWSRejected(label)
		c.reject(Frame{Type: FrameConnectionError, Message: err.Error()}, code, reason)
		return
	}

	g.metrics.WSConnectionOpened()
	defer g.release(c)

	log := g.logger.WithField("user_id", p.ID).WithField("session_id", c.SessionID)
	log.Debug("websocket connection established")

	if err := c.Send(Frame{Type: FrameConnectionEstablished, SessionID: c.SessionID, UserID: p.ID}); err != nil {
		return
	}
	g.readLoop(observability.WithLogger(ctx, log), c, log)
}

// admit registers an in-flight upgrade unless Shutdown has begun
func (g *Gateway) admit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.wg.Add(1)
	return true
}

func (g *Gateway) release(c *Conn) {
	if g.pool.Remove(c) {
		g.metrics.WSConnectionClosed()
		g.router.disconnect(c)
	}
	_ = c.ws.Close()
}

// authenticate verifies the access token and rebuilds the principal from the
// data model, independent of any HTTP session
func (g *Gateway) authenticate(ctx context.Context, r *http.Request) (*identity.Principal, error) {
	token := requestToken(r)
	if token == "" {
		return nil, identity.ErrInvalidToken
	}
	claims, err := g.tokens.VerifyAccessToken(token)
	if err != nil {
		return nil, err
	}
	p, err := g.resolver.Resolve(ctx, claims.UserID, claims.WorkspaceID)
	if err != nil {
		return nil, err
	}
	p.AuthMethod = identity.AuthMethodJWT
	return p, nil
}

// requestToken reads the token cookie, then the token query parameter, then
// the bearer header
func requestToken(r *http.Request) string {
	if c, err := r.Cookie(tokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return httputil.BearerToken(r)
}

func sessionID(r *http.Request, now time.Time) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return fmt.Sprintf("server-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

func (g *Gateway) readLoop(ctx context.Context, c *Conn, log *observability.Logger) {
	defer observability.RecoverPanic(log, "gateway read loop")

	c.ws.SetReadLimit(g.cfg.MaxMessageSize * hardReadFactor)
	for {
		_, reader, err := c.ws.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.WithError(err).Debug("websocket read failed")
			}
			return
		}

		data, err := io.ReadAll(io.LimitReader(reader, g.cfg.MaxMessageSize+1))
		if err != nil {
			return
		}
		if int64(len(data)) > g.cfg.MaxMessageSize {
			rest, err := io.Copy(io.Discard, reader)
			if err != nil {
				return
			}
			size := int64(len(data)) + rest
			g.metrics.RecordWSMessage("too_large")
			_ = c.Send(Frame{
				Type: FrameMessageSizeError,
				Message: fmt.Sprintf("Message size (%d KB) exceeds maximum allowed size (%d KB)",
					size/1024, g.cfg.MaxMessageSize/1024),
				MaxSize: g.cfg.MaxMessageSize,
			})
			continue
		}

		allowed, retryAfter, err := g.limiter.Allow(ctx, c)
		if err != nil {
			log.WithError(err).Warn("message rate limit check failed")
		}
		if !allowed {
			g.metrics.RecordWSMessage("rate_limited")
			_ = c.Send(Frame{
				Type:       FrameRateLimitExceeded,
				Message:    "Too many messages. Please slow down.",
				RetryAfter: retryAfter.Milliseconds(),
			})
			continue
		}
		g.pool.touch(c)

		e, err := parseEvent(data)
		if err != nil {
			g.metrics.RecordWSMessage("invalid")
			_ = c.Send(Frame{Type: FrameError, Message: "Invalid message format"})
			continue
		}
		if err := g.router.Dispatch(ctx, c, e); err != nil {
			g.metrics.RecordWSMessage("error")
			msg := "Internal server error"
			if errors.Is(err, errUnknownEvent) {
				msg = err.Error()
			} else {
				log.WithError(err).WithField("event", e.Type).Warn("websocket event failed")
			}
			_ = c.Send(Frame{Type: FrameError, Message: msg})
			continue
		}
		g.metrics.RecordWSMessage("ok")
	}
}
