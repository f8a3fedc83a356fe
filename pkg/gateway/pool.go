package gateway

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrServerFull is returned when the global connection cap is reached
	ErrServerFull = errors.New("server at maximum capacity, please try again later")
	// ErrDuplicateSession is returned for a second socket with the same session id
	ErrDuplicateSession = errors.New("a connection with this session id is already open")
	// ErrPoolClosed is returned once the gateway is shutting down
	ErrPoolClosed = errors.New("server is shutting down")
)

// userLimitError is returned when a user already holds the maximum sockets
type userLimitError struct {
	limit int
}

func (e *userLimitError) Error() string {
	return fmt.Sprintf("maximum %d connections per user exceeded", e.limit)
}

// Pool tracks open connections by user
type Pool struct {
	mu      sync.Mutex
	conns   map[*Conn]struct{}
	byUser  map[string]map[*Conn]struct{}
	max     int
	perUser int
	closed  bool
	now     func() time.Time
}

// NewPool creates a pool with a global and a per-user cap
func NewPool(maxConnections, maxPerUser int) *Pool {
	return &Pool{
		conns:   make(map[*Conn]struct{}),
		byUser:  make(map[string]map[*Conn]struct{}),
		max:     maxConnections,
		perUser: maxPerUser,
		now:     time.Now,
	}
}

// Add admits c. The capacity and duplicate checks and the insert happen
// under one lock, so concurrent upgrades cannot overshoot a cap.
func (p *Pool) Add(c *Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if len(p.conns) >= p.max {
		return ErrServerFull
	}
	userConns := p.byUser[c.UserID()]
	if len(userConns) >= p.perUser {
		return &userLimitError{limit: p.perUser}
	}
	for other := range userConns {
		if other.SessionID == c.SessionID {
			return ErrDuplicateSession
		}
	}

	if userConns == nil {
		userConns = make(map[*Conn]struct{})
		p.byUser[c.UserID()] = userConns
	}
	now := p.now()
	c.connectedAt = now
	c.lastMessageAt = now
	userConns[c] = struct{}{}
	p.conns[c] = struct{}{}
	return nil
}

// Remove deregisters c. It reports false when c was not in the pool.
func (p *Pool) Remove(c *Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.conns[c]; !ok {
		return false
	}
	delete(p.conns, c)
	if userConns := p.byUser[c.UserID()]; userConns != nil {
		delete(userConns, c)
		if len(userConns) == 0 {
			delete(p.byUser, c.UserID())
		}
	}
	return true
}

// touch records an admitted inbound message
func (p *Pool) touch(c *Conn) {
	p.mu.Lock()
	c.messageCount++
	c.lastMessageAt = p.now()
	p.mu.Unlock()
}

// UserConnections returns the open connections of a user
func (p *Pool) UserConnections(userID string) []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Conn, 0, len(p.byUser[userID]))
	for c := range p.byUser[userID] {
		out = append(out, c)
	}
	return out
}

// All returns every open connection
func (p *Pool) All() []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Conn, 0, len(p.conns))
	for c := range p.conns {
		out = append(out, c)
	}
	return out
}

// Close stops admitting connections and returns the ones still open. A
// connection either lands in the returned slice or is refused by Add.
func (p *Pool) Close() []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	out := make([]*Conn, 0, len(p.conns))
	for c := range p.conns {
		out = append(out, c)
	}
	return out
}

// Stale returns connections without an inbound message since before cutoff
func (p *Pool) Stale(cutoff time.Time) []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*Conn
	for c := range p.conns {
		if c.lastMessageAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out
}

// Stats is a snapshot of the pool
type Stats struct {
	ActiveConnections      int            `json:"activeConnections"`
	UniqueUsers            int            `json:"uniqueUsers"`
	MaxConnections         int            `json:"maxConnections"`
	MaxConnectionsPerUser  int            `json:"maxConnectionsPerUser"`
	UtilizationPercent     float64        `json:"utilizationPercent"`
	TotalMessages          int64          `json:"totalMessages"`
	AverageMessagesPerConn float64        `json:"averageMessagesPerConnection"`
	OldestConnectionAgeSec int64          `json:"oldestConnectionAge"`
	PerUser                map[string]int `json:"perUser"`
}

// Stats returns a snapshot of the pool
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	s := Stats{
		ActiveConnections:     len(p.conns),
		UniqueUsers:           len(p.byUser),
		MaxConnections:        p.max,
		MaxConnectionsPerUser: p.perUser,
		PerUser:               make(map[string]int, len(p.byUser)),
	}
	for userID, conns := range p.byUser {
		s.PerUser[userID] = len(conns)
	}
	var oldest time.Duration
	for c := range p.conns {
		s.TotalMessages += c.messageCount
		if age := now.Sub(c.connectedAt); age > oldest {
			oldest = age
		}
	}
	if p.max > 0 {
		s.UtilizationPercent = float64(len(p.conns)) / float64(p.max) * 100
	}
	if len(p.conns) > 0 {
		s.AverageMessagesPerConn = float64(s.TotalMessages) / float64(len(p.conns))
	}
	s.OldestConnectionAgeSec = int64(oldest / time.Second)
	return s
}
