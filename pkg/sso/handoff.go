package sso

import (
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/keystone/pkg/identity"
)

const (
	// HandoffTTL is how long a finished federated login waits for the browser
	HandoffTTL = 5 * time.Minute

	handoffCapacity = 10000
)

// Handoff carries a federated login from the provider callback to the
// browser. Each login is claimed at most once under a random token.
type Handoff struct {
	mu    sync.Mutex
	cache *lru.LRU[string, *identity.Principal]
}

// NewHandoff creates a hand-off cache whose entries expire after ttl
func NewHandoff(ttl time.Duration) *Handoff {
	if ttl <= 0 {
		ttl = HandoffTTL
	}
	return &Handoff{cache: lru.NewLRU[string, *identity.Principal](handoffCapacity, nil, ttl)}
}

// Put stores p and returns the token that claims it
func (h *Handoff) Put(p *identity.Principal) string {
	token := uuid.NewString()
	h.cache.Add(token, p)
	return token
}

// Take claims the login stored under token. A second Take of the same token
// finds nothing.
func (h *Handoff) Take(token string) (*identity.Principal, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.cache.Get(token)
	if !ok {
		return nil, false
	}
	h.cache.Remove(token)
	return p, true
}
