package session

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMemoryCapacity = 100000

// MemoryStore keeps sessions in process. Sessions are lost on restart.
type MemoryStore struct {
	cache *lru.LRU[string, *Payload]
	now   func() time.Time
}

// NewMemoryStore creates an in-process store holding at most capacity
// sessions, each for at most ttl
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryStore{
		cache: lru.NewLRU[string, *Payload](capacity, nil, ttl),
		now:   time.Now,
	}
}

// Put stores a copy of p. The principal is copied too so callers never
// share it with concurrent readers.
func (s *MemoryStore) Put(ctx context.Context, sid string, p *Payload) error {
	s.cache.Add(sid, p.clone())
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, sid string) (*Payload, error) {
	p, ok := s.cache.Get(sid)
	if !ok {
		return nil, ErrNotFound
	}
	if p.expired(s.now()) {
		s.cache.Remove(sid)
		return nil, ErrNotFound
	}
	return p.clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, sid string) error {
	s.cache.Remove(sid)
	return nil
}

func (s *MemoryStore) DestroyAllForUser(ctx context.Context, userID string) (int, error) {
	removed := 0
	for _, sid := range s.cache.Keys() {
		if p, ok := s.cache.Peek(sid); ok && p.UserID == userID {
			if s.cache.Remove(sid) {
				removed++
			}
		}
	}
	return removed, nil
}

// Len returns the number of live sessions
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
