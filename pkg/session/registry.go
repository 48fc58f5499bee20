// Package session tracks which sessions have a pending HEAR. The flags are a
// routing hint only; the wait descriptor store is authoritative.
package session

import (
	"hash/fnv"
	"sync"
	"time"
)

const defaultShards = 32

type flag struct {
	variable string
	markedAt time.Time
}

type shard struct {
	mu      sync.RWMutex
	waiting map[string]flag
}

// Registry is a sharded map from session ID to the variable it waits on.
type Registry struct {
	shards []*shard
	now    func() time.Time
}

// NewRegistry creates a registry with the default shard count.
func NewRegistry() *Registry {
	return NewRegistryWithShards(defaultShards)
}

// NewRegistryWithShards creates a registry with n shards (minimum one).
func NewRegistryWithShards(n int) *Registry {
	if n < 1 {
		n = 1
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{waiting: make(map[string]flag)}
	}
	return &Registry{shards: shards, now: time.Now}
}

func (r *Registry) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Scope returns the session-scoped handle passed to dialog handlers.
func (r *Registry) Scope(sessionID string) *Scope {
	return &Scope{id: sessionID, registry: r}
}

func (r *Registry) markWaiting(sessionID, variable string) {
	s := r.shardFor(sessionID)
	s.mu.Lock()
	s.waiting[sessionID] = flag{variable: variable, markedAt: r.now()}
	s.mu.Unlock()
}

func (r *Registry) clearWaiting(sessionID string) {
	s := r.shardFor(sessionID)
	s.mu.Lock()
	delete(s.waiting, sessionID)
	s.mu.Unlock()
}

// Waiting reports whether sessionID is flagged and the variable it waits on.
func (r *Registry) Waiting(sessionID string) (string, bool) {
	s := r.shardFor(sessionID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.waiting[sessionID]
	return f.variable, ok
}

// Prune drops flags marked longer than maxAge ago and returns how many were
// removed. Callers pass the wait TTL: past it the descriptor is gone anyway.
func (r *Registry) Prune(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)
	removed := 0
	for _, s := range r.shards {
		s.mu.Lock()
		for id, f := range s.waiting {
			if f.markedAt.Before(cutoff) {
				delete(s.waiting, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of flagged sessions.
func (r *Registry) Len() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		total += len(s.waiting)
		s.mu.RUnlock()
	}
	return total
}

// Scope is one session's view of the registry.
type Scope struct {
	id       string
	registry *Registry
}

func (s *Scope) ID() string {
	return s.id
}

// MarkWaiting flags the session as waiting on variable.
func (s *Scope) MarkWaiting(variable string) {
	s.registry.markWaiting(s.id, variable)
}

func (s *Scope) ClearWaiting() {
	s.registry.clearWaiting(s.id)
}

// Waiting returns the variable the session is flagged as waiting on.
func (s *Scope) Waiting() (string, bool) {
	return s.registry.Waiting(s.id)
}
