package wait

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// DefaultTTL is how long an unanswered wait stays alive.
const DefaultTTL = time.Hour

// ErrNotFound is returned when no live descriptor exists for a key.
var ErrNotFound = errors.New("wait descriptor not found")

// Store persists wait descriptors and menu suggestions. Implementations must
// be safe for concurrent use across sessions.
type Store interface {
	// Put writes d, replacing any live descriptor for the same variable, and
	// appends its menu suggestions. Both writes happen as one unit.
	Put(ctx context.Context, sessionID string, d Descriptor) error
	Get(ctx context.Context, sessionID, variable string) (Descriptor, error)
	// IncrementRetry bumps retry_count without touching the expiry.
	IncrementRetry(ctx context.Context, sessionID, variable string) (Descriptor, error)
	// Delete removes the descriptor and reports whether this call removed it.
	// Deleting a missing descriptor is not an error.
	Delete(ctx context.Context, sessionID, variable string) (bool, error)
	// TakeSuggestions returns and clears the session's pending suggestions.
	TakeSuggestions(ctx context.Context, sessionID string) ([]Suggestion, error)
	Ping(ctx context.Context) error
}

// DescriptorKey is the cache key of the descriptor for (sessionID, variable).
func DescriptorKey(sessionID, variable string) string {
	return fmt.Sprintf("hear:%s:%s", sessionID, variable)
}

// SuggestionsKey is the cache key of the session's suggestion list.
func SuggestionsKey(sessionID string) string {
	return fmt.Sprintf("suggestions:%s:%s", sessionID, sessionID)
}

type memoryEntry struct {
	descriptor Descriptor
	expiresAt  time.Time
}

// MemoryStore keeps descriptors in process. It backs the terminal chat and
// tests that do not need a cache server.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu          sync.Mutex
	descriptors map[string]memoryEntry
	suggestions map[string][]Suggestion
}

// NewMemoryStore creates an in-process store. A non-positive ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:         ttl,
		now:         time.Now,
		descriptors: make(map[string]memoryEntry),
		suggestions: make(map[string][]Suggestion),
	}
}

func (s *MemoryStore) Put(ctx context.Context, sessionID string, d Descriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.descriptors[DescriptorKey(sessionID, d.Variable)] = memoryEntry{
		descriptor: d,
		expiresAt:  s.now().Add(s.ttl),
	}
	if entries := d.Suggestions(); len(entries) > 0 {
		key := SuggestionsKey(sessionID)
		s.suggestions[key] = append(s.suggestions[key], entries...)
	}
	return nil
}

// live returns the entry for key, evicting it when expired. Callers hold mu.
func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	entry, ok := s.descriptors[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.descriptors, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (s *MemoryStore) Get(ctx context.Context, sessionID, variable string) (Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return Descriptor{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.live(DescriptorKey(sessionID, variable))
	if !ok {
		return Descriptor{}, ErrNotFound
	}
	return entry.descriptor, nil
}

func (s *MemoryStore) IncrementRetry(ctx context.Context, sessionID, variable string) (Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return Descriptor{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := DescriptorKey(sessionID, variable)
	entry, ok := s.live(key)
	if !ok {
		return Descriptor{}, ErrNotFound
	}
	entry.descriptor.RetryCount++
	s.descriptors[key] = entry
	return entry.descriptor, nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID, variable string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := DescriptorKey(sessionID, variable)
	if _, ok := s.live(key); !ok {
		return false, nil
	}
	delete(s.descriptors, key)
	return true, nil
}

func (s *MemoryStore) TakeSuggestions(ctx context.Context, sessionID string) ([]Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := SuggestionsKey(sessionID)
	entries := slices.Clone(s.suggestions[key])
	delete(s.suggestions, key)
	return entries, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
