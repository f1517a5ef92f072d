package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/whosesong/internal/models"
)

type memoryEntry struct {
	blob      []byte
	expiresAt time.Time
}

// MemoryStore is a process-local Store. Games are kept as serialized blobs so
// callers never share mutable state, the same as with a remote store.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	games map[string]memoryEntry

	// Now is the clock used for expiry.
	Now func() time.Time
}

// NewMemoryStore returns an empty store whose records expire after ttl
// (0 disables expiry).
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:   ttl,
		games: make(map[string]memoryEntry),
		Now:   time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, code string) (*models.GameState, error) {
	s.mu.Lock()
	entry, ok := s.lookup(code)
	s.mu.Unlock()
	if !ok {
		return nil, ErrGameNotFound
	}

	var state models.GameState
	if err := json.Unmarshal(entry.blob, &state); err != nil {
		return nil, fmt.Errorf("decoding game %s: %w", code, err)
	}
	return &state, nil
}

func (s *MemoryStore) Set(_ context.Context, state *models.GameState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding game %s: %w", state.Code, err)
	}

	entry := memoryEntry{blob: blob}
	if s.ttl > 0 {
		entry.expiresAt = s.Now().Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[state.Code] = entry
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.games, code)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lookup(code)
	return ok, nil
}

// lookup drops the entry if it has expired. Assumes lock is held.
func (s *MemoryStore) lookup(code string) (memoryEntry, bool) {
	entry, ok := s.games[code]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !s.Now().Before(entry.expiresAt) {
		delete(s.games, code)
		return memoryEntry{}, false
	}
	return entry, true
}
