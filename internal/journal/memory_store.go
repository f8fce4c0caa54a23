package journal

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps journal entries in process memory for single-instance mode.
// Params: entry map guarded by RW mutex.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates in-memory journal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Append stores entry under its alert id, replacing older copy.
// Params: journal entry.
// Returns: nil (in-memory write).
func (s *MemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key()] = Entry{Alert: entry.Alert.Clone(), RecordedAt: entry.RecordedAt}
	return nil
}

// Get returns one entry by alert id.
// Params: alert id.
// Returns: entry or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Alert: entry.Alert.Clone(), RecordedAt: entry.RecordedAt}, nil
}

// Prune deletes entries recorded strictly before cutoff.
// Params: cutoff instant.
// Returns: number of removed entries.
func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if entry.RecordedAt.Before(before) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// List returns entries ordered by record time, oldest first.
func (s *MemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, Entry{Alert: entry.Alert.Clone(), RecordedAt: entry.RecordedAt})
	}
	s.mu.RUnlock()
	sortEntries(out)
	return out, nil
}

// Close releases memory store resources.
func (s *MemoryStore) Close() error {
	return nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].RecordedAt.Equal(entries[j].RecordedAt) {
			return entries[i].Key() < entries[j].Key()
		}
		return entries[i].RecordedAt.Before(entries[j].RecordedAt)
	})
}
