package engine

import (
	"sort"

	"alerthub/internal/domain"
)

// ActiveStore holds alerts that are neither dismissed nor expired.
// Params: id-keyed map owned by the engine actor.
// Returns: O(1) add/remove and ordered snapshot listing.
type ActiveStore struct {
	records map[string]*domain.AlertRecord
}

// NewActiveStore creates empty store.
func NewActiveStore() *ActiveStore {
	return &ActiveStore{records: make(map[string]*domain.AlertRecord)}
}

// Add inserts record keyed by id.
func (s *ActiveStore) Add(record domain.AlertRecord) {
	stored := record
	s.records[record.ID] = &stored
}

// Remove deletes record by id.
// Params: alert id.
// Returns: removed record and true, or false when absent.
func (s *ActiveStore) Remove(id string) (domain.AlertRecord, bool) {
	record, ok := s.records[id]
	if !ok {
		return domain.AlertRecord{}, false
	}
	delete(s.records, id)
	return *record, true
}

// Get returns copy of one active record.
func (s *ActiveStore) Get(id string) (domain.AlertRecord, bool) {
	record, ok := s.records[id]
	if !ok {
		return domain.AlertRecord{}, false
	}
	return record.Clone(), true
}

// Mutate applies fn to the stored record in place.
// Params: alert id and mutation callback.
// Returns: copy after mutation, or false when id is not active.
func (s *ActiveStore) Mutate(id string, fn func(*domain.AlertRecord)) (domain.AlertRecord, bool) {
	record, ok := s.records[id]
	if !ok {
		return domain.AlertRecord{}, false
	}
	fn(record)
	return record.Clone(), true
}

// Len returns number of active alerts.
func (s *ActiveStore) Len() int {
	return len(s.records)
}

// List returns matching alerts ordered by priority weight desc, then newest first.
// Params: filter; zero-value filter returns everything.
// Returns: independent copies; ties on timestamp order by id.
func (s *ActiveStore) List(filter domain.Filter) []domain.AlertRecord {
	out := make([]domain.AlertRecord, 0, len(s.records))
	for _, record := range s.records {
		if filter.Match(*record) {
			out = append(out, record.Clone())
		}
	}
	SortAlerts(out)
	return out
}

// Select returns ids of alerts accepted by match, in list order.
func (s *ActiveStore) Select(match func(domain.AlertRecord) bool) []string {
	due := make([]domain.AlertRecord, 0)
	for _, record := range s.records {
		if match(*record) {
			due = append(due, *record)
		}
	}
	SortAlerts(due)
	ids := make([]string, 0, len(due))
	for _, record := range due {
		ids = append(ids, record.ID)
	}
	return ids
}

// SortAlerts orders records by weight desc, timestamp desc, id asc.
func SortAlerts(records []domain.AlertRecord) {
	sort.Slice(records, func(i, j int) bool {
		left, right := records[i], records[j]
		if lw, rw := left.Priority.Weight(), right.Priority.Weight(); lw != rw {
			return lw > rw
		}
		if !left.Timestamp.Equal(right.Timestamp) {
			return left.Timestamp.After(right.Timestamp)
		}
		return left.ID < right.ID
	})
}
