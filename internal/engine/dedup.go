package engine

import (
	"crypto/sha1"
	"encoding/hex"
	"time"

	"alerthub/internal/domain"
)

// DedupKey builds the identity used to detect repeated alerts.
// Params: category and message of a record.
// Returns: hex SHA-1 of "category\nmessage".
func DedupKey(category domain.Category, message string) string {
	canonical := make([]byte, 0, len(category)+1+len(message))
	canonical = append(canonical, category...)
	canonical = append(canonical, '\n')
	canonical = append(canonical, message...)
	digest := sha1.Sum(canonical)
	return hex.EncodeToString(digest[:])
}

// Deduplicator indexes active alerts by DedupKey.
// Params: merge window; the index points at the newest active alert per key.
// Returns: duplicate lookup and merge helpers.
type Deduplicator struct {
	window time.Duration
	index  map[string]string
}

// NewDeduplicator creates an empty index for window.
func NewDeduplicator(window time.Duration) *Deduplicator {
	return &Deduplicator{window: window, index: make(map[string]string)}
}

// FindDuplicate returns the active alert incoming repeats, if any.
// Params: incoming record and active store.
// Returns: existing record id and true when message and category match and
// the two timestamps are less than the window apart, in either order.
func (d *Deduplicator) FindDuplicate(incoming domain.AlertRecord, active *ActiveStore) (string, bool) {
	id, ok := d.index[DedupKey(incoming.Category, incoming.Message)]
	if !ok {
		return "", false
	}
	existing, ok := active.Get(id)
	if !ok {
		return "", false
	}
	if existing.Message != incoming.Message || existing.Category != incoming.Category {
		return "", false
	}
	gap := incoming.Timestamp.Sub(existing.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	if gap >= d.window {
		return "", false
	}
	return id, true
}

// Track points the key of record at record.
func (d *Deduplicator) Track(record domain.AlertRecord) {
	d.index[DedupKey(record.Category, record.Message)] = record.ID
}

// Forget drops the key of record when it still points at record.
func (d *Deduplicator) Forget(record domain.AlertRecord) {
	key := DedupKey(record.Category, record.Message)
	if d.index[key] == record.ID {
		delete(d.index, key)
	}
}

// Len returns the number of indexed keys.
func (d *Deduplicator) Len() int {
	return len(d.index)
}

// Merge folds incoming into existing.
// Params: existing active record (mutated) and incoming duplicate.
// Returns: none; count grows, lastOccurrence only moves forward, expiresAt stays.
func Merge(existing *domain.AlertRecord, incoming domain.AlertRecord) {
	existing.Count++
	if incoming.Timestamp.After(existing.LastOccurrence) {
		existing.LastOccurrence = incoming.Timestamp
	}
}
