package journal

import (
	"context"
	"errors"
	"time"

	"alerthub/internal/domain"
)

// ErrNotFound indicates absent journal entry.
var ErrNotFound = errors.New("not found")

// Entry is one critical alert written to the side channel.
// Params: alert snapshot and instant it was recorded.
// Returns: journal row keyed by alert id.
type Entry struct {
	Alert      domain.AlertRecord `json:"alert"`
	RecordedAt time.Time          `json:"recordedAt"`
}

// Key returns the storage key for entry.
func (e Entry) Key() string {
	return e.Alert.ID
}

// Store persists critical alerts on a best-effort basis.
// Params: append, prune-by-age, listing, and close operations.
// Returns: backend journal behavior.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Get(ctx context.Context, id string) (Entry, error)
	Prune(ctx context.Context, before time.Time) (int, error)
	List(ctx context.Context) ([]Entry, error)
	Close() error
}
