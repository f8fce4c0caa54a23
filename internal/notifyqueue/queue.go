package notifyqueue

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"alerthub/internal/domain"
	"alerthub/internal/notify"
)

// Event is one lifecycle transition shipped to other processes.
// Params: transition kind, alert snapshot, and emitting service.
// Returns: JSON body published under the kind subject.
type Event struct {
	ID          string             `json:"id"`
	Kind        domain.EventKind   `json:"kind"`
	Alert       domain.AlertRecord `json:"alert"`
	Service     string             `json:"service,omitempty"`
	PublishedAt time.Time          `json:"published_at"`
}

// BuildEventID creates deterministic id for one lifecycle transition.
// Params: transition kind and alert snapshot taken at that transition.
// Returns: stable SHA1-based id string, also used as Nats-Msg-Id.
func BuildEventID(kind domain.EventKind, alert domain.AlertRecord) string {
	raw := fmt.Sprintf(
		"%s|%s|%d|%d|%t|%t|%s",
		kind,
		alert.ID,
		alert.Count,
		alert.LastOccurrence.UnixNano(),
		alert.Acknowledged,
		alert.Dismissed,
		alert.DismissalReason,
	)
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Subject returns the publish subject for kind under prefix.
func Subject(prefix string, kind domain.EventKind) string {
	return strings.TrimSuffix(prefix, ".") + "." + string(kind)
}

// Producer ships lifecycle events handed over by the engine publisher.
// Params: Handler subscribes to the engine; Close flushes and releases transport.
// Returns: subscriber plus shutdown hook.
type Producer interface {
	Handler() notify.Handler
	Close() error
}
