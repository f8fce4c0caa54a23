package domain

// EventKind identifies one lifecycle transition published to subscribers.
// Params: constants alert_added/alert_updated/alert_acknowledged/alert_dismissed.
// Returns: event name shared by in-process, SSE, and NATS fan-out.
type EventKind string

const (
	// EventAdded marks a new active alert.
	EventAdded EventKind = "alert_added"
	// EventUpdated marks a deduplication merge into an existing alert.
	EventUpdated EventKind = "alert_updated"
	// EventAcknowledged marks acknowledgement of an active alert.
	EventAcknowledged EventKind = "alert_acknowledged"
	// EventDismissed marks removal of an alert from the active set.
	EventDismissed EventKind = "alert_dismissed"
)

// RawAlert is the loosely typed producer request.
// Params: message plus optional title, enum strings, source, and metadata.
// Returns: input for enrichment; never rejected for bad enum values.
type RawAlert struct {
	Title    string         `json:"title,omitempty"`
	Message  string         `json:"message"`
	Priority string         `json:"priority,omitempty"`
	Category string         `json:"category,omitempty"`
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Filter selects alerts by priority, category, and acknowledgement.
// Params: zero-value fields match everything.
// Returns: predicate for active listing and history queries.
type Filter struct {
	Priority     Priority `json:"priority,omitempty"`
	Category     Category `json:"category,omitempty"`
	Acknowledged *bool    `json:"acknowledged,omitempty"`
}

// Match reports whether alert satisfies every set field.
// Params: alert record.
// Returns: true when all non-empty predicates hold.
func (f Filter) Match(alert AlertRecord) bool {
	if f.Priority != "" && alert.Priority != f.Priority {
		return false
	}
	if f.Category != "" && alert.Category != f.Category {
		return false
	}
	if f.Acknowledged != nil && alert.Acknowledged != *f.Acknowledged {
		return false
	}
	return true
}
