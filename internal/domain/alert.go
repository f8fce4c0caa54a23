package domain

import (
	"strings"
	"time"
)

// Priority is alert severity class with total order by weight.
// Params: one of critical/high/medium/low/info.
// Returns: ordering key for active alert listings.
type Priority string

const (
	// PriorityCritical never auto-expires and bypasses batch ingestion.
	PriorityCritical Priority = "critical"
	// PriorityHigh marks urgent but non-critical conditions.
	PriorityHigh Priority = "high"
	// PriorityMedium is the default priority for producer alerts.
	PriorityMedium Priority = "medium"
	// PriorityLow marks informational degradations.
	PriorityLow Priority = "low"
	// PriorityInfo marks purely informational notices.
	PriorityInfo Priority = "info"
)

var priorityWeights = map[Priority]int{
	PriorityCritical: 5,
	PriorityHigh:     4,
	PriorityMedium:   3,
	PriorityLow:      2,
	PriorityInfo:     1,
}

// Priorities returns all priorities ordered from highest to lowest weight.
func Priorities() []Priority {
	return []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityInfo}
}

// Weight returns numeric rank used for ordering.
// Params: none.
// Returns: 5 for critical down to 1 for info, 0 for unknown values.
func (p Priority) Weight() int {
	return priorityWeights[p]
}

// Valid reports whether priority belongs to the fixed enumeration.
func (p Priority) Valid() bool {
	_, ok := priorityWeights[p]
	return ok
}

// ParsePriority canonicalizes raw priority text.
// Params: raw producer value, case and surrounding spaces ignored.
// Returns: parsed priority and true, or medium and false for unknown input.
func ParsePriority(raw string) (Priority, bool) {
	normalized := Priority(strings.ToLower(strings.TrimSpace(raw)))
	if normalized.Valid() {
		return normalized, true
	}
	return PriorityMedium, false
}

// Category labels alert origin domain; used for filtering only.
type Category string

const (
	CategoryInventory   Category = "inventory"
	CategorySales       Category = "sales"
	CategoryCustomer    Category = "customer"
	CategorySystem      Category = "system"
	CategoryPerformance Category = "performance"
	CategorySecurity    Category = "security"
	CategorySupplier    Category = "supplier"
	CategoryCost        Category = "cost"
)

var categories = []Category{
	CategoryInventory,
	CategorySales,
	CategoryCustomer,
	CategorySystem,
	CategoryPerformance,
	CategorySecurity,
	CategorySupplier,
	CategoryCost,
}

// Categories returns the fixed category enumeration in declaration order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Valid reports whether category belongs to the fixed enumeration.
func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory canonicalizes raw category text.
// Params: raw producer value, case and surrounding spaces ignored.
// Returns: parsed category and true, or system and false for unknown input.
func ParseCategory(raw string) (Category, bool) {
	normalized := Category(strings.ToLower(strings.TrimSpace(raw)))
	if normalized.Valid() {
		return normalized, true
	}
	return CategorySystem, false
}

// DismissReason records why an alert left the active set.
type DismissReason string

const (
	// DismissUser marks explicit dismissal by a consumer.
	DismissUser DismissReason = "user"
	// DismissExpired marks dismissal by the expiration scheduler.
	DismissExpired DismissReason = "expired"
	// DismissCleanup marks dismissal by the janitor pass.
	DismissCleanup DismissReason = "cleanup"
)

// ParseDismissReason canonicalizes dismissal reason.
// Params: raw reason text.
// Returns: known reason, or user for empty/unknown input.
func ParseDismissReason(raw string) DismissReason {
	switch reason := DismissReason(strings.ToLower(strings.TrimSpace(raw))); reason {
	case DismissUser, DismissExpired, DismissCleanup:
		return reason
	default:
		return DismissUser
	}
}

// Metadata keys interpreted by the engine itself.
const (
	// MetaDerivedFrom carries the source alert id on escalation-derived alerts.
	MetaDerivedFrom = "derivedFrom"
	// MetaEscalation names the escalation handler that produced an alert.
	MetaEscalation = "escalation"
)

// AlertRecord is one alert with its lifecycle fields.
// Params: identity and producer payload set at enrichment; lifecycle fields set by engine.
// Returns: record stored in active set and copied into history.
type AlertRecord struct {
	ID              string         `json:"id"`
	Timestamp       time.Time      `json:"timestamp"`
	Title           string         `json:"title"`
	Message         string         `json:"message"`
	Priority        Priority       `json:"priority"`
	Category        Category       `json:"category"`
	Source          string         `json:"source"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Acknowledged    bool           `json:"acknowledged"`
	AcknowledgedAt  *time.Time     `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy  string         `json:"acknowledgedBy,omitempty"`
	Dismissed       bool           `json:"dismissed"`
	DismissedAt     *time.Time     `json:"dismissedAt,omitempty"`
	DismissalReason DismissReason  `json:"dismissalReason,omitempty"`
	ExpiresAt       *time.Time     `json:"expiresAt"`
	Count           int            `json:"count"`
	LastOccurrence  time.Time      `json:"lastOccurrence"`
}

// Clone returns a copy that shares no mutable state with the receiver.
// Params: none.
// Returns: deep copy of pointers and top-level metadata map.
func (a AlertRecord) Clone() AlertRecord {
	out := a
	out.AcknowledgedAt = cloneTime(a.AcknowledgedAt)
	out.DismissedAt = cloneTime(a.DismissedAt)
	out.ExpiresAt = cloneTime(a.ExpiresAt)
	if a.Metadata != nil {
		out.Metadata = make(map[string]any, len(a.Metadata))
		for key, value := range a.Metadata {
			out.Metadata[key] = value
		}
	}
	return out
}

// Derived reports whether alert was produced by an escalation handler.
func (a AlertRecord) Derived() bool {
	if a.Metadata == nil {
		return false
	}
	value, ok := a.Metadata[MetaDerivedFrom]
	if !ok {
		return false
	}
	str, isString := value.(string)
	return !isString || strings.TrimSpace(str) != ""
}

// Expired reports whether alert deadline is at or before now.
// Params: current instant.
// Returns: false for alerts without deadline.
func (a AlertRecord) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// ResponseTime returns acknowledgement latency.
// Params: none.
// Returns: duration and true when alert was acknowledged.
func (a AlertRecord) ResponseTime() (time.Duration, bool) {
	if !a.Acknowledged || a.AcknowledgedAt == nil {
		return 0, false
	}
	return a.AcknowledgedAt.Sub(a.Timestamp), true
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

// HistoryEntry is a point-in-time copy of one alert transition.
// Params: alert snapshot, transition kind, and processing instant.
// Returns: audit record kept in bounded history.
type HistoryEntry struct {
	Alert       AlertRecord `json:"alert"`
	Event       EventKind   `json:"event"`
	ProcessedAt time.Time   `json:"processedAt"`
}

// Statistics summarizes alerts created within a time window.
type Statistics struct {
	WindowHours                float64          `json:"windowHours"`
	Total                      int              `json:"total"`
	ByPriority                 map[Priority]int `json:"byPriority"`
	ByCategory                 map[Category]int `json:"byCategory"`
	Acknowledged               int              `json:"acknowledged"`
	Dismissed                  int              `json:"dismissed"`
	AverageResponseTimeSeconds float64          `json:"averageResponseTimeSeconds"`
	GeneratedAt                time.Time        `json:"generatedAt"`
}
