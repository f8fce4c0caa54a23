package engine

import (
	"log/slog"
	"strings"

	"alerthub/internal/clock"
	"alerthub/internal/config"
	"alerthub/internal/domain"
	"alerthub/internal/metrics"

	"github.com/google/uuid"
)

const (
	defaultSource  = "system"
	defaultMessage = "unspecified alert"
)

// Enricher turns loosely typed producer input into a full AlertRecord.
// Params: persist-time settings, clock, logger, and id generator.
// Returns: enrichment step that never fails.
type Enricher struct {
	cfg    config.EngineConfig
	clock  clock.Clock
	logger *slog.Logger
	newID  func() string
}

// NewEnricher builds enricher with uuid identifiers.
func NewEnricher(cfg config.EngineConfig, clk clock.Clock, logger *slog.Logger) *Enricher {
	return &Enricher{
		cfg:    cfg,
		clock:  clk,
		logger: logger,
		newID:  func() string { return uuid.NewString() },
	}
}

// Enrich applies defaults, coercion, identity, and lifetime.
// Params: raw producer alert.
// Returns: new record with count 1; invalid enums fall back to defaults.
func (e *Enricher) Enrich(raw domain.RawAlert) domain.AlertRecord {
	now := e.clock.Now()

	priority, ok := domain.ParsePriority(raw.Priority)
	if !ok && strings.TrimSpace(raw.Priority) != "" {
		e.coerced("priority", raw.Priority, string(priority))
	}
	category, ok := domain.ParseCategory(raw.Category)
	if !ok && strings.TrimSpace(raw.Category) != "" {
		e.coerced("category", raw.Category, string(category))
	}

	message := strings.TrimSpace(raw.Message)
	if message == "" {
		message = defaultMessage
		e.coerced("message", raw.Message, message)
	}
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		title = message
	}
	source := strings.TrimSpace(raw.Source)
	if source == "" {
		source = defaultSource
	}

	record := domain.AlertRecord{
		ID:             e.newID(),
		Timestamp:      now,
		Title:          title,
		Message:        message,
		Priority:       priority,
		Category:       category,
		Source:         source,
		Count:          1,
		LastOccurrence: now,
	}
	if len(raw.Metadata) > 0 {
		record.Metadata = make(map[string]any, len(raw.Metadata))
		for key, value := range raw.Metadata {
			record.Metadata[key] = value
		}
	}
	if persist := e.cfg.PersistTime(priority); persist > 0 {
		expiresAt := now.Add(persist)
		record.ExpiresAt = &expiresAt
	}
	metrics.AlertsSubmittedTotal.WithLabelValues(string(priority)).Inc()
	return record
}

func (e *Enricher) coerced(field, raw, replacement string) {
	metrics.AlertsCoercedTotal.WithLabelValues(field).Inc()
	if e.logger != nil {
		e.logger.Warn("alert field coerced", "field", field, "raw", raw, "value", replacement)
	}
}
