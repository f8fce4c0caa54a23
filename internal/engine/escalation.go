package engine

import (
	"fmt"

	"alerthub/internal/domain"
)

// Escalation derives follow-up alerts from a newly added alert.
// Params: Name labels metrics and metadata; Derive inspects one added record.
// Returns: raw alerts to admit inline, or none.
type Escalation interface {
	Name() string
	Derive(alert domain.AlertRecord) []domain.RawAlert
}

var (
	stockLevelKeys = []string{"stockLevel", "stock_level", "currentStock", "quantity"}
	itemKeys       = []string{"itemId", "item_id", "sku", "itemName"}
)

// StockOut escalates inventory alerts that report zero stock.
type StockOut struct{}

// Name returns the handler label stored under the escalation metadata key.
func (StockOut) Name() string {
	return "stock_out"
}

// Derive emits one critical restocking alert for a zero stock level.
// Params: added inventory alert.
// Returns: derived alert carrying derivedFrom and item identity keys.
func (s StockOut) Derive(alert domain.AlertRecord) []domain.RawAlert {
	if alert.Category != domain.CategoryInventory {
		return nil
	}
	level, _, ok := MetadataNumber(alert.Metadata, stockLevelKeys...)
	if !ok || level != 0 {
		return nil
	}

	metadata := map[string]any{
		domain.MetaDerivedFrom: alert.ID,
		domain.MetaEscalation:  s.Name(),
	}
	for _, key := range itemKeys {
		if value, ok := alert.Metadata[key]; ok {
			metadata[key] = value
		}
	}

	message := "Stock depleted: " + alert.Message
	if item, ok := MetadataString(alert.Metadata, itemKeys...); ok {
		message = fmt.Sprintf("Stock depleted for %s: %s", item, alert.Message)
	}
	return []domain.RawAlert{{
		Title:    "Emergency Restocking Required",
		Message:  message,
		Priority: string(domain.PriorityCritical),
		Category: string(domain.CategoryInventory),
		Source:   "escalation/" + s.Name(),
		Metadata: metadata,
	}}
}
