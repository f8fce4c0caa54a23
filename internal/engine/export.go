package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"alerthub/internal/domain"
	"alerthub/internal/templatefmt"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Snapshot is a point-in-time dump of engine state.
type Snapshot struct {
	ExportedAt time.Time             `json:"exportedAt"`
	Active     []domain.AlertRecord  `json:"active"`
	History    []domain.HistoryEntry `json:"history"`
	Statistics domain.Statistics     `json:"statistics"`
}

var textReport = templatefmt.MustParse("export.text", `alerthub export {{ fmtTime .ExportedAt }}

active alerts: {{ len .Active }}
{{- range .Active }}
  {{ pad 9 .Priority }} {{ pad 12 .Category }} x{{ .Count }} {{ .Title }}{{ if .Acknowledged }} [ack by {{ .AcknowledgedBy }}]{{ end }}
    id={{ .ID }} since={{ fmtTime .Timestamp }} expires={{ fmtTime .ExpiresAt }}
{{- end }}

statistics (last {{ .Statistics.WindowHours }}h):
  total={{ .Statistics.Total }} acknowledged={{ .Statistics.Acknowledged }} dismissed={{ .Statistics.Dismissed }} avg_response={{ fmtDuration .Statistics.AverageResponseTimeSeconds }}
{{- range $priority, $count := .Statistics.ByPriority }}
  {{ pad 9 $priority }} {{ $count }}
{{- end }}

history: {{ len .History }}
{{- range .History }}
  {{ fmtTime .ProcessedAt }} {{ pad 18 .Event }} {{ .Alert.ID }} {{ .Alert.Title }}
{{- end }}
`)

// Snapshot captures active alerts, full history, and default-window statistics.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	var snapshot Snapshot
	err := e.do(ctx, func() {
		now := e.clock.Now()
		snapshot = Snapshot{
			ExportedAt: now,
			Active:     e.active.List(domain.Filter{}),
			History:    e.history.All(),
			Statistics: ComputeStatistics(e.history, now, defaultStatsWindowHours),
		}
	})
	return snapshot, err
}

// Export renders Snapshot.
// Params: format "json" (default when empty) or "text".
// Returns: rendered document or unsupported-format error.
func (e *Engine) Export(ctx context.Context, format string) ([]byte, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatText {
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	snapshot, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return RenderSnapshot(snapshot, format)
}

// RenderSnapshot encodes snapshot in format.
func RenderSnapshot(snapshot Snapshot, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		body, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode export: %w", err)
		}
		return body, nil
	case FormatText:
		var out bytes.Buffer
		if err := textReport.Execute(&out, snapshot); err != nil {
			return nil, fmt.Errorf("render export: %w", err)
		}
		return out.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
