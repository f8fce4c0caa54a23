package engine

import (
	"time"

	"alerthub/internal/domain"
)

const defaultStatsWindowHours = 24

// ComputeStatistics summarizes alerts created inside the window.
// Params: history ring, current instant, and window in hours (<=0 means 24).
// Returns: counts over the newest snapshot of each distinct alert id.
func ComputeStatistics(history *History, now time.Time, windowHours float64) domain.Statistics {
	if windowHours <= 0 {
		windowHours = defaultStatsWindowHours
	}
	cutoff := now.Add(-time.Duration(windowHours * float64(time.Hour)))

	stats := domain.Statistics{
		WindowHours: windowHours,
		ByPriority:  make(map[domain.Priority]int, len(domain.Priorities())),
		ByCategory:  make(map[domain.Category]int, len(domain.Categories())),
		GeneratedAt: now,
	}
	for _, priority := range domain.Priorities() {
		stats.ByPriority[priority] = 0
	}
	for _, category := range domain.Categories() {
		stats.ByCategory[category] = 0
	}

	seen := make(map[string]struct{}, history.Len())
	var responseTotal time.Duration
	responseCount := 0
	history.EachNewest(func(entry domain.HistoryEntry) bool {
		alert := entry.Alert
		if _, dup := seen[alert.ID]; dup {
			return true
		}
		seen[alert.ID] = struct{}{}
		if alert.Timestamp.Before(cutoff) {
			return true
		}

		stats.Total++
		stats.ByPriority[alert.Priority]++
		stats.ByCategory[alert.Category]++
		if alert.Dismissed {
			stats.Dismissed++
		}
		if response, ok := alert.ResponseTime(); ok {
			stats.Acknowledged++
			responseTotal += response
			responseCount++
		}
		return true
	})
	if responseCount > 0 {
		stats.AverageResponseTimeSeconds = responseTotal.Seconds() / float64(responseCount)
	}
	return stats
}
