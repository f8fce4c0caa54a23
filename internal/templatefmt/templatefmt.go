package templatefmt

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// FuncMap returns shared report template helpers.
// Params: none.
// Returns: helper map used by export rendering.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"fmtDuration": FormatDuration,
		"fmtTime":     FormatTime,
		"json":        MarshalJSON,
		"upper":       strings.ToUpper,
		"pad":         Pad,
	}
}

// Parse compiles one template with shared helpers and strict key lookup.
// Params: template name and body.
// Returns: compiled template or parse error.
func Parse(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=error").Parse(body)
}

// MustParse is Parse for package-level templates known at build time.
func MustParse(name, body string) *template.Template {
	return template.Must(Parse(name, body))
}

// FormatDuration renders duration in compact human form with one decimal precision.
// Params: time.Duration, *time.Duration, or float seconds.
// Returns: formatted duration string.
func FormatDuration(value any) string {
	var duration time.Duration
	switch typed := value.(type) {
	case time.Duration:
		duration = typed
	case *time.Duration:
		if typed == nil {
			return "0.0s"
		}
		duration = *typed
	case float64:
		duration = time.Duration(typed * float64(time.Second))
	default:
		return "0.0s"
	}

	if duration < 0 {
		duration = -duration
	}
	seconds := duration.Seconds()
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%.1fh", seconds/3600)
	case seconds >= 60:
		return fmt.Sprintf("%.1fm", seconds/60)
	default:
		return fmt.Sprintf("%.1fs", seconds)
	}
}

// FormatTime renders instant as RFC3339 UTC.
// Params: time.Time or *time.Time.
// Returns: formatted instant, or "-" for nil/zero values.
func FormatTime(value any) string {
	var instant time.Time
	switch typed := value.(type) {
	case time.Time:
		instant = typed
	case *time.Time:
		if typed == nil {
			return "-"
		}
		instant = *typed
	default:
		return "-"
	}
	if instant.IsZero() {
		return "-"
	}
	return instant.UTC().Format(time.RFC3339)
}

// Pad right-pads value with spaces to width runes.
func Pad(width int, value any) string {
	text := fmt.Sprint(value)
	if missing := width - len([]rune(text)); missing > 0 {
		return text + strings.Repeat(" ", missing)
	}
	return text
}

// MarshalJSON renders value into JSON string for template embedding.
// Params: template value of any type.
// Returns: marshaled JSON string or "null" on marshal failure.
func MarshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}
