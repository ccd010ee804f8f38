package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// FormatJSON writes the exchange as pretty-printed JSON.
func FormatJSON(w io.Writer, ex Exchange) error {
	data, err := json.MarshalIndent(ex, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal exchange to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// FormatDefault writes the exchange as aligned key/value lines.
func FormatDefault(w io.Writer, ex Exchange) {
	row := func(label, value string) {
		fmt.Fprintf(w, "%-14s %s\n", label, value)
	}

	row("CORRELATION", ex.CorrelationID)
	row("STATE", string(ex.State))
	row("REQUEST TTL", formatTTL(ex.RequestTTL))

	if ex.State != StateResolved {
		return
	}
	row("RESPONSE TTL", formatTTL(ex.ResponseTTL))

	if ex.Reply == nil {
		row("REPLY", "(undecodable) "+formatContent(ex.Raw))
		return
	}
	row("REPLY NAME", ex.Reply.Name())
	row("MESSAGE ID", ex.Reply.MessageID())
	row("CAUSATION ID", ex.Reply.CausationID())
	row("AGE", formatAge(ex.Reply.Timestamp(), time.Now()))
	row("CONTENT", formatContent(string(ex.Reply.Content())))
}

// formatTTL renders whole seconds; zero means absent or unbounded.
func formatTTL(sec int64) string {
	if sec <= 0 {
		return "-"
	}
	return (time.Duration(sec) * time.Second).String()
}

// formatContent shows the first non-empty line, truncated to 60 characters.
func formatContent(content string) string {
	var first string
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			first = trimmed
			break
		}
	}
	if first == "" {
		return "-"
	}
	if len(first) > 60 {
		return first[:57] + "..."
	}
	return first
}

// formatAge renders how long before now t was, like "2m ago".
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
