package timespec

import (
	"fmt"
	"time"
)

// Deadline parses a time specification into an absolute point after now.
// Supports two formats:
//   - Go duration format: "30s", "5m", "1h30m" (relative to now)
//   - RFC3339 timestamps: "2025-10-29T13:00:00Z"
//
// An empty spec means no deadline and returns the zero time.
func Deadline(spec string, now time.Time) (time.Time, error) {
	if spec == "" {
		return time.Time{}, nil
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		if !t.After(now) {
			return time.Time{}, fmt.Errorf("time specification %s is in the past", spec)
		}
		return t, nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("duration must be positive: %s", spec)
		}
		return now.Add(d), nil
	}

	return time.Time{}, fmt.Errorf("invalid time specification: %s (use duration like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z')", spec)
}
