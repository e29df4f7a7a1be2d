package scenario

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	dps "github.com/markusmobius/go-dateparser"
)

var (
	nowMinusPattern = regexp.MustCompile(`(?i)^\s*now\s*-\s*(.*)$`)
	durationPattern = regexp.MustCompile(`(?i)^(\d+)\s*(h|hr|hrs|hour|hours|m|min|mins|minute|minutes|d|day|days)$`)
)

// ParseTimestamp turns an incident timestamp into a time relative to now.
//
// Supported formats:
//   - RFC3339: "2024-01-01T09:55:00Z"
//   - Unix seconds: "1704102900"
//   - Composite: "now-2h", "now-30m", "now-1d"
//   - Human-readable: "now", "2 hours ago", "yesterday 14:00", "2024-01-01"
//
// An empty string yields the zero time.
func ParseTimestamp(s string, now time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return time.Time{}, nil
	}

	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return t.UTC(), nil
	}

	if unix, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		if unix < 0 {
			return time.Time{}, fmt.Errorf("timestamp must be non-negative, got %d", unix)
		}
		return time.Unix(unix, 0).UTC(), nil
	}

	// "now-..." never falls back to the date parser.
	if m := nowMinusPattern.FindStringSubmatch(trimmed); m != nil {
		return parseNowMinus(strings.TrimSpace(m[1]), now)
	}

	parser := dps.Parser{}
	cfg := &dps.Configuration{
		CurrentTime:         now,
		PreferredDateSource: dps.Past,
	}
	parsed, err := parser.Parse(cfg, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a valid timestamp: %w", s, err)
	}
	if parsed.IsZero() {
		return time.Time{}, fmt.Errorf("%q could not be parsed as a date", s)
	}
	return parsed.Time.UTC(), nil
}

func parseNowMinus(duration string, now time.Time) (time.Time, error) {
	if duration == "" {
		return time.Time{}, fmt.Errorf("duration is required after 'now-'")
	}
	m := durationPattern.FindStringSubmatch(duration)
	if m == nil {
		return time.Time{}, fmt.Errorf("invalid duration %q in 'now-<duration>', expected e.g. 'now-2h' or 'now-30m'", duration)
	}

	amount, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid number in duration: %s", m[1])
	}

	now = now.UTC()
	switch unit := strings.ToLower(m[2]); {
	case strings.HasPrefix(unit, "h"):
		return now.Add(-time.Duration(amount) * time.Hour), nil
	case strings.HasPrefix(unit, "m"):
		return now.Add(-time.Duration(amount) * time.Minute), nil
	default:
		return now.AddDate(0, 0, -amount), nil
	}
}
