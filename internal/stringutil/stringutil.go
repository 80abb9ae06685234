package stringutil

import (
	"time"
)

// FormatTime returns t formatted as RFC 3339, or an empty string for the
// zero value.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ParseTime parses an RFC 3339 time string. Empty input yields the zero time.
func ParseTime(val string) (time.Time, error) {
	if val == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(time.RFC3339, val, time.Local)
}

// TruncString returns val truncated to at most max runes.
func TruncString(val string, max int) string {
	runes := []rune(val)
	if len(runes) > max {
		return string(runes[:max])
	}
	return val
}

// TruncateWithEllipsis truncates val to at most max runes, appending an
// ellipsis when content was removed.
func TruncateWithEllipsis(val string, max int) string {
	runes := []rune(val)
	if len(runes) <= max {
		return val
	}
	if max <= 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
