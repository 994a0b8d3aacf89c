package detector

import "time"

// DisplayLayout is the human-readable form of upstream timestamps.
const DisplayLayout = "Jan 02, 2006 @ 03:04 PM"

// FormatTimestamp renders an RFC 3339 timestamp for display. Unparseable
// input is returned unchanged, and empty input as "unknown".
func FormatTimestamp(raw string) string {
	if raw == "" {
		return "unknown"
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.UTC().Format(DisplayLayout)
}
