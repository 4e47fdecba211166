package ui

// ShortIDLen covers the millisecond timestamp of a UUIDv7 run ID
// ("0190a1b2-c3d4"). Shorter prefixes collide for runs started within
// about a minute of each other.
const ShortIDLen = 13

// ShortID abbreviates a run ID for tables. The result is always a valid
// prefix for "history RUN_ID".
func ShortID(id string) string {
	return truncateRunes(id, ShortIDLen)
}

// TruncateWithEllipsis truncates text to maxRunes and appends an ellipsis when needed.
func TruncateWithEllipsis(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if t := truncateRunes(s, maxRunes); t != s {
		return t + "…"
	}
	return s
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
