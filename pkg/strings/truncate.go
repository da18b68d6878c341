package strings

import (
	"strings"
)

// DefaultErrorBodyMaxLen bounds how much of an upstream HTTP error body is
// echoed into a one-line error message. The full body stays available on the
// error value itself.
const DefaultErrorBodyMaxLen = 200

// MinTruncateLen is the smallest maxLen Truncate honours; shorter values
// leave no room for content plus the ellipsis.
const MinTruncateLen = 4

// Truncate flattens s onto a single line (any whitespace run becomes one
// space) and cuts it to at most maxLen runes, ending in "..." when cut.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// MaskEmail keeps the first character of the local part and the domain,
// e.g. "jane.doe@example.com" becomes "j***@example.com". Values without an
// "@" are masked entirely.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	first := []rune(email[:at])[0]
	return string(first) + "***" + email[at:]
}
