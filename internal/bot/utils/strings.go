package utils

import "strings"

// TruncateString shortens s to at most maxLength runes, ending in "..." when cut.
func TruncateString(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}

	if maxLength <= 3 {
		return string(runes[:maxLength])
	}

	return string(runes[:maxLength-3]) + "..."
}

// NormalizeString replaces newlines with spaces and removes backticks
// so user text cannot break message formatting.
func NormalizeString(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "`", "")
}
