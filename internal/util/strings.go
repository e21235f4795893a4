// Package util holds small string helpers shared across packages.
package util

import "strings"

// TruncateRunes caps s at maxRunes code points, marking the cut with
// "...". Non-positive caps leave s untouched.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "..."
}

// PreviewList renders names as a comma-separated line capped at maxRunes.
func PreviewList(names []string, maxRunes int) string {
	return TruncateRunes(strings.Join(names, ", "), maxRunes)
}
