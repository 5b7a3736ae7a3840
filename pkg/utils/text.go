// Package utils holds small helpers shared by the originbrain packages: artifact text
// shortening, embedding normalization and logger setup.
package utils

import "unicode/utf8"

// Truncate shortens s to at most maxLen runes and appends "..." when it cut anything.
// Titles and tweets often carry emoji or accented text, so the cut never lands inside a
// multi-byte character. maxLen <= 0 leaves s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
