// Package registry loads the listed-company market table and canonicalizes
// security codes for lookups against it.
package registry

import "strings"

// NormalizeCode canonicalizes a security code for registry lookup.
// Five-digit numeric codes lose their trailing check digit ("13264" -> "1326");
// everything else is only trimmed and upper-cased.
func NormalizeCode(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) == 5 && isDigits(c) {
		return c[:4]
	}
	return c
}

// NormalizeSize drops the "TOPIX " prefix from a size class and maps blanks
// and "-" to "Unknown".
func NormalizeSize(size string) string {
	s := strings.TrimSpace(size)
	s = strings.TrimSpace(strings.TrimPrefix(s, "TOPIX "))
	if s == "" || s == "-" {
		return "Unknown"
	}
	return s
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
