package disclosure

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"
)

// Layout selects how document keys are arranged under a day prefix.
type Layout string

const (
	// LayoutFlat stores every document of a day side by side.
	LayoutFlat Layout = "flat"
	// LayoutByType adds a document type directory under the day prefix.
	LayoutByType Layout = "by_type"
)

const maxTitleRunes = 50

// KeyScheme builds deterministic storage keys.
type KeyScheme struct {
	BasePath string
	Layout   Layout
}

// DayPrefix returns {basePath}/{YYYY}/{MM}/{DD}.
func (k KeyScheme) DayPrefix(date time.Time) string {
	return path.Join(
		strings.Trim(k.BasePath, "/"),
		date.Format("2006"),
		date.Format("01"),
		date.Format("02"),
	)
}

// DocumentKey returns the object key for an accepted document.
func (k KeyScheme) DocumentKey(date time.Time, doc AcceptedDocument) string {
	name := fmt.Sprintf("%s_%s.pdf", doc.Code, SanitizeTitle(doc.Title))
	if k.Layout == LayoutByType && doc.Type != "" {
		return path.Join(k.DayPrefix(date), string(doc.Type), name)
	}
	return path.Join(k.DayPrefix(date), name)
}

// ManifestKey returns the object key of the day manifest.
func (k KeyScheme) ManifestKey(date time.Time) string {
	return path.Join(k.DayPrefix(date), fmt.Sprintf("metadata_%s.json", FormatDate(date)))
}

// SanitizeTitle keeps letters, digits, '-' and '_', maps whitespace to '_',
// truncates to 50 runes and trims trailing underscores.
func SanitizeTitle(title string) string {
	var b strings.Builder
	n := 0
	for _, r := range title {
		if n == maxTitleRunes {
			break
		}
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		default:
			continue
		}
		n++
	}
	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		return "document"
	}
	return out
}
