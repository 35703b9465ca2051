// Package slug turns free-form topic names into file-system safe identifiers.
package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	snakeInvalid = regexp.MustCompile(`[^a-z0-9\s_]`)
	whitespace   = regexp.MustCompile(`\s+`)
	kebabInvalid = regexp.MustCompile(`[^a-z0-9]+`)
)

// fold lower-cases s and strips diacritics so "Café" and "cafe" slug alike.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Snake converts text to snake_case, e.g. "React Hooks" -> "react_hooks".
// Used for session folder names.
func Snake(text string) string {
	s := snakeInvalid.ReplaceAllString(fold(text), "")
	s = whitespace.ReplaceAllString(strings.TrimSpace(s), "_")
	return strings.Trim(s, "_")
}

// Kebab converts text to kebab-case, e.g. "Closures & Scope" -> "closures-scope".
// Used for page directory names.
func Kebab(text string) string {
	s := kebabInvalid.ReplaceAllString(fold(text), "-")
	return strings.Trim(s, "-")
}
