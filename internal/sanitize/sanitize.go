// Package sanitize normalises user-controlled text shown on the dashboard.
package sanitize

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// strict strips every tag; bluemonday policies are safe for concurrent use.
var strict = bluemonday.StrictPolicy()

// Line strips HTML markup and control characters from s and collapses all
// whitespace, including newlines, into single spaces.
func Line(s string) string {
	if s == "" {
		return ""
	}
	if strings.ContainsAny(s, "<>") {
		s = html.UnescapeString(strict.Sanitize(s))
	}

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			if !space {
				b.WriteRune(' ')
				space = true
			}
		case unicode.IsControl(r), r == unicode.ReplacementChar:
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}

// FullName joins a first and last name into one sanitized line.
func FullName(first, last string) string {
	return Line(first + " " + last)
}
