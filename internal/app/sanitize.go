package app

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// Sanitize strips every HTML element, including ones smuggled in as entities,
// and returns trimmed text that is safe to render as HTML. Special characters
// stay entity-escaped.
func Sanitize(s string) string {
	return strings.TrimSpace(strict.Sanitize(html.UnescapeString(s)))
}
