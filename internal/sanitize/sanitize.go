// Package sanitize strips unsafe markup from user supplied event text.
package sanitize

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

var (
	plain = bluemonday.StrictPolicy()
	ugc   = bluemonday.UGCPolicy()
)

// Text removes every tag. Entities produced by the policy are decoded again
// because the result is served as JSON, not HTML.
func Text(input string) string {
	return html.UnescapeString(plain.Sanitize(input))
}

// HTML keeps basic formatting (paragraphs, emphasis, lists, links) and drops
// scripts, frames, handlers and styles. Used for event descriptions.
func HTML(input string) string {
	return ugc.Sanitize(input)
}
