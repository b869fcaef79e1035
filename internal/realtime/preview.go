package realtime

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// Preview reduces a response body to at most n runes of text with all
// markup removed. The result is HTML-escaped.
func Preview(body string, n int) string {
	text := html.UnescapeString(strict.Sanitize(body))
	text = strings.Join(strings.Fields(text), " ")
	if n > 0 && utf8.RuneCountInString(text) > n {
		text = string([]rune(text)[:n]) + "..."
	}
	return html.EscapeString(text)
}
