package post

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const excerptLength = 180

var (
	whitespaceRun  = regexp.MustCompile(`\s+`)
	slugDisallowed = regexp.MustCompile(`[^a-z0-9-]`)

	contentPolicy = newContentPolicy()
	textPolicy    = bluemonday.StrictPolicy()
)

func newContentPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("img", "table", "thead", "tbody", "tr", "td", "th", "iframe")
	p.AllowAttrs("src", "alt", "width", "height").OnElements("img")
	p.AllowAttrs("src", "width", "height", "frameborder", "allow", "allowfullscreen").OnElements("iframe")
	return p
}

// SanitizeContent strips scripts, handlers and unknown markup from admin HTML.
func SanitizeContent(raw string) string {
	return contentPolicy.Sanitize(raw)
}

// Excerpt is the first 180 characters of the text content, with "..." when cut.
func Excerpt(content string) string {
	plain := strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(content)))
	if utf8.RuneCountInString(plain) <= excerptLength {
		return plain
	}
	runes := []rune(plain)
	return string(runes[:excerptLength]) + "..."
}

// Slugify lower-cases, joins words with '-' and drops everything outside [a-z0-9-].
// A title with nothing usable becomes "post".
func Slugify(value string) string {
	slug := strings.ToLower(strings.TrimSpace(value))
	slug = whitespaceRun.ReplaceAllString(slug, "-")
	slug = strings.Trim(slugDisallowed.ReplaceAllString(slug, ""), "-")
	if slug == "" {
		return "post"
	}
	return slug
}

// SlugCandidate returns base for attempt 0 and base-n afterwards.
func SlugCandidate(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	return base + "-" + strconv.Itoa(attempt)
}
