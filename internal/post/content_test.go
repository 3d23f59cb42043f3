package post

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"  Hello World, 2026! ", "hello-world-2026"},
		{"Fed   Holds\tRates", "fed-holds-rates"},
		{"already-a-slug", "already-a-slug"},
		{"½ ☃", "post"},
		{"-- Breaking --", "breaking"},
		{"!!!", "post"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Slugify(tc.in), tc.in)
	}
}

func TestSlugCandidate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "rates", SlugCandidate("rates", 0))
	assert.Equal(t, "rates-1", SlugCandidate("rates", 1))
	assert.Equal(t, "rates-12", SlugCandidate("rates", 12))
}

func TestSanitizeContent(t *testing.T) {
	t.Parallel()

	out := SanitizeContent(`<p onclick="steal()">Hello <script>alert(1)</script><b>world</b></p>` +
		`<img src="https://cdn.example.com/a.png" alt="chart" onerror="x()">` +
		`<a href="javascript:alert(1)">bad</a>`)

	assert.Contains(t, out, "<b>world</b>")
	assert.Contains(t, out, `src="https://cdn.example.com/a.png"`)
	assert.NotContains(t, out, "script")
	assert.NotContains(t, out, "onclick")
	assert.NotContains(t, out, "onerror")
	assert.NotContains(t, out, "javascript:")
}

func TestExcerpt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Tom & Jerry", Excerpt("<p>Tom &amp; Jerry</p>"))

	long := Excerpt("<p>" + strings.Repeat("a", 200) + "</p>")
	assert.Equal(t, strings.Repeat("a", 180)+"...", long)

	exact := Excerpt(strings.Repeat("é", 180))
	assert.Equal(t, strings.Repeat("é", 180), exact)
}
