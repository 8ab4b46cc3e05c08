// Package slug derives heading identifiers from rendered heading text.
package slug

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// Sentinel is used when a heading produces no usable characters.
const Sentinel = "section"

// Ordered: asp.net must be rewritten before .net.
var substitutions = []struct {
	from string
	to   string
}{
	{"c++", "cpp"},
	{"c#", "csharp"},
	{"f#", "fsharp"},
	{"asp.net", "aspnet"},
	{".net", "dotnet"},
	{"node.js", "nodejs"},
	{"vue.js", "vuejs"},
	{"next.js", "nextjs"},
	{"objective-c", "objectivec"},
	{"&", "and"},
}

var (
	nonWord     = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_\s-]+`)
	whitespace  = regexp.MustCompile(`\s+`)
	hyphenRuns  = regexp.MustCompile(`-{2,}`)
	githubSpace = regexp.MustCompile(`\s`)
)

// Normalize returns the base slug for text without any duplicate suffix.
// The text may contain inline HTML; tags are dropped and entities decoded.
func Normalize(text string) string {
	s := fold(text)
	for _, sub := range substitutions {
		s = strings.ReplaceAll(s, sub.from, sub.to)
	}
	s = nonWord.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, "-")
	s = hyphenRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return Sentinel
	}
	return s
}

// GitHub slugs text the way GitHub's own heading anchors do: no term
// substitutions, one hyphen per whitespace character, no trimming.
// An empty result is returned as is.
func GitHub(text string) string {
	s := fold(text)
	s = nonWord.ReplaceAllString(s, "")
	return githubSpace.ReplaceAllString(s, "-")
}

// Text returns the character data of an HTML fragment with entities decoded.
func Text(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return fragment
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}

func fold(text string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(Text(text))))
}
