package docpath_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/euforicio/mdview/internal/docpath"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                  "",
		"/":                 "",
		"a.md":              "a.md",
		"/docs//guide.md/":  "docs/guide.md",
		"./docs/./guide.md": "docs/guide.md",
		`docs\win\file.md`:  "docs/win/file.md",
		"docs/../x.md":      "docs/../x.md",
	}
	for in, want := range cases {
		assert.Equal(t, want, docpath.Normalize(in), "Normalize(%q)", in)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	cases := []struct {
		current string
		target  string
		want    string
	}{
		{"docs/folder/current.md", "../other.md", "docs/other.md"},
		{"file.md", "../other.md", "other.md"},
		{"file.md", "../../../other.md", "other.md"},
		{"a.md", "./b/c.md", "b/c.md"},
		{"docs/a.md", "/top.md", "top.md"},
		{"docs/a.md", "b.md", "docs/b.md"},
		{"docs/a.md", "sub//c.md", "docs/sub/c.md"},
		{"", "notes.md", "notes.md"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, docpath.Resolve(tc.current, tc.target), "Resolve(%q, %q)", tc.current, tc.target)
	}
}

func TestResolveDotSegmentsKeepDirectory(t *testing.T) {
	t.Parallel()

	bases := []string{"file.md", "docs/file.md", "docs/deep/nested/file.md"}
	targets := []string{".", "./", "././.", "./././"}
	for _, base := range bases {
		for _, target := range targets {
			assert.Equal(t, docpath.Dir(base), docpath.Resolve(base, target), "Resolve(%q, %q)", base, target)
		}
	}
}

func TestMarkdownChecks(t *testing.T) {
	t.Parallel()

	assert.True(t, docpath.IsMarkdown("README.md"))
	assert.True(t, docpath.IsMarkdown("notes.MARKDOWN"))
	assert.False(t, docpath.IsMarkdown("image.png"))

	assert.True(t, docpath.IsMarkdownHref("notes.md"))
	assert.True(t, docpath.IsMarkdownHref("../guide.md#setup"))
	assert.True(t, docpath.IsMarkdownHref("guide.md?raw=1"))
	assert.False(t, docpath.IsMarkdownHref("guide.markdown"))
	assert.False(t, docpath.IsMarkdownHref("#section.md-notes"))
}

func TestSplitFragmentAndBase(t *testing.T) {
	t.Parallel()

	p, frag := docpath.SplitFragment("guide.md#install")
	assert.Equal(t, "guide.md", p)
	assert.Equal(t, "install", frag)

	assert.Equal(t, "c.md", docpath.Base("/b/c.md"))
	assert.Equal(t, "", docpath.Base(""))
}
