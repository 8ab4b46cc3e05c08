package highlight_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euforicio/mdview/internal/highlight"
	"github.com/euforicio/mdview/internal/logging"
)

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestApplyHighlightsLabelledBlocks(t *testing.T) {
	t.Parallel()
	h, err := highlight.New("", logging.Discard(), "mermaid", "d2")
	require.NoError(t, err)

	doc := parse(t, `<div id="root">`+
		`<pre><code class="language-python">def f():
    return 1</code></pre>`+
		`<pre><code class="language-mermaid">graph TD; A--&gt;B</code></pre>`+
		`<pre class="chroma"><code><span class="kn">package</span></code></pre>`+
		`</div>`)

	n := h.Apply(doc.Find("#root"))
	assert.Equal(t, 1, n)

	py := doc.Find("code.language-python")
	assert.True(t, py.Parent().HasClass("chroma"))
	assert.Equal(t, "python", py.AttrOr("data-lang", ""))
	html, err := py.Html()
	require.NoError(t, err)
	assert.Contains(t, html, `<span class="k">def</span>`)

	mermaid := doc.Find("code.language-mermaid")
	assert.False(t, mermaid.Parent().HasClass("chroma"))
	assert.Equal(t, "graph TD; A-->B", mermaid.Text())
}

func TestApplyIsIdempotent(t *testing.T) {
	t.Parallel()
	h, err := highlight.New("monokai", logging.Discard())
	require.NoError(t, err)

	doc := parse(t, `<pre><code class="language-go">package main</code></pre>`)
	require.Equal(t, 1, h.Apply(doc.Selection))
	assert.Equal(t, 0, h.Apply(doc.Selection))
	assert.Equal(t, "package main", strings.TrimSpace(doc.Find("code").Text()))
}

func TestLanguage(t *testing.T) {
	t.Parallel()
	doc := parse(t, `<code class="x lang-Rust"></code><code class="plain"></code>`)
	codes := doc.Find("code")
	assert.Equal(t, "rust", highlight.Language(codes.First()))
	assert.Equal(t, "", highlight.Language(codes.Last()))
}

func TestDetect(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "python", highlight.Detect([]byte("#!/usr/bin/env python\nprint('hi')\n")))
	assert.Equal(t, "", highlight.Detect([]byte("   ")))
}

func TestUnknownStyle(t *testing.T) {
	t.Parallel()
	_, err := highlight.New("no-such-style", nil)
	require.Error(t, err)

	var buf bytes.Buffer
	require.Error(t, highlight.WriteCSS(&buf, "no-such-style"))
}

func TestWriteCSS(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, highlight.WriteCSS(&buf, "github-dark"))
	assert.Contains(t, buf.String(), ".chroma")
	assert.Contains(t, buf.String(), ".chroma .kn")
}
