// Package transform adjusts how code blocks and media references are rendered.
package transform

import (
	"bytes"
	"strings"

	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/util"
)

// CodeBlockWrapper writes <pre><code class="language-X"> around every fence
// chroma could not highlight at parse time. Diagram fences keep their
// language class so the preview can swap them for diagram placeholders;
// the rest are picked up by the DOM highlighter.
func CodeBlockWrapper() highlighting.WrapperRenderer {
	return func(w util.BufWriter, ctx highlighting.CodeBlockContext, entering bool) {
		if ctx.Highlighted() {
			return
		}

		if !entering {
			_, _ = w.WriteString("</code></pre>\n")
			return
		}

		lang, _ := ctx.Language()
		normalized := strings.TrimSpace(strings.ToLower(string(lang)))
		_, _ = w.WriteString("<pre><code")
		if len(bytes.TrimSpace(lang)) > 0 {
			_, _ = w.WriteString(` class="language-`)
			_, _ = w.Write(util.EscapeHTML([]byte(normalized)))
			_, _ = w.WriteString(`"`)
		}
		_, _ = w.WriteString(">")
	}
}
