package grammar

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"

	"github.com/euforicio/mdview/internal/docpath"
)

// LinkClass is how a link destination is handled by the preview.
type LinkClass string

const (
	LinkAnchor   LinkClass = "anchor"
	LinkExternal LinkClass = "external"
	LinkMarkdown LinkClass = "markdown"
	LinkOther    LinkClass = "other"
)

// ClassifyHref sorts a link destination into a LinkClass.
func ClassifyHref(href string) LinkClass {
	lower := strings.ToLower(strings.TrimSpace(href))
	switch {
	case strings.HasPrefix(lower, "#"):
		return LinkAnchor
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "//"):
		return LinkExternal
	case docpath.IsMarkdownHref(lower):
		return LinkMarkdown
	default:
		return LinkOther
	}
}

type linkRenderer struct {
	html.Config
}

func newLinkRenderer() *linkRenderer {
	return &linkRenderer{Config: html.NewConfig()}
}

func (r *linkRenderer) SetOption(name renderer.OptionName, value any) {
	r.Config.SetOption(name, value)
}

func (r *linkRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindLink, r.renderLink)
	reg.Register(ast.KindAutoLink, r.renderAutoLink)
}

func (r *linkRenderer) renderLink(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.Link)
	if !entering {
		_, _ = w.WriteString("</a>")
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString(`<a href="`)
	if r.Unsafe || !html.IsDangerousURL(n.Destination) {
		_, _ = w.Write(util.EscapeHTML(util.URLEscape(n.Destination, true)))
	}
	_ = w.WriteByte('"')
	if n.Title != nil {
		_, _ = w.WriteString(` title="`)
		r.Writer.Write(w, n.Title)
		_ = w.WriteByte('"')
	}
	writeLinkClass(w, n.Destination)
	if n.Attributes() != nil {
		html.RenderAttributes(w, n, html.LinkAttributeFilter)
	}
	_ = w.WriteByte('>')
	return ast.WalkContinue, nil
}

func (r *linkRenderer) renderAutoLink(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.AutoLink)
	url := n.URL(source)
	_, _ = w.WriteString(`<a href="`)
	if n.AutoLinkType == ast.AutoLinkEmail && !bytes.HasPrefix(bytes.ToLower(url), []byte("mailto:")) {
		_, _ = w.WriteString("mailto:")
	}
	_, _ = w.Write(util.EscapeHTML(util.URLEscape(url, false)))
	_ = w.WriteByte('"')
	if n.AutoLinkType == ast.AutoLinkURL {
		writeLinkClass(w, url)
	}
	if n.Attributes() != nil {
		html.RenderAttributes(w, n, html.LinkAttributeFilter)
	}
	_ = w.WriteByte('>')
	_, _ = w.Write(util.EscapeHTML(n.Label(source)))
	_, _ = w.WriteString("</a>")
	return ast.WalkContinue, nil
}

func writeLinkClass(w util.BufWriter, dest []byte) {
	class := ClassifyHref(string(dest))
	_, _ = w.WriteString(` data-link-type="` + string(class) + `"`)
	switch class {
	case LinkExternal:
		_, _ = w.WriteString(` target="_blank" rel="noopener noreferrer"`)
	case LinkMarkdown:
		_, _ = w.WriteString(` data-md-href="`)
		_, _ = w.Write(util.EscapeHTML(dest))
		_ = w.WriteByte('"')
	}
}
