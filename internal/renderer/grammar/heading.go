package grammar

import (
	"bytes"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// explicitIDTransformer reserves every {#id} of the document before the
// headings are rendered, so a generated slug never repeats one of them.
type explicitIDTransformer struct {
	slugger Slugger
}

func (t *explicitIDTransformer) Transform(doc *ast.Document, _ text.Reader, _ parser.Context) {
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			if id := explicitID(h); id != "" {
				t.slugger.Reserve(id)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
}

func explicitID(n ast.Node) string {
	v, ok := n.AttributeString("id")
	if !ok {
		return ""
	}
	switch typed := v.(type) {
	case []byte:
		return string(typed)
	case string:
		return typed
	}
	return ""
}

// dropIDAttribute removes id from the node's attributes; the renderer
// writes the id itself.
func dropIDAttribute(n ast.Node) {
	attrs := n.Attributes()
	n.RemoveAttributes()
	for _, a := range attrs {
		if string(a.Name) != "id" {
			n.SetAttribute(a.Name, a.Value)
		}
	}
}

type headingRenderer struct {
	inline  InlineRenderer
	slugger Slugger
}

func (r *headingRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindHeading, r.renderHeading)
}

func (r *headingRenderer) renderHeading(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.Heading)

	var content bytes.Buffer
	if err := r.inline.RenderInline(&content, source, n); err != nil {
		return ast.WalkStop, err
	}

	id := explicitID(n)
	if _, ok := n.AttributeString("id"); ok {
		dropIDAttribute(n)
	}
	if id == "" {
		id = r.slugger.Generate(content.String())
	}
	escaped := util.EscapeHTML([]byte(id))

	level := "0123456"[n.Level]
	_, _ = w.WriteString("<h")
	_ = w.WriteByte(level)
	_, _ = w.WriteString(` id="`)
	_, _ = w.Write(escaped)
	_ = w.WriteByte('"')
	if n.Attributes() != nil {
		html.RenderAttributes(w, n, html.HeadingAttributeFilter)
	}
	_ = w.WriteByte('>')
	_, _ = w.Write(content.Bytes())
	_, _ = w.WriteString(` <a class="heading-anchor" href="#`)
	_, _ = w.Write(escaped)
	_, _ = w.WriteString(`" aria-hidden="true">#</a></h`)
	_ = w.WriteByte(level)
	_, _ = w.WriteString(">\n")
	return ast.WalkSkipChildren, nil
}
