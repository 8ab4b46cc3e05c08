package grammar

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// KindAdmonition is the node kind of callout blocks.
var KindAdmonition = ast.NewNodeKind("Admonition")

var admonitionMarker = regexp.MustCompile(`^\[!([A-Za-z]+)\][ \t]*(.*)$`)

type admonitionStyle struct {
	title string
	icon  string
}

var admonitionStyles = map[string]admonitionStyle{
	"NOTE": {
		title: "Note",
		icon:  `<svg class="admonition-icon" viewBox="0 0 16 16" width="16" height="16" aria-hidden="true"><circle cx="8" cy="8" r="6.5" fill="none" stroke="currentColor" stroke-width="1.5"></circle><path d="M8 7v4.5M8 4.5v.5" stroke="currentColor" stroke-width="1.5" stroke-linecap="round"></path></svg>`,
	},
	"TIP": {
		title: "Tip",
		icon:  `<svg class="admonition-icon" viewBox="0 0 16 16" width="16" height="16" aria-hidden="true"><path d="M8 1.5a4.5 4.5 0 0 0-2.5 8.2V11h5V9.7A4.5 4.5 0 0 0 8 1.5zM6 13h4M6.5 14.5h3" fill="none" stroke="currentColor" stroke-width="1.5" stroke-linecap="round"></path></svg>`,
	},
	"IMPORTANT": {
		title: "Important",
		icon:  `<svg class="admonition-icon" viewBox="0 0 16 16" width="16" height="16" aria-hidden="true"><path d="M2 2.5h12v9H8l-3 2.5v-2.5H2z" fill="none" stroke="currentColor" stroke-width="1.5" stroke-linejoin="round"></path><path d="M8 4.5v3.5M8 9.5v.5" stroke="currentColor" stroke-width="1.5" stroke-linecap="round"></path></svg>`,
	},
	"WARNING": {
		title: "Warning",
		icon:  `<svg class="admonition-icon" viewBox="0 0 16 16" width="16" height="16" aria-hidden="true"><path d="M8 1.75 15 14.25H1z" fill="none" stroke="currentColor" stroke-width="1.5" stroke-linejoin="round"></path><path d="M8 6v4M8 11.75v.5" stroke="currentColor" stroke-width="1.5" stroke-linecap="round"></path></svg>`,
	},
	"CAUTION": {
		title: "Caution",
		icon:  `<svg class="admonition-icon" viewBox="0 0 16 16" width="16" height="16" aria-hidden="true"><path d="M5.1 1.5h5.8l4.1 4.1v5.8l-4.1 4.1H5.1L1 11.4V5.6z" fill="none" stroke="currentColor" stroke-width="1.5" stroke-linejoin="round"></path><path d="M8 4.5v4M8 10.75v.5" stroke="currentColor" stroke-width="1.5" stroke-linecap="round"></path></svg>`,
	},
}

// Admonition is a blockquote that starts with a [!TYPE] marker.
type Admonition struct {
	ast.BaseBlock
	// Callout is the upper-cased marker, e.g. WARNING.
	Callout string
	Title   string
}

func (n *Admonition) Kind() ast.NodeKind { return KindAdmonition }

func (n *Admonition) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Callout": n.Callout, "Title": n.Title}, nil)
}

// Known reports whether the admonition type has its own style.
func (n *Admonition) Known() bool {
	_, ok := admonitionStyles[n.Callout]
	return ok
}

type admonitionTransformer struct{}

func (t *admonitionTransformer) Transform(doc *ast.Document, reader text.Reader, pc parser.Context) {
	var quotes []*ast.Blockquote
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if bq, ok := n.(*ast.Blockquote); ok {
			quotes = append(quotes, bq)
		}
		return ast.WalkContinue, nil
	})

	source := reader.Source()
	for _, bq := range quotes {
		convertAdmonition(bq, source)
	}
}

func convertAdmonition(bq *ast.Blockquote, source []byte) {
	para, ok := bq.FirstChild().(*ast.Paragraph)
	if !ok || para.Lines().Len() == 0 {
		return
	}
	first := para.Lines().At(0)
	m := admonitionMarker.FindSubmatch(util.TrimRightSpace(first.Value(source)))
	if m == nil {
		return
	}

	kind := strings.ToUpper(string(m[1]))
	title := strings.TrimSpace(string(m[2]))
	if title == "" {
		if style, ok := admonitionStyles[kind]; ok {
			title = style.title
		} else {
			title = strings.ToUpper(kind[:1]) + strings.ToLower(kind[1:])
		}
	}

	// Drop the inline nodes produced by the marker line.
	for c := para.FirstChild(); c != nil; {
		next := c.NextSibling()
		if start := inlineStart(c); start >= 0 && start < first.Stop {
			para.RemoveChild(para, c)
		}
		c = next
	}
	if para.ChildCount() == 0 {
		bq.RemoveChild(bq, para)
	}

	adm := &Admonition{Callout: kind, Title: title}
	for c := bq.FirstChild(); c != nil; {
		next := c.NextSibling()
		adm.AppendChild(adm, c)
		c = next
	}
	bq.Parent().ReplaceChild(bq.Parent(), bq, adm)
}

func inlineStart(n ast.Node) int {
	if t, ok := n.(*ast.Text); ok {
		return t.Segment.Start
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if s := inlineStart(c); s >= 0 {
			return s
		}
	}
	return -1
}

type admonitionRenderer struct{}

func (r *admonitionRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindAdmonition, r.render)
}

func (r *admonitionRenderer) render(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*Admonition)
	if !entering {
		_, _ = w.WriteString("</div>\n")
		return ast.WalkContinue, nil
	}
	style := admonitionStyles["NOTE"]
	if n.Known() {
		style = admonitionStyles[n.Callout]
	}
	_, _ = w.WriteString(`<div class="admonition admonition-`)
	_, _ = w.Write(util.EscapeHTML([]byte(strings.ToLower(n.Callout))))
	_, _ = w.WriteString(`">` + "\n" + `<p class="admonition-title">`)
	_, _ = w.WriteString(style.icon)
	_, _ = w.WriteString("<span>")
	_, _ = w.Write(util.EscapeHTML([]byte(n.Title)))
	_, _ = w.WriteString("</span></p>\n")
	return ast.WalkContinue, nil
}
