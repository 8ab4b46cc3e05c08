// Package grammar extends goldmark with math, admonitions, subscript and
// superscript, and replaces the heading and link renderers with versions
// that produce stable ids and navigator hints.
package grammar

import (
	"errors"
	"io"
	"log/slog"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"

	"github.com/euforicio/mdview/internal/katex"
)

// InlineRenderer renders the inline children of a block node as HTML.
type InlineRenderer interface {
	RenderInline(w io.Writer, source []byte, n ast.Node) error
}

// Slugger hands out heading ids.
type Slugger interface {
	Generate(text string) string
	// Reserve claims an explicit id so no generated slug reuses it.
	Reserve(id string)
}

// Binding is an InlineRenderer backed by a goldmark renderer that only
// exists once the Markdown instance carrying this extension is built.
type Binding struct {
	r renderer.Renderer
}

// Bind attaches the renderer. It must be called before the first render.
func (b *Binding) Bind(r renderer.Renderer) {
	b.r = r
}

// RenderInline implements InlineRenderer.
func (b *Binding) RenderInline(w io.Writer, source []byte, n ast.Node) error {
	if b.r == nil {
		return errors.New("grammar: inline renderer not bound")
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if err := b.r.Render(w, source, c); err != nil {
			return err
		}
	}
	return nil
}

// Options configures the extension.
type Options struct {
	Inline     InlineRenderer
	Slugger    Slugger
	Typesetter katex.Typesetter
	Logger     *slog.Logger
}

type extension struct {
	opts Options
}

// New returns the goldmark extension.
func New(opts Options) goldmark.Extender {
	if opts.Typesetter == nil {
		opts.Typesetter = katex.Plain{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &extension{opts: opts}
}

func (e *extension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithBlockParsers(
			util.Prioritized(&mathBlockParser{}, 650),
		),
		parser.WithInlineParsers(
			util.Prioritized(&mathInlineParser{}, 150),
			util.Prioritized(&scriptParser{marker: '~', build: func() ast.Node { return &Subscript{} }}, 400),
			util.Prioritized(&scriptParser{marker: '^', build: func() ast.Node { return &Superscript{} }}, 400),
		),
		parser.WithASTTransformers(
			util.Prioritized(&admonitionTransformer{}, 500),
		),
	)
	if e.opts.Slugger != nil {
		m.Parser().AddOptions(parser.WithASTTransformers(
			util.Prioritized(&explicitIDTransformer{slugger: e.opts.Slugger}, 600),
		))
	}

	nodeRenderers := []util.PrioritizedValue{
		util.Prioritized(&mathRenderer{typesetter: e.opts.Typesetter, logger: e.opts.Logger}, 100),
		util.Prioritized(&admonitionRenderer{}, 100),
		util.Prioritized(&scriptRenderer{}, 100),
		util.Prioritized(newLinkRenderer(), 100),
	}
	if e.opts.Inline != nil && e.opts.Slugger != nil {
		nodeRenderers = append(nodeRenderers, util.Prioritized(&headingRenderer{
			inline:  e.opts.Inline,
			slugger: e.opts.Slugger,
		}, 100))
	}
	m.Renderer().AddOptions(renderer.WithNodeRenderers(nodeRenderers...))
}
