// Package renderer converts markdown to HTML with the extended grammar,
// front matter metadata and parse-time syntax highlighting.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	goldmarkmeta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/euforicio/mdview/internal/katex"
	"github.com/euforicio/mdview/internal/renderer/grammar"
	"github.com/euforicio/mdview/internal/renderer/transform"
	"github.com/euforicio/mdview/internal/slug"
)

// DefaultStyle is the chroma style used when none is configured.
const DefaultStyle = "github-dark"

// Metadata captures optional frontmatter data rendered alongside a document.
type Metadata struct {
	Raw         map[string]any
	Title       string
	Description string
	Tags        []string
}

// IsZero reports whether the metadata carries any meaningful values.
func (m Metadata) IsZero() bool {
	if m.Title != "" || m.Description != "" || len(m.Tags) > 0 {
		return false
	}
	return len(m.Raw) == 0
}

// Document is one rendered markdown source.
type Document struct {
	HTML     string
	Metadata Metadata
	// Slugs lists the heading ids in document order.
	Slugs []string
}

// Options configures an Engine.
type Options struct {
	Typesetter     katex.Typesetter
	Logger         *slog.Logger
	HighlightStyle string
}

// Engine renders markdown. It owns the heading slug session, so renders
// are serialised: ids restart from scratch for every document.
type Engine struct {
	md      goldmark.Markdown
	session *slug.Session
	slugs   *recordingSlugger
	logger  *slog.Logger
	mu      sync.Mutex
}

type recordingSlugger struct {
	session *slug.Session
	issued  []string
}

func (r *recordingSlugger) Generate(text string) string {
	s := r.session.Generate(text)
	r.issued = append(r.issued, s)
	return s
}

func (r *recordingSlugger) Reserve(id string) {
	r.session.Reserve(id)
}

// NewEngine builds an Engine. Zero options give plain TeX output and the
// github-dark highlight style.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	style := opts.HighlightStyle
	if style == "" {
		style = DefaultStyle
	}

	highlight := highlighting.NewHighlighting(
		highlighting.WithStyle(style),
		highlighting.WithFormatOptions(
			html.WithLineNumbers(false),
			html.WithClasses(true),
		),
		highlighting.WithWrapperRenderer(transform.CodeBlockWrapper()),
	)

	session := slug.NewSession()
	slugs := &recordingSlugger{session: session}
	inline := &grammar.Binding{}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			goldmarkmeta.Meta,
			highlight,
			grammar.New(grammar.Options{
				Inline:     inline,
				Slugger:    slugs,
				Typesetter: opts.Typesetter,
				Logger:     logger.With("component", "grammar"),
			}),
		),
		goldmark.WithParserOptions(
			parser.WithAttribute(),
			parser.WithASTTransformers(
				util.Prioritized(&transform.MediaTransformer{}, 100),
			),
		),
		goldmark.WithRendererOptions(
			// Output is sanitised by the preview before it reaches a browser.
			htmlrenderer.WithUnsafe(),
			htmlrenderer.WithXHTML(),
		),
	)
	inline.Bind(md.Renderer())

	return &Engine{
		md:      md,
		session: session,
		slugs:   slugs,
		logger:  logger.With("component", "renderer"),
	}
}

// Render converts content to HTML. docPath is the document's path inside
// the opened folder and anchors relative media references; it may be empty.
func (e *Engine) Render(ctx context.Context, docPath string, content []byte) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.session.Reset()
	e.slugs.issued = e.slugs.issued[:0]

	parserCtx := parser.NewContext()
	parserCtx.Set(transform.DocPathKey, docPath)
	buf := bytes.NewBuffer(nil)

	if err := e.md.Convert(content, buf, parser.WithContext(parserCtx)); err != nil {
		return Document{}, fmt.Errorf("render markdown: %w", err)
	}

	doc := Document{
		HTML:     buf.String(),
		Metadata: extractMetadata(parserCtx),
		Slugs:    append([]string(nil), e.slugs.issued...),
	}
	e.logger.Debug("rendered document", slog.String("path", docPath), slog.Int("bytes", buf.Len()), slog.Int("headings", len(doc.Slugs)))
	return doc, nil
}

// Metadata parses only the front matter of content.
func (e *Engine) Metadata(content []byte) Metadata {
	e.mu.Lock()
	defer e.mu.Unlock()
	parserCtx := parser.NewContext()
	e.md.Parser().Parse(text.NewReader(content), parser.WithContext(parserCtx))
	return extractMetadata(parserCtx)
}

func extractMetadata(ctx parser.Context) Metadata {
	raw := goldmarkmeta.Get(ctx)
	var meta Metadata
	if raw == nil {
		return meta
	}

	meta.Raw = make(map[string]any)
	for k, v := range raw {
		meta.Raw[k] = v
		switch k {
		case "title":
			if str, ok := toString(v); ok {
				meta.Title = str
			}
		case "description", "summary":
			if str, ok := toString(v); ok {
				meta.Description = str
			}
		case "tags", "keywords":
			meta.Tags = toStringSlice(v)
		}
	}

	if len(meta.Raw) == 0 {
		meta.Raw = nil
	}

	return meta
}

func toString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case fmt.Stringer:
		return val.String(), true
	default:
		return "", false
	}
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if str, ok := toString(item); ok {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return append([]string(nil), vv...)
	default:
		if str, ok := toString(v); ok {
			return []string{str}
		}
		return nil
	}
}
