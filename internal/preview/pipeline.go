// Package preview turns editor text into the live preview: it renders,
// sanitises, hydrates diagrams, highlights code and keeps the draft.
package preview

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/errgroup"

	"github.com/euforicio/mdview/internal/highlight"
	"github.com/euforicio/mdview/internal/notify"
	"github.com/euforicio/mdview/internal/renderer"
	"github.com/euforicio/mdview/internal/storage"
)

// DraftKey is the store key holding the last rendered source.
const DraftKey = "draft"

// Markdown renders one document.
type Markdown interface {
	Render(ctx context.Context, docPath string, content []byte) (renderer.Document, error)
}

// Diagrams renders diagram sources for the languages it supports.
type Diagrams interface {
	Supports(lang string) bool
	Render(ctx context.Context, lang, id, source string) (string, error)
}

// Highlighter colours code blocks in place.
type Highlighter interface {
	Apply(sel *goquery.Selection) int
}

// Options wires a Pipeline.
type Options struct {
	Markdown    Markdown
	Diagrams    Diagrams
	Highlighter Highlighter
	Policy      *bluemonday.Policy
	Store       *storage.Safe
	Events      notify.Publisher
	Logger      *slog.Logger
	// Workers bounds concurrent diagram renders per pass.
	Workers int
}

// Placeholder is a diagram awaiting hydration.
type Placeholder struct {
	ID     string `json:"id"`
	Lang   string `json:"lang"`
	Source string `json:"source"`
}

// Snapshot describes the container right after a render pass.
type Snapshot struct {
	Epoch    uint64
	HTML     string
	Metadata renderer.Metadata
	Slugs    []string
	Diagrams []Placeholder
	// Err is set when the pass failed and HTML carries the error message.
	Err error
}

// Pipeline runs render passes into a Container. Passes are serialised.
type Pipeline struct {
	opts      Options
	container *Container
	logger    *slog.Logger
	ctx       context.Context

	mu        sync.Mutex
	hydrating sync.WaitGroup

	// draft holds the newest unsaved source; one writer drains it.
	draftMu sync.Mutex
	draft   *string
	saving  bool

	svgMu sync.RWMutex
	svgs  map[string]string
}

// RenderOption adjusts a single pass.
type RenderOption func(*renderConfig)

type renderConfig struct {
	docPath string
	persist bool
}

// WithDocPath anchors relative media references at docPath.
func WithDocPath(docPath string) RenderOption {
	return func(c *renderConfig) { c.docPath = docPath }
}

// WithoutPersist skips saving the source as the draft.
func WithoutPersist() RenderOption {
	return func(c *renderConfig) { c.persist = false }
}

// NewPipeline returns a pipeline writing into container. ctx bounds
// background hydration.
func NewPipeline(ctx context.Context, container *Container, opts Options) (*Pipeline, error) {
	if opts.Markdown == nil {
		return nil, fmt.Errorf("preview: markdown renderer is required")
	}
	if container == nil {
		container = NewContainer()
	}
	if opts.Policy == nil {
		opts.Policy = NewPolicy()
	}
	if opts.Events == nil {
		opts.Events = &notify.Recorder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Pipeline{
		opts:      opts,
		container: container,
		logger:    opts.Logger.With("component", "preview"),
		ctx:       ctx,
		svgs:      make(map[string]string),
	}, nil
}

// Container returns the container the pipeline writes to.
func (p *Pipeline) Container() *Container {
	return p.container
}

// Render runs one full pass over source. Failures never escape: the
// container shows an inline error and Snapshot.Err carries the cause.
func (p *Pipeline) Render(ctx context.Context, source string, opts ...RenderOption) Snapshot {
	cfg := renderConfig{persist: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	snap, err := p.run(ctx, source, cfg)
	if err != nil {
		return p.fail(err)
	}
	p.opts.Events.Publish(notify.Event{
		Kind:    notify.KindPreview,
		HTML:    snap.HTML,
		Context: map[string]string{"epoch": strconv.FormatUint(snap.Epoch, 10), "path": cfg.docPath},
	})
	return snap
}

func (p *Pipeline) run(ctx context.Context, source string, cfg renderConfig) (snap Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("preview render panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("render panicked: %v", r)
		}
	}()

	doc, err := p.opts.Markdown.Render(ctx, cfg.docPath, []byte(source))
	if err != nil {
		return Snapshot{}, err
	}

	withPlaceholders, placeholders, err := p.placeholders(doc.HTML)
	if err != nil {
		return Snapshot{}, err
	}

	clean := p.opts.Policy.Sanitize(withPlaceholders)

	epoch, err := p.container.Replace(clean)
	if err != nil {
		return Snapshot{}, err
	}
	p.resetSVGs()

	p.hydrate(epoch, placeholders)

	p.container.Mutate(func(root *goquery.Selection) {
		if p.opts.Highlighter != nil {
			p.opts.Highlighter.Apply(root)
		}
		AddCopyButtons(root)
	})

	if cfg.persist {
		p.persistDraft(context.WithoutCancel(ctx), source)
	}

	return Snapshot{
		Epoch:    epoch,
		HTML:     p.container.HTML(),
		Metadata: doc.Metadata,
		Slugs:    doc.Slugs,
		Diagrams: placeholders,
	}, nil
}

// persistDraft queues source as the draft. Saves happen one at a time in
// pass order, and a queued draft is replaced by a newer one before it is
// written.
func (p *Pipeline) persistDraft(ctx context.Context, source string) {
	p.draftMu.Lock()
	p.draft = &source
	if p.saving {
		p.draftMu.Unlock()
		return
	}
	p.saving = true
	p.draftMu.Unlock()

	p.hydrating.Go(func() {
		for {
			p.draftMu.Lock()
			next := p.draft
			p.draft = nil
			if next == nil {
				p.saving = false
				p.draftMu.Unlock()
				return
			}
			p.draftMu.Unlock()
			p.opts.Store.Save(ctx, DraftKey, *next)
		}
	})
}

func (p *Pipeline) fail(err error) Snapshot {
	p.logger.Warn("preview render failed", slog.Any("err", err))
	msg := `<div class="preview-error">Preview failed: ` + html.EscapeString(err.Error()) + `</div>`
	epoch, replaceErr := p.container.Replace(msg)
	if replaceErr != nil {
		p.logger.Error("failed to show render error", slog.Any("err", replaceErr))
	}
	p.opts.Events.Publish(notify.Event{
		Kind:    notify.KindRenderError,
		Level:   notify.LevelError,
		Message: err.Error(),
		HTML:    msg,
	})
	return Snapshot{Epoch: epoch, HTML: p.container.HTML(), Err: err}
}

// placeholders swaps diagram fences for empty containers carrying the
// URL-encoded source.
func (p *Pipeline) placeholders(rendered string) (string, []Placeholder, error) {
	if p.opts.Diagrams == nil || !strings.Contains(rendered, "language-") {
		return rendered, nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rendered))
	if err != nil {
		return "", nil, fmt.Errorf("parse rendered html: %w", err)
	}

	var found []Placeholder
	doc.Find("pre > code").Each(func(_ int, code *goquery.Selection) {
		lang := highlight.Language(code)
		if lang == "" || !p.opts.Diagrams.Supports(lang) {
			return
		}
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		ph := Placeholder{ID: "diagram-" + id.String(), Lang: lang, Source: code.Text()}
		found = append(found, ph)
		code.Parent().ReplaceWithHtml(fmt.Sprintf(
			`<div class="diagram-placeholder" id="%s" data-diagram-lang="%s" data-diagram-source="%s"></div>`,
			ph.ID, html.EscapeString(lang), url.QueryEscape(ph.Source),
		))
	})
	if len(found) == 0 {
		return rendered, nil, nil
	}
	out, err := doc.Find("body").Html()
	if err != nil {
		return "", nil, fmt.Errorf("serialise placeholders: %w", err)
	}
	return out, found, nil
}

// hydrate renders the placeholders of epoch in the background.
func (p *Pipeline) hydrate(epoch uint64, placeholders []Placeholder) {
	if len(placeholders) == 0 {
		return
	}
	p.hydrating.Go(func() {
		var g errgroup.Group
		g.SetLimit(p.opts.Workers)
		for _, ph := range placeholders {
			g.Go(func() error {
				p.hydrateOne(epoch, ph)
				return nil
			})
		}
		_ = g.Wait()
	})
}

func (p *Pipeline) hydrateOne(epoch uint64, ph Placeholder) {
	if !p.container.Live(epoch, ph.ID) {
		return
	}
	logger := p.logger.With(slog.String("diagram", ph.ID), slog.String("lang", ph.Lang))
	source := decodeSource(p.container, epoch, ph)

	svg, renderErr := p.opts.Diagrams.Render(p.ctx, ph.Lang, ph.ID, source)
	applied := p.container.Patch(epoch, func(root *goquery.Selection) {
		el := byID(root, ph.ID)
		if el.Length() == 0 {
			return
		}
		if renderErr != nil {
			el.SetAttr("hidden", "")
			el.AddClass("diagram-failed")
			return
		}
		el.SetHtml(svg)
		el.RemoveClass("diagram-placeholder")
		el.AddClass("diagram")
	})
	if !applied {
		logger.Debug("dropping diagram for replaced preview")
		return
	}

	eventCtx := map[string]string{
		"id":    ph.ID,
		"lang":  ph.Lang,
		"epoch": strconv.FormatUint(epoch, 10),
	}
	if renderErr != nil {
		logger.Warn("diagram render failed", slog.Any("err", renderErr))
		p.opts.Events.Publish(notify.Event{
			Kind:    notify.KindDiagramFailed,
			Level:   notify.LevelWarning,
			Message: renderErr.Error(),
			Context: eventCtx,
		})
		return
	}

	p.svgMu.Lock()
	p.svgs[ph.ID] = svg
	p.svgMu.Unlock()
	p.opts.Events.Publish(notify.Event{Kind: notify.KindDiagram, HTML: svg, Context: eventCtx})
}

// decodeSource reads the source back from the placeholder attribute,
// falling back to the copy taken at scan time.
func decodeSource(c *Container, epoch uint64, ph Placeholder) string {
	source := ph.Source
	c.View(func(root *goquery.Selection) {
		if c.epoch != epoch {
			return
		}
		raw, ok := byID(root, ph.ID).Attr("data-diagram-source")
		if !ok {
			return
		}
		if decoded, err := url.QueryUnescape(raw); err == nil {
			source = decoded
		}
	})
	return source
}

func (p *Pipeline) resetSVGs() {
	p.svgMu.Lock()
	clear(p.svgs)
	p.svgMu.Unlock()
}

// SVG returns the hydrated markup of a diagram in the current preview.
func (p *Pipeline) SVG(id string) (string, bool) {
	p.svgMu.RLock()
	defer p.svgMu.RUnlock()
	svg, ok := p.svgs[id]
	return svg, ok
}

// Wait blocks until background hydration and persistence have finished.
func (p *Pipeline) Wait() {
	p.hydrating.Wait()
}

// AddCopyButtons gives every code block one copy button, replacing any
// left by an earlier pass.
func AddCopyButtons(root *goquery.Selection) {
	root.Find("pre > code").Parent().Each(func(_ int, pre *goquery.Selection) {
		pre.ChildrenFiltered("button.copy-button").Remove()
		pre.AppendHtml(`<button type="button" class="copy-button" aria-label="Copy code">Copy</button>`)
	})
}
