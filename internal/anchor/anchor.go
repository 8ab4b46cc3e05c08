// Package anchor resolves URL fragments to headings of the preview and
// moves the viewport to them.
package anchor

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/euforicio/mdview/internal/slug"
)

// ErrNoTarget is returned by Navigate when no element matches the hash.
var ErrNoTarget = errors.New("anchor target not found")

// DefaultFocusDelay estimates how long a smooth scroll takes.
const DefaultFocusDelay = 400 * time.Millisecond

const headingSelector = "h1[id], h2[id], h3[id], h4[id], h5[id], h6[id]"

var fuzzyStrip = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// Tier names which resolution step matched.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierNormalized
	TierGitHub
	TierFuzzy
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierNormalized:
		return "normalized"
	case TierGitHub:
		return "github"
	case TierFuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}

// Viewport is the surface that scrolls and focuses preview elements.
type Viewport interface {
	ScrollIntoView(ctx context.Context, id string, smooth bool) error
	Focus(ctx context.Context, id string) error
}

// ScrollEnder is implemented by viewports that report when a scroll has
// settled.
type ScrollEnder interface {
	ScrollEnd() <-chan struct{}
}

// Document gives write access to the preview content.
type Document interface {
	Mutate(fn func(root *goquery.Selection))
}

// Resolver maps hashes to headings.
type Resolver struct {
	logger     *slog.Logger
	focusDelay time.Duration
}

// NewResolver returns a resolver. focusDelay is the settle time assumed for
// smooth scrolls on viewports without scroll-end events.
func NewResolver(logger *slog.Logger, focusDelay time.Duration) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if focusDelay <= 0 {
		focusDelay = DefaultFocusDelay
	}
	return &Resolver{logger: logger.With("component", "anchor"), focusDelay: focusDelay}
}

// Resolve returns the element hash points at inside root, or nil.
func (r *Resolver) Resolve(hash string, root *goquery.Selection) *goquery.Selection {
	sel, _ := r.ResolveTier(hash, root)
	return sel
}

// ResolveTier is Resolve that also reports which tier matched.
func (r *Resolver) ResolveTier(hash string, root *goquery.Selection) (*goquery.Selection, Tier) {
	raw := strings.TrimPrefix(hash, "#")
	if raw == "" || root == nil {
		return nil, TierNone
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		decoded = raw
	}

	if sel := byID(root, decoded); sel != nil {
		return sel, TierExact
	}
	if sel := byID(root, slug.Normalize(decoded)); sel != nil {
		return sel, TierNormalized
	}
	if gh := slug.GitHub(decoded); gh != "" {
		if sel := byID(root, gh); sel != nil {
			return sel, TierGitHub
		}
	}
	if sel := fuzzy(root, decoded); sel != nil {
		return sel, TierFuzzy
	}

	r.logger.Debug("anchor target not found", slog.String("hash", hash))
	return nil, TierNone
}

// Navigate resolves hash in doc, makes the target focusable, scrolls it
// into view and focuses it once the scroll has settled. It returns the
// target id.
func (r *Resolver) Navigate(ctx context.Context, doc Document, vp Viewport, hash string, smooth bool) (string, error) {
	var id string
	doc.Mutate(func(root *goquery.Selection) {
		target := r.Resolve(hash, root)
		if target == nil {
			return
		}
		id = target.AttrOr("id", "")
		if _, ok := target.Attr("tabindex"); !ok {
			target.SetAttr("tabindex", "-1")
		}
	})
	if id == "" {
		return "", ErrNoTarget
	}

	if err := vp.ScrollIntoView(ctx, id, smooth); err != nil {
		return id, err
	}
	if err := r.settle(ctx, vp, smooth); err != nil {
		return id, err
	}
	return id, vp.Focus(ctx, id)
}

func (r *Resolver) settle(ctx context.Context, vp Viewport, smooth bool) error {
	var done <-chan struct{}
	if se, ok := vp.(ScrollEnder); ok {
		done = se.ScrollEnd()
	}
	if done == nil {
		if !smooth {
			return nil
		}
		timer := time.NewTimer(r.focusDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func byID(root *goquery.Selection, id string) *goquery.Selection {
	if id == "" {
		return nil
	}
	var found *goquery.Selection
	root.Find("[id]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, _ := s.Attr("id"); v == id {
			found = s
			return false
		}
		return true
	})
	return found
}

func fuzzy(root *goquery.Selection, term string) *goquery.Selection {
	needle := fuzzyKey(term)
	if needle == "" {
		return nil
	}
	var found *goquery.Selection
	root.Find(headingSelector).EachWithBreak(func(_ int, h *goquery.Selection) bool {
		key := fuzzyKey(h.AttrOr("id", ""))
		if key == "" {
			return true
		}
		if strings.Contains(key, needle) || strings.Contains(needle, key) {
			found = h
			return false
		}
		return true
	})
	return found
}

// fuzzyKey lowercases s, drops diacritics and strips everything but
// letters, digits and underscores.
func fuzzyKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return fuzzyStrip.ReplaceAllString(strings.ToLower(folded), "")
}
