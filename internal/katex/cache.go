package katex

import (
	"context"
	"fmt"

	"github.com/Yiling-J/theine-go"
	"github.com/spf13/afero"
)

type typesetResult struct {
	html string
	err  error
}

// Cached memoises another Typesetter, keeping inline and display
// formulas apart. Rejected formulas are cached too.
type Cached struct {
	inline  *theine.LoadingCache[string, typesetResult]
	display *theine.LoadingCache[string, typesetResult]
}

// NewCached wraps inner with caches holding up to size formulas each.
func NewCached(inner Typesetter, size int64) (*Cached, error) {
	inline, err := theine.NewBuilder[string, typesetResult](size).BuildWithLoader(loader(inner, false))
	if err != nil {
		return nil, fmt.Errorf("build inline cache: %w", err)
	}
	display, err := theine.NewBuilder[string, typesetResult](size).BuildWithLoader(loader(inner, true))
	if err != nil {
		return nil, fmt.Errorf("build display cache: %w", err)
	}
	return &Cached{inline: inline, display: display}, nil
}

func loader(inner Typesetter, display bool) func(ctx context.Context, key string) (theine.Loaded[typesetResult], error) {
	return func(ctx context.Context, key string) (theine.Loaded[typesetResult], error) {
		out, err := inner.Typeset(ctx, key, display)
		if err != nil && ctx.Err() != nil {
			return theine.Loaded[typesetResult]{}, err
		}
		return theine.Loaded[typesetResult]{Value: typesetResult{html: out, err: err}, Cost: 1, TTL: 0}, nil
	}
}

// Typeset implements Typesetter.
func (c *Cached) Typeset(ctx context.Context, src string, display bool) (string, error) {
	cache := c.inline
	if display {
		cache = c.display
	}
	res, err := cache.Get(ctx, src)
	if err != nil {
		return "", err
	}
	return res.html, res.err
}

// Open returns a cached goja typesetter for the bundle at scriptPath.
// Without a script, or when it fails to load, Plain is returned along with
// the load error.
func Open(fsys afero.Fs, scriptPath string, size int64) (Typesetter, error) {
	if scriptPath == "" {
		return Plain{}, nil
	}
	g, err := LoadGoja(fsys, scriptPath)
	if err != nil {
		return Plain{}, err
	}
	c, err := NewCached(g, size)
	if err != nil {
		return g, err
	}
	return c, nil
}
