// Package diagram turns diagram fences into SVG.
package diagram

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	// ErrEmptyDiagram is returned when the supplied diagram body is empty.
	ErrEmptyDiagram = errors.New("empty diagram")
	// ErrUnsupported is returned for a language no engine is registered for.
	ErrUnsupported = errors.New("unsupported diagram language")
)

// Engine renders one diagram. id is unique per placeholder and may be used
// to namespace ids inside the SVG.
type Engine interface {
	Render(ctx context.Context, id, source string) (string, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, id, source string) (string, error)

// Render implements Engine.
func (f EngineFunc) Render(ctx context.Context, id, source string) (string, error) {
	return f(ctx, id, source)
}

// Registry maps fence languages to engines.
type Registry struct {
	engines map[string]Engine
	timeout time.Duration
}

// NewRegistry returns an empty registry. A positive timeout bounds every
// render.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{engines: make(map[string]Engine), timeout: timeout}
}

// Register binds lang to engine, replacing any previous binding.
func (r *Registry) Register(lang string, engine Engine) {
	r.engines[strings.ToLower(lang)] = engine
}

// Supports reports whether lang has an engine.
func (r *Registry) Supports(lang string) bool {
	_, ok := r.engines[strings.ToLower(lang)]
	return ok
}

// Languages lists the registered languages in sorted order.
func (r *Registry) Languages() []string {
	out := make([]string, 0, len(r.engines))
	for lang := range r.engines {
		out = append(out, lang)
	}
	slices.Sort(out)
	return out
}

// Render renders source with the engine registered for lang.
func (r *Registry) Render(ctx context.Context, lang, id, source string) (string, error) {
	engine, ok := r.engines[strings.ToLower(lang)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, lang)
	}
	if strings.TrimSpace(source) == "" {
		return "", ErrEmptyDiagram
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	svg, err := engine.Render(ctx, id, source)
	if err != nil {
		return "", fmt.Errorf("render %s diagram: %w", lang, err)
	}
	return svg, nil
}
