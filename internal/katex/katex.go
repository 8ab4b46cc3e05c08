// Package katex turns TeX sources into HTML.
//
// The Goja typesetter runs a KaTeX bundle inside an embedded JavaScript
// runtime; Plain is used when no bundle is configured and leaves the
// formula for the browser to typeset.
package katex

import (
	"context"
	"errors"
	"html"
	"strings"
)

// ErrUnavailable is returned when no KaTeX script could be loaded.
var ErrUnavailable = errors.New("katex: script unavailable")

// Typesetter renders one formula.
type Typesetter interface {
	Typeset(ctx context.Context, src string, display bool) (string, error)
}

// ParseError is a formula KaTeX rejected.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return e.Message
}

func newParseError(msg string) *ParseError {
	return &ParseError{Message: strings.TrimPrefix(msg, "ParseError: ")}
}

// Plain emits the escaped TeX source inside a marker element.
type Plain struct{}

// Typeset implements Typesetter.
func (Plain) Typeset(_ context.Context, src string, display bool) (string, error) {
	src = strings.TrimSpace(src)
	if display {
		return `<div class="math math-display">\[` + html.EscapeString(src) + `\]</div>`, nil
	}
	return `<span class="math math-inline">\(` + html.EscapeString(src) + `\)</span>`, nil
}

// Func adapts a function to Typesetter.
type Func func(ctx context.Context, src string, display bool) (string, error)

// Typeset implements Typesetter.
func (f Func) Typeset(ctx context.Context, src string, display bool) (string, error) {
	return f(ctx, src, display)
}
