package katex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/spf13/afero"
)

const renderCall = "katex.renderToString(_mdviewSrc, {displayMode: _mdviewDisplay, throwOnError: true, output: 'htmlAndMathml'})"

var renderProgram = sync.OnceValue(func() *goja.Program { return goja.MustCompile("render.js", renderCall, true) })

// Goja typesets with a KaTeX bundle evaluated in goja runtimes. Runtimes
// are pooled since a single runtime must not be shared between goroutines.
type Goja struct {
	prog *goja.Program
	pool sync.Pool
}

// NewGoja compiles the KaTeX bundle source.
func NewGoja(name, script string) (*Goja, error) {
	if script == "" {
		return nil, ErrUnavailable
	}
	prog, err := goja.Compile(name, script, true)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return &Goja{prog: prog}, nil
}

// LoadGoja reads and compiles the bundle at path.
func LoadGoja(fsys afero.Fs, path string) (*Goja, error) {
	if path == "" {
		return nil, ErrUnavailable
	}
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read katex script: %w", err)
	}
	return NewGoja(path, string(data))
}

func (g *Goja) runtime() (*goja.Runtime, error) {
	if vm, ok := g.pool.Get().(*goja.Runtime); ok {
		return vm, nil
	}
	vm := goja.New()
	if _, err := vm.RunProgram(g.prog); err != nil {
		return nil, fmt.Errorf("load katex: %w", err)
	}
	return vm, nil
}

// Typeset implements Typesetter. KaTeX parse failures are returned as
// *ParseError.
func (g *Goja) Typeset(ctx context.Context, src string, display bool) (string, error) {
	vm, err := g.runtime()
	if err != nil {
		return "", err
	}
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer func() {
		if stop() {
			g.pool.Put(vm)
		}
	}()

	if err := vm.Set("_mdviewSrc", src); err != nil {
		return "", err
	}
	if err := vm.Set("_mdviewDisplay", display); err != nil {
		return "", err
	}

	val, err := vm.RunProgram(renderProgram())
	if err != nil {
		var exception *goja.Exception
		if errors.As(err, &exception) {
			msg := exception.Error()
			if v := exception.Value(); v != nil {
				msg = v.String()
			}
			return "", newParseError(msg)
		}
		return "", err
	}
	return val.String(), nil
}
