package workspace

import (
	"context"
	"strings"
)

var defaultExcludedDirs = []string{
	"node_modules",
	"vendor",
	"venv",
	".venv",
	"deps",
	"third_party",
	".git",
	".hg",
	".svn",
	".idea",
	".vscode",
	"__pycache__",
}

// WalkOptions control which directories a walk descends into.
type WalkOptions struct {
	ExcludeDirs   []string
	IncludeHidden bool
	// OnError receives entries that could not be listed. The walk carries on.
	OnError func(path string, err error)
}

type walker struct {
	exclude map[string]struct{}
	opts    WalkOptions
}

func newWalker(opts WalkOptions) *walker {
	exclude := make(map[string]struct{})
	for _, list := range [][]string{defaultExcludedDirs, opts.ExcludeDirs} {
		for _, name := range list {
			if name = strings.TrimSpace(name); name != "" {
				exclude[strings.ToLower(name)] = struct{}{}
			}
		}
	}
	return &walker{exclude: exclude, opts: opts}
}

func (w *walker) skip(h Handle) bool {
	if !w.opts.IncludeHidden && strings.HasPrefix(h.Name(), ".") {
		return true
	}
	if h.Kind() == KindDir {
		_, ok := w.exclude[strings.ToLower(h.Name())]
		return ok
	}
	return false
}

func (w *walker) report(path string, err error) {
	if w.opts.OnError != nil {
		w.opts.OnError(path, err)
	}
}

// WalkMarkdown calls fn for every markdown file below root. Unreadable
// directories go to OnError and are skipped; only a context error or an
// error from fn stops the walk.
func WalkMarkdown(ctx context.Context, root DirHandle, opts WalkOptions, fn func(FileHandle) error) error {
	return newWalker(opts).walk(ctx, root, fn)
}

func (w *walker) walk(ctx context.Context, dir DirHandle, fn func(FileHandle) error) error {
	for h, err := range dir.Entries(ctx) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			w.report(dir.Path(), err)
			return nil
		}
		if w.skip(h) {
			continue
		}
		switch typed := h.(type) {
		case DirHandle:
			if err := w.walk(ctx, typed, fn); err != nil {
				return err
			}
		case FileHandle:
			if !isMarkdownName(typed.Name()) {
				continue
			}
			if err := fn(typed); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}
