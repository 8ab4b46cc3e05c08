package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind classifies a file system event.
type ChangeKind string

const (
	// ChangeTree means the set of markdown files may have changed.
	ChangeTree ChangeKind = "tree"
	// ChangePage means an existing markdown file was written.
	ChangePage ChangeKind = "page"
	// ChangeDeleted means a markdown file is gone.
	ChangeDeleted ChangeKind = "deleted"
)

// Change is a classified event below the watched folder.
type Change struct {
	Path string
	Kind ChangeKind
}

// Watcher follows a folder on disk and reports changes to markdown files.
type Watcher struct {
	fsw           *fsnotify.Watcher
	logger        *slog.Logger
	onChange      func(Change)
	root          string
	includeHidden bool
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

// Watch starts watching dir recursively. onChange runs on the watcher
// goroutine; events stop when ctx is done or Close is called.
func Watch(ctx context.Context, dir string, includeHidden bool, logger *slog.Logger, onChange func(Change)) (*Watcher, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		fsw:           fsw,
		logger:        logger.With("component", "watcher"),
		onChange:      onChange,
		root:          root,
		includeHidden: includeHidden,
	}
	if err := w.watchRecursive(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w.wg.Go(func() { w.run(ctx) })
	return w, nil
}

// Close stops the watcher and waits for the event loop to finish.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", slog.Any("err", err))
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Name == "" {
		return
	}
	rel := w.relativePath(event.Name)
	w.logger.Debug("fsnotify event", slog.String("path", rel), slog.String("op", event.Op.String()))

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.watchRecursive(event.Name)
		}
	}

	kind, ok := classifyEvent(event.Name, event.Op)
	if !ok || w.onChange == nil {
		return
	}
	w.onChange(Change{Path: rel, Kind: kind})
}

func (w *Watcher) watchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root {
			if !w.includeHidden && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			for _, name := range defaultExcludedDirs {
				if strings.EqualFold(name, d.Name()) {
					return filepath.SkipDir
				}
			}
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", slog.String("path", path), slog.Any("err", err))
		}
		return nil
	})
}

func (w *Watcher) relativePath(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func classifyEvent(path string, op fsnotify.Op) (ChangeKind, bool) {
	markdown := isMarkdownName(filepath.Base(path))
	switch {
	case op.Has(fsnotify.Remove):
		if !markdown {
			return ChangeTree, true
		}
		if _, err := os.Stat(path); err == nil {
			return ChangePage, true
		}
		return ChangeDeleted, true
	case op.Has(fsnotify.Rename):
		return ChangeTree, true
	case op.Has(fsnotify.Create):
		if markdown {
			return ChangeTree, true
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return ChangeTree, true
		}
		return "", false
	case op.Has(fsnotify.Write):
		if markdown {
			return ChangePage, true
		}
		return "", false
	default:
		return "", false
	}
}
