// Package atomicfile replaces files through a temporary sibling and a rename,
// so readers never observe a half-written document.
package atomicfile

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

const tempPattern = ".mdview-*"

// Writer buffers writes in a temporary file next to the target. Close
// renames it over the target; Abort discards it.
type Writer struct {
	fs      afero.Fs
	tmp     afero.File
	target  string
	done    bool
	failed  error
	written int64
}

// Create opens a Writer for target on fsys.
func Create(fsys afero.Fs, target string) (*Writer, error) {
	tmp, err := afero.TempFile(fsys, filepath.Dir(target), tempPattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &Writer{fs: fsys, tmp: tmp, target: target}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.done {
		return 0, errors.New("atomicfile: write after close")
	}
	n, err := w.tmp.Write(p)
	w.written += int64(n)
	if err != nil {
		w.failed = err
		return n, fmt.Errorf("write temp file: %w", err)
	}
	return n, nil
}

// Close commits the written bytes to the target path.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	tmpName := w.tmp.Name()
	keep := false
	defer func() {
		if !keep {
			_ = w.fs.Remove(tmpName)
		}
	}()

	if w.failed != nil {
		_ = w.tmp.Close()
		return fmt.Errorf("write temp file: %w", w.failed)
	}
	if err := w.tmp.Sync(); err != nil {
		_ = w.tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := w.tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := w.fs.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := w.fs.Rename(tmpName, w.target); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(w.target), err)
	}
	keep = true
	return nil
}

// Abort drops the temporary file without touching the target.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	_ = w.tmp.Close()
	_ = w.fs.Remove(w.tmp.Name())
}

// Written reports how many bytes were written so far.
func (w *Writer) Written() int64 {
	return w.written
}

// WriteFile atomically replaces target with data.
func WriteFile(fsys afero.Fs, target string, data []byte) error {
	w, err := Create(fsys, target)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}
