// Package workspace exposes an opened folder as directory and file handles
// and derives the navigation tree from it.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/euforicio/mdview/internal/atomicfile"
	"github.com/euforicio/mdview/internal/docpath"
)

// ErrNotMarkdown is returned when a markdown-only operation gets another file.
var ErrNotMarkdown = errors.New("not a markdown file")

// Kind tells directories and files apart.
type Kind int

const (
	KindFile Kind = iota
	KindDir
)

// Handle is an entry of an opened folder.
type Handle interface {
	Name() string
	Kind() Kind
	// Path is the normalised path relative to the folder root.
	Path() string
}

// DirHandle lists its children.
type DirHandle interface {
	Handle
	Entries(ctx context.Context) iter.Seq2[Handle, error]
}

// Writable is an in-progress replacement of a file. Nothing is visible
// until Close succeeds; Abort discards the write.
type Writable interface {
	io.WriteCloser
	Abort()
}

// FileHandle reads and replaces one file.
type FileHandle interface {
	Handle
	Stat(ctx context.Context) (fs.FileInfo, error)
	ReadText(ctx context.Context) (string, error)
	CreateWritable(ctx context.Context) (Writable, error)
}

// Folder is an opened directory.
type Folder struct {
	fs     afero.Fs
	name   string
	osPath string
}

// Open opens a directory on the local disk. The folder cannot reach
// outside dir.
func Open(dir string) (*Folder, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve folder: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}
	f := NewFolder(afero.NewBasePathFs(afero.NewOsFs(), abs), filepath.Base(abs))
	f.osPath = abs
	return f, nil
}

// NewFolder wraps an arbitrary file system rooted at "/".
func NewFolder(fsys afero.Fs, name string) *Folder {
	return &Folder{fs: fsys, name: name}
}

// Name returns the folder's display name.
func (f *Folder) Name() string { return f.name }

// OSPath returns the directory on disk, or "" for folders not backed by one.
func (f *Folder) OSPath() string { return f.osPath }

// Root returns the handle of the folder itself.
func (f *Folder) Root() DirHandle {
	return &dirHandle{fs: f.fs, name: f.name}
}

// File returns the handle of rel without checking that it exists.
func (f *Folder) File(rel string) FileHandle {
	rel = docpath.Normalize(rel)
	return &fileHandle{fs: f.fs, rel: rel}
}

// HTTP serves the folder read-only.
func (f *Folder) HTTP() http.FileSystem {
	return afero.NewHttpFs(afero.NewReadOnlyFs(f.fs))
}

type dirHandle struct {
	fs   afero.Fs
	name string
	rel  string
}

func (d *dirHandle) Name() string { return d.name }
func (d *dirHandle) Kind() Kind   { return KindDir }
func (d *dirHandle) Path() string { return d.rel }

func (d *dirHandle) Entries(ctx context.Context) iter.Seq2[Handle, error] {
	return func(yield func(Handle, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		infos, err := afero.ReadDir(d.fs, fsPath(d.rel))
		if err != nil {
			yield(nil, fmt.Errorf("read dir %q: %w", d.rel, err))
			return
		}
		for _, info := range infos {
			rel := path.Join(d.rel, info.Name())
			var h Handle
			if info.IsDir() {
				h = &dirHandle{fs: d.fs, name: info.Name(), rel: rel}
			} else {
				h = &fileHandle{fs: d.fs, rel: rel}
			}
			if !yield(h, nil) {
				return
			}
		}
	}
}

type fileHandle struct {
	fs  afero.Fs
	rel string
}

func (f *fileHandle) Name() string { return docpath.Base(f.rel) }
func (f *fileHandle) Kind() Kind   { return KindFile }
func (f *fileHandle) Path() string { return f.rel }

func (f *fileHandle) Stat(ctx context.Context) (fs.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.fs.Stat(fsPath(f.rel))
}

func (f *fileHandle) ReadText(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := afero.ReadFile(f.fs, fsPath(f.rel))
	if err != nil {
		return "", fmt.Errorf("read %q: %w", f.rel, err)
	}
	return string(data), nil
}

func (f *fileHandle) CreateWritable(ctx context.Context) (Writable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !docpath.IsMarkdown(f.rel) {
		return nil, fmt.Errorf("%w: %s", ErrNotMarkdown, f.rel)
	}
	w, err := atomicfile.Create(f.fs, fsPath(f.rel))
	if err != nil {
		return nil, fmt.Errorf("open %q for writing: %w", f.rel, err)
	}
	return w, nil
}

func fsPath(rel string) string {
	return "/" + rel
}
