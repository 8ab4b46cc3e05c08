// Package storage persists small string values such as the editor draft.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/euforicio/mdview/internal/atomicfile"
)

// Store is a string key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// FileStore keeps one file per key below a directory.
type FileStore struct {
	fs  afero.Fs
	dir string
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(fsys afero.Fs, dir string) (*FileStore, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{fs: fsys, dir: dir}, nil
}

// Get returns the value stored under key.
func (s *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	data, err := afero.ReadFile(s.fs, s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %q: %w", key, err)
	}
	return string(data), true, nil
}

// Set stores value under key, replacing any previous value.
func (s *FileStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := atomicfile.WriteFile(s.fs, s.path(key), []byte(value)); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	return nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+".txt")
}

// Safe wraps a Store so that failures are logged and never returned.
type Safe struct {
	store  Store
	logger *slog.Logger
}

// NewSafe wraps store. A nil store makes every call a no-op.
func NewSafe(store Store, logger *slog.Logger) *Safe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Safe{store: store, logger: logger.With("component", "storage")}
}

// Load returns the stored value or "" when it is missing or unreadable.
func (s *Safe) Load(ctx context.Context, key string) string {
	if s == nil || s.store == nil {
		return ""
	}
	v, _, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("failed to load value", slog.String("key", key), slog.Any("err", err))
		return ""
	}
	return v
}

// Save stores value, logging any failure.
func (s *Safe) Save(ctx context.Context, key, value string) {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Set(ctx, key, value); err != nil {
		s.logger.Warn("failed to persist value", slog.String("key", key), slog.Any("err", err))
	}
}
