// Package editor holds the editing session: the current document, the
// opened folder and the services that act on them.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/euforicio/mdview/internal/anchor"
	"github.com/euforicio/mdview/internal/navigator"
	"github.com/euforicio/mdview/internal/notify"
	"github.com/euforicio/mdview/internal/preview"
	"github.com/euforicio/mdview/internal/storage"
	"github.com/euforicio/mdview/internal/workspace"
)

// ErrNoDocument is returned by Save when no file is open.
var ErrNoDocument = errors.New("no document to save")

// Options wires a Session.
type Options struct {
	Pipeline  *preview.Pipeline
	Navigator *navigator.Navigator
	Resolver  *anchor.Resolver
	Store     *storage.Safe
	Events    notify.Publisher
	Logger    *slog.Logger
	// Metadata supplies front matter titles for the folder tree.
	Metadata workspace.MetadataReader
	Walk     workspace.WalkOptions
	Debounce time.Duration
	// Watch follows opened folders on disk for changes.
	Watch bool
}

// State is a snapshot of the session.
type State struct {
	Path    string   `json:"path"`
	Name    string   `json:"name"`
	Folder  string   `json:"folder,omitempty"`
	Content string   `json:"content"`
	HTML    string   `json:"html"`
	History []string `json:"history"`
	Epoch   uint64   `json:"epoch"`
	Dirty   bool     `json:"dirty"`
}

// Session is the application controller. It is safe for concurrent use.
type Session struct {
	opts      Options
	ctx       context.Context
	logger    *slog.Logger
	debouncer *preview.Debouncer
	viewport  eventViewport

	mu      sync.RWMutex
	folder  *workspace.Folder
	watcher *workspace.Watcher
	handle  workspace.FileHandle
	path    string
	content string
	dirty   bool
}

// New returns a session and attaches it to the navigator. ctx bounds
// background work such as debounced renders and folder watching.
func New(ctx context.Context, opts Options) (*Session, error) {
	if opts.Pipeline == nil || opts.Navigator == nil {
		return nil, errors.New("editor: pipeline and navigator are required")
	}
	if opts.Events == nil {
		opts.Events = &notify.Recorder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Resolver == nil {
		opts.Resolver = anchor.NewResolver(opts.Logger, 0)
	}
	if opts.Store == nil {
		opts.Store = storage.NewSafe(nil, opts.Logger)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = preview.DefaultDebounce
	}
	s := &Session{
		opts:      opts,
		ctx:       ctx,
		logger:    opts.Logger.With("component", "editor"),
		debouncer: preview.NewDebouncer(opts.Debounce),
		viewport:  eventViewport{events: opts.Events},
	}
	if err := opts.Navigator.Attach(s.onNavigate); err != nil {
		return nil, err
	}
	return s, nil
}

// Restore loads the last draft and renders it.
func (s *Session) Restore(ctx context.Context) bool {
	draft := s.opts.Store.Load(ctx, preview.DraftKey)
	if draft == "" {
		return false
	}
	s.mu.Lock()
	s.content = draft
	s.mu.Unlock()
	s.opts.Pipeline.Render(ctx, draft, preview.WithoutPersist())
	s.logger.Info("restored draft", slog.Int("bytes", len(draft)))
	return true
}

// OpenFolder opens dir on disk and builds the file cache.
func (s *Session) OpenFolder(ctx context.Context, dir string) error {
	folder, err := workspace.Open(dir)
	if err != nil {
		return err
	}
	return s.Attach(ctx, folder)
}

// Attach makes folder the opened folder.
func (s *Session) Attach(ctx context.Context, folder *workspace.Folder) error {
	s.CloseFolder()

	if err := s.opts.Navigator.BuildFileCache(ctx, folder.Root()); err != nil {
		return err
	}

	var watcher *workspace.Watcher
	if s.opts.Watch && folder.OSPath() != "" {
		w, err := workspace.Watch(s.ctx, folder.OSPath(), s.opts.Walk.IncludeHidden, s.opts.Logger, s.onChange)
		if err != nil {
			s.logger.Warn("folder watcher unavailable", slog.String("folder", folder.OSPath()), slog.Any("err", err))
		} else {
			watcher = w
		}
	}

	s.mu.Lock()
	s.folder = folder
	s.watcher = watcher
	s.mu.Unlock()

	s.logger.Info("folder opened", slog.String("folder", folder.Name()))
	s.opts.Events.Publish(notify.Event{Kind: notify.KindTreeUpdated, Context: map[string]string{"folder": folder.Name()}})
	return nil
}

// CloseFolder forgets the opened folder. The current text stays in the
// editor but is no longer tied to a file.
func (s *Session) CloseFolder() {
	s.mu.Lock()
	watcher := s.watcher
	hadFolder := s.folder != nil
	s.folder, s.watcher, s.handle, s.path = nil, nil, nil, ""
	s.mu.Unlock()

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			s.logger.Warn("closing folder watcher", slog.Any("err", err))
		}
	}
	s.opts.Navigator.Close()
	if hadFolder {
		s.opts.Events.Publish(notify.Event{Kind: notify.KindTreeUpdated})
	}
}

// Folder returns the opened folder, or nil.
func (s *Session) Folder() *workspace.Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.folder
}

// Tree returns the navigation tree of the opened folder.
func (s *Session) Tree(ctx context.Context) (*workspace.Node, error) {
	folder := s.Folder()
	if folder == nil {
		return nil, navigator.ErrNoFolder
	}
	opts := workspace.TreeOptions{Metadata: s.opts.Metadata, WalkOptions: s.opts.Walk}
	opts.OnError = func(p string, err error) {
		s.logger.Warn("tree entry skipped", slog.String("path", p), slog.Any("err", err))
	}
	return workspace.BuildTree(ctx, folder.Root(), opts)
}

// OpenFile loads p from the opened folder into the editor.
func (s *Session) OpenFile(ctx context.Context, p string) (navigator.Document, error) {
	return s.opts.Navigator.OpenFile(ctx, p)
}

func (s *Session) onNavigate(ctx context.Context, doc navigator.Document) {
	s.debouncer.Stop()
	s.mu.Lock()
	s.handle = doc.Handle
	s.path = doc.Path
	s.content = doc.Content
	s.dirty = false
	s.mu.Unlock()

	snap := s.opts.Pipeline.Render(ctx, doc.Content, preview.WithDocPath(doc.Path))
	s.opts.Events.Publish(notify.Event{
		Kind:    notify.KindDocumentLoaded,
		HTML:    snap.HTML,
		Context: map[string]string{"path": doc.Path, "name": doc.Name},
	})
}

// Input records an edit and schedules a render once typing pauses.
func (s *Session) Input(content string) {
	s.mu.Lock()
	s.content = content
	s.dirty = s.handle != nil
	s.mu.Unlock()
	s.debouncer.Trigger(func() { s.renderCurrent(s.ctx) })
}

// Preview records content and renders it straight away.
func (s *Session) Preview(ctx context.Context, content string) preview.Snapshot {
	s.debouncer.Stop()
	s.mu.Lock()
	s.content = content
	s.dirty = s.handle != nil
	s.mu.Unlock()
	return s.renderCurrent(ctx)
}

// Flush runs a pending debounced render now.
func (s *Session) Flush() bool {
	return s.debouncer.Flush()
}

func (s *Session) renderCurrent(ctx context.Context) preview.Snapshot {
	s.mu.RLock()
	content, docPath := s.content, s.path
	s.mu.RUnlock()
	return s.opts.Pipeline.Render(ctx, content, preview.WithDocPath(docPath))
}

// ClickLink follows href. A markdown link with a fragment scrolls to it
// once the target file is shown.
func (s *Session) ClickLink(ctx context.Context, href string) navigator.Outcome {
	out := s.opts.Navigator.HandleClick(ctx, href)
	if out.Action == navigator.ActionOpened && out.Fragment != "" {
		if _, err := s.GoToAnchor(ctx, out.Fragment, false); err != nil {
			s.logger.Debug("fragment not found after navigation", slog.String("fragment", out.Fragment))
		}
	}
	return out
}

// GoToAnchor scrolls the preview to hash and focuses the target.
func (s *Session) GoToAnchor(ctx context.Context, hash string, smooth bool) (string, error) {
	id, err := s.opts.Resolver.Navigate(ctx, s.opts.Pipeline.Container(), s.viewport, hash, smooth)
	if errors.Is(err, anchor.ErrNoTarget) {
		s.opts.Events.Publish(notify.Event{
			Kind:    notify.KindAnchorMissing,
			Level:   notify.LevelWarning,
			Message: "Section not found: " + hash,
			Context: map[string]string{"hash": hash},
		})
	}
	return id, err
}

// Save writes the editor content back to the current file.
func (s *Session) Save(ctx context.Context) error {
	s.mu.RLock()
	handle, content, p := s.handle, s.content, s.path
	s.mu.RUnlock()
	if handle == nil {
		return ErrNoDocument
	}

	w, err := handle.CreateWritable(ctx)
	if err != nil {
		return fmt.Errorf("save %s: %w", p, err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		w.Abort()
		return fmt.Errorf("save %s: %w", p, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("save %s: %w", p, err)
	}

	s.mu.Lock()
	if s.handle == handle && s.content == content {
		s.dirty = false
	}
	s.mu.Unlock()

	s.logger.Info("document saved", slog.String("path", p), slog.Int("bytes", len(content)))
	s.opts.Events.Publish(notify.Event{Kind: notify.KindSaved, Context: map[string]string{"path": p}})
	return nil
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.RLock()
	st := State{Path: s.path, Content: s.content, Dirty: s.dirty}
	if s.handle != nil {
		st.Name = s.handle.Name()
	}
	if s.folder != nil {
		st.Folder = s.folder.Name()
	}
	s.mu.RUnlock()

	container := s.opts.Pipeline.Container()
	st.HTML = container.HTML()
	st.Epoch = container.Epoch()
	st.History = s.opts.Navigator.History()
	return st
}

// Close stops background work.
func (s *Session) Close() {
	s.debouncer.Stop()
	s.CloseFolder()
	s.opts.Pipeline.Wait()
}

func (s *Session) onChange(c workspace.Change) {
	s.mu.RLock()
	folder, current, dirty := s.folder, s.path, s.dirty
	s.mu.RUnlock()
	if folder == nil {
		return
	}

	switch c.Kind {
	case workspace.ChangeTree, workspace.ChangeDeleted:
		if err := s.opts.Navigator.BuildFileCache(s.ctx, folder.Root()); err != nil {
			s.logger.Error("rebuild file cache failed", slog.Any("err", err))
			return
		}
		s.opts.Events.Publish(notify.Event{Kind: notify.KindTreeUpdated, Context: map[string]string{"path": c.Path}})
	case workspace.ChangePage:
		if c.Path != current || dirty {
			return
		}
		if _, err := s.opts.Navigator.OpenFile(s.ctx, c.Path); err != nil {
			s.logger.Warn("reload after external change failed", slog.String("path", c.Path), slog.Any("err", err))
		}
	}
}
