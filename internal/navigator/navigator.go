// Package navigator follows relative markdown links between the files of
// an opened folder.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/euforicio/mdview/internal/docpath"
	"github.com/euforicio/mdview/internal/notify"
	"github.com/euforicio/mdview/internal/workspace"
)

var (
	// ErrNoFolder is returned when no folder is open.
	ErrNoFolder = errors.New("no folder open")
	// ErrNoCurrentFile is returned when a relative link is followed before
	// any file was opened.
	ErrNoCurrentFile = errors.New("no file open")
	// ErrNotFound is returned for paths missing from the file cache.
	ErrNotFound = errors.New("file not found")
	// ErrUnattached is returned before a navigation callback is attached.
	ErrUnattached = errors.New("navigator not attached")
)

// State is the navigator's lifecycle stage.
type State int

const (
	StateUnattached State = iota
	StateIdle
	StateReady
	StateNavigating
)

func (s State) String() string {
	switch s {
	case StateUnattached:
		return "unattached"
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateNavigating:
		return "navigating"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Document is handed to the navigation callback after a file was read.
type Document struct {
	Handle  workspace.FileHandle `json:"-"`
	Content string               `json:"content"`
	Name    string               `json:"name"`
	Path    string               `json:"path"`
}

// Callback receives every document the navigator loads.
type Callback func(ctx context.Context, doc Document)

// Navigator owns the file cache of the opened folder and the current
// navigation context.
type Navigator struct {
	events notify.Publisher
	logger *slog.Logger

	// cacheMu is held for writing during a whole rebuild, so lookups wait
	// for the new cache instead of seeing a partial one.
	cacheMu sync.RWMutex
	cache   map[string]workspace.FileHandle
	open    bool
	walk    workspace.WalkOptions

	// navMu serialises loads.
	navMu sync.Mutex

	mu       sync.RWMutex
	state    State
	callback Callback
	current  string
	history  []string
}

// New returns an unattached navigator.
func New(events notify.Publisher, logger *slog.Logger, walk workspace.WalkOptions) *Navigator {
	if events == nil {
		events = &notify.Recorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Navigator{
		events: events,
		logger: logger.With("component", "navigator"),
		cache:  make(map[string]workspace.FileHandle),
		walk:   walk,
	}
}

// Attach installs the navigation callback. A nil callback leaves the
// navigator unattached and inert.
func (n *Navigator) Attach(cb Callback) error {
	if cb == nil {
		n.logger.Error("navigator attached without a callback; link navigation disabled")
		return ErrUnattached
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callback = cb
	if n.state == StateUnattached {
		n.state = StateIdle
	}
	return nil
}

// State reports the lifecycle stage.
func (n *Navigator) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

func (n *Navigator) setState(s State) {
	n.mu.Lock()
	if n.state != StateUnattached {
		n.state = s
	}
	n.mu.Unlock()
}

// BuildFileCache replaces the cache with every markdown file below root.
// Directories that cannot be listed are logged and skipped; whatever was
// found is kept. Only a cancelled ctx fails the build.
func (n *Navigator) BuildFileCache(ctx context.Context, root workspace.DirHandle) error {
	if root == nil {
		return ErrNoFolder
	}
	n.cacheMu.Lock()
	defer n.cacheMu.Unlock()

	cache := make(map[string]workspace.FileHandle)
	opts := n.walk
	opts.OnError = func(p string, err error) {
		n.logger.Warn("skipping unreadable directory", slog.String("path", p), slog.Any("err", err))
	}
	err := workspace.WalkMarkdown(ctx, root, opts, func(f workspace.FileHandle) error {
		cache[docpath.Normalize(f.Path())] = f
		return nil
	})
	if err != nil {
		return fmt.Errorf("build file cache: %w", err)
	}

	n.cache = cache
	n.open = true
	n.setState(StateReady)
	n.logger.Info("file cache built", slog.String("folder", root.Name()), slog.Int("files", len(cache)))
	return nil
}

// Close drops the cache and the navigation context.
func (n *Navigator) Close() {
	n.cacheMu.Lock()
	n.cache = make(map[string]workspace.FileHandle)
	n.open = false
	n.cacheMu.Unlock()

	n.mu.Lock()
	n.current = ""
	n.history = nil
	if n.state != StateUnattached {
		n.state = StateIdle
	}
	n.mu.Unlock()
}

// Files lists the cached paths.
func (n *Navigator) Files() []string {
	n.cacheMu.RLock()
	defer n.cacheMu.RUnlock()
	out := make([]string, 0, len(n.cache))
	for p := range n.cache {
		out = append(out, p)
	}
	return out
}

// Lookup returns the cached handle of p.
func (n *Navigator) Lookup(p string) (workspace.FileHandle, bool) {
	n.cacheMu.RLock()
	defer n.cacheMu.RUnlock()
	h, ok := n.cache[docpath.Normalize(p)]
	return h, ok
}

func (n *Navigator) folderOpen() bool {
	n.cacheMu.RLock()
	defer n.cacheMu.RUnlock()
	return n.open
}

// SetCurrentFile records p as the current file. History skips a repeat of
// its last entry only.
func (n *Navigator) SetCurrentFile(p string) {
	p = docpath.Normalize(p)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = p
	if p == "" {
		return
	}
	if len(n.history) == 0 || n.history[len(n.history)-1] != p {
		n.history = append(n.history, p)
	}
}

// Current returns the current file, "" when none is open.
func (n *Navigator) Current() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.current
}

// History returns the visited paths, oldest first.
func (n *Navigator) History() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]string(nil), n.history...)
}

// ResolveRelativePath resolves target against the file at current.
func ResolveRelativePath(current, target string) string {
	return docpath.Resolve(current, target)
}

// OpenFile loads p from the cache, makes it current and hands it to the
// callback.
func (n *Navigator) OpenFile(ctx context.Context, p string) (Document, error) {
	n.mu.RLock()
	cb := n.callback
	n.mu.RUnlock()
	if cb == nil {
		return Document{}, ErrUnattached
	}
	if !n.folderOpen() {
		n.notice(notify.KindNoFolder, "Open a folder first.", nil)
		return Document{}, ErrNoFolder
	}
	return n.load(ctx, docpath.Normalize(p), cb)
}

func (n *Navigator) load(ctx context.Context, p string, cb Callback) (Document, error) {
	n.navMu.Lock()
	defer n.navMu.Unlock()

	handle, ok := n.Lookup(p)
	if !ok {
		n.logger.Info("link target not in folder", slog.String("path", p))
		n.notice(notify.KindNotFound, "File not found: "+p, map[string]string{"path": p})
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	}

	n.setState(StateNavigating)
	defer n.setState(StateReady)

	content, err := handle.ReadText(ctx)
	if err != nil {
		n.readFailed(p, err)
		return Document{}, err
	}

	doc := Document{Content: content, Name: handle.Name(), Path: p, Handle: handle}
	n.SetCurrentFile(p)
	n.logger.Debug("navigated", slog.String("path", p))
	cb(ctx, doc)
	return doc, nil
}

func (n *Navigator) readFailed(p string, err error) {
	pathCtx := map[string]string{"path": p}
	switch {
	case errors.Is(err, fs.ErrPermission):
		n.logger.Warn("permission denied", slog.String("path", p), slog.Any("err", err))
		n.notice(notify.KindPermissionDenied, "Permission denied: "+p, pathCtx)
	case errors.Is(err, fs.ErrNotExist):
		n.logger.Warn("cached file disappeared", slog.String("path", p), slog.Any("err", err))
		n.notice(notify.KindNotFound, "File not found: "+p, pathCtx)
	default:
		n.logger.Error("read failed", slog.String("path", p), slog.Any("err", err))
		n.notice(notify.KindReadFailed, "Could not read "+p, pathCtx)
	}
}

func (n *Navigator) notice(kind notify.Kind, msg string, ctx map[string]string) {
	n.events.Publish(notify.Event{Kind: kind, Level: notify.LevelWarning, Message: msg, Context: ctx})
}

// Action says what a click resulted in.
type Action string

const (
	// ActionPassThrough leaves the link to default handling.
	ActionPassThrough Action = "pass-through"
	ActionOpened      Action = "opened"
	ActionNotFound    Action = "not-found"
	ActionNoFolder    Action = "no-folder"
	ActionNoFile      Action = "no-file"
	ActionFailed      Action = "failed"
	// ActionIgnored is returned while unattached.
	ActionIgnored Action = "ignored"
)

// Outcome describes how a click was handled.
type Outcome struct {
	Action Action `json:"action"`
	// Intercepted is true when default navigation must be prevented.
	Intercepted bool   `json:"intercepted"`
	Path        string `json:"path,omitempty"`
	Fragment    string `json:"fragment,omitempty"`
	Err         error  `json:"-"`
}

// HandleClick handles a click on href. Only markdown links are
// intercepted; anchors and external URLs pass through untouched.
func (n *Navigator) HandleClick(ctx context.Context, href string) Outcome {
	if !docpath.IsMarkdownHref(href) || isExternal(href) {
		return Outcome{Action: ActionPassThrough}
	}

	n.mu.RLock()
	cb, current := n.callback, n.current
	n.mu.RUnlock()
	if cb == nil {
		n.logger.Debug("ignoring click while unattached", slog.String("href", href))
		return Outcome{Action: ActionIgnored}
	}

	target, fragment := docpath.SplitFragment(href)
	if i := strings.IndexByte(target, '?'); i >= 0 {
		target = target[:i]
	}
	if decoded, err := url.PathUnescape(target); err == nil {
		target = decoded
	}

	if !n.folderOpen() {
		n.notice(notify.KindNoFolder, "Open a folder to follow links between files.", map[string]string{"href": href})
		return Outcome{Action: ActionNoFolder, Intercepted: true, Err: ErrNoFolder}
	}
	if current == "" && !strings.HasPrefix(target, "/") {
		n.notice(notify.KindNoFile, "Open a file first.", map[string]string{"href": href})
		return Outcome{Action: ActionNoFile, Intercepted: true, Err: ErrNoCurrentFile}
	}

	resolved := docpath.Normalize(ResolveRelativePath(current, target))
	out := Outcome{Intercepted: true, Path: resolved, Fragment: fragment}
	_, err := n.load(ctx, resolved, cb)
	switch {
	case err == nil:
		out.Action = ActionOpened
	case errors.Is(err, ErrNotFound):
		out.Action, out.Err = ActionNotFound, err
	default:
		out.Action, out.Err = ActionFailed, err
	}
	return out
}

func isExternal(href string) bool {
	if strings.HasPrefix(href, "//") {
		return true
	}
	u, err := url.Parse(href)
	return err == nil && u.Scheme != ""
}
