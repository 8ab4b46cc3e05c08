package editor_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euforicio/mdview/internal/anchor"
	"github.com/euforicio/mdview/internal/editor"
	"github.com/euforicio/mdview/internal/logging"
	"github.com/euforicio/mdview/internal/navigator"
	"github.com/euforicio/mdview/internal/notify"
	"github.com/euforicio/mdview/internal/preview"
	"github.com/euforicio/mdview/internal/renderer"
	"github.com/euforicio/mdview/internal/storage"
	"github.com/euforicio/mdview/internal/workspace"
)

type fixture struct {
	session *editor.Session
	events  *notify.Recorder
	store   *storage.FileStore
	fs      afero.Fs
}

func newFixture(t *testing.T, watch bool) *fixture {
	t.Helper()
	logger := logging.Discard()
	events := &notify.Recorder{}
	store, err := storage.NewFileStore(afero.NewMemMapFs(), "/state")
	require.NoError(t, err)
	safe := storage.NewSafe(store, logger)
	eng := renderer.NewEngine(renderer.Options{Logger: logger})

	pipeline, err := preview.NewPipeline(t.Context(), nil, preview.Options{
		Markdown: eng,
		Store:    safe,
		Events:   events,
		Logger:   logger,
	})
	require.NoError(t, err)

	session, err := editor.New(t.Context(), editor.Options{
		Pipeline:  pipeline,
		Navigator: navigator.New(events, logger, workspace.WalkOptions{}),
		Resolver:  anchor.NewResolver(logger, 5*time.Millisecond),
		Store:     safe,
		Events:    events,
		Logger:    logger,
		Metadata:  eng,
		Debounce:  10 * time.Millisecond,
		Watch:     watch,
	})
	require.NoError(t, err)
	t.Cleanup(session.Close)
	return &fixture{session: session, events: events, store: store}
}

func (f *fixture) attach(t *testing.T, files map[string]string) {
	t.Helper()
	f.fs = afero.NewMemMapFs()
	for name, body := range files {
		require.NoError(t, afero.WriteFile(f.fs, "/"+name, []byte(body), 0o644))
	}
	require.NoError(t, f.session.Attach(context.Background(), workspace.NewFolder(f.fs, "notes")))
}

func (f *fixture) find(kind notify.Kind) []notify.Event {
	var out []notify.Event
	for _, e := range f.events.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func containsID(html, id string) bool {
	return strings.Contains(html, `id="`+id+`"`)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := editor.New(context.Background(), editor.Options{})
	require.Error(t, err)
}

func TestFollowLinkAcrossFiles(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	f.attach(t, map[string]string{
		"a.md":   "# A\n\n[next](./b/c.md#part)\n",
		"b/c.md": "# C\n\n## Part\n\n![pic](img.png)\n",
	})
	ctx := context.Background()

	_, err := f.session.OpenFile(ctx, "a.md")
	require.NoError(t, err)
	st := f.session.State()
	assert.Equal(t, "a.md", st.Path)
	assert.Equal(t, "notes", st.Folder)
	assert.Contains(t, st.HTML, `data-md-href="./b/c.md#part"`)

	out := f.session.ClickLink(ctx, "./b/c.md#part")
	require.Equal(t, navigator.ActionOpened, out.Action)

	st = f.session.State()
	assert.Equal(t, "b/c.md", st.Path)
	assert.Equal(t, "c.md", st.Name)
	assert.False(t, st.Dirty)
	assert.Contains(t, st.HTML, `<h2 id="part" tabindex="-1">`)
	assert.Contains(t, st.HTML, `src="/media/b/img.png"`)
	assert.Equal(t, []string{"a.md", "b/c.md"}, st.History)

	loaded := f.find(notify.KindDocumentLoaded)
	require.Len(t, loaded, 2)
	assert.Equal(t, "b/c.md", loaded[1].Context["path"])

	scrolls := f.find(notify.KindScroll)
	require.Len(t, scrolls, 1)
	assert.Equal(t, map[string]string{"id": "part", "behavior": "instant"}, scrolls[0].Context)
	require.Len(t, f.find(notify.KindFocus), 1)
}

func TestExternalLinksPassThrough(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	f.attach(t, map[string]string{"a.md": ""})
	out := f.session.ClickLink(context.Background(), "https://example.com")
	assert.False(t, out.Intercepted)
	assert.Empty(t, f.find(notify.KindDocumentLoaded))
}

func TestGoToAnchor(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	f.session.Preview(ctx, "# C++ Basics\n\ntext\n")

	id, err := f.session.GoToAnchor(ctx, "#c%2B%2B-basics", true)
	require.NoError(t, err)
	assert.Equal(t, "cpp-basics", id)
	scrolls := f.find(notify.KindScroll)
	require.Len(t, scrolls, 1)
	assert.Equal(t, "smooth", scrolls[0].Context["behavior"])

	_, err = f.session.GoToAnchor(ctx, "#nowhere", true)
	require.ErrorIs(t, err, anchor.ErrNoTarget)
	missing := f.find(notify.KindAnchorMissing)
	require.Len(t, missing, 1)
	assert.Equal(t, notify.LevelWarning, missing[0].Level)
	assert.Len(t, f.find(notify.KindScroll), 1)
}

func TestInputIsDebounced(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	for _, text := range []string{"# O", "# On", "# One"} {
		f.session.Input(text)
	}
	require.Eventually(t, func() bool {
		return containsID(f.session.State().HTML, "one")
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, f.find(notify.KindPreview), 1)
	assert.Equal(t, "# One", f.session.State().Content)
}

func TestFlushRendersPendingInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	f.session.Input("# Now")
	assert.True(t, f.session.Flush())
	assert.True(t, containsID(f.session.State().HTML, "now"))
	assert.False(t, f.session.Flush())
}

func TestSave(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	require.ErrorIs(t, f.session.Save(ctx), editor.ErrNoDocument)

	f.attach(t, map[string]string{"doc.md": "old"})
	_, err := f.session.OpenFile(ctx, "doc.md")
	require.NoError(t, err)

	f.session.Preview(ctx, "new text")
	assert.True(t, f.session.State().Dirty)

	require.NoError(t, f.session.Save(ctx))
	assert.False(t, f.session.State().Dirty)
	data, err := afero.ReadFile(f.fs, "/doc.md")
	require.NoError(t, err)
	assert.Equal(t, "new text", string(data))
	require.Len(t, f.find(notify.KindSaved), 1)
}

func TestDraftIsPersistedAndRestored(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	f.session.Preview(ctx, "# Draft\n")
	f.session.Close()

	v, ok, err := f.store.Get(ctx, preview.DraftKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "# Draft\n", v)

	g := newFixture(t, false)
	require.NoError(t, g.store.Set(ctx, preview.DraftKey, "# Restored\n"))
	// The second fixture has its own store; restore from it.
	assert.True(t, g.session.Restore(ctx))
	st := g.session.State()
	assert.Equal(t, "# Restored\n", st.Content)
	assert.True(t, containsID(st.HTML, "restored"))
}

func TestRestoreWithoutDraft(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	assert.False(t, f.session.Restore(context.Background()))
}

func TestTreeAndCloseFolder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.session.Tree(ctx)
	require.ErrorIs(t, err, navigator.ErrNoFolder)

	f.attach(t, map[string]string{"index.md": "---\ntitle: Home\n---\n", "guide/start.md": ""})
	tree, err := f.session.Tree(ctx)
	require.NoError(t, err)
	require.Len(t, tree.Children, 2)
	assert.Equal(t, "guide", tree.Children[0].Name)
	assert.Equal(t, "Home", tree.Children[1].Title)

	_, err = f.session.OpenFile(ctx, "index.md")
	require.NoError(t, err)

	f.session.CloseFolder()
	assert.Nil(t, f.session.Folder())
	st := f.session.State()
	assert.Empty(t, st.Path)
	assert.Empty(t, st.History)

	out := f.session.ClickLink(ctx, "index.md")
	assert.Equal(t, navigator.ActionNoFolder, out.Action)
	assert.NotEmpty(t, f.find(notify.KindNoFolder))
}

func TestWatchedFolderRefreshesCache(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("[b](b.md)"), 0o644))
	ctx := context.Background()

	require.NoError(t, f.session.OpenFolder(ctx, dir))
	_, err := f.session.OpenFile(ctx, "a.md")
	require.NoError(t, err)

	out := f.session.ClickLink(ctx, "b.md")
	assert.Equal(t, navigator.ActionNotFound, out.Action)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("# B"), 0o644))
	require.Eventually(t, func() bool {
		for _, e := range f.find(notify.KindTreeUpdated) {
			if e.Context["path"] == "b.md" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	out = f.session.ClickLink(ctx, "b.md")
	assert.Equal(t, navigator.ActionOpened, out.Action)
}
