package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/euforicio/mdview/internal/anchor"
	"github.com/euforicio/mdview/internal/config"
	"github.com/euforicio/mdview/internal/diagram"
	"github.com/euforicio/mdview/internal/editor"
	"github.com/euforicio/mdview/internal/highlight"
	"github.com/euforicio/mdview/internal/logging"
	"github.com/euforicio/mdview/internal/navigator"
	"github.com/euforicio/mdview/internal/notify"
	"github.com/euforicio/mdview/internal/preview"
	"github.com/euforicio/mdview/internal/renderer"
	"github.com/euforicio/mdview/internal/workspace"
)

var testFiles = map[string]string{
	"index.md":        "---\ntitle: Welcome Home\n---\n# Welcome\n\n[Guide](guides/start.md#setup)\n\n![logo](img/logo.svg)\n",
	"guides/start.md": "# Start\n\n## Setup\n",
	"img/logo.svg":    `<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><rect width="10" height="10" fill="red"/></svg>`,
}

type testServer struct {
	*Server
	handler http.Handler
	root    string
}

func (ts *testServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ts.handler.ServeHTTP(w, r)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	root := t.TempDir()
	for name, body := range testFiles {
		target := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(target, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	ctx := t.Context()
	logger := logging.Discard()
	bus := notify.NewBus(ctx, logger)
	eng := renderer.NewEngine(renderer.Options{Logger: logger})

	diagrams := diagram.NewRegistry(time.Second)
	diagrams.Register("mermaid", diagram.EngineFunc(func(_ context.Context, id, _ string) (string, error) {
		return `<svg xmlns="http://www.w3.org/2000/svg" id="` + id + `" width="20" height="10"><rect width="20" height="10"/></svg>`, nil
	}))
	hl, err := highlight.New("", logger, diagrams.Languages()...)
	if err != nil {
		t.Fatalf("highlighter: %v", err)
	}

	pipeline, err := preview.NewPipeline(ctx, nil, preview.Options{
		Markdown:    eng,
		Diagrams:    diagrams,
		Highlighter: hl,
		Events:      bus,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	session, err := editor.New(ctx, editor.Options{
		Pipeline:  pipeline,
		Navigator: navigator.New(bus, logger, workspace.WalkOptions{}),
		Resolver:  anchor.NewResolver(logger, time.Millisecond),
		Events:    bus,
		Logger:    logger,
		Metadata:  eng,
	})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	t.Cleanup(session.Close)
	if err := session.OpenFolder(ctx, root); err != nil {
		t.Fatalf("open folder: %v", err)
	}

	cfg := config.Default()
	cfg.AutoOpen = false
	cfg.AssetsDir = ""

	srv, err := New(cfg, logger, Deps{Session: session, Pipeline: pipeline, Bus: bus, HighlightCSS: hl.WriteCSS})
	if err != nil {
		t.Fatalf("server init failed: %v", err)
	}
	return &testServer{Server: srv, handler: srv.Handler(), root: root}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Origin", "http://example.com")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

type navigateResult struct {
	State       *editor.State `json:"state"`
	Action      string        `json:"action"`
	Path        string        `json:"path"`
	Fragment    string        `json:"fragment"`
	Error       string        `json:"error"`
	Intercepted bool          `json:"intercepted"`
}

func TestEditorFlow(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	t.Run("healthz", func(t *testing.T) {
		if rec := do(t, srv, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("tree carries front matter titles", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/api/tree", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decode[treeResponse](t, rec)
		found := false
		for _, child := range resp.Root.Children {
			if child.RelativePath == "index.md" {
				found = true
				if child.Title != "Welcome Home" {
					t.Fatalf("expected title 'Welcome Home', got %q", child.Title)
				}
			}
		}
		if !found {
			t.Fatalf("index.md missing from tree: %+v", resp.Root.Children)
		}
	})

	t.Run("search", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/api/search?q=setup&context=1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decode[searchResponse](t, rec)
		if len(resp.Results) != 2 {
			t.Fatalf("expected two matches, got %+v", resp.Results)
		}
		if resp.Results[0].Path != "guides/start.md" || resp.Results[1].Path != "index.md" {
			t.Fatalf("unexpected order %+v", resp.Results)
		}
		if rec := do(t, srv, http.MethodGet, "/api/search?q=", ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if rec := do(t, srv, http.MethodGet, "/api/search?q=x&context=99", ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("open renders the file", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/api/open", `{"path":"index.md"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		st := decode[editor.State](t, rec)
		if st.Path != "index.md" {
			t.Fatalf("unexpected path %q", st.Path)
		}
		if !strings.Contains(st.HTML, `<h1 id="welcome">`) {
			t.Fatalf("expected heading in %q", st.HTML)
		}
		if !strings.Contains(st.HTML, `src="/media/img/logo.svg"`) {
			t.Fatalf("expected media rewrite in %q", st.HTML)
		}
	})

	t.Run("open missing file", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/api/open", `{"path":"nope.md"}`)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("media is served from the folder", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/media/img/logo.svg", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "<svg") {
			t.Fatalf("unexpected body %q", rec.Body.String())
		}
		if rec := do(t, srv, http.MethodGet, "/media/img/missing.png", ""); rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		if rec := do(t, srv, http.MethodGet, "/media/img", ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for directory, got %d", rec.Code)
		}
	})

	t.Run("markdown link opens target", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/api/navigate", `{"href":"guides/start.md#setup"}`)
		resp := decode[navigateResult](t, rec)
		if resp.Action != string(navigator.ActionOpened) || !resp.Intercepted {
			t.Fatalf("unexpected outcome %+v", resp)
		}
		if resp.State == nil || resp.State.Path != "guides/start.md" {
			t.Fatalf("expected state for guides/start.md, got %+v", resp.State)
		}
		if resp.Fragment != "setup" {
			t.Fatalf("expected fragment setup, got %q", resp.Fragment)
		}
	})

	t.Run("external link passes through", func(t *testing.T) {
		resp := decode[navigateResult](t, do(t, srv, http.MethodPost, "/api/navigate", `{"href":"https://example.com"}`))
		if resp.Action != string(navigator.ActionPassThrough) || resp.Intercepted {
			t.Fatalf("unexpected outcome %+v", resp)
		}
	})

	t.Run("missing link target", func(t *testing.T) {
		resp := decode[navigateResult](t, do(t, srv, http.MethodPost, "/api/navigate", `{"href":"../missing.md"}`))
		if resp.Action != string(navigator.ActionNotFound) || resp.Path != "missing.md" || resp.Error == "" {
			t.Fatalf("unexpected outcome %+v", resp)
		}
	})

	t.Run("anchor resolves", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/api/anchor", `{"hash":"#Setup","smooth":false}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if got := decode[map[string]string](t, rec)["id"]; got != "setup" {
			t.Fatalf("expected id setup, got %q", got)
		}
		if rec := do(t, srv, http.MethodPost, "/api/anchor", `{"hash":"#zzz"}`); rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("preview hydrates diagrams and rasterises them", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/api/preview", "{\"content\":\"# Chart\\n\\n```mermaid\\ngraph TD\\n```\\n\"}")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		snap := decode[snapshotResponse](t, rec)
		if len(snap.Diagrams) != 1 {
			t.Fatalf("expected one diagram, got %+v", snap.Diagrams)
		}
		srv.pipeline.Wait()

		png := do(t, srv, http.MethodGet, "/api/diagrams/"+snap.Diagrams[0].ID+"/png?scale=1", "")
		if png.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", png.Code, png.Body.String())
		}
		if ct := png.Header().Get("Content-Type"); ct != "image/png" {
			t.Fatalf("unexpected content type %q", ct)
		}
		if rec := do(t, srv, http.MethodGet, "/api/diagrams/unknown/png", ""); rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		if rec := do(t, srv, http.MethodGet, "/api/diagrams/"+snap.Diagrams[0].ID+"/png?scale=-1", ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("save writes the current file", func(t *testing.T) {
		if rec := do(t, srv, http.MethodPut, "/api/file", ""); rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
		}
		data, err := os.ReadFile(filepath.Join(srv.root, "guides", "start.md"))
		if err != nil {
			t.Fatalf("read saved file: %v", err)
		}
		if !strings.Contains(string(data), "```mermaid") {
			t.Fatalf("unexpected saved content %q", data)
		}
	})

	t.Run("input is accepted", func(t *testing.T) {
		if rec := do(t, srv, http.MethodPost, "/api/input", `{"content":"# typing"}`); rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}
		if rec := do(t, srv, http.MethodPost, "/api/input", `{"text":"wrong field"}`); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("index page", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := rec.Body.String()
		for _, want := range []string{`id="editor"`, `data-tree-path="index.md"`, `/theme/highlight.css`} {
			if !strings.Contains(body, want) {
				t.Fatalf("expected %q in page", want)
			}
		}
	})

	t.Run("close folder", func(t *testing.T) {
		if rec := do(t, srv, http.MethodDelete, "/api/folder", ""); rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
		if rec := do(t, srv, http.MethodGet, "/api/tree", ""); rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		resp := decode[navigateResult](t, do(t, srv, http.MethodPost, "/api/navigate", `{"href":"index.md"}`))
		if resp.Action != string(navigator.ActionNoFolder) {
			t.Fatalf("unexpected outcome %+v", resp)
		}
		if rec := do(t, srv, http.MethodGet, "/media/img/logo.svg", ""); rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 without folder, got %d", rec.Code)
		}
		if rec := do(t, srv, http.MethodPut, "/api/file", ""); rec.Code != http.StatusConflict {
			t.Fatalf("expected 409 without document, got %d", rec.Code)
		}
	})
}

func TestOpenFolderErrors(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	if rec := do(t, srv, http.MethodPost, "/api/folder", `{"path":""}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	missing := filepath.Join(srv.root, "does-not-exist")
	if rec := do(t, srv, http.MethodPost, "/api/folder", `{"path":"`+filepath.ToSlash(missing)+`"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	rec := do(t, srv, http.MethodPost, "/api/folder", `{"path":"`+filepath.ToSlash(filepath.Join(srv.root, "guides"))+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decode[treeResponse](t, rec); len(resp.Root.Children) != 1 {
		t.Fatalf("expected one file in guides, got %+v", resp.Root.Children)
	}
}

func TestHighlightCSS(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/theme/highlight.css", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), ".chroma") {
		t.Fatalf("expected chroma rules, got %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/css") {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestStaticAssets(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	for _, p := range []string{"/static/js/app.js", "/static/css/app.css"} {
		if rec := do(t, srv, http.MethodGet, p, ""); rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", p, rec.Code)
		}
	}
}

func TestEventsStream(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": ready") {
		t.Fatalf("expected ready comment, got %q (%v)", line, err)
	}

	srv.bus.Publish(notify.Event{Kind: notify.KindSaved, Context: map[string]string{"path": "index.md"}})

	var event, data string
	for event == "" || data == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	if event != string(notify.KindSaved) {
		t.Fatalf("unexpected event %q", event)
	}
	var evt notify.Event
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Context["path"] != "index.md" {
		t.Fatalf("unexpected event payload %+v", evt)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()
	h := chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }), recoveryMiddleware)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
