// Package server provides the HTTP server for the mdview editor.
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/euforicio/mdview/internal/anchor"
	"github.com/euforicio/mdview/internal/config"
	"github.com/euforicio/mdview/internal/diagram"
	"github.com/euforicio/mdview/internal/editor"
	"github.com/euforicio/mdview/internal/navigator"
	"github.com/euforicio/mdview/internal/notify"
	"github.com/euforicio/mdview/internal/preview"
	"github.com/euforicio/mdview/internal/search"
	"github.com/euforicio/mdview/internal/workspace"
	"github.com/euforicio/mdview/static"
)

// Deps are the services the server exposes.
type Deps struct {
	Session  *editor.Session
	Pipeline *preview.Pipeline
	Bus      *notify.Bus
	// HighlightCSS writes the chroma stylesheet.
	HighlightCSS func(w io.Writer) error
}

// Server wraps the HTTP server and the editor session it drives.
type Server struct { //nolint:govet // field order favors logical grouping over padding optimizations
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger
	session    *editor.Session
	pipeline   *preview.Pipeline
	bus        *notify.Bus
	templates  *templateRenderer
	cfg        config.Config
	css        string
}

var (
	errPathRequired        = errors.New("path is required")
	errInvalidPathEncoding = errors.New("invalid path encoding")
)

// New constructs a Server and registers its routes.
func New(cfg config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	if deps.Session == nil || deps.Pipeline == nil || deps.Bus == nil {
		return nil, errors.New("server: session, pipeline and bus are required")
	}
	tmpl, err := newTemplateRenderer()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	var css strings.Builder
	if deps.HighlightCSS != nil {
		if err := deps.HighlightCSS(&css); err != nil {
			return nil, fmt.Errorf("generate highlight css: %w", err)
		}
	}

	s := &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger.With("component", "http"),
		session:   deps.Session,
		pipeline:  deps.Pipeline,
		bus:       deps.Bus,
		templates: tmpl,
		css:       css.String(),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	staticHandler := http.StripPrefix("/static/", http.FileServer(s.resolveStaticFS()))
	s.mux.Handle("GET /static/{path...}", staticHandler)
	s.mux.Handle("HEAD /static/{path...}", staticHandler)

	s.mux.HandleFunc("GET /media/{path...}", s.handleMedia)
	s.mux.HandleFunc("GET /theme/highlight.css", s.handleHighlightCSS)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /{$}", s.handleRoot)

	s.mux.HandleFunc("GET /api/editor", s.handleEditor)
	s.mux.HandleFunc("POST /api/preview", s.handlePreview)
	s.mux.HandleFunc("POST /api/input", s.handleInput)
	s.mux.HandleFunc("POST /api/folder", s.handleOpenFolder)
	s.mux.HandleFunc("DELETE /api/folder", s.handleCloseFolder)
	s.mux.HandleFunc("GET /api/tree", s.handleTree)
	s.mux.HandleFunc("GET /api/search", s.handleSearch)
	s.mux.HandleFunc("POST /api/open", s.handleOpen)
	s.mux.HandleFunc("POST /api/navigate", s.handleNavigate)
	s.mux.HandleFunc("POST /api/anchor", s.handleAnchor)
	s.mux.HandleFunc("PUT /api/file", s.handleSave)
	s.mux.HandleFunc("GET /api/diagrams/{id}/png", s.handleDiagramPNG)
	s.mux.HandleFunc("GET /events", s.handleEvents)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware,
		csrfMiddleware,
		gzipMiddleware,
		loggingMiddleware(s.logger, s.cfg.Verbose),
	)
}

func (s *Server) resolveStaticFS() http.FileSystem {
	dir := strings.TrimSpace(s.cfg.AssetsDir)
	if dir != "" {
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			s.logger.Debug("serving assets from filesystem", slog.String("dir", dir))
			return http.Dir(dir)
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("assets dir check failed", slog.String("dir", dir), slog.Any("err", err))
		}
	}
	s.logger.Debug("serving embedded assets")
	return static.HTTP()
}

// Start runs the HTTP server and optionally opens the browser. It blocks
// until ctx is cancelled or the server fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		_ = listener.Close()
		return fmt.Errorf("unexpected listener address type")
	}
	serverURL := fmt.Sprintf("http://localhost:%d", tcpAddr.Port)

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: /events streams for the life of the page.
	}

	errCh := make(chan error, 1)
	go func() {
		if _, err := fmt.Fprintf(os.Stdout, "mdview listening on %s\n", serverURL); err != nil {
			s.logger.Warn("failed to announce server address", slog.String("url", serverURL), slog.Any("err", err))
		}
		errCh <- s.httpServer.Serve(listener)
	}()

	if s.cfg.AutoOpen {
		go s.openBrowserWhenReady(ctx, serverURL)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.ErrorContext(ctx, "graceful shutdown failed", slog.Any("err", err))
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := s.session.State()
	data := pageViewData{
		State: st,
		HTML:  template.HTML(st.HTML), //nolint:gosec // sanitised by the preview pipeline
	}
	if s.session.Folder() != nil {
		tree, err := s.session.Tree(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "load folder tree failed", slog.Any("err", err))
		} else {
			data.Tree = tree
		}
	}
	s.renderTemplate(w, "index", data)
}

func (s *Server) renderTemplate(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.render(w, name, data); err != nil {
		s.logger.Error("render template failed", slog.String("template", name), slog.Any("err", err))
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}

func (s *Server) handleEditor(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.session.State())
}

type contentRequest struct {
	Content string `json:"content"`
}

type snapshotResponse struct {
	Error    string                `json:"error,omitempty"`
	HTML     string                `json:"html"`
	Slugs    []string              `json:"slugs"`
	Diagrams []preview.Placeholder `json:"diagrams,omitempty"`
	Epoch    uint64                `json:"epoch"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	snap := s.session.Preview(r.Context(), req.Content)
	resp := snapshotResponse{HTML: snap.HTML, Slugs: snap.Slugs, Diagrams: snap.Diagrams, Epoch: snap.Epoch}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	s.session.Input(req.Content)
	w.WriteHeader(http.StatusAccepted)
}

type pathRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleOpenFolder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse(errPathRequired.Error()))
		return
	}
	if err := s.session.OpenFolder(ctx, req.Path); err != nil {
		s.logger.WarnContext(ctx, "open folder failed", slog.String("path", req.Path), slog.Any("err", err))
		s.respondError(w, err)
		return
	}
	s.handleTree(w, r)
}

func (s *Server) handleCloseFolder(w http.ResponseWriter, _ *http.Request) {
	s.session.CloseFolder()
	w.WriteHeader(http.StatusNoContent)
}

type treeResponse struct {
	GeneratedAt time.Time       `json:"generatedAt"`
	Root        *workspace.Node `json:"root"`
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	root, err := s.session.Tree(ctx)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, treeResponse{GeneratedAt: time.Now().UTC(), Root: root})
}

type searchResponse struct {
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	folder := s.session.Folder()
	if folder == nil {
		s.respondError(w, navigator.ErrNoFolder)
		return
	}
	q := r.URL.Query()
	opts := search.Options{
		CaseSensitive: q.Get("case") == "true",
		Limit:         200,
		Walk: workspace.WalkOptions{OnError: func(p string, err error) {
			s.logger.DebugContext(ctx, "search skipped path", slog.String("path", p), slog.Any("err", err))
		}},
	}
	if raw := q.Get("context"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 10 {
			respondJSON(w, http.StatusBadRequest, errorResponse("invalid context"))
			return
		}
		opts.Context = n
	}
	if raw := q.Get("exclude"); raw != "" {
		opts.ExcludeGlobs = strings.Split(raw, ",")
	}

	results, err := search.Search(ctx, folder.Root(), q.Get("q"), opts)
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			respondJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		s.respondError(w, err)
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	respondJSON(w, http.StatusOK, searchResponse{Query: q.Get("q"), Results: results})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse(errPathRequired.Error()))
		return
	}
	if _, err := s.session.OpenFile(ctx, req.Path); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.session.State())
}

type navigateRequest struct {
	Href string `json:"href"`
}

type navigateResponse struct {
	State *editor.State `json:"state,omitempty"`
	navigator.Outcome
	Error string `json:"error,omitempty"`
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	out := s.session.ClickLink(r.Context(), req.Href)
	resp := navigateResponse{Outcome: out}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	if out.Action == navigator.ActionOpened {
		st := s.session.State()
		resp.State = &st
	}
	respondJSON(w, http.StatusOK, resp)
}

type anchorRequest struct {
	Hash   string `json:"hash"`
	Smooth bool   `json:"smooth"`
}

func (s *Server) handleAnchor(w http.ResponseWriter, r *http.Request) {
	var req anchorRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	id, err := s.session.GoToAnchor(r.Context(), req.Hash, req.Smooth)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.session.Save(ctx); err != nil {
		s.logger.WarnContext(ctx, "save failed", slog.Any("err", err))
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiagramPNG(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	svg, ok := s.pipeline.SVG(id)
	if !ok {
		respondJSON(w, http.StatusNotFound, errorResponse("diagram not found"))
		return
	}
	scale := 2.0
	if raw := r.URL.Query().Get("scale"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v > 8 {
			respondJSON(w, http.StatusBadRequest, errorResponse("invalid scale"))
			return
		}
		scale = v
	}
	png, err := diagram.Rasterize([]byte(svg), scale)
	if err != nil {
		s.logger.WarnContext(r.Context(), "rasterize diagram failed", slog.String("id", id), slog.Any("err", err))
		respondJSON(w, http.StatusUnprocessableEntity, errorResponse(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", id+".png"))
	_, _ = w.Write(png)
}

func (s *Server) handleHighlightCSS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write([]byte(s.css))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := s.bus.Subscribe(ctx)

	if _, err := w.Write([]byte(": ready\n\n")); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := encodeJSON(evt)
			if err != nil {
				s.logger.WarnContext(ctx, "encode sse event failed", slog.Any("err", err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	folder := s.session.Folder()
	if folder == nil {
		http.Error(w, "No folder open", http.StatusNotFound)
		return
	}

	rawPath, err := parseWildcardPath(r.PathValue("path"))
	if err != nil {
		s.respondPathError(w, err)
		return
	}
	cleanPath := path.Clean("/" + rawPath)
	if strings.Contains(rawPath, "..") {
		s.logger.WarnContext(ctx, "invalid media path attempted", slog.String("path", rawPath))
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	f, err := folder.HTTP().Open(cleanPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		s.logger.WarnContext(ctx, "failed to open media file", slog.Any("err", err), slog.String("path", rawPath))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if info.IsDir() {
		http.Error(w, "Path is a directory", http.StatusBadRequest)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func parseWildcardPath(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errPathRequired
	}
	decoded, err := url.PathUnescape(trimmed)
	if err != nil {
		return "", errInvalidPathEncoding
	}
	p := strings.TrimSpace(decoded)
	if p == "" {
		return "", errPathRequired
	}
	return p, nil
}

func (s *Server) respondPathError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errPathRequired):
		respondJSON(w, http.StatusBadRequest, errorResponse("path is required"))
	case errors.Is(err, errInvalidPathEncoding):
		respondJSON(w, http.StatusBadRequest, errorResponse("invalid path encoding"))
	default:
		respondJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
	}
}

// respondError maps domain errors to status codes.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, navigator.ErrNoFolder), errors.Is(err, navigator.ErrNoCurrentFile), errors.Is(err, editor.ErrNoDocument):
		status = http.StatusConflict
	case errors.Is(err, navigator.ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, anchor.ErrNoTarget):
		status = http.StatusNotFound
	case errors.Is(err, fs.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, workspace.ErrNotMarkdown):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		status = http.StatusRequestTimeout
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", slog.Any("err", err))
	}
	respondJSON(w, status, errorResponse(err.Error()))
}

func errorResponse(message string) map[string]string {
	return map[string]string{"error": message}
}

func (s *Server) openBrowserWhenReady(ctx context.Context, url string) {
	timer := time.NewTimer(300 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		if err := openBrowser(ctx, url); err != nil {
			s.logger.WarnContext(ctx, "auto-open failed", slog.String("url", url), slog.Any("err", err))
		}
	}
}

func openBrowser(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	}
	return cmd.Start()
}
