package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/benaskins/devdeck/internal/command"
	"github.com/benaskins/devdeck/internal/desktop"
	"github.com/benaskins/devdeck/internal/events"
	"github.com/benaskins/devdeck/internal/manager"
	"github.com/benaskins/devdeck/internal/pkgmgr"
	"github.com/benaskins/devdeck/internal/project"
	"github.com/benaskins/devdeck/internal/workspace"
)

const (
	// eventBuffer is how many events a websocket client may fall behind
	// before further events are dropped for it.
	eventBuffer = 256
	writeWait   = 5 * time.Second
)

// Server serves the devdeck REST API over a Unix socket.
type Server struct {
	manager     *manager.Manager
	tasks       *pkgmgr.Runner
	bus         *events.Bus
	projectsDir string
	editor      string
	origins     map[string]bool
	listener    net.Listener
	server      *http.Server
	logger      *slog.Logger
	ctx         context.Context

	openBrowser  func(path string) error
	launchEditor func(editor, path string) error
	upgrader     websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithTasks enables the dependency and scaffolding endpoints.
func WithTasks(r *pkgmgr.Runner) Option {
	return func(s *Server) { s.tasks = r }
}

// WithEvents enables the websocket event stream.
func WithEvents(b *events.Bus) Option {
	return func(s *Server) { s.bus = b }
}

// WithProjectsDir sets the folder listed by /v1/workspace and used as the
// default location for new projects.
func WithProjectsDir(dir string) Option {
	return func(s *Server) { s.projectsDir = dir }
}

// WithAllowedOrigins sets the browser origins allowed to call the API.
// Requests carrying any other Origin header are refused.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		for _, o := range origins {
			s.origins[o] = true
		}
	}
}

// WithEditor sets the editor used when a request names none.
func WithEditor(editor string) Option {
	return func(s *Server) { s.editor = editor }
}

// NewServer creates an API server backed by the given manager. ctx bounds
// background work started by requests.
func NewServer(ctx context.Context, m *manager.Manager, opts ...Option) *Server {
	s := &Server{
		manager:      m,
		logger:       slog.With("component", "api"),
		ctx:          ctx,
		origins:      make(map[string]bool),
		openBrowser:  desktop.OpenFileBrowser,
		launchEditor: desktop.LaunchEditor,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader.CheckOrigin = func(r *http.Request) bool {
		return s.originAllowed(r.Header.Get("Origin"))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.health)
	mux.HandleFunc("GET /v1/projects", s.listProjects)
	mux.HandleFunc("POST /v1/projects/start", s.startProject)
	mux.HandleFunc("POST /v1/projects/{pid}/stop", s.stopProject)
	mux.HandleFunc("GET /v1/projects/{pid}/logs", s.projectLogs)
	mux.HandleFunc("GET /v1/detect", s.detect)
	mux.HandleFunc("GET /v1/workspace", s.listWorkspace)
	mux.HandleFunc("DELETE /v1/workspace", s.deleteProject)
	mux.HandleFunc("POST /v1/deps", s.deps)
	mux.HandleFunc("POST /v1/create", s.create)
	mux.HandleFunc("POST /v1/open", s.open)
	mux.HandleFunc("POST /v1/edit", s.edit)
	mux.HandleFunc("GET /v1/events", s.streamEvents)

	s.server = &http.Server{Handler: s.checkOrigin(mux)}
	return s
}

func (s *Server) originAllowed(origin string) bool {
	return origin == "" || s.origins[origin]
}

// checkOrigin refuses requests sent by web pages outside the allow-list.
func (s *Server) checkOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); !s.originAllowed(origin) {
			s.logger.Warn("request from disallowed origin", "origin", origin, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, errors.New("origin not allowed"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListenUnix starts the server on a Unix socket.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(ln)
}

// ListenTCP starts the server on a TCP address.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "addr", addr)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the API server. Event streams end when the
// server's context is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"projects": s.manager.Registry().Len(),
	})
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Processes())
}

// StartRequest is the body of POST /v1/projects/start.
type StartRequest struct {
	Dir string `json:"dir"`
}

// StartResponse reports the pid of a started project.
type StartResponse struct {
	PID int `json:"pid"`
}

func (s *Server) startProject(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Dir == "" {
		writeError(w, http.StatusBadRequest, errors.New("dir is required"))
		return
	}

	pid, err := s.manager.Start(r.Context(), req.Dir)
	if err != nil {
		writeError(w, startStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, StartResponse{PID: pid})
}

func startStatus(err error) int {
	var parseErr *command.ParseError
	switch {
	case errors.As(err, &parseErr),
		errors.Is(err, project.ErrUnsupportedFramework),
		errors.Is(err, project.ErrInvalidManifest):
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

func (s *Server) stopProject(w http.ResponseWriter, r *http.Request) {
	pid, ok := pathPID(w, r)
	if !ok {
		return
	}
	if err := s.manager.Stop(pid); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) projectLogs(w http.ResponseWriter, r *http.Request) {
	pid, ok := pathPID(w, r)
	if !ok {
		return
	}
	n := 100
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("n must be an integer"))
			return
		}
		n = parsed
	}

	lines, err := s.manager.Logs(pid, n)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, manager.ErrUnknownProcess) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func (s *Server) detect(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("dir")
	if dir == "" {
		writeError(w, http.StatusBadRequest, errors.New("dir is required"))
		return
	}
	info, err := project.Detect(dir)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) listWorkspace(w http.ResponseWriter, r *http.Request) {
	if s.projectsDir == "" {
		writeError(w, http.StatusNotFound, errors.New("no projects folder configured"))
		return
	}
	entries, err := workspace.List(s.projectsDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []workspace.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// PathRequest is the body of requests that act on a single path.
type PathRequest struct {
	Path   string `json:"path"`
	Editor string `json:"editor,omitempty"`
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !decode(w, r, &req) {
		return
	}
	if s.projectsDir == "" {
		writeError(w, http.StatusNotFound, errors.New("no projects folder configured"))
		return
	}
	if err := workspace.DeleteProject(s.projectsDir, req.Path); err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, workspace.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, workspace.ErrOutsideWorkspace):
			status = http.StatusForbidden
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) deps(w http.ResponseWriter, r *http.Request) {
	var task pkgmgr.Task
	if !decode(w, r, &task) {
		return
	}
	if task.Action == pkgmgr.Create {
		writeError(w, http.StatusBadRequest, errors.New("use /v1/create to scaffold projects"))
		return
	}
	if task.Runtime == "" {
		rt, err := project.DetectRuntime(task.Dir)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		task.Runtime = rt
	}
	s.runTask(w, task)
}

// CreateRequest is the body of POST /v1/create.
type CreateRequest struct {
	Runtime   project.Runtime `json:"runtime"`
	Framework string          `json:"framework"`
	Name      string          `json:"name"`
	Location  string          `json:"location,omitempty"`
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !decode(w, r, &req) {
		return
	}
	location := req.Location
	if location == "" {
		location = s.projectsDir
	}
	if location == "" {
		writeError(w, http.StatusBadRequest, errors.New("location is required"))
		return
	}
	s.runTask(w, pkgmgr.Task{
		Action:    pkgmgr.Create,
		Runtime:   req.Runtime,
		Dir:       location,
		Name:      req.Name,
		Framework: req.Framework,
	})
}

func (s *Server) runTask(w http.ResponseWriter, task pkgmgr.Task) {
	if s.tasks == nil {
		writeError(w, http.StatusNotImplemented, errors.New("package tasks are disabled"))
		return
	}
	if err := s.tasks.Go(s.ctx, task); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
}

func (s *Server) open(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, errors.New("path is required"))
		return
	}
	if err := s.openBrowser(req.Path); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "opened"})
}

func (s *Server) edit(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, errors.New("path is required"))
		return
	}
	editor := req.Editor
	if editor == "" {
		editor = s.editor
	}
	if err := s.launchEditor(editor, req.Path); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "launched"})
}

// streamEvents upgrades to a websocket and forwards bus events as JSON
// messages. ?pid= restricts the stream to one process.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusNotImplemented, errors.New("event stream is disabled"))
		return
	}
	var pid int
	if v := r.URL.Query().Get("pid"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("pid must be an integer"))
			return
		}
		pid = parsed
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := make(chan events.Event, eventBuffer)
	cancel := s.bus.Subscribe(func(ev events.Event) {
		if pid != 0 && ev.PID != pid {
			return
		}
		select {
		case ch <- ev:
		default:
		}
	})
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-s.ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon shutting down"),
				time.Now().Add(writeWait))
			return
		case ev := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("event stream closed", "error", err)
				return
			}
		}
	}
}

func pathPID(w http.ResponseWriter, r *http.Request) (int, bool) {
	pid, err := strconv.Atoi(r.PathValue("pid"))
	if err != nil || pid <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid pid"))
		return 0, false
	}
	return pid, true
}

// decode reads a JSON request body. Anything not sent as application/json is
// refused with 415.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		writeError(w, http.StatusUnsupportedMediaType, errors.New("content type must be application/json"))
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
