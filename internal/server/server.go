// Package server exposes the explorer views over HTTP.
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/cugtyt/kg-explorer/internal/eventbus"
	"github.com/cugtyt/kg-explorer/internal/export"
	"github.com/cugtyt/kg-explorer/internal/service"
	"github.com/cugtyt/kg-explorer/internal/views"
)

const (
	maxUploadMemory = 10 << 20
	healthTimeout   = 3 * time.Second
)

type Workspace interface {
	SetInput(text string)
	LoadFile(name string, r io.Reader) error
	Clear()
	Generate() (*service.Request, error)
	ViewSchema() (*service.Request, error)
	CloseSchema()
	SelectNode(id string) bool
	ToggleDetails() bool
	Snapshot() views.WorkspaceState
}

type Chat interface {
	Submit(query string) (*service.Request, error)
	ClearChat() (*service.Request, error)
	DismissError()
	Snapshot() views.ChatState
}

// HealthCheck reports a dependency as unhealthy by returning an error.
type HealthCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check HealthCheck
}

type Server struct {
	workspace Workspace
	chat      Chat
	bus       eventbus.EventBus
	gatherer  prometheus.Gatherer
	checks    []namedCheck
	logger    logrus.FieldLogger
	now       func() time.Time
	router    *mux.Router
}

type Option func(*Server)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer serves the given registry on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithHealthCheck adds a dependency to /health. Checks run in the order
// they were added.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		s.checks = append(s.checks, namedCheck{name: name, check: check})
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func New(workspace Workspace, chat Chat, bus eventbus.EventBus, opts ...Option) *Server {
	s := &Server{
		workspace: workspace,
		chat:      chat,
		bus:       bus,
		gatherer:  prometheus.DefaultGatherer,
		logger:    logrus.StandardLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/workspace", s.handleWorkspaceGet).Methods(http.MethodGet)
	api.HandleFunc("/workspace/input", s.handleWorkspaceInput).Methods(http.MethodPut)
	api.HandleFunc("/workspace/upload", s.handleWorkspaceUpload).Methods(http.MethodPost)
	api.HandleFunc("/workspace/clear", s.handleWorkspaceClear).Methods(http.MethodPost)
	api.HandleFunc("/workspace/generate", s.handleWorkspaceGenerate).Methods(http.MethodPost)
	api.HandleFunc("/workspace/nodes/{id}/select", s.handleNodeSelect).Methods(http.MethodPost)
	api.HandleFunc("/workspace/details", s.handleDetailsToggle).Methods(http.MethodPost)
	api.HandleFunc("/workspace/schema", s.handleSchemaOpen).Methods(http.MethodPost)
	api.HandleFunc("/workspace/schema", s.handleSchemaClose).Methods(http.MethodDelete)

	api.HandleFunc("/chat", s.handleChatGet).Methods(http.MethodGet)
	api.HandleFunc("/chat", s.handleChatSubmit).Methods(http.MethodPost)
	api.HandleFunc("/chat", s.handleChatClear).Methods(http.MethodDelete)
	api.HandleFunc("/chat/error", s.handleChatDismissError).Methods(http.MethodDelete)

	api.HandleFunc("/export/graph", s.handleExportGraph).Methods(http.MethodGet)
	api.HandleFunc("/export/triples", s.handleExportTriples).Methods(http.MethodGet)

	r.HandleFunc("/events", s.handleEventStream).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": s.now().Sub(start),
		}).Debug("HTTP request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	var failed []string
	for _, c := range s.checks {
		if err := c.check(ctx); err != nil {
			s.logger.WithField("check", c.name).Warnf("Health check failed: %v", err)
			failed = append(failed, fmt.Sprintf("%s: %v", c.name, err))
		}
	}
	if len(failed) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(strings.Join(failed, "\n")))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleWorkspaceGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.workspace.Snapshot())
}

func (s *Server) handleWorkspaceInput(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	s.workspace.SetInput(payload.Text)
	writeJSON(w, http.StatusOK, s.workspace.Snapshot())
}

func (s *Server) handleWorkspaceUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if err := s.workspace.LoadFile(header.Filename, file); err != nil {
		s.writeViewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.workspace.Snapshot())
}

func (s *Server) handleWorkspaceClear(w http.ResponseWriter, r *http.Request) {
	s.workspace.Clear()
	writeJSON(w, http.StatusOK, s.workspace.Snapshot())
}

func (s *Server) handleWorkspaceGenerate(w http.ResponseWriter, r *http.Request) {
	req, err := s.workspace.Generate()
	if err != nil {
		s.writeViewError(w, err)
		return
	}
	writeAccepted(w, req)
}

func (s *Server) handleNodeSelect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.workspace.SelectNode(id) {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, s.workspace.Snapshot())
}

func (s *Server) handleDetailsToggle(w http.ResponseWriter, r *http.Request) {
	s.workspace.ToggleDetails()
	writeJSON(w, http.StatusOK, s.workspace.Snapshot())
}

func (s *Server) handleSchemaOpen(w http.ResponseWriter, r *http.Request) {
	req, err := s.workspace.ViewSchema()
	if err != nil {
		s.writeViewError(w, err)
		return
	}
	writeAccepted(w, req)
}

func (s *Server) handleSchemaClose(w http.ResponseWriter, r *http.Request) {
	s.workspace.CloseSchema()
	writeJSON(w, http.StatusOK, s.workspace.Snapshot())
}

func (s *Server) handleChatGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chat.Snapshot())
}

func (s *Server) handleChatSubmit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	req, err := s.chat.Submit(payload.Query)
	if err != nil {
		s.writeViewError(w, err)
		return
	}
	writeAccepted(w, req)
}

func (s *Server) handleChatClear(w http.ResponseWriter, r *http.Request) {
	req, err := s.chat.ClearChat()
	if err != nil {
		s.writeViewError(w, err)
		return
	}
	writeAccepted(w, req)
}

func (s *Server) handleChatDismissError(w http.ResponseWriter, r *http.Request) {
	s.chat.DismissError()
	writeJSON(w, http.StatusOK, s.chat.Snapshot())
}

func (s *Server) handleExportGraph(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := export.WriteGraphJSON(&buf, s.workspace.Snapshot().Graph); err != nil {
		s.writeExportError(w, err)
		return
	}
	writeAttachment(w, "application/json", export.GraphFileName(s.now()), buf.Bytes())
}

func (s *Server) handleExportTriples(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := export.WriteTriples(&buf, s.workspace.Snapshot().FactualTriples); err != nil {
		s.writeExportError(w, err)
		return
	}
	writeAttachment(w, "text/plain; charset=utf-8", export.TriplesFileName(s.now()), buf.Bytes())
}

func (s *Server) writeViewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, views.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, views.EmptyInputMessage)
	case errors.Is(err, views.ErrInvalidFileType):
		writeError(w, http.StatusUnsupportedMediaType, views.InvalidFileMessage)
	case errors.Is(err, views.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, views.FileTooLargeMessage)
	case errors.Is(err, views.ErrReadFile):
		writeError(w, http.StatusBadRequest, views.ReadFileMessage)
	case errors.Is(err, views.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, views.ErrNoGraph):
		writeError(w, http.StatusConflict, views.NoGraphMessage)
	case errors.Is(err, views.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, views.ErrNotMounted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Errorf("Unhandled view error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeExportError(w http.ResponseWriter, err error) {
	if errors.Is(err, export.ErrNothingToExport) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Errorf("Export failed: %v", err)
	writeError(w, http.StatusInternalServerError, "export failed")
}

func writeAccepted(w http.ResponseWriter, req *service.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": req.ID})
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
