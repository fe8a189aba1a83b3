// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/fruitsalade/filebox/internal/events"
	"github.com/fruitsalade/filebox/internal/logging"
	"github.com/fruitsalade/filebox/internal/metrics"
	"github.com/fruitsalade/filebox/internal/notes"
	"github.com/fruitsalade/filebox/internal/process"
	"github.com/fruitsalade/filebox/internal/storage"
)

// Version is reported by /health.
const Version = "1.0"

// maxJSONBody caps code block request bodies.
const maxJSONBody = 1 << 20

// Deps bundles what the server serves.
type Deps struct {
	Files       *storage.Store
	Notes       *notes.Store
	Processors  *process.Registry
	Broadcaster *events.Broadcaster

	// Webapp holds index.html and static/. Nil disables the front end.
	Webapp fs.FS

	MaxUploadSize int64 // 0 = unlimited
	CORSOrigins   []string
}

// Server is the HTTP server.
type Server struct {
	files         *storage.Store
	notes         *notes.Store
	processors    *process.Registry
	broadcaster   *events.Broadcaster
	webapp        fs.FS
	maxUploadSize int64
	corsOrigins   []string
}

// NewServer creates a new server.
func NewServer(d Deps) *Server {
	s := &Server{
		files:         d.Files,
		notes:         d.Notes,
		processors:    d.Processors,
		broadcaster:   d.Broadcaster,
		webapp:        d.Webapp,
		maxUploadSize: d.MaxUploadSize,
		corsOrigins:   d.CORSOrigins,
	}
	if s.processors == nil {
		s.processors = process.Default()
	}
	if s.broadcaster == nil {
		s.broadcaster = events.NewBroadcaster()
	}
	if len(s.corsOrigins) == 0 {
		s.corsOrigins = []string{"*"}
	}
	return s
}

// Handler returns the HTTP handler with CORS and logging middleware.
// Requests are counted per route pattern.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, metrics.Instrument(pattern, h))
	}

	handle("GET /health", s.handleHealth)
	handle("GET /events/", s.handleEvents)

	// Web app
	if s.webapp != nil {
		handle("GET /{$}", s.handleIndex)
		static := http.FileServer(http.FS(s.webapp))
		mux.Handle("GET /static/", metrics.Instrument("GET /static/", static))
	}

	// File tree
	handle("POST /create-folder/", s.handleCreateFolder)
	handle("POST /delete-item/", s.handleDeleteItem)
	handle("GET /get-content/{path...}", s.handleGetContent)
	handle("POST /st/", s.handleSaveText)
	handle("GET /tfs/", s.handleTextFiles)
	handle("GET /gtf/{path...}", s.handleGetTextFile)
	handle("GET /get-file/{path...}", s.handleGetFile)
	handle("POST /save-file/{path...}", s.handleSaveFile)
	handle("POST /rename-item/", s.handleRenameItem)
	handle("POST /move-item/", s.handleMoveItem)
	handle("POST /upload/", s.handleUpload)
	handle("GET /files/", s.handleListFiles)
	handle("GET /download/{path...}", s.handleDownload)
	handle("GET /preview/{path...}", s.handlePreview)

	// Code blocks
	handle("GET /code-blocks/", s.handleListBlocks)
	handle("POST /save-code-block/", s.handleCreateBlock)
	handle("GET /get-code-block/{id}", s.handleGetBlock)
	handle("PUT /update-code-block/{id}", s.handleUpdateBlock)
	handle("PATCH /update-block/{id}/{$}", s.handlePatchBlock)
	handle("PATCH /update-block/{id}", s.handlePatchBlock)
	handle("DELETE /delete-code-block/{id}", s.handleDeleteBlock)

	// Processors
	handle("GET /handlers/", s.handleListProcessors)
	handle("GET /process/{path...}", s.handleProcess)

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept", "X-Request-ID", "Last-Event-ID", "Range"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
	})
	return c.Handler(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

// ─── Web app ────────────────────────────────────────────────────────────────

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(s.webapp, "index.html")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("read index.html: %w", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// A client that has seen the 200 is already subscribed.
	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				logging.WithContext(ctx).Warn("marshal event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, ErrorResponse{Message: message, Code: code})
}

// pathParam returns the wildcard tail of the request path after prefix,
// percent-decoded segment by segment.
func pathParam(r *http.Request, prefix string) (string, error) {
	raw := strings.TrimPrefix(r.URL.EscapedPath(), prefix)
	return storage.DecodePath(raw)
}
