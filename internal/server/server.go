package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Dhanuzh/polychat/internal/config"
	"github.com/Dhanuzh/polychat/internal/dispatch"
	"github.com/Dhanuzh/polychat/internal/provider"
	"github.com/Dhanuzh/polychat/internal/session"
)

// DefaultSessionID is used by /chat requests that do not name a session.
const DefaultSessionID = "default"

// Version is reported by /health.
var Version = "dev"

// Server is the HTTP API server
type Server struct {
	config      *config.Config
	registry    *provider.Registry
	coordinator *dispatch.Coordinator
	selection   *dispatch.Selection
	store       *session.Store
	mux         *http.ServeMux
	server      *http.Server
	upgrader    websocket.Upgrader

	clients   map[*wsClient]bool
	clientsMu sync.RWMutex
}

// New creates a new API server
func New(cfg *config.Config, registry *provider.Registry, coordinator *dispatch.Coordinator, selection *dispatch.Selection, store *session.Store) *Server {
	s := &Server{
		config:      cfg,
		registry:    registry,
		coordinator: coordinator,
		selection:   selection,
		store:       store,
		mux:         http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*wsClient]bool),
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	s.registerRoutes()
	return s
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.ServerAddr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("polychat API server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.clientsMu.Lock()
	for c := range s.clients {
		c.cancel()
	}
	s.clientsMu.Unlock()

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Models
	s.mux.HandleFunc("GET /models", s.handleListModels)
	s.mux.HandleFunc("PUT /models/{id...}", s.handleSetEnabled)

	// Grid
	s.mux.HandleFunc("POST /fanout", s.handleFanOut)

	// Focused chat
	s.mux.HandleFunc("GET /chat", s.handleGetChat)
	s.mux.HandleFunc("PUT /chat/model", s.handleSelectModel)
	s.mux.HandleFunc("POST /chat/messages", s.handleChatMessage)
	s.mux.HandleFunc("GET /chat/export", s.handleExportChat)
	s.mux.HandleFunc("DELETE /chat", s.handleResetChat)

	// WebSocket console
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// CORS middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Session-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowedOrigin returns the value for Access-Control-Allow-Origin. With no
// server.cors list configured every origin is allowed.
func (s *Server) allowedOrigin(origin string) string {
	if len(s.config.Server.CORS) == 0 {
		return "*"
	}
	for _, o := range s.config.Server.CORS {
		if o == "*" || strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.allowedOrigin(origin) != ""
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clients := len(s.clients)
	s.clientsMu.RUnlock()

	statuses := s.store.StatusManager()
	busy := 0
	all := statuses.List()
	for id := range all {
		if statuses.IsBusy(id) {
			busy++
		}
	}

	writeJSON(w, map[string]any{
		"status":    "ok",
		"version":   Version,
		"models":    len(s.registry.ListChatModelIDs()),
		"ws_client": clients,
		"sessions":  len(all),
		"awaiting":  busy,
	})
}

type modelView struct {
	provider.ModelDescriptor
	Enabled bool `json:"enabled"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	var out []modelView
	for _, m := range s.registry.List() {
		if !m.Capabilities.Text {
			continue
		}
		out = append(out, modelView{ModelDescriptor: m, Enabled: s.selection.Enabled(m.ID)})
	}
	writeJSON(w, out)
}

// handleSetEnabled serves PUT /models/{id}/enabled. Model ids contain
// slashes, so the route captures the rest of the path.
func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	rest := r.PathValue("id")
	id, ok := strings.CutSuffix(rest, "/enabled")
	if !ok || id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if _, known := s.registry.GetModel(id); !known {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown model %q", id))
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.selection.SetEnabled(id, req.Enabled)
	writeJSON(w, map[string]any{"id": id, "enabled": req.Enabled})
}

type sendRequest struct {
	Message string   `json:"message"`
	Models  []string `json:"models,omitempty"`
}

// fanOutRequest builds the grid request; without explicit models every
// enabled chat model is targeted.
func (s *Server) fanOutRequest(message string, models []string) dispatch.DispatchRequest {
	if len(models) == 0 {
		models = s.selection.Filter(s.registry.ListChatModelIDs())
	}
	return dispatch.NewRequest(message, models)
}

func (s *Server) handleFanOut(w http.ResponseWriter, r *http.Request) {
	var body sendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req := s.fanOutRequest(body.Message, body.Models)
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stream, ok := newSSEStream(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	outcomes, err := s.coordinator.FanOut(r.Context(), req, dispatch.EventFunc(stream.send))
	if err != nil {
		stream.send(dispatch.Event{Kind: dispatch.EventNotice, Text: err.Error()})
	}
	stream.send(dispatch.Event{Kind: dispatch.EventDone, Text: summarize(outcomes)})
}

func summarize(outcomes []dispatch.Outcome) string {
	failed := 0
	for _, o := range outcomes {
		if o.Failed() {
			failed++
		}
	}
	return fmt.Sprintf("%d of %d models answered", len(outcomes)-failed, len(outcomes))
}

func (s *Server) chatSession(r *http.Request) *session.Session {
	id := r.Header.Get("X-Session-ID")
	if id == "" {
		id = r.URL.Query().Get("session")
	}
	if id == "" {
		id = DefaultSessionID
	}
	return s.store.GetOrCreate(id)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	sess := s.chatSession(r)
	writeJSON(w, map[string]any{
		"id":         sess.ID,
		"state":      sess.State(),
		"model":      sess.Model(),
		"turns":      len(sess.Turns()),
		"transcript": sess.Transcript(),
	})
}

func (s *Server) handleSelectModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sess := s.chatSession(r)
	if err := sess.SelectModel(req.Model); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, map[string]any{"id": sess.ID, "model": sess.Model(), "state": sess.State()})
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	var body sendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	stream, ok := newSSEStream(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	sess := s.chatSession(r)
	out, err := sess.Send(r.Context(), body.Message, dispatch.EventFunc(stream.send))
	if err != nil {
		// Nothing was streamed yet, so a plain JSON error still works.
		writeSessionError(w, err)
		return
	}
	stream.send(dispatch.Event{Kind: dispatch.EventDone, Model: out.ModelID, Text: string(out.State)})
}

func (s *Server) handleExportChat(w http.ResponseWriter, r *http.Request) {
	data, err := s.chatSession(r).Export()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleResetChat(w http.ResponseWriter, r *http.Request) {
	sess := s.chatSession(r)
	if err := sess.Reset(); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "reset"})
}

// Helper functions

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeSessionError(w http.ResponseWriter, err error) {
	var verr *dispatch.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// ─── Server-sent events ────────────────────────────────────────────────────────

// sseStream writes sink events as SSE. Headers go out with the first event,
// so a handler can still answer with a JSON error if nothing was sent.
type sseStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEStream(w http.ResponseWriter) (*sseStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseStream{w: w, flusher: flusher}, true
}

func (s *sseStream) send(ev dispatch.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal event")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.flusher.Flush()
}
