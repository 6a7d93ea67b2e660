// Package api implements the HTTP surface of the agent: session
// lifecycle, turn execution, transcription, and the live event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vaakya/vaakya/internal/buildinfo"
	"github.com/vaakya/vaakya/internal/capability"
	"github.com/vaakya/vaakya/internal/events"
	"github.com/vaakya/vaakya/internal/llm"
	"github.com/vaakya/vaakya/internal/session"
	"github.com/vaakya/vaakya/internal/speech"
	"github.com/vaakya/vaakya/internal/transcribe"
	"github.com/vaakya/vaakya/internal/transcript"
)

// maxAudioBytes caps transcription uploads.
const maxAudioBytes = 25 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address     string
	port        int
	sessions    *session.Manager
	registry    *capability.Registry
	backend     llm.Client
	store       *transcript.Store
	transcriber *transcribe.Client
	bus         *events.Bus
	logger      *slog.Logger
	server      *http.Server
}

// NewServer creates the API server. store and transcriber may be nil;
// their endpoints report service unavailable.
func NewServer(address string, port int, sessions *session.Manager, registry *capability.Registry, backend llm.Client, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  address,
		port:     port,
		sessions: sessions,
		registry: registry,
		backend:  backend,
		bus:      bus,
		logger:   logger,
	}
}

// SetTranscriptStore configures persistence for completed turns.
func (s *Server) SetTranscriptStore(store *transcript.Store) {
	s.store = store
}

// SetTranscriber configures the speech-to-text endpoint.
func (s *Server) SetTranscriber(c *transcribe.Client) {
	s.transcriber = c
}

// Handler builds the route table. Exposed separately from Start so
// tests can drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/sessions", s.handleSessionCreate)
	mux.HandleFunc("GET /v1/sessions", s.handleSessionList)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleSessionDelete)
	mux.HandleFunc("POST /v1/sessions/{id}/turns", s.handleTurn)
	mux.HandleFunc("GET /v1/sessions/{id}/events", s.handleEvents)

	mux.HandleFunc("POST /v1/transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /v1/capabilities", s.handleCapabilities)
	mux.HandleFunc("GET /v1/history/{id}", s.handleHistory)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Turns can run several model rounds.
		WriteTimeout: 300 * time.Second,
	}

	s.logger.Info("starting API server", "address", s.address, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Vaakya",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	backend := "ok"
	code := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.backend.Ping(ctx); err != nil {
		status = "degraded"
		backend = err.Error()
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{
		"status":  status,
		"backend": backend,
	}, s.logger)
}

// sessionSummary is the wire form of one live session.
type sessionSummary struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

func summarize(sess *session.Session) sessionSummary {
	return sessionSummary{
		ID:         sess.ID(),
		State:      string(sess.State()),
		CreatedAt:  sess.CreatedAt(),
		LastActive: sess.LastActive(),
	}
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	s.bus.Publish(events.Event{
		Source: events.SourceAPI,
		Kind:   events.KindSessionCreated,
		Data:   map[string]any{"session_id": sess.ID()},
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, summarize(sess), s.logger)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	ids := s.sessions.IDs()
	summaries := make([]sessionSummary, 0, len(ids))
	for _, id := range ids {
		if sess, ok := s.sessions.Get(id); ok {
			summaries = append(summaries, summarize(sess))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"sessions": summaries,
		"count":    len(summaries),
	}, s.logger)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session":    summarize(sess),
		"transcript": sess.Transcript(),
	}, s.logger)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.sessions.Remove(id) {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}
	s.bus.Publish(events.Event{
		Source: events.SourceAPI,
		Kind:   events.KindSessionRemoved,
		Data:   map[string]any{"session_id": id},
	})
	w.WriteHeader(http.StatusNoContent)
}

// turnRequest starts one user turn.
type turnRequest struct {
	Text string `json:"text"`
}

// turnResponse reports the outcome of a turn. Speakable is the
// TTS-ready rendition of Content.
type turnResponse struct {
	SessionID string              `json:"session_id"`
	Content   string              `json:"content"`
	Speakable string              `json:"speakable"`
	Results   []capability.Result `json:"results,omitempty"`
	Warnings  []string            `json:"warnings,omitempty"`
	Rounds    int                 `json:"rounds"`
	State     string              `json:"state"`
	Error     string              `json:"error,omitempty"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}

	text, err := s.turnText(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if text == "" {
		s.errorResponse(w, http.StatusBadRequest, "text is required")
		return
	}

	out := sess.Run(r.Context(), text)

	if s.store != nil {
		if err := s.store.RecordTurn(out); err != nil {
			s.logger.Error("transcript record failed", "session", out.SessionID, "error", err)
		}
	}

	resp := turnResponse{
		SessionID: out.SessionID,
		Content:   out.Content,
		Speakable: speech.Speakable(out.Content),
		Results:   out.Results,
		Warnings:  out.Warnings,
		Rounds:    out.Rounds,
		State:     string(out.State),
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	// An aborted turn still carries its partial content and results.
	if out.State == session.StateAborted {
		w.WriteHeader(http.StatusBadGateway)
	}
	writeJSON(w, resp, s.logger)
}

// turnText extracts the user text of a turn. JSON bodies carry it
// directly; multipart bodies carry an audio part that is transcribed
// first.
func (s *Server) turnText(r *http.Request) (string, error) {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/form-data") {
		var req turnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", fmt.Errorf("invalid request body")
		}
		return req.Text, nil
	}

	if !s.transcriber.Configured() {
		return "", fmt.Errorf("audio turns require a configured transcriber")
	}
	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		return "", fmt.Errorf("invalid multipart body")
	}
	f, hdr, err := r.FormFile("audio")
	if err != nil {
		return "", fmt.Errorf("audio part is required")
	}
	defer f.Close()

	audio, err := io.ReadAll(io.LimitReader(f, maxAudioBytes))
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}

	res, err := s.transcriber.Transcribe(r.Context(), audio, hdr.Filename, r.FormValue("language"))
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return res.Text, nil
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if !s.transcriber.Configured() {
		s.errorResponse(w, http.StatusServiceUnavailable, "transcription not configured")
		return
	}

	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	f, hdr, err := r.FormFile("audio")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "audio part is required")
		return
	}
	defer f.Close()

	audio, err := io.ReadAll(io.LimitReader(f, maxAudioBytes))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "read audio: "+err.Error())
		return
	}

	res, err := s.transcriber.Transcribe(r.Context(), audio, hdr.Filename, r.FormValue("language"))
	if err != nil {
		s.logger.Error("transcription failed", "error", err)
		s.errorResponse(w, http.StatusBadGateway, "transcription failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, res, s.logger)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"capabilities": s.registry.Specs(),
		"count":        len(s.registry.Names()),
	}, s.logger)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "transcript store not configured")
		return
	}

	id := r.PathValue("id")
	msgs, err := s.store.Messages(id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "query history: "+err.Error())
		return
	}
	if len(msgs) == 0 {
		s.errorResponse(w, http.StatusNotFound, "no history for session")
		return
	}

	results, err := s.store.Results(id, parseIntParam(r, "limit", 100))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "query results: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session_id": id,
		"messages":   msgs,
		"results":    results,
	}, s.logger)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"live_sessions": s.sessions.Len(),
		"build":         buildinfo.Info(),
	}
	if s.store != nil {
		stats["store"] = s.store.Stats()
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, stats, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
