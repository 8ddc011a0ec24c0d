package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/answerhub/backend/internal/answer"
	"github.com/answerhub/backend/internal/config"
	"github.com/answerhub/backend/internal/eventlog"
	"github.com/answerhub/backend/internal/hub"
	"github.com/answerhub/backend/internal/presence"
	"github.com/answerhub/backend/internal/session"
	"github.com/answerhub/backend/internal/stats"
)

type Server struct {
	config         *config.Config
	store          *session.Store
	hub            *hub.Hub
	log            *eventlog.Log
	pipeline       *answer.Pipeline
	presence       *presence.Tracker
	collector      *stats.Collector
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

func NewServer(cfg *config.Config, store *session.Store, h *hub.Hub, l *eventlog.Log, pipeline *answer.Pipeline, tracker *presence.Tracker) *Server {
	s := &Server{
		config:         cfg,
		store:          store,
		hub:            h,
		log:            l,
		pipeline:       pipeline,
		presence:       tracker,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetStatsCollector configures the collector behind /api/stats. Must be
// called before SetupRoutes.
func (s *Server) SetStatsCollector(c *stats.Collector) {
	s.collector = c
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
	mux.HandleFunc("/api/stats", s.handleStats)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.handleCreateSession(w, r)
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.store.GetAll())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidMetadata)
		return
	}

	sess, err := s.store.Create(req.Metadata)
	if err != nil {
		if errors.Is(err, session.ErrInvalidMetadata) {
			writeError(w, http.StatusBadRequest, codeInvalidMetadata)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if len(req.History) > 0 {
		if err := s.pipeline.SeedHistory(sess.ID, req.History); err != nil {
			log.Printf("seed history for %s: %v", sess.ID, err)
		}
	}

	log.Printf("session %s created (%s)", sess.ID, sess.Metadata.MeetingType)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(createSessionResponse{SessionID: sess.ID})
}

// handleSessionRoutes dispatches /api/sessions/{id}[/op[/arg]].
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(path, "/", 3)

	sessionID, err := url.PathUnescape(parts[0])
	if err != nil || sessionID == "" {
		writeError(w, http.StatusBadRequest, codeMalformedEvent)
		return
	}

	if len(parts) == 1 {
		s.handleSession(w, r, sessionID)
		return
	}

	switch parts[1] {
	case "captions":
		s.handleCaptions(w, r, sessionID)
	case "answers":
		s.handleAnswers(w, r, sessionID)
	case "stream":
		s.handleStream(w, r, sessionID)
	case "participants":
		arg := ""
		if len(parts) == 3 {
			arg, err = url.PathUnescape(parts[2])
			if err != nil {
				writeError(w, http.StatusBadRequest, codeMalformedEvent)
				return
			}
		}
		s.handleParticipants(w, r, sessionID, arg)
	case "build-status":
		s.handleBuildStatus(w, r, sessionID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case http.MethodGet:
		sess, err := s.store.Get(sessionID)
		if err != nil {
			writeError(w, http.StatusNotFound, codeSessionNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sess)
	case http.MethodDelete:
		// Idempotent: ending an ended or unknown session is a no-op.
		if err := s.store.End(sessionID, "client request"); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCaptions(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req captionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeMalformedEvent)
		return
	}

	queued, err := s.pipeline.HandleCaption(r.Context(), sessionID, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, answer.ErrMalformed):
			writeError(w, http.StatusBadRequest, codeMalformedEvent)
		case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrEnded):
			writeError(w, http.StatusNotFound, codeSessionNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(captionResponse{Queued: queued})
}

func (s *Server) handleAnswers(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	answers, err := s.pipeline.Answers(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, codeSessionNotFound)
		return
	}
	if answers == nil {
		answers = []eventlog.AnswerPayload{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(answersResponse{Answers: answers})
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request, sessionID, participantID string) {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, codeSessionNotFound)
		return
	}
	// Presence writes on an ended session would land after session_ended,
	// where no subscriber could ever replay them.
	if r.Method != http.MethodGet && sess.IsEnded() {
		writeError(w, http.StatusNotFound, codeSessionNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		current, err := s.presence.Current(sessionID)
		if err != nil {
			writeError(w, http.StatusNotFound, codeSessionNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(participantsResponse{Participants: current})
	case http.MethodPost:
		var req participantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ParticipantID) == "" {
			writeError(w, http.StatusBadRequest, codeMalformedEvent)
			return
		}
		if err := s.presence.Join(sessionID, req.ParticipantID); err != nil {
			writeError(w, http.StatusNotFound, codeSessionNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if participantID == "" {
			writeError(w, http.StatusBadRequest, codeMalformedEvent)
			return
		}
		if err := s.presence.Leave(sessionID, participantID); err != nil {
			writeError(w, http.StatusNotFound, codeSessionNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleBuildStatus(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req buildStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Status) == "" {
		writeError(w, http.StatusBadRequest, codeMalformedEvent)
		return
	}

	sess, err := s.store.Get(sessionID)
	if err != nil || sess.IsEnded() {
		writeError(w, http.StatusNotFound, codeSessionNotFound)
		return
	}

	if _, err := s.log.Append(sessionID, eventlog.KindBuildStatus, eventlog.BuildStatusPayload{
		Status: req.Status,
		Target: req.Target,
		Detail: req.Detail,
	}); err != nil {
		writeError(w, http.StatusNotFound, codeSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if s.collector == nil {
		http.Error(w, "stats not available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.collector.Snapshot())
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: code})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-AnswerHub-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

// securityHeaders wraps a handler with the standard response headers for the
// API surface.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// Handler returns the fully wired root handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

func ListenAndServe(host string, port int, handler http.Handler) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, handler)
}
