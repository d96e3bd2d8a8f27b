// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/auth"
	"github.com/filedepot/filedepot/internal/files"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metadata"
	"github.com/filedepot/filedepot/internal/metrics"
)

// LivenessReporter exposes the session store's observed connectivity.
type LivenessReporter interface {
	IsAlive() bool
}

// StatsSource exposes the metadata store's health and counters.
type StatsSource interface {
	Ping(ctx context.Context) bool
	CountUsers(ctx context.Context) (int64, error)
	CountFiles(ctx context.Context) (int64, error)
}

// WelcomeDispatcher enqueues the welcome job for new users.
type WelcomeDispatcher interface {
	EnqueueWelcome(ctx context.Context, userID string) error
}

// Server is the HTTP server.
type Server struct {
	manager  *files.Manager
	gateway  *auth.Gateway
	sessions LivenessReporter
	meta     StatsSource
	jobs     WelcomeDispatcher
}

// NewServer creates a new server around the injected services.
func NewServer(manager *files.Manager, gateway *auth.Gateway, sessions LivenessReporter, meta StatsSource, jobs WelcomeDispatcher) *Server {
	return &Server{
		manager:  manager,
		gateway:  gateway,
		sessions: sessions,
		meta:     meta,
		jobs:     jobs,
	}
}

// Handler returns the HTTP handler with metrics and logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /connect", s.handleConnect)
	mux.HandleFunc("GET /disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /users", s.handleCreateUser)

	// Content reads allow anonymous access to public files.
	mux.HandleFunc("GET /files/{id}/data", s.handleFileData)

	// Token-scoped endpoints
	mux.HandleFunc("GET /users/me", s.requireToken(s.handleMe))
	mux.HandleFunc("POST /files", s.requireToken(s.handleCreateFile))
	mux.HandleFunc("GET /files", s.requireToken(s.handleListFiles))
	mux.HandleFunc("GET /files/{id}", s.requireToken(s.handleGetFile))
	mux.HandleFunc("PUT /files/{id}/publish", s.requireToken(s.handlePublish))
	mux.HandleFunc("PUT /files/{id}/unpublish", s.requireToken(s.handleUnpublish))

	// Everything else
	mux.HandleFunc("/", s.handleUnknownRoute)

	return metrics.Middleware(logging.Middleware(mux))
}

// requireToken resolves the X-Token header to a principal before calling
// the wrapped handler.
func (s *Server) requireToken(next func(http.ResponseWriter, *http.Request, *metadata.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.gateway.UserFromToken(r.Context(), r.Header.Get("X-Token"))
		if errors.Is(err, auth.ErrUnauthorized) {
			s.sendError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if err != nil {
			s.sendServerError(w, r, err)
			return
		}
		next(w, r, user)
	}
}

// ─── App ────────────────────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]bool{
		"redis": s.sessions.IsAlive(),
		"db":    s.meta.Ping(r.Context()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	users, err := s.meta.CountUsers(r.Context())
	if err != nil {
		s.sendServerError(w, r, err)
		return
	}
	fileCount, err := s.meta.CountFiles(r.Context())
	if err != nil {
		s.sendServerError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]int64{"users": users, "files": fileCount})
}

// ─── Auth ───────────────────────────────────────────────────────────────────

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	email, password, ok := r.BasicAuth()
	if !ok {
		s.sendError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	token, err := s.gateway.Connect(r.Context(), email, password)
	if errors.Is(err, auth.ErrUnauthorized) {
		s.sendError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err != nil {
		s.sendServerError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	err := s.gateway.Disconnect(r.Context(), r.Header.Get("X-Token"))
	if errors.Is(err, auth.ErrUnauthorized) {
		s.sendError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err != nil {
		s.sendServerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Users ──────────────────────────────────────────────────────────────────

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	if body.Email == "" {
		s.sendError(w, http.StatusBadRequest, "Missing email")
		return
	}
	if body.Password == "" {
		s.sendError(w, http.StatusBadRequest, "Missing password")
		return
	}

	id, err := s.gateway.Register(r.Context(), body.Email, body.Password)
	if errors.Is(err, auth.ErrEmailExists) {
		s.sendError(w, http.StatusBadRequest, "Already exist")
		return
	}
	if err != nil {
		s.sendServerError(w, r, err)
		return
	}

	go func() {
		if err := s.jobs.EnqueueWelcome(context.Background(), id); err != nil {
			logging.Warn("welcome job handoff failed")
		}
	}()

	s.sendJSON(w, http.StatusCreated, map[string]string{"email": body.Email, "id": id})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user *metadata.User) {
	s.sendJSON(w, http.StatusOK, map[string]string{
		"email": user.Email,
		"id":    user.ID.Hex(),
	})
}

// ─── Files ──────────────────────────────────────────────────────────────────

func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request, user *metadata.User) {
	var body struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		ParentID any    `json:"parentId"`
		IsPublic bool   `json:"isPublic"`
		Data     string `json:"data"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	record, err := s.manager.Create(r.Context(), user.ID.Hex(), files.CreateParams{
		Name:     body.Name,
		Type:     body.Type,
		ParentID: body.ParentID,
		IsPublic: body.IsPublic,
		Data:     body.Data,
	})
	if err != nil {
		s.sendManagerError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, record)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request, user *metadata.User) {
	record, err := s.manager.Get(r.Context(), user.ID.Hex(), r.PathValue("id"))
	if err != nil {
		s.sendManagerError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, record)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request, user *metadata.User) {
	parentID := r.URL.Query().Get("parentId")

	page := 0
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}

	records, err := s.manager.List(r.Context(), user.ID.Hex(), parentID, page)
	if err != nil {
		s.sendServerError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, records)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request, user *metadata.User) {
	s.setVisibility(w, r, user, true)
}

func (s *Server) handleUnpublish(w http.ResponseWriter, r *http.Request, user *metadata.User) {
	s.setVisibility(w, r, user, false)
}

func (s *Server) setVisibility(w http.ResponseWriter, r *http.Request, user *metadata.User, public bool) {
	record, err := s.manager.SetVisibility(r.Context(), user.ID.Hex(), r.PathValue("id"), public)
	if err != nil {
		s.sendManagerError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, record)
}

func (s *Server) handleFileData(w http.ResponseWriter, r *http.Request) {
	user, err := s.gateway.OptionalUserFromToken(r.Context(), r.Header.Get("X-Token"))
	if err != nil {
		s.sendServerError(w, r, err)
		return
	}
	requesterID := ""
	if user != nil {
		requesterID = user.ID.Hex()
	}

	path, contentType, err := s.manager.ReadContent(r.Context(), requesterID, r.PathValue("id"), r.URL.Query().Get("size"))
	if err != nil {
		metrics.RecordDownload("error")
		s.sendManagerError(w, r, err)
		return
	}

	metrics.RecordDownload("ok")
	w.Header().Set("Content-Type", contentType)
	http.ServeFile(w, r, path)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Server) handleUnknownRoute(w http.ResponseWriter, r *http.Request) {
	s.sendError(w, http.StatusNotFound, fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path))
}

// sendManagerError maps manager errors onto the wire taxonomy: validation
// and domain conflicts are 400 with their exact message, not-found (in all
// its deliberately conflated causes) is 404, anything else is a 500.
func (s *Server) sendManagerError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *files.ValidationError
	switch {
	case errors.As(err, &verr):
		s.sendError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, files.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "Not found")
	default:
		s.sendServerError(w, r, err)
	}
}

func (s *Server) sendServerError(w http.ResponseWriter, r *http.Request, err error) {
	logging.WithContext(r.Context()).Error("request failed", zap.Error(err))
	s.sendError(w, http.StatusInternalServerError, "Internal server error")
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, map[string]string{"error": message})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
