// Package server exposes the knowledge-base over HTTP. The surface stays
// thin: decode, authenticate, call the service, encode one of the fixed
// client-facing error shapes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nousbase/nous/internal/auth"
	nouserr "github.com/nousbase/nous/internal/errors"
	"github.com/nousbase/nous/internal/service"
)

// Server handles the HTTP API.
type Server struct {
	svc      *service.Service
	verifier auth.Verifier
	logger   *slog.Logger
}

func New(svc *service.Service, verifier auth.Verifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, verifier: verifier, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/healthcheck", s.handleHealthcheck)
	mux.Handle("POST /api/save", s.authenticated(s.handleSave))
	mux.Handle("GET /api/search", s.authenticated(s.handleSearch))
	mux.Handle("GET /api/documents", s.authenticated(s.handleListDocuments))
	mux.Handle("DELETE /api/documents/{id}", s.authenticated(s.handleDeleteDocument))
	mux.Handle("POST /api/user", s.authenticated(s.handleCreateUser))
	mux.Handle("DELETE /api/user", s.authenticated(s.handleDeleteUser))
	return s.logRequests(mux)
}

type ctxKey int

const identityKey ctxKey = 0

func identityFrom(ctx context.Context) auth.Identity {
	id, _ := ctx.Value(identityKey).(auth.Identity)
	return id
}

// authenticated resolves the bearer token to an identity or rejects with 401.
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		identity, err := s.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, identity)
		next(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("took", time.Since(start)))
	})
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type saveRequest struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	identity := identityFrom(r.Context())
	_, err := s.svc.SavePage(r.Context(), identity.UserID, req.URL, req.Title, req.Content)
	if errors.Is(err, service.ErrAlreadySaved) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already saved"})
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	// Indexing continues in the background.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "saving"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	identity := identityFrom(r.Context())

	results, err := s.svc.Search(r.Context(), identity.UserID, query)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	identity := identityFrom(r.Context())
	docs, err := s.svc.ListSaved(r.Context(), identity.UserID, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if err := s.svc.DeleteDocument(r.Context(), identity.UserID, r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if err := s.svc.EnsureSchema(r.Context(), identity.UserID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if err := s.svc.DeleteUser(r.Context(), identity.UserID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// writeServiceError maps structured errors onto status codes and the small
// fixed message set. Internal causes are logged, never sent to clients.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var ne *nouserr.NousError
	if errors.As(err, &ne) {
		s.logger.Error("request_failed",
			slog.String("code", ne.Code),
			slog.String("error", ne.Error()))
		if nouserr.HasCode(err, nouserr.ErrCodeNotIndexedYet) {
			writeError(w, http.StatusNotFound, ne.Message)
			return
		}
		writeError(w, http.StatusInternalServerError, ne.Message)
		return
	}

	s.logger.Error("request_failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
