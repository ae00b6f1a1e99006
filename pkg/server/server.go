// Package server exposes the assistant over a small JSON API. Ambiguous
// references are answered with a selection token that the client resolves
// with a follow-up request.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/harrisonrobin/aide/pkg/assistant"
	"go.uber.org/zap"
)

const bodyLimit = 1 << 20

// Assistant is the part of assistant.Manager the API drives.
type Assistant interface {
	Handle(ctx context.Context, s *assistant.Session, query string) assistant.Reply
	Resolve(ctx context.Context, s *assistant.Session, token string, choice int) (assistant.Reply, error)
}

type Server struct {
	assistant Assistant
	sessions  *Sessions
	logger    *zap.Logger
}

func New(a Assistant, sessions *Sessions, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{assistant: a, sessions: sessions, logger: logger}
}

type queryRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

type selectRequest struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	Choice    int    `json:"choice"`
}

type replyResponse struct {
	SessionID string               `json:"session_id"`
	Text      string               `json:"text"`
	Selection *assistant.Selection `json:"selection,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Post("/select", s.handleSelect)
	})
	return r
}

// ListenAndServe serves the API on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[queryRequest](w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	var sess *assistant.Session
	if req.SessionID == "" {
		var err error
		if sess, err = s.sessions.Create(); err != nil {
			s.logger.Error("could not create session", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "could not start a session, try again")
			return
		}
	} else if sess, ok = s.sessions.Get(req.SessionID); !ok {
		writeError(w, http.StatusNotFound, "unknown or expired session")
		return
	}

	reply := s.assistant.Handle(r.Context(), sess, req.Query)
	writeJSON(w, http.StatusOK, replyResponse{SessionID: sess.ID, Text: reply.Text, Selection: reply.Selection})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[selectRequest](w, r)
	if !ok {
		return
	}
	if req.SessionID == "" || req.Token == "" {
		writeError(w, http.StatusBadRequest, "session_id and token are required")
		return
	}
	sess, ok := s.sessions.Get(req.SessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown or expired session")
		return
	}

	reply, err := s.assistant.Resolve(r.Context(), sess, req.Token, req.Choice)
	switch {
	case errors.Is(err, assistant.ErrChoiceOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, assistant.ErrNoSelection), errors.Is(err, assistant.ErrUnknownToken):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error("selection failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, replyResponse{SessionID: sess.ID, Text: reply.Text})
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
