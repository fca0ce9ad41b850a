// Package server exposes the create-issue action over HTTP so automations
// can file Redmine issues against a configured connection.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nhle/redmine-bridge/internal/logging"
	"github.com/nhle/redmine-bridge/internal/model"
	"github.com/nhle/redmine-bridge/internal/source"
)

// maxBodyBytes caps request bodies; issue descriptions are plain text.
const maxBodyBytes = 1 << 20

// IssueCreator runs the create-issue action for a connection.
type IssueCreator interface {
	CreateIssue(ctx context.Context, ref string, req model.IssueRequest, origin string) (model.CreatedIssue, error)
}

// Server serves the HTTP action surface.
type Server struct {
	router  chi.Router
	creator IssueCreator
	token   string
	logger  *logging.Logger
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithToken requires callers to present token as a Bearer credential.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// New creates a server backed by creator.
func New(creator IssueCreator, opts ...Option) *Server {
	s := &Server{
		creator: creator,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.token != "" {
		s.logger.Redact(s.token)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/connections/{ref}/issues", s.handleCreateIssue)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="redmine-bridge"`)
			respondJSON(w, http.StatusUnauthorized, errorBody{
				Error: "missing or invalid bearer token",
				Kind:  "auth",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	var req model.IssueRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.respondError(w, &source.ValidationError{
			Field:   "body",
			Reason:  "request body must be a JSON issue request",
			Details: []string{err.Error()},
		})
		return
	}

	created, err := s.creator.CreateIssue(r.Context(), ref, req, model.OriginHTTP)
	if err != nil {
		s.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, created)
}

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind"`
	Field   string   `json:"field,omitempty"`
	Details []string `json:"details,omitempty"`
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	body := errorBody{
		Error:   err.Error(),
		Kind:    source.Kind(err),
		Field:   source.Field(err),
		Details: source.Details(err),
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("create issue failed", "error", err)
		body.Error = "internal error"
	}
	respondJSON(w, status, body)
}

// statusForError maps the error taxonomy onto HTTP statuses. Remote auth
// rejections and connection failures both answer 502; kind tells them apart.
func statusForError(err error) int {
	switch {
	case source.IsValidation(err):
		return http.StatusUnprocessableEntity
	case source.IsNotFound(err):
		return http.StatusNotFound
	case source.IsAuthError(err), source.IsConnectionError(err):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
