package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogwatch/internal/blog"
	"github.com/JakeFAU/blogwatch/internal/metrics"
	"github.com/JakeFAU/blogwatch/internal/schema"
)

// Service is the slice of the watcher served synchronously over HTTP.
type Service interface {
	AddBlog(ctx context.Context, name, rawURL string) (blog.Profile, error)
	GetBlog(ctx context.Context, blogID int64) (blog.Profile, error)
	ResetAttempts(ctx context.Context, blogID int64) error
	PostsDiscoveredSince(ctx context.Context, window time.Duration) ([]blog.Post, error)
	ReprocessPost(ctx context.Context, postURL string) (blog.Post, error)
	Ready(ctx context.Context) error
}

// Tasks submits and reports on asynchronous check and discover runs.
type Tasks interface {
	Submit(ctx context.Context, blogID int64, kind blog.TaskKind, regenerate bool) (blog.Task, error)
	GetTask(ctx context.Context, id string) (blog.Task, error)
}

// Config controls server behavior.
type Config struct {
	APIKey         string
	RequestTimeout time.Duration
	// DefaultWindow applies to GET /v1/posts without a since parameter.
	DefaultWindow time.Duration
}

// Server wires HTTP handlers to the watcher and dispatcher.
type Server struct {
	router  chi.Router
	service Service
	tasks   Tasks
	cfg     Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(service Service, tasks Tasks, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = 24 * time.Hour
	}
	s := &Server{
		service: service,
		tasks:   tasks,
		cfg:     cfg,
		logger:  logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/blogs", func(r chi.Router) {
			r.Post("/", s.addBlog)
			r.Route("/{blog_id}", func(r chi.Router) {
				r.Get("/", s.getBlog)
				r.Post("/check", s.submitCheck)
				r.Post("/discover", s.submitDiscover)
				r.Post("/reset", s.resetAttempts)
			})
		})
		r.Get("/posts", s.listPosts)
		r.Post("/posts/reprocess", s.reprocessPost)
		r.Get("/tasks/{task_id}", s.getTask)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.service.Ready(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type addBlogRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (s *Server) addBlog(w http.ResponseWriter, r *http.Request) {
	var req addBlogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	profile, err := s.service.AddBlog(r.Context(), req.Name, req.URL)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBlogView(profile))
}

func (s *Server) getBlog(w http.ResponseWriter, r *http.Request) {
	id, ok := blogIDParam(w, r)
	if !ok {
		return
	}
	profile, err := s.service.GetBlog(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBlogView(profile))
}

func (s *Server) submitCheck(w http.ResponseWriter, r *http.Request) {
	regenerate := false
	if raw := r.URL.Query().Get("regenerate"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "regenerate must be a boolean")
			return
		}
		regenerate = v
	}
	s.submit(w, r, blog.TaskCheck, regenerate)
}

func (s *Server) submitDiscover(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, blog.TaskDiscover, false)
}

// submit checks the blog exists before queueing so unknown ids fail fast.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, kind blog.TaskKind, regenerate bool) {
	id, ok := blogIDParam(w, r)
	if !ok {
		return
	}
	if _, err := s.service.GetBlog(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	task, err := s.tasks.Submit(r.Context(), id, kind, regenerate)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": task.ID, "status": string(task.Status)})
}

func (s *Server) resetAttempts(w http.ResponseWriter, r *http.Request) {
	id, ok := blogIDParam(w, r)
	if !ok {
		return
	}
	if err := s.service.ResetAttempts(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blog_id": id, "refinement_attempts": 0})
}

func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	window := s.cfg.DefaultWindow
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "since must be a positive duration such as 6h")
			return
		}
		window = d
	}
	posts, err := s.service.PostsDiscoveredSince(r.Context(), window)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if posts == nil {
		posts = []blog.Post{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"window": window.String(), "posts": posts})
}

type reprocessRequest struct {
	URL string `json:"url"`
}

func (s *Server) reprocessPost(w http.ResponseWriter, r *http.Request) {
	var req reprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	post, err := s.service.ReprocessPost(r.Context(), req.URL)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.GetTask(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, blog.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, blog.ErrDuplicateURL):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, blog.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, blog.ErrNotAccepted), errors.Is(err, blog.ErrExhausted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func blogIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "blog_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "blog_id must be a positive integer")
		return 0, false
	}
	return id, true
}

type blogView struct {
	ID                 int64          `json:"id"`
	Name               string         `json:"name"`
	URL                string         `json:"url"`
	Accepted           bool           `json:"scraping_successful"`
	Schema             *schema.Schema `json:"scraping_schema,omitempty"`
	Proposed           *schema.Schema `json:"proposed_schema,omitempty"`
	RefinementAttempts int            `json:"refinement_attempts"`
	LastChecked        *time.Time     `json:"last_checked,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

func toBlogView(p blog.Profile) blogView {
	return blogView{
		ID:                 p.ID,
		Name:               p.Name,
		URL:                p.URL,
		Accepted:           p.Accepted(),
		Schema:             p.Schema,
		Proposed:           p.Proposed,
		RefinementAttempts: p.Attempts,
		LastChecked:        p.LastChecked,
		CreatedAt:          p.CreatedAt,
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
