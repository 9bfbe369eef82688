package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/coordinator"
	"github.com/JakeFAU/sitesearch/internal/metrics"
	"github.com/JakeFAU/sitesearch/internal/search"
	"github.com/JakeFAU/sitesearch/internal/store"
)

// Indexing is the crawl control surface.
type Indexing interface {
	StartIndexing(ctx context.Context) (string, error)
	StopIndexing() error
	IsIndexing() bool
	IndexPage(ctx context.Context, rawURL string) (store.Page, error)
}

// Searcher answers queries.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (search.Response, error)
}

// Options tunes the server.
type Options struct {
	// APIKey guards /api routes when non-empty.
	APIKey         string
	RequestTimeout time.Duration
	// Ready reports downstream readiness for /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the coordinator and search engine.
type Server struct {
	router   chi.Router
	indexing Indexing
	searcher Searcher
	opts     Options
	logger   *zap.Logger
}

type searchResponse struct {
	Result bool            `json:"result"`
	Count  int             `json:"count"`
	Data   []search.Result `json:"data"`
}

type statusResponse struct {
	Result   bool `json:"result"`
	Indexing bool `json:"indexing"`
}

type resultResponse struct {
	Result bool   `json:"result"`
	Error  string `json:"error,omitempty"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(indexing Indexing, searcher Searcher, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		indexing: indexing,
		searcher: searcher,
		opts:     opts,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/startIndexing", s.startIndexing)
		r.Get("/stopIndexing", s.stopIndexing)
		r.Get("/status", s.status)
		r.Post("/indexPage", s.indexPage)
		r.Get("/search", s.search)
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
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) startIndexing(w http.ResponseWriter, r *http.Request) {
	runID, err := s.indexing.StartIndexing(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.Header().Set("X-Run-ID", runID)
	writeJSON(w, http.StatusOK, resultResponse{Result: true})
}

func (s *Server) stopIndexing(w http.ResponseWriter, r *http.Request) {
	if err := s.indexing.StopIndexing(); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: true})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Result: true, Indexing: s.indexing.IsIndexing()})
}

func (s *Server) indexPage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	pageURL := r.Form.Get("url")
	if pageURL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if _, err := s.indexing.IndexPage(r.Context(), pageURL); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: true})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	resp, err := s.searcher.Search(r.Context(), search.Request{
		Query:  q.Get("query"),
		Site:   q.Get("site"),
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	data := resp.Results
	if data == nil {
		data = []search.Result{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Result: true, Count: resp.Count, Data: data})
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", raw, err)
	}
	return n, nil
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, search.ErrEmptyQuery), errors.Is(err, coordinator.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrSiteNotFound), errors.Is(err, coordinator.ErrPageOutsideSites):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrAlreadyRunning), errors.Is(err, coordinator.ErrNotRunning):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		requestLogger(r.Context(), s.logger).Error("request failed", zap.Error(err))
		msg = "internal server error"
	}
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, resultResponse{Result: false, Error: msg})
}
