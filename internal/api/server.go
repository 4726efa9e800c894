// Package api exposes the HTTP interface for the ingest service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hieutran/bookstore-ingest/internal/ingest"
	"github.com/hieutran/bookstore-ingest/internal/jobs"
)

// ListCrawlTrigger starts a catalog list crawl.
type ListCrawlTrigger interface {
	TriggerCrawl(ctx context.Context) (string, error)
}

// RecrawlTrigger re-queues books still missing detail data.
type RecrawlTrigger interface {
	RecrawlMissing(ctx context.Context, limit int) (int, error)
}

// PriceUpdateTrigger starts price update fan-outs.
type PriceUpdateTrigger interface {
	TriggerPriceUpdate(ctx context.Context) (string, int, error)
	UpdatePricesForBooks(ctx context.Context, bookIDs []string) (int, error)
}

// Server wires HTTP handlers to the pipeline triggers and stores.
type Server struct {
	router    chi.Router
	tracker   *jobs.Tracker
	listCrawl ListCrawlTrigger
	recrawl   RecrawlTrigger
	prices    PriceUpdateTrigger
	history   ingest.PriceHistoryStore
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	tracker *jobs.Tracker,
	listCrawl ListCrawlTrigger,
	recrawl RecrawlTrigger,
	prices PriceUpdateTrigger,
	history ingest.PriceHistoryStore,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		tracker:   tracker,
		listCrawl: listCrawl,
		recrawl:   recrawl,
		prices:    prices,
		history:   history,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/crawls", s.triggerListCrawl)
		r.Post("/crawls/recrawl-missing", s.triggerRecrawlMissing)
		r.Post("/price-updates", s.triggerPriceUpdate)
		r.Post("/price-updates/books", s.triggerBookPriceUpdate)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/trigger", s.triggerJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
		r.Get("/books/{book_id}/price-history", s.getPriceHistory)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
