package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hieutran/bookstore-ingest/internal/ingest"
)

const (
	defaultJobLimit     = 20
	maxJobLimit         = 200
	defaultHistoryLimit = 30
	maxHistoryLimit     = 500
	defaultRecrawlLimit = 50
)

// triggerListCrawl handles POST /v1/crawls. It creates a LIST_CRAWL job,
// publishes the crawl task, and returns 202 with the job id.
func (s *Server) triggerListCrawl(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.listCrawl.TriggerCrawl(r.Context())
	if err != nil {
		s.logger.Error("list crawl trigger failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to trigger crawl")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

type recrawlRequest struct {
	Limit int `json:"limit"`
}

// triggerRecrawlMissing handles POST /v1/crawls/recrawl-missing. The body is
// optional; the default batch limit applies when it is absent.
func (s *Server) triggerRecrawlMissing(w http.ResponseWriter, r *http.Request) {
	req := recrawlRequest{Limit: defaultRecrawlLimit}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.Limit <= 0 {
		req.Limit = defaultRecrawlLimit
	}
	queued, err := s.recrawl.RecrawlMissing(r.Context(), req.Limit)
	if err != nil {
		s.logger.Error("recrawl trigger failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to trigger recrawl")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}

// triggerPriceUpdate handles POST /v1/price-updates.
func (s *Server) triggerPriceUpdate(w http.ResponseWriter, r *http.Request) {
	jobID, total, err := s.prices.TriggerPriceUpdate(r.Context())
	if err != nil {
		s.logger.Error("price update trigger failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to trigger price update")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"jobId": jobID, "totalBooks": total})
}

type bookPriceUpdateRequest struct {
	BookIDs []string `json:"bookIds"`
}

// triggerBookPriceUpdate handles POST /v1/price-updates/books.
func (s *Server) triggerBookPriceUpdate(w http.ResponseWriter, r *http.Request) {
	var req bookPriceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.BookIDs) == 0 {
		writeError(w, http.StatusBadRequest, "bookIds is required")
		return
	}
	queued, err := s.prices.UpdatePricesForBooks(r.Context(), req.BookIDs)
	if err != nil {
		s.logger.Error("book price update trigger failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to trigger price update")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}

// listJobs handles GET /v1/jobs?status=&type=&limit=.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJobLimit)
	}
	filter := ingest.JobFilter{
		Status: ingest.JobStatus(r.URL.Query().Get("status")),
		Type:   ingest.JobType(r.URL.Query().Get("type")),
	}
	jobList, err := s.tracker.List(r.Context(), filter, limit)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobList == nil {
		jobList = []ingest.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobList})
}

// getJob handles GET /v1/jobs/{job_id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.tracker.Get(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeJobError(w, err, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// triggerJob handles POST /v1/jobs/{job_id}/trigger for PENDING jobs.
func (s *Server) triggerJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.tracker.Trigger(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeJobError(w, err, "failed to trigger job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// cancelJob handles POST /v1/jobs/{job_id}/cancel.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.tracker.Cancel(r.Context(), jobID); err != nil {
		s.writeJobError(w, err, "failed to cancel job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jobId": jobID, "status": "cancelled"})
}

// getPriceHistory handles GET /v1/books/{book_id}/price-history?limit=.
func (s *Server) getPriceHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	records, err := s.history.History(r.Context(), chi.URLParam(r, "book_id"), limit)
	if err != nil {
		s.logger.Error("price history lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load price history")
		return
	}
	if records == nil {
		records = []ingest.PriceRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": records})
}

func (s *Server) writeJobError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ingest.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "invalid job id")
	case errors.Is(err, ingest.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, ingest.ErrInvalidState):
		writeError(w, http.StatusConflict, "job is not in a triggerable state")
	case errors.Is(err, ingest.ErrNotRunning):
		writeError(w, http.StatusConflict, ingest.ErrNotRunning.Error())
	default:
		s.logger.Error("job request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
