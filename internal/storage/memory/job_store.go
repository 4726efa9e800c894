// Package memory provides in-memory store implementations for development
// and tests.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hieutran/bookstore-ingest/internal/ingest"
)

// JobStore is an in-memory ingest.JobStore.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]ingest.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]ingest.Job)}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job ingest.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return ingest.ErrInvalidState
	}
	s.jobs[job.ID] = job
	return nil
}

// StartJob moves a PENDING job to PROCESSING.
func (s *JobStore) StartJob(_ context.Context, jobID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ingest.ErrNotFound
	}
	if job.Status != ingest.JobStatusPending {
		return ingest.ErrInvalidState
	}
	job.Status = ingest.JobStatusProcessing
	job.StartedAt = pointerTime(startedAt)
	s.jobs[jobID] = job
	return nil
}

// UpdateProgress overwrites the counters.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, counters ingest.JobCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ingest.ErrNotFound
	}
	job.Counters = counters
	s.jobs[jobID] = job
	return nil
}

// UpdateEmissionProgress raises crawled to the emitted count and sets the
// total, leaving the outcome counters alone. Terminal jobs drop the update.
func (s *JobStore) UpdateEmissionProgress(_ context.Context, jobID string, emitted, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ingest.ErrNotFound
	}
	if job.Status != ingest.JobStatusProcessing {
		return nil
	}
	if emitted > job.Counters.Crawled {
		job.Counters.Crawled = emitted
	}
	job.Counters.Total = total
	if total > 0 {
		pct := int(math.Round(float64(job.Counters.Crawled) / float64(total) * 100))
		if pct > 100 {
			pct = 100
		}
		job.Counters.Percent = pct
	}
	s.jobs[jobID] = job
	return nil
}

// CompleteJob marks a non-terminal job COMPLETED.
func (s *JobStore) CompleteJob(_ context.Context, jobID string, completedAt time.Time, counters ingest.JobCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ingest.ErrNotFound
	}
	if isTerminal(job.Status) {
		return ingest.ErrInvalidState
	}
	counters.Percent = 100
	job.Status = ingest.JobStatusCompleted
	job.Counters = counters
	job.CompletedAt = pointerTime(completedAt)
	s.jobs[jobID] = job
	return nil
}

// FailJob marks a non-terminal job FAILED. Terminal jobs are left as-is.
func (s *JobStore) FailJob(_ context.Context, jobID string, completedAt time.Time, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ingest.ErrNotFound
	}
	if isTerminal(job.Status) {
		return nil
	}
	job.Status = ingest.JobStatusFailed
	job.ErrorMessage = errorMessage
	job.CompletedAt = pointerTime(completedAt)
	s.jobs[jobID] = job
	return nil
}

// CancelJob fails a PENDING or PROCESSING job.
func (s *JobStore) CancelJob(_ context.Context, jobID string, completedAt time.Time, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ingest.ErrNotFound
	}
	if isTerminal(job.Status) {
		return ingest.ErrNotRunning
	}
	job.Status = ingest.JobStatusFailed
	job.ErrorMessage = errorMessage
	job.CompletedAt = pointerTime(completedAt)
	s.jobs[jobID] = job
	return nil
}

// IncrementItemResult bumps the per-item counters and completes the job when
// every item reached a terminal state. Late results on terminal jobs are
// dropped.
func (s *JobStore) IncrementItemResult(_ context.Context, jobID string, succeeded bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ingest.ErrNotFound
	}
	if job.Status != ingest.JobStatusProcessing {
		return nil
	}
	if succeeded {
		job.Counters.NewBooks++
	} else {
		job.Counters.Errors++
	}
	done := job.Counters.NewBooks + job.Counters.Errors
	if done > job.Counters.Crawled {
		job.Counters.Crawled = done
	}
	if job.Counters.Total > 0 {
		pct := int(math.Round(float64(done) / float64(job.Counters.Total) * 100))
		if pct > 100 {
			pct = 100
		}
		job.Counters.Percent = pct
		if done >= job.Counters.Total {
			job.Status = ingest.JobStatusCompleted
			job.CompletedAt = pointerTime(at)
		}
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches one job.
func (s *JobStore) GetJob(_ context.Context, jobID string) (ingest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ingest.Job{}, ingest.ErrNotFound
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (s *JobStore) ListJobs(_ context.Context, filter ingest.JobFilter, limit int) ([]ingest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var jobs []ingest.Job
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status ingest.JobStatus) bool {
	return status == ingest.JobStatusCompleted || status == ingest.JobStatusFailed
}
