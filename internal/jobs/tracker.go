// Package jobs implements the job lifecycle tracker.
package jobs

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hieutran/bookstore-ingest/internal/ingest"
)

// Tracker mediates all job lifecycle mutations. Only the owning pipeline
// stage mutates a job; the tracker enforces identifier validity and the
// PENDING -> PROCESSING -> {COMPLETED, FAILED} transition order.
type Tracker struct {
	store  ingest.JobStore
	clock  ingest.Clock
	idGen  ingest.IDGenerator
	logger *zap.Logger
}

// NewTracker constructs a Tracker.
func NewTracker(store ingest.JobStore, clock ingest.Clock, idGen ingest.IDGenerator, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, clock: clock, idGen: idGen, logger: logger}
}

// Create inserts a new PENDING job of the given type and returns its id.
func (t *Tracker) Create(ctx context.Context, jobType ingest.JobType) (string, error) {
	id, err := t.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	job := ingest.Job{
		ID:        id,
		Type:      jobType,
		Status:    ingest.JobStatusPending,
		CreatedAt: t.clock.Now(),
	}
	if err := t.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	t.logger.Info("job created", zap.String("job_id", id), zap.String("type", string(jobType)))
	return id, nil
}

// Start moves a PENDING job to PROCESSING and stamps startedAt.
func (t *Tracker) Start(ctx context.Context, jobID string) error {
	if err := validateID(jobID); err != nil {
		return err
	}
	if err := t.store.StartJob(ctx, jobID, t.clock.Now()); err != nil {
		return fmt.Errorf("start job %s: %w", jobID, err)
	}
	t.logger.Info("job started", zap.String("job_id", jobID))
	return nil
}

// Trigger starts an externally created job. The job must still be PENDING.
func (t *Tracker) Trigger(ctx context.Context, jobID string) (ingest.Job, error) {
	if err := validateID(jobID); err != nil {
		return ingest.Job{}, err
	}
	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return ingest.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if job.Status != ingest.JobStatusPending {
		return ingest.Job{}, fmt.Errorf("job %s has status %s: %w", jobID, job.Status, ingest.ErrInvalidState)
	}
	if err := t.Start(ctx, jobID); err != nil {
		return ingest.Job{}, err
	}
	return t.store.GetJob(ctx, jobID)
}

// UpdateProgress overwrites the progress counters and recomputes percent.
func (t *Tracker) UpdateProgress(ctx context.Context, jobID string, crawled, total, newBooks, duplicates, errors int) error {
	if err := validateID(jobID); err != nil {
		return err
	}
	counters := ingest.JobCounters{
		Crawled:    crawled,
		Total:      total,
		NewBooks:   newBooks,
		Duplicates: duplicates,
		Errors:     errors,
		Percent:    Percent(crawled, total),
	}
	if err := t.store.UpdateProgress(ctx, jobID, counters); err != nil {
		return fmt.Errorf("update progress for job %s: %w", jobID, err)
	}
	return nil
}

// UpdateEmission records task fan-out progress for jobs whose completion is
// driven by per-item results. The outcome counters stay untouched, so results
// landing between emission updates are never lost.
func (t *Tracker) UpdateEmission(ctx context.Context, jobID string, emitted, total int) error {
	if err := validateID(jobID); err != nil {
		return err
	}
	if err := t.store.UpdateEmissionProgress(ctx, jobID, emitted, total); err != nil {
		return fmt.Errorf("update emission progress for job %s: %w", jobID, err)
	}
	return nil
}

// Complete marks the job COMPLETED with final counts. Crawled and total are
// forced to the sum of the outcomes so percent lands on 100.
func (t *Tracker) Complete(ctx context.Context, jobID string, newBooks, duplicates, errors int) error {
	if err := validateID(jobID); err != nil {
		return err
	}
	total := newBooks + duplicates + errors
	counters := ingest.JobCounters{
		Crawled:    total,
		Total:      total,
		NewBooks:   newBooks,
		Duplicates: duplicates,
		Errors:     errors,
		Percent:    100,
	}
	if err := t.store.CompleteJob(ctx, jobID, t.clock.Now(), counters); err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	t.logger.Info("job completed",
		zap.String("job_id", jobID),
		zap.Int("new", newBooks),
		zap.Int("duplicates", duplicates),
		zap.Int("errors", errors),
	)
	return nil
}

// Fail marks the job FAILED and records the message.
func (t *Tracker) Fail(ctx context.Context, jobID, message string) error {
	if err := validateID(jobID); err != nil {
		return err
	}
	if err := t.store.FailJob(ctx, jobID, t.clock.Now(), message); err != nil {
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	t.logger.Error("job failed", zap.String("job_id", jobID), zap.String("reason", message))
	return nil
}

// Cancel marks a PENDING or PROCESSING job FAILED with a cancellation
// message. In-flight crawlers and already-published tasks are not aborted.
func (t *Tracker) Cancel(ctx context.Context, jobID string) error {
	if err := validateID(jobID); err != nil {
		return err
	}
	if err := t.store.CancelJob(ctx, jobID, t.clock.Now(), "Job cancelled by user"); err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	t.logger.Info("job cancelled", zap.String("job_id", jobID))
	return nil
}

// RecordItemResult bumps per-item progress for downstream consumers. The
// job completes once every scheduled item reached a terminal state.
func (t *Tracker) RecordItemResult(ctx context.Context, jobID string, succeeded bool) error {
	if err := validateID(jobID); err != nil {
		return err
	}
	if err := t.store.IncrementItemResult(ctx, jobID, succeeded, t.clock.Now()); err != nil {
		return fmt.Errorf("record item result for job %s: %w", jobID, err)
	}
	return nil
}

// Get returns one job by id.
func (t *Tracker) Get(ctx context.Context, jobID string) (ingest.Job, error) {
	if err := validateID(jobID); err != nil {
		return ingest.Job{}, err
	}
	return t.store.GetJob(ctx, jobID)
}

// List returns recent jobs matching the filter, newest first.
func (t *Tracker) List(ctx context.Context, filter ingest.JobFilter, limit int) ([]ingest.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	return t.store.ListJobs(ctx, filter, limit)
}

// Percent computes the rounded progress percentage, zero when total is zero.
func Percent(crawled, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(crawled) / float64(total) * 100))
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("job id %q: %w", id, ingest.ErrInvalidID)
	}
	return nil
}
