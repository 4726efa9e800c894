package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hieutran/bookstore-ingest/internal/ingest"
)

// JobStore implements ingest.JobStore on Postgres. Status transitions are
// gated in SQL so duplicate bus deliveries cannot move a job backwards.
type JobStore struct {
	db DB
}

// NewJobStore constructs a JobStore over an existing pool.
func NewJobStore(db DB) *JobStore {
	return &JobStore{db: db}
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job ingest.Job) error {
	query := `
		INSERT INTO jobs (id, type, status, created_at)
		VALUES ($1, $2, $3, $4);
	`
	_, err := s.db.Exec(ctx, query, job.ID, job.Type, job.Status, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// StartJob moves a PENDING job to PROCESSING.
func (s *JobStore) StartJob(ctx context.Context, jobID string, startedAt time.Time) error {
	query := `
		UPDATE jobs
		SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4;
	`
	tag, err := s.db.Exec(ctx, query, jobID, ingest.JobStatusProcessing, startedAt, ingest.JobStatusPending)
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.gateError(ctx, jobID, ingest.ErrInvalidState)
	}
	return nil
}

// UpdateProgress overwrites the progress counters.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, c ingest.JobCounters) error {
	query := `
		UPDATE jobs
		SET crawled = $2, total = $3, new_books = $4, duplicates = $5, errors = $6, percent = $7
		WHERE id = $1;
	`
	tag, err := s.db.Exec(ctx, query, jobID, c.Crawled, c.Total, c.NewBooks, c.Duplicates, c.Errors, c.Percent)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrNotFound
	}
	return nil
}

// UpdateEmissionProgress records fan-out progress for jobs whose completion
// is driven by per-item results. The outcome counters are owned by
// IncrementItemResult and left untouched; crawled only ever rises. Updates
// landing after the job went terminal are dropped.
func (s *JobStore) UpdateEmissionProgress(ctx context.Context, jobID string, emitted, total int) error {
	query := `
		UPDATE jobs
		SET crawled = GREATEST(crawled, $2),
		    total = $3,
		    percent = CASE WHEN $3 > 0
		        THEN LEAST(100, ROUND(GREATEST(crawled, $2) * 100.0 / $3))
		        ELSE percent END
		WHERE id = $1 AND status = $4;
	`
	tag, err := s.db.Exec(ctx, query, jobID, emitted, total, ingest.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("update job emission progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.gateError(ctx, jobID, nil)
	}
	return nil
}

// CompleteJob marks a non-terminal job COMPLETED with final counts.
func (s *JobStore) CompleteJob(ctx context.Context, jobID string, completedAt time.Time, c ingest.JobCounters) error {
	query := `
		UPDATE jobs
		SET status = $2, completed_at = $3,
		    crawled = $4, total = $5, new_books = $6, duplicates = $7, errors = $8, percent = 100
		WHERE id = $1 AND status NOT IN ($9, $10);
	`
	tag, err := s.db.Exec(ctx, query,
		jobID, ingest.JobStatusCompleted, completedAt,
		c.Crawled, c.Total, c.NewBooks, c.Duplicates, c.Errors,
		ingest.JobStatusCompleted, ingest.JobStatusFailed,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.gateError(ctx, jobID, ingest.ErrInvalidState)
	}
	return nil
}

// FailJob marks a non-terminal job FAILED. Failing an already terminal job
// is a no-op: terminal states never reverse.
func (s *JobStore) FailJob(ctx context.Context, jobID string, completedAt time.Time, errorMessage string) error {
	query := `
		UPDATE jobs
		SET status = $2, completed_at = $3, error_message = $4
		WHERE id = $1 AND status NOT IN ($2, $5);
	`
	tag, err := s.db.Exec(ctx, query,
		jobID, ingest.JobStatusFailed, completedAt, errorMessage, ingest.JobStatusCompleted)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if err := s.gateError(ctx, jobID, nil); err != nil {
			return err
		}
	}
	return nil
}

// CancelJob fails a PENDING or PROCESSING job with the cancel message.
func (s *JobStore) CancelJob(ctx context.Context, jobID string, completedAt time.Time, errorMessage string) error {
	query := `
		UPDATE jobs
		SET status = $2, completed_at = $3, error_message = $4
		WHERE id = $1 AND status IN ($5, $6);
	`
	tag, err := s.db.Exec(ctx, query,
		jobID, ingest.JobStatusFailed, completedAt, errorMessage,
		ingest.JobStatusPending, ingest.JobStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.gateError(ctx, jobID, ingest.ErrNotRunning)
	}
	return nil
}

// IncrementItemResult bumps the per-item outcome counters atomically and
// completes the job once every item reached a terminal state. Old column
// values on the right-hand side all refer to the pre-update row, so the
// arithmetic is consistent under concurrent increments.
func (s *JobStore) IncrementItemResult(ctx context.Context, jobID string, succeeded bool, at time.Time) error {
	query := `
		UPDATE jobs
		SET new_books = new_books + CASE WHEN $2 THEN 1 ELSE 0 END,
		    errors = errors + CASE WHEN $2 THEN 0 ELSE 1 END,
		    crawled = GREATEST(crawled, new_books + errors + 1),
		    percent = CASE WHEN total > 0
		        THEN LEAST(100, ROUND((new_books + errors + 1) * 100.0 / total))
		        ELSE percent END,
		    status = CASE WHEN total > 0 AND new_books + errors + 1 >= total
		        THEN $4 ELSE status END,
		    completed_at = CASE WHEN total > 0 AND new_books + errors + 1 >= total
		        THEN $3 ELSE completed_at END
		WHERE id = $1 AND status = $5;
	`
	tag, err := s.db.Exec(ctx, query,
		jobID, succeeded, at, ingest.JobStatusCompleted, ingest.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("increment job item result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Late results for an already terminal job are dropped.
		return s.gateError(ctx, jobID, nil)
	}
	return nil
}

// GetJob fetches one job by id.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (ingest.Job, error) {
	query := `
		SELECT id, type, status, crawled, total, new_books, duplicates, errors, percent,
		       COALESCE(error_message, ''), created_at, started_at, completed_at
		FROM jobs
		WHERE id = $1;
	`
	var job ingest.Job
	err := s.db.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.Type, &job.Status,
		&job.Counters.Crawled, &job.Counters.Total, &job.Counters.NewBooks,
		&job.Counters.Duplicates, &job.Counters.Errors, &job.Counters.Percent,
		&job.ErrorMessage, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ingest.Job{}, ingest.ErrNotFound
		}
		return ingest.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs fetches recent jobs matching the filter, newest first.
func (s *JobStore) ListJobs(ctx context.Context, filter ingest.JobFilter, limit int) ([]ingest.Job, error) {
	query := `
		SELECT id, type, status, crawled, total, new_books, duplicates, errors, percent,
		       COALESCE(error_message, ''), created_at, started_at, completed_at
		FROM jobs
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR type = $2)
		ORDER BY created_at DESC
		LIMIT $3;
	`
	rows, err := s.db.Query(ctx, query, string(filter.Status), string(filter.Type), limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []ingest.Job
	for rows.Next() {
		var job ingest.Job
		if err := rows.Scan(
			&job.ID, &job.Type, &job.Status,
			&job.Counters.Crawled, &job.Counters.Total, &job.Counters.NewBooks,
			&job.Counters.Duplicates, &job.Counters.Errors, &job.Counters.Percent,
			&job.ErrorMessage, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

// gateError distinguishes "no such job" from "wrong state" after a gated
// update matched nothing. gateErr may be nil to make the miss a no-op.
func (s *JobStore) gateError(ctx context.Context, jobID string, gateErr error) error {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1);`, jobID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check job existence: %w", err)
	}
	if !exists {
		return ingest.ErrNotFound
	}
	return gateErr
}
