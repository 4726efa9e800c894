package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/hieutran/bookstore-ingest/internal/ingest"
)

func TestJobStoreCreateAndStart(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	job := ingest.Job{
		ID:        "7f9c24e5-2f0b-4b9a-9c37-5b1a2c3d4e5f",
		Type:      ingest.JobTypeListCrawl,
		Status:    ingest.JobStatusPending,
		CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(job.ID, job.Type, job.Status, job.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.CreateJob(context.Background(), job))

	mock.ExpectExec("UPDATE jobs").
		WithArgs(job.ID, ingest.JobStatusProcessing, now, ingest.JobStatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.StartJob(context.Background(), job.ID, now))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreStartRejectsNonPending(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE jobs").
		WithArgs("job-1", ingest.JobStatusProcessing, now, ingest.JobStatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	err = store.StartJob(context.Background(), "job-1", now)
	require.ErrorIs(t, err, ingest.ErrInvalidState)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreStartUnknownJob(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE jobs").
		WithArgs("missing", ingest.JobStatusProcessing, now, ingest.JobStatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	err = store.StartJob(context.Background(), "missing", now)
	require.ErrorIs(t, err, ingest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreCancelOnlyRunningJobs(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE jobs").
		WithArgs("job-1", ingest.JobStatusFailed, now, "Job cancelled by user",
			ingest.JobStatusPending, ingest.JobStatusProcessing).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	err = store.CancelJob(context.Background(), "job-1", now, "Job cancelled by user")
	require.ErrorIs(t, err, ingest.ErrNotRunning)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreFailIsNoOpWhenTerminal(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE jobs").
		WithArgs("job-1", ingest.JobStatusFailed, now, "boom", ingest.JobStatusCompleted).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	require.NoError(t, store.FailJob(context.Background(), "job-1", now, "boom"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreIncrementItemResult(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE jobs").
		WithArgs("job-1", true, now, ingest.JobStatusCompleted, ingest.JobStatusProcessing).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.IncrementItemResult(context.Background(), "job-1", true, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreIncrementDropsLateResults(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE jobs").
		WithArgs("job-1", false, now, ingest.JobStatusCompleted, ingest.JobStatusProcessing).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	require.NoError(t, store.IncrementItemResult(context.Background(), "job-1", false, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreUpdateEmissionProgress(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)

	mock.ExpectExec("UPDATE jobs").
		WithArgs("job-1", 2, 4, ingest.JobStatusProcessing).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateEmissionProgress(context.Background(), "job-1", 2, 4))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreEmissionDroppedOnTerminalJob(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)

	mock.ExpectExec("UPDATE jobs").
		WithArgs("job-1", 4, 4, ingest.JobStatusProcessing).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	require.NoError(t, store.UpdateEmissionProgress(context.Background(), "job-1", 4, 4))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreGetJob(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	created := time.Unix(1700000000, 0).UTC()
	started := created.Add(time.Second)

	rows := pgxmock.NewRows([]string{
		"id", "type", "status", "crawled", "total", "new_books", "duplicates",
		"errors", "percent", "error_message", "created_at", "started_at", "completed_at",
	}).AddRow(
		"job-1", ingest.JobTypeListCrawl, ingest.JobStatusProcessing,
		40, 120, 30, 8, 2, 33, "", created, &started, (*time.Time)(nil),
	)
	mock.ExpectQuery("SELECT (.+) FROM jobs").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, ingest.JobStatusProcessing, job.Status)
	require.Equal(t, 40, job.Counters.Crawled)
	require.Equal(t, 33, job.Counters.Percent)
	require.Equal(t, &started, job.StartedAt)
	require.Nil(t, job.CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreListJobsFilters(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	created := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "type", "status", "crawled", "total", "new_books", "duplicates",
		"errors", "percent", "error_message", "created_at", "started_at", "completed_at",
	}).AddRow(
		"job-2", ingest.JobTypePriceUpdate, ingest.JobStatusPending,
		0, 0, 0, 0, 0, 0, "", created, (*time.Time)(nil), (*time.Time)(nil),
	)
	mock.ExpectQuery("SELECT (.+) FROM jobs").
		WithArgs("PENDING", "PRICE_UPDATE", 20).
		WillReturnRows(rows)

	jobs, err := store.ListJobs(context.Background(), ingest.JobFilter{
		Status: ingest.JobStatusPending,
		Type:   ingest.JobTypePriceUpdate,
	}, 20)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "job-2", jobs[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
