package ingest

import (
	"context"
	"time"
)

// JobStore persists job lifecycle records. Status mutations are gated on the
// current status in the store so duplicate or re-ordered bus deliveries cannot
// move a job backwards.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	StartJob(ctx context.Context, jobID string, startedAt time.Time) error
	UpdateProgress(ctx context.Context, jobID string, counters JobCounters) error
	// UpdateEmissionProgress raises the crawled counter to the emitted count
	// and sets the expected total, leaving the per-item outcome counters
	// untouched so concurrent item results are never overwritten.
	UpdateEmissionProgress(ctx context.Context, jobID string, emitted, total int) error
	CompleteJob(ctx context.Context, jobID string, completedAt time.Time, counters JobCounters) error
	FailJob(ctx context.Context, jobID string, completedAt time.Time, errorMessage string) error
	CancelJob(ctx context.Context, jobID string, completedAt time.Time, errorMessage string) error
	// IncrementItemResult atomically bumps the crawled counter plus the
	// success or error counter, recomputes percent, and marks the job
	// COMPLETED once crawled reaches total.
	IncrementItemResult(ctx context.Context, jobID string, succeeded bool, at time.Time) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, filter JobFilter, limit int) ([]Job, error)
}

// BookStore persists catalog overview rows keyed on (externalId, source).
type BookStore interface {
	// BulkUpsert writes one overview batch: existing rows are updated in
	// place, new rows are inserted with needsDetailCrawl=true and zero
	// attempts. Idempotent under re-delivery.
	BulkUpsert(ctx context.Context, books []BookOverview, now time.Time) (BulkUpsertResult, error)
	UpdateDetails(ctx context.Context, externalID, source string, upd BookDetailUpdate) error
	MarkDetailCrawlFailure(ctx context.Context, externalID, source, errorMessage string, at time.Time) error
	MarkPermanentlyFailed(ctx context.Context, externalID, source string) error
	GetByNaturalKey(ctx context.Context, externalID, source string) (Book, error)
	GetPrices(ctx context.Context, bookID string) (BookPrices, error)
	// CountEligible counts crawler-sourced rows with a usable natural key.
	CountEligible(ctx context.Context) (int, error)
	// StreamEligible walks eligible rows via a cursor, invoking fn per row.
	// The walk stops on the first fn error.
	StreamEligible(ctx context.Context, fn func(BookRef) error) error
	ListNeedingDetailCrawl(ctx context.Context, limit, maxAttempts int) ([]BookRef, error)
	FindRefsByIDs(ctx context.Context, ids []string) ([]BookRef, error)
}

// AuthorStore resolves contributors by natural key, creating them lazily.
type AuthorStore interface {
	// FindOrCreate returns the author id for (externalId, source), inserting
	// the author on first sighting. Duplicate-key races under concurrent
	// detail crawls resolve by re-query.
	FindOrCreate(ctx context.Context, author Author) (string, error)
}

// PriceHistoryStore appends to the price audit trail. Records are never
// updated or deleted.
type PriceHistoryStore interface {
	Insert(ctx context.Context, rec PriceRecord) error
	LatestSuccess(ctx context.Context, bookID string) (*PriceRecord, error)
	History(ctx context.Context, bookID string, limit int) ([]PriceRecord, error)
	// ApplyPriceUpdate runs the SUCCESS path as one atomic unit: update the
	// catalog row's price fields and insert a history record whose delta is
	// computed against the latest prior SUCCESS record. Both writes commit
	// or both roll back.
	ApplyPriceUpdate(ctx context.Context, upd PriceUpdate) error
}

// Publisher pushes raw payload bytes onto a named channel of the task bus.
// Delivery guarantee is the bus's (typically at-least-once).
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte) (string, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and record ids.
type IDGenerator interface {
	NewID() (string, error)
}
