package detailcrawl

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hieutran/bookstore-ingest/internal/bus"
	busmemory "github.com/hieutran/bookstore-ingest/internal/bus/memory"
	"github.com/hieutran/bookstore-ingest/internal/ingest"
	"github.com/hieutran/bookstore-ingest/internal/marketplace"
	storememory "github.com/hieutran/bookstore-ingest/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeFetcher struct {
	detail *marketplace.Detail
	err    error
	calls  int
}

func (f *fakeFetcher) FetchDetail(context.Context, int64) (*marketplace.Detail, error) {
	f.calls++
	return f.detail, f.err
}

type scheduledCall struct {
	delay time.Duration
	fn    func()
}

type fixture struct {
	crawler   *Crawler
	books     *storememory.BookStore
	authors   *storememory.AuthorStore
	publisher *busmemory.Publisher
	scheduled *[]scheduledCall
}

func newFixture(t *testing.T, fetcher DetailFetcher) fixture {
	t.Helper()
	books := storememory.NewBookStore()
	authors := storememory.NewAuthorStore()
	publisher := busmemory.NewPublisher()
	clock := fixedClock{now: time.Unix(1700000000, 0).UTC()}
	dispatcher := bus.NewDispatcher(publisher, zap.NewNop())
	crawler := New(books, authors, dispatcher, fetcher, clock,
		Config{MaxRetryAttempts: 3, RetryBaseDelay: 5 * time.Second}, zap.NewNop())

	scheduled := &[]scheduledCall{}
	crawler.schedule = func(d time.Duration, fn func()) {
		*scheduled = append(*scheduled, scheduledCall{delay: d, fn: fn})
	}
	return fixture{crawler: crawler, books: books, authors: authors, publisher: publisher, scheduled: scheduled}
}

func seedBook(t *testing.T, books *storememory.BookStore, externalID string) {
	t.Helper()
	_, err := books.BulkUpsert(context.Background(), []ingest.BookOverview{{
		ExternalID:       externalID,
		Source:           "Tiki",
		Title:            "Seed",
		OriginalPrice:    100000,
		PromotionalPrice: 90000,
	}}, time.Unix(1700000000, 0).UTC())
	require.NoError(t, err)
}

func TestRunEnrichesRowAndResolvesAuthors(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{detail: &marketplace.Detail{
		ID:               101,
		Name:             "Book",
		Description:      "Full description",
		OriginalPrice:    120000,
		PromotionalPrice: 95000,
		QuantitySold:     40,
		ThumbnailURL:     "https://img/full",
		Authors: []marketplace.AuthorData{
			{ID: 7, Name: "Nguyen Nhat Anh", Slug: "nguyen-nhat-anh"},
			{ID: 8, Name: "To Hoai"},
		},
	}}
	f := newFixture(t, fetcher)
	seedBook(t, f.books, "101")
	ctx := context.Background()

	err := f.crawler.Run(ctx, ingest.DetailCrawlTask{ProductID: 101, JobID: "job-1", Source: "Tiki"})
	require.NoError(t, err)

	book, err := f.books.GetByNaturalKey(ctx, "101", "Tiki")
	require.NoError(t, err)
	require.False(t, book.NeedsDetailCrawl)
	require.True(t, book.DetailSuccess)
	require.Equal(t, 1, book.DetailAttempts)
	require.Equal(t, "Full description", book.Description)
	require.Equal(t, 95000.0, book.PromotionalPrice)
	require.Len(t, book.AuthorIDs, 2)

	// Re-running resolves the same author rows, not new ones, and counts
	// as another attempt.
	err = f.crawler.Run(ctx, ingest.DetailCrawlTask{ProductID: 101, JobID: "job-1", Source: "Tiki"})
	require.NoError(t, err)
	again, err := f.books.GetByNaturalKey(ctx, "101", "Tiki")
	require.NoError(t, err)
	require.Equal(t, book.AuthorIDs, again.AuthorIDs)
	require.Equal(t, 2, again.DetailAttempts)
}

func TestRunSkipsInvalidAuthors(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{detail: &marketplace.Detail{
		ID: 101,
		Authors: []marketplace.AuthorData{
			{ID: 0, Name: "Missing ID"},
			{ID: 9, Name: ""},
			{ID: 10, Name: "Valid Author"},
		},
	}}
	f := newFixture(t, fetcher)
	seedBook(t, f.books, "101")

	err := f.crawler.Run(context.Background(), ingest.DetailCrawlTask{ProductID: 101, JobID: "job-1", Source: "Tiki"})
	require.NoError(t, err)

	book, err := f.books.GetByNaturalKey(context.Background(), "101", "Tiki")
	require.NoError(t, err)
	require.Len(t, book.AuthorIDs, 1)
}

func TestFailureSchedulesLinearBackoffRetry(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: errors.New("fetch timed out")}
	f := newFixture(t, fetcher)
	seedBook(t, f.books, "101")
	ctx := context.Background()

	err := f.crawler.Run(ctx, ingest.DetailCrawlTask{ProductID: 101, JobID: "job-1", Source: "Tiki", RetryCount: 0})
	require.NoError(t, err)

	book, err := f.books.GetByNaturalKey(ctx, "101", "Tiki")
	require.NoError(t, err)
	require.Equal(t, 1, book.DetailAttempts)
	require.Equal(t, "fetch timed out", book.LastDetailError)
	require.False(t, book.PermanentlyFailed)

	require.Len(t, *f.scheduled, 1)
	require.Equal(t, 5*time.Second, (*f.scheduled)[0].delay)

	// Firing the timer re-publishes the task with the bumped retry count.
	(*f.scheduled)[0].fn()
	msgs := f.publisher.MessagesOn(ingest.ChannelDetailCrawl)
	require.Len(t, msgs, 1)
	var retry ingest.DetailCrawlTask
	require.NoError(t, json.Unmarshal(msgs[0].Data, &retry))
	require.Equal(t, int64(101), retry.ProductID)
	require.Equal(t, 1, retry.RetryCount)

	// Second failure backs off twice as long.
	err = f.crawler.Run(ctx, ingest.DetailCrawlTask{ProductID: 101, JobID: "job-1", Source: "Tiki", RetryCount: 1})
	require.NoError(t, err)
	require.Len(t, *f.scheduled, 2)
	require.Equal(t, 10*time.Second, (*f.scheduled)[1].delay)
}

func TestFailureAtRetryCeilingMarksPermanent(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: errors.New("still broken")}
	f := newFixture(t, fetcher)
	seedBook(t, f.books, "101")
	ctx := context.Background()

	err := f.crawler.Run(ctx, ingest.DetailCrawlTask{ProductID: 101, JobID: "job-1", Source: "Tiki", RetryCount: 2})
	require.NoError(t, err)

	book, err := f.books.GetByNaturalKey(ctx, "101", "Tiki")
	require.NoError(t, err)
	require.True(t, book.PermanentlyFailed)
	require.False(t, book.NeedsDetailCrawl)
	require.Empty(t, *f.scheduled)
	require.Empty(t, f.publisher.Messages())
}

func TestFailedRecrawlClearsSuccessFlag(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{detail: &marketplace.Detail{ID: 101, Name: "Book"}}
	f := newFixture(t, fetcher)
	seedBook(t, f.books, "101")
	ctx := context.Background()

	err := f.crawler.Run(ctx, ingest.DetailCrawlTask{ProductID: 101, JobID: "job-1", Source: "Tiki"})
	require.NoError(t, err)
	book, err := f.books.GetByNaturalKey(ctx, "101", "Tiki")
	require.NoError(t, err)
	require.True(t, book.DetailSuccess)

	// The row is re-flagged by a later listing crawl, and this time the
	// detail fetch fails. The stale success flag must not survive.
	fetcher.detail = nil
	fetcher.err = errors.New("fetch timed out")
	err = f.crawler.Run(ctx, ingest.DetailCrawlTask{ProductID: 101, JobID: "job-2", Source: "Tiki"})
	require.NoError(t, err)

	book, err = f.books.GetByNaturalKey(ctx, "101", "Tiki")
	require.NoError(t, err)
	require.False(t, book.DetailSuccess)
	require.Equal(t, 2, book.DetailAttempts)
	require.Equal(t, "fetch timed out", book.LastDetailError)
}

func TestEmptyDetailPayloadCountsAsFailure(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{detail: &marketplace.Detail{ID: 0}}
	f := newFixture(t, fetcher)
	seedBook(t, f.books, "101")

	err := f.crawler.Run(context.Background(), ingest.DetailCrawlTask{ProductID: 101, JobID: "job-1", Source: "Tiki"})
	require.NoError(t, err)

	book, err := f.books.GetByNaturalKey(context.Background(), "101", "Tiki")
	require.NoError(t, err)
	require.Equal(t, 1, book.DetailAttempts)
	require.Equal(t, "no detail data returned", book.LastDetailError)
}

func TestRecrawlMissingQueuesEligibleRows(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeFetcher{})
	ctx := context.Background()
	seedBook(t, f.books, "101")
	seedBook(t, f.books, "102")
	seedBook(t, f.books, "not-a-number")

	emitted, err := f.crawler.RecrawlMissing(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 2, emitted)

	msgs := f.publisher.MessagesOn(ingest.ChannelDetailCrawl)
	require.Len(t, msgs, 2)
	var task ingest.DetailCrawlTask
	require.NoError(t, json.Unmarshal(msgs[0].Data, &task))
	require.Equal(t, "batch-recrawl", task.JobID)
	require.Zero(t, task.RetryCount)
}
