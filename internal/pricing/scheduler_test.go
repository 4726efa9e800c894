package pricing

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
	"github.com/hieutran/bookstore-ingest/internal/jobs"
	storememory "github.com/hieutran/bookstore-ingest/internal/storage/memory"
)

type schedulerFixture struct {
	scheduler *Scheduler
	books     *storememory.BookStore
	tracker   *jobs.Tracker
	publisher *busmemory.Publisher
}

func newSchedulerFixture(t *testing.T, books ingest.BookStore, cfg SchedulerConfig) schedulerFixture {
	t.Helper()
	mem, _ := books.(*storememory.BookStore)
	if books == nil {
		mem = storememory.NewBookStore()
		books = mem
	}
	publisher := busmemory.NewPublisher()
	clock := fixedClock{now: time.Unix(1700000000, 0).UTC()}
	tracker := jobs.NewTracker(storememory.NewJobStore(), clock, &seqIDGen{}, zap.NewNop())
	dispatcher := bus.NewDispatcher(publisher, zap.NewNop())
	scheduler := NewScheduler(books, tracker, dispatcher, clock, cfg, zap.NewNop())
	return schedulerFixture{scheduler: scheduler, books: mem, tracker: tracker, publisher: publisher}
}

func seedCatalog(t *testing.T, books *storememory.BookStore, n int) {
	t.Helper()
	overviews := make([]ingest.BookOverview, 0, n)
	for i := range n {
		overviews = append(overviews, ingest.BookOverview{
			ExternalID:       string(rune('a' + i)),
			Source:           "Tiki",
			Title:            "Seed",
			OriginalPrice:    100000,
			PromotionalPrice: 90000,
		})
	}
	_, err := books.BulkUpsert(context.Background(), overviews, time.Unix(1700000000, 0).UTC())
	require.NoError(t, err)
}

func TestTriggerPriceUpdateEmptyCatalogCompletesImmediately(t *testing.T) {
	t.Parallel()

	f := newSchedulerFixture(t, nil, SchedulerConfig{BatchSize: 10})
	ctx := context.Background()

	jobID, total, err := f.scheduler.TriggerPriceUpdate(ctx)
	require.NoError(t, err)
	require.Zero(t, total)

	job, err := f.tracker.Get(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, ingest.JobStatusCompleted, job.Status)
	require.Empty(t, f.publisher.Messages())
}

func TestTriggerPriceUpdateFansOutAllEligibleRows(t *testing.T) {
	t.Parallel()

	f := newSchedulerFixture(t, nil, SchedulerConfig{BatchSize: 2})
	ctx := context.Background()
	seedCatalog(t, f.books, 5)

	jobID, total, err := f.scheduler.TriggerPriceUpdate(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, total)

	f.scheduler.Wait()

	msgs := f.publisher.MessagesOn(ingest.ChannelPriceCrawl)
	require.Len(t, msgs, 5)

	seen := make(map[string]bool)
	for _, m := range msgs {
		var task ingest.PriceCrawlTask
		require.NoError(t, json.Unmarshal(m.Data, &task))
		require.Equal(t, jobID, task.JobID)
		require.NotEmpty(t, task.BookID)
		require.Equal(t, "Tiki", task.Source)
		seen[task.ExternalID] = true
	}
	require.Len(t, seen, 5)

	// Completion belongs to the result consumer; the fan-out only reports
	// emission progress.
	job, err := f.tracker.Get(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, ingest.JobStatusProcessing, job.Status)
	require.Equal(t, 5, job.Counters.Crawled)
	require.Equal(t, 5, job.Counters.Total)
}

func TestFanOutResultsCompleteJob(t *testing.T) {
	t.Parallel()

	f := newSchedulerFixture(t, nil, SchedulerConfig{BatchSize: 2})
	ctx := context.Background()
	seedCatalog(t, f.books, 3)

	history := storememory.NewPriceHistoryStore(f.books)
	clock := fixedClock{now: time.Unix(1700000000, 0).UTC()}
	consumer := NewConsumer(f.books, history, f.tracker, clock, zap.NewNop())

	jobID, total, err := f.scheduler.TriggerPriceUpdate(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	f.scheduler.Wait()

	// Every emitted task reports a result; the last one completes the job
	// even though the scheduler already wrote its final emission progress.
	for _, m := range f.publisher.MessagesOn(ingest.ChannelPriceCrawl) {
		var task ingest.PriceCrawlTask
		require.NoError(t, json.Unmarshal(m.Data, &task))
		require.NoError(t, consumer.Process(ctx, ingest.PriceResultMessage{
			BookID:        task.BookID,
			ExternalID:    task.ExternalID,
			Source:        task.Source,
			JobID:         task.JobID,
			NewPrice:      95000,
			OriginalPrice: 120000,
			Status:        ingest.PriceStatusSuccess,
		}))
	}

	job, err := f.tracker.Get(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, ingest.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.Counters.NewBooks)
	require.Equal(t, 0, job.Counters.Errors)
	require.Equal(t, 100, job.Counters.Percent)
}

type countFailingBooks struct {
	ingest.BookStore
}

func (countFailingBooks) CountEligible(context.Context) (int, error) {
	return 0, errors.New("catalog unavailable")
}

func TestTriggerPriceUpdateFailsJobOnCountError(t *testing.T) {
	t.Parallel()

	f := newSchedulerFixture(t, countFailingBooks{BookStore: storememory.NewBookStore()}, SchedulerConfig{})
	ctx := context.Background()

	_, _, err := f.scheduler.TriggerPriceUpdate(ctx)
	require.Error(t, err)

	listed, err := f.tracker.List(ctx, ingest.JobFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, ingest.JobStatusFailed, listed[0].Status)
	require.Equal(t, "catalog unavailable", listed[0].ErrorMessage)
}

func TestUpdatePricesForBooksUsesManualTag(t *testing.T) {
	t.Parallel()

	f := newSchedulerFixture(t, nil, SchedulerConfig{})
	ctx := context.Background()
	seedCatalog(t, f.books, 2)

	var ids []string
	err := f.books.StreamEligible(ctx, func(ref ingest.BookRef) error {
		ids = append(ids, ref.ID)
		return nil
	})
	require.NoError(t, err)

	count, err := f.scheduler.UpdatePricesForBooks(ctx, append(ids, "unknown-id"))
	require.NoError(t, err)
	require.Equal(t, 2, count)

	msgs := f.publisher.MessagesOn(ingest.ChannelPriceCrawl)
	require.Len(t, msgs, 2)
	var task ingest.PriceCrawlTask
	require.NoError(t, json.Unmarshal(msgs[0].Data, &task))
	require.Equal(t, "manual-1700000000", task.JobID)
}

func TestUpdatePricesForBooksRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	f := newSchedulerFixture(t, nil, SchedulerConfig{})

	_, err := f.scheduler.UpdatePricesForBooks(context.Background(), nil)
	require.Error(t, err)

	count, err := f.scheduler.UpdatePricesForBooks(context.Background(), []string{"unknown"})
	require.NoError(t, err)
	require.Zero(t, count)
	require.Empty(t, f.publisher.Messages())
}
