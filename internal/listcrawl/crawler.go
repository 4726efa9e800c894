// Package listcrawl implements the listing crawler: it paginates the
// remote catalog, upserts overview rows, and fans out detail-crawl tasks.
package listcrawl

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hieutran/bookstore-ingest/internal/bus"
	"github.com/hieutran/bookstore-ingest/internal/ingest"
	"github.com/hieutran/bookstore-ingest/internal/jobs"
	"github.com/hieutran/bookstore-ingest/internal/marketplace"
	"github.com/hieutran/bookstore-ingest/internal/metrics"
)

// Lister is the listing slice of the marketplace client.
type Lister interface {
	ListPage(ctx context.Context, page int) ([]marketplace.ListItem, error)
}

// Config controls crawl bounds and throttling.
type Config struct {
	Source         string
	MaxPages       int
	PageSize       int
	BulkBatchSize  int
	InterPageDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.Source == "" {
		c.Source = "Tiki"
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 3
	}
	if c.PageSize <= 0 {
		c.PageSize = 40
	}
	if c.BulkBatchSize <= 0 {
		c.BulkBatchSize = 100
	}
	if c.InterPageDelay < 0 {
		c.InterPageDelay = 0
	}
}

// Crawler consumes list-crawl tasks and writes catalog overview rows.
type Crawler struct {
	books      ingest.BookStore
	tracker    *jobs.Tracker
	dispatcher *bus.Dispatcher
	lister     Lister
	clock      ingest.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Crawler.
func New(
	books ingest.BookStore,
	tracker *jobs.Tracker,
	dispatcher *bus.Dispatcher,
	lister Lister,
	clock ingest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Crawler {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		books:      books,
		tracker:    tracker,
		dispatcher: dispatcher,
		lister:     lister,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// TriggerCrawl creates a LIST_CRAWL job, publishes the kickoff task, and
// returns the job id without waiting for the crawl.
func (c *Crawler) TriggerCrawl(ctx context.Context) (string, error) {
	jobID, err := c.tracker.Create(ctx, ingest.JobTypeListCrawl)
	if err != nil {
		return "", err
	}
	task := ingest.ListCrawlTask{
		JobID:     jobID,
		Type:      ingest.JobTypeListCrawl,
		Timestamp: c.clock.Now().Format(time.RFC3339),
	}
	if err := c.dispatcher.Publish(ctx, ingest.ChannelListCrawl, task); err != nil {
		return "", err
	}
	c.logger.Info("list crawl triggered", zap.String("job_id", jobID))
	return jobID, nil
}

// Handler adapts Run to the bus handler signature.
func (c *Crawler) Handler() bus.Handler {
	return func(ctx context.Context, data []byte) error {
		var task ingest.ListCrawlTask
		if err := json.Unmarshal(data, &task); err != nil {
			return fmt.Errorf("decode list-crawl task: %w", err)
		}
		if task.Type != "" && task.Type != ingest.JobTypeListCrawl {
			c.logger.Warn("ignoring list-crawl task with unexpected type",
				zap.String("type", string(task.Type)))
			return nil
		}
		return c.Run(ctx, task.JobID)
	}
}

// Run executes the full listing crawl for one job. Per-page failures are
// counted and the loop continues; only an unhandled failure of the run
// itself marks the job FAILED.
func (c *Crawler) Run(ctx context.Context, jobID string) error {
	if err := c.tracker.Start(ctx, jobID); err != nil {
		return err
	}

	var totalBooks, newBooks, updatedBooks, errorCount int
	expectedTotal := c.cfg.MaxPages * c.cfg.PageSize

	for page := 1; page <= c.cfg.MaxPages; page++ {
		c.logger.Info("crawling listing page",
			zap.String("job_id", jobID),
			zap.Int("page", page),
			zap.Int("max_pages", c.cfg.MaxPages),
		)

		items, err := c.lister.ListPage(ctx, page)
		if err != nil {
			c.logger.Error("listing page fetch failed",
				zap.String("job_id", jobID),
				zap.Int("page", page),
				zap.Error(err),
			)
			errorCount++
			continue
		}
		if len(items) == 0 {
			c.logger.Info("listing exhausted", zap.String("job_id", jobID), zap.Int("page", page))
			break
		}

		for start := 0; start < len(items); start += c.cfg.BulkBatchSize {
			end := min(start+c.cfg.BulkBatchSize, len(items))
			batch := items[start:end]

			result, err := c.saveOverviewBatch(ctx, batch)
			if err != nil {
				c.logger.Error("overview batch failed",
					zap.String("job_id", jobID),
					zap.Error(err),
				)
				errorCount += len(batch)
			} else {
				newBooks += result.New
				updatedBooks += result.Updated
			}
			totalBooks += len(batch)

			if err := c.tracker.UpdateProgress(
				ctx, jobID, totalBooks, expectedTotal, newBooks, updatedBooks, errorCount,
			); err != nil {
				c.logger.Warn("progress update failed", zap.String("job_id", jobID), zap.Error(err))
			}

			c.publishDetailTasks(ctx, jobID, batch)
		}

		if c.cfg.InterPageDelay > 0 && page < c.cfg.MaxPages {
			select {
			case <-ctx.Done():
				return c.tracker.Fail(ctx, jobID, ctx.Err().Error())
			case <-time.After(c.cfg.InterPageDelay):
			}
		}
	}

	if err := c.tracker.Complete(ctx, jobID, newBooks, updatedBooks, errorCount); err != nil {
		return err
	}
	c.logger.Info("list crawl completed",
		zap.String("job_id", jobID),
		zap.Int("total", totalBooks),
		zap.Int("new", newBooks),
		zap.Int("updated", updatedBooks),
		zap.Int("errors", errorCount),
	)
	return nil
}

func (c *Crawler) saveOverviewBatch(ctx context.Context, items []marketplace.ListItem) (ingest.BulkUpsertResult, error) {
	overviews := make([]ingest.BookOverview, 0, len(items))
	for _, item := range items {
		original := item.OriginalPrice
		if original == 0 {
			original = item.ListPrice
		}
		sold := 0
		if item.QuantitySold != nil {
			sold = item.QuantitySold.Value
		}
		overviews = append(overviews, ingest.BookOverview{
			ExternalID:       strconv.FormatInt(item.ID, 10),
			Source:           c.cfg.Source,
			Title:            item.Name,
			OriginalPrice:    original,
			PromotionalPrice: item.Price,
			QuantitySold:     sold,
			ImageURL:         item.ThumbnailURL,
		})
	}

	result, err := c.books.BulkUpsert(ctx, overviews, c.clock.Now())
	if err != nil {
		return ingest.BulkUpsertResult{}, fmt.Errorf("bulk upsert overview batch: %w", err)
	}
	metrics.BooksUpserted.WithLabelValues("new").Add(float64(result.New))
	metrics.BooksUpserted.WithLabelValues("updated").Add(float64(result.Updated))
	return result, nil
}

func (c *Crawler) publishDetailTasks(ctx context.Context, jobID string, items []marketplace.ListItem) {
	for _, item := range items {
		task := ingest.DetailCrawlTask{
			ProductID:  item.ID,
			JobID:      jobID,
			Source:     c.cfg.Source,
			Timestamp:  c.clock.Now().Format(time.RFC3339),
			RetryCount: 0,
		}
		if err := c.dispatcher.Publish(ctx, ingest.ChannelDetailCrawl, task); err != nil {
			c.logger.Error("detail task publish failed",
				zap.String("job_id", jobID),
				zap.Int64("product_id", item.ID),
				zap.Error(err),
			)
		}
	}
}
