// Package detailcrawl implements the per-item detail crawler, including
// the scheduled retry path and the batch repair sweep.
package detailcrawl

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hieutran/bookstore-ingest/internal/bus"
	"github.com/hieutran/bookstore-ingest/internal/ingest"
	"github.com/hieutran/bookstore-ingest/internal/marketplace"
	"github.com/hieutran/bookstore-ingest/internal/metrics"
)

// DetailFetcher is the detail slice of the marketplace client.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, productID int64) (*marketplace.Detail, error)
}

// Config controls retry bounds.
type Config struct {
	Source string
	// MaxRetryAttempts bounds the scheduled re-publish retries. Once
	// retryCount reaches it, the row is marked permanently failed.
	MaxRetryAttempts int
	// RetryBaseDelay scales linearly with the retry number.
	RetryBaseDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.Source == "" {
		c.Source = "Tiki"
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 5 * time.Second
	}
}

// Crawler consumes detail-crawl tasks and enriches catalog rows.
type Crawler struct {
	books      ingest.BookStore
	authors    ingest.AuthorStore
	dispatcher *bus.Dispatcher
	fetcher    DetailFetcher
	clock      ingest.Clock
	cfg        Config
	logger     *zap.Logger

	// schedule defers a retry re-publish. The default in-process timer
	// does not survive restarts; a delay-capable queue would close that
	// gap without changing this seam.
	schedule func(d time.Duration, fn func())
}

// New constructs a Crawler.
func New(
	books ingest.BookStore,
	authors ingest.AuthorStore,
	dispatcher *bus.Dispatcher,
	fetcher DetailFetcher,
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
		authors:    authors,
		dispatcher: dispatcher,
		fetcher:    fetcher,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
}

// Handler adapts Run to the bus handler signature.
func (c *Crawler) Handler() bus.Handler {
	return func(ctx context.Context, data []byte) error {
		var task ingest.DetailCrawlTask
		if err := json.Unmarshal(data, &task); err != nil {
			return fmt.Errorf("decode detail-crawl task: %w", err)
		}
		return c.Run(ctx, task)
	}
}

// Run executes one detail crawl attempt. On success the catalog row is
// enriched and leaves the needs-crawl state; on failure the attempt is
// recorded and either a delayed retry is scheduled or the row is marked
// permanently failed.
func (c *Crawler) Run(ctx context.Context, task ingest.DetailCrawlTask) error {
	externalID := strconv.FormatInt(task.ProductID, 10)
	c.logger.Debug("detail crawl started",
		zap.String("job_id", task.JobID),
		zap.Int64("product_id", task.ProductID),
		zap.Int("retry_count", task.RetryCount),
	)

	detail, err := c.fetcher.FetchDetail(ctx, task.ProductID)
	if err != nil {
		return c.handleFailure(ctx, task, externalID, err.Error())
	}
	if detail == nil || detail.ID == 0 {
		return c.handleFailure(ctx, task, externalID, "no detail data returned")
	}

	authorIDs := c.resolveAuthors(ctx, task.JobID, detail.Authors)

	upd := ingest.BookDetailUpdate{
		Description:      detail.Description,
		OriginalPrice:    detail.OriginalPrice,
		PromotionalPrice: detail.PromotionalPrice,
		QuantitySold:     detail.QuantitySold,
		ImageURL:         detail.ThumbnailURL,
		AuthorIDs:        authorIDs,
		CrawledAt:        c.clock.Now(),
	}
	if err := c.books.UpdateDetails(ctx, externalID, task.Source, upd); err != nil {
		return c.handleFailure(ctx, task, externalID, err.Error())
	}

	metrics.DetailCrawls.WithLabelValues("success").Inc()
	c.logger.Debug("detail crawl succeeded",
		zap.String("job_id", task.JobID),
		zap.Int64("product_id", task.ProductID),
		zap.Int("authors", len(authorIDs)),
	)
	return nil
}

// resolveAuthors finds or creates contributor rows. Individual author
// failures are logged and skipped; they never abort the crawl.
func (c *Crawler) resolveAuthors(ctx context.Context, jobID string, authors []marketplace.AuthorData) []string {
	ids := make([]string, 0, len(authors))
	for _, a := range authors {
		if a.ID == 0 || a.Name == "" {
			continue
		}
		id, err := c.authors.FindOrCreate(ctx, ingest.Author{
			ExternalID: strconv.FormatInt(a.ID, 10),
			Source:     c.cfg.Source,
			Name:       a.Name,
			Slug:       a.Slug,
			CreatedAt:  c.clock.Now(),
		})
		if err != nil {
			c.logger.Error("author find-or-create failed",
				zap.String("job_id", jobID),
				zap.String("author", a.Name),
				zap.Error(err),
			)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (c *Crawler) handleFailure(ctx context.Context, task ingest.DetailCrawlTask, externalID, errorMessage string) error {
	if err := c.books.MarkDetailCrawlFailure(ctx, externalID, task.Source, errorMessage, c.clock.Now()); err != nil {
		return fmt.Errorf("record detail crawl failure for %s: %w", externalID, err)
	}

	nextRetry := task.RetryCount + 1
	if nextRetry < c.cfg.MaxRetryAttempts {
		metrics.DetailCrawls.WithLabelValues("retry").Inc()
		c.logger.Warn("detail crawl failed, scheduling retry",
			zap.String("job_id", task.JobID),
			zap.Int64("product_id", task.ProductID),
			zap.Int("retry", nextRetry),
			zap.Int("max_retries", c.cfg.MaxRetryAttempts),
			zap.String("error", errorMessage),
		)
		c.scheduleRetry(task, nextRetry)
		return nil
	}

	metrics.DetailCrawls.WithLabelValues("permanent_failure").Inc()
	c.logger.Error("detail crawl permanently failed",
		zap.String("job_id", task.JobID),
		zap.Int64("product_id", task.ProductID),
		zap.Int("attempts", c.cfg.MaxRetryAttempts),
	)
	if err := c.books.MarkPermanentlyFailed(ctx, externalID, task.Source); err != nil {
		return fmt.Errorf("mark %s permanently failed: %w", externalID, err)
	}
	return nil
}

// scheduleRetry re-publishes the task after a linear backoff so no
// consumer sits blocked waiting out the delay.
func (c *Crawler) scheduleRetry(task ingest.DetailCrawlTask, nextRetry int) {
	retry := ingest.DetailCrawlTask{
		ProductID:  task.ProductID,
		JobID:      task.JobID,
		Source:     task.Source,
		Timestamp:  c.clock.Now().Format(time.RFC3339),
		RetryCount: nextRetry,
	}
	delay := c.cfg.RetryBaseDelay * time.Duration(nextRetry)
	c.schedule(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.dispatcher.Publish(ctx, ingest.ChannelDetailCrawl, retry); err != nil {
			c.logger.Error("retry publish failed",
				zap.String("job_id", retry.JobID),
				zap.Int64("product_id", retry.ProductID),
				zap.Error(err),
			)
		}
	})
}

// RecrawlMissing re-queues up to limit rows that still need a detail crawl,
// are under the attempt ceiling, and are not permanently failed. This is an
// operational repair sweep, not part of the steady-state pipeline.
func (c *Crawler) RecrawlMissing(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	refs, err := c.books.ListNeedingDetailCrawl(ctx, limit, c.cfg.MaxRetryAttempts)
	if err != nil {
		return 0, fmt.Errorf("list rows needing detail crawl: %w", err)
	}
	c.logger.Info("recrawl sweep", zap.Int("candidates", len(refs)))

	emitted := 0
	for _, ref := range refs {
		productID, err := strconv.ParseInt(ref.ExternalID, 10, 64)
		if err != nil {
			c.logger.Warn("skipping row with unusable external id",
				zap.String("external_id", ref.ExternalID))
			continue
		}
		task := ingest.DetailCrawlTask{
			ProductID:  productID,
			JobID:      "batch-recrawl",
			Source:     ref.Source,
			Timestamp:  c.clock.Now().Format(time.RFC3339),
			RetryCount: 0,
		}
		if err := c.dispatcher.Publish(ctx, ingest.ChannelDetailCrawl, task); err != nil {
			c.logger.Error("recrawl publish failed",
				zap.String("external_id", ref.ExternalID),
				zap.Error(err),
			)
			continue
		}
		emitted++
	}
	return emitted, nil
}
