// Package pricing implements the price pipeline: the crawler producing
// result messages, the consumer applying them transactionally, and the
// scheduler fanning out crawl tasks.
package pricing

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
)

// PriceFetcher is the price slice of the marketplace client.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, productID int64) (marketplace.PriceQuote, error)
}

// Crawler consumes price-crawl tasks and emits result messages. It never
// writes to the catalog store: fetch latency stays decoupled from write
// consistency.
type Crawler struct {
	dispatcher *bus.Dispatcher
	fetcher    PriceFetcher
	clock      ingest.Clock
	logger     *zap.Logger
}

// NewCrawler constructs a Crawler.
func NewCrawler(dispatcher *bus.Dispatcher, fetcher PriceFetcher, clock ingest.Clock, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{dispatcher: dispatcher, fetcher: fetcher, clock: clock, logger: logger}
}

// Handler adapts CrawlPrice to the bus handler signature.
func (c *Crawler) Handler() bus.Handler {
	return func(ctx context.Context, data []byte) error {
		var task ingest.PriceCrawlTask
		if err := json.Unmarshal(data, &task); err != nil {
			return fmt.Errorf("decode price-crawl task: %w", err)
		}
		return c.CrawlPrice(ctx, task)
	}
}

// CrawlPrice fetches the current price for one item and publishes either a
// SUCCESS or a FAILED result message.
func (c *Crawler) CrawlPrice(ctx context.Context, task ingest.PriceCrawlTask) error {
	productID, err := strconv.ParseInt(task.ExternalID, 10, 64)
	if err != nil {
		return c.publishResult(ctx, task, 0, 0, ingest.PriceStatusFailed,
			fmt.Sprintf("invalid externalId: %s", task.ExternalID))
	}

	quote, err := c.fetcher.FetchPrice(ctx, productID)
	if err != nil {
		c.logger.Warn("price fetch failed",
			zap.String("job_id", task.JobID),
			zap.String("book_id", task.BookID),
			zap.Error(err),
		)
		return c.publishResult(ctx, task, 0, 0, ingest.PriceStatusFailed, err.Error())
	}

	c.logger.Debug("price crawled",
		zap.String("job_id", task.JobID),
		zap.String("book_id", task.BookID),
		zap.Float64("price", quote.PromotionalPrice),
	)
	return c.publishResult(ctx, task, quote.PromotionalPrice, quote.OriginalPrice, ingest.PriceStatusSuccess, "")
}

func (c *Crawler) publishResult(
	ctx context.Context,
	task ingest.PriceCrawlTask,
	newPrice, originalPrice float64,
	status ingest.PriceStatus,
	errorMessage string,
) error {
	msg := ingest.PriceResultMessage{
		BookID:        task.BookID,
		ExternalID:    task.ExternalID,
		Source:        task.Source,
		JobID:         task.JobID,
		NewPrice:      newPrice,
		OriginalPrice: originalPrice,
		Status:        status,
		ErrorMessage:  errorMessage,
		Timestamp:     c.clock.Now().Format(time.RFC3339),
	}
	if err := c.dispatcher.Publish(ctx, ingest.ChannelPriceResult, msg); err != nil {
		return fmt.Errorf("publish price result for book %s: %w", task.BookID, err)
	}
	return nil
}
