package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hieutran/bookstore-ingest/internal/bus"
	"github.com/hieutran/bookstore-ingest/internal/ingest"
	"github.com/hieutran/bookstore-ingest/internal/jobs"
	"github.com/hieutran/bookstore-ingest/internal/metrics"
)

// Consumer applies price-crawl results. The SUCCESS path is a single
// transaction over the catalog price write and the history append; the
// FAILED path is one snapshot insert.
type Consumer struct {
	books   ingest.BookStore
	history ingest.PriceHistoryStore
	tracker *jobs.Tracker
	clock   ingest.Clock
	logger  *zap.Logger
}

// NewConsumer constructs a Consumer.
func NewConsumer(
	books ingest.BookStore,
	history ingest.PriceHistoryStore,
	tracker *jobs.Tracker,
	clock ingest.Clock,
	logger *zap.Logger,
) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{books: books, history: history, tracker: tracker, clock: clock, logger: logger}
}

// Handler adapts Process to the bus handler signature.
func (c *Consumer) Handler() bus.Handler {
	return func(ctx context.Context, data []byte) error {
		var msg ingest.PriceResultMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decode price result: %w", err)
		}
		return c.Process(ctx, msg)
	}
}

// Process branches on the result status and bumps job progress afterwards.
func (c *Consumer) Process(ctx context.Context, msg ingest.PriceResultMessage) error {
	var err error
	switch msg.Status {
	case ingest.PriceStatusSuccess:
		err = c.applySuccess(ctx, msg)
	case ingest.PriceStatusFailed:
		err = c.recordFailure(ctx, msg)
	default:
		return fmt.Errorf("unknown price result status %q for book %s", msg.Status, msg.BookID)
	}
	if err != nil {
		return err
	}

	c.recordProgress(ctx, msg)
	return nil
}

func (c *Consumer) applySuccess(ctx context.Context, msg ingest.PriceResultMessage) error {
	upd := ingest.PriceUpdate{
		BookID:           msg.BookID,
		ExternalID:       msg.ExternalID,
		Source:           msg.Source,
		JobID:            msg.JobID,
		PromotionalPrice: msg.NewPrice,
		OriginalPrice:    msg.OriginalPrice,
		RecordedAt:       c.clock.Now(),
	}
	if err := c.history.ApplyPriceUpdate(ctx, upd); err != nil {
		metrics.PriceUpdates.WithLabelValues("error").Inc()
		return fmt.Errorf("apply price update for book %s: %w", msg.BookID, err)
	}
	metrics.PriceUpdates.WithLabelValues("success").Inc()
	c.logger.Debug("price update applied",
		zap.String("job_id", msg.JobID),
		zap.String("book_id", msg.BookID),
		zap.Float64("price", msg.NewPrice),
	)
	return nil
}

// recordFailure inserts one FAILED history row carrying the current stored
// prices as a snapshot. The catalog row is left untouched.
func (c *Consumer) recordFailure(ctx context.Context, msg ingest.PriceResultMessage) error {
	prices, err := c.books.GetPrices(ctx, msg.BookID)
	if err != nil {
		if errors.Is(err, ingest.ErrNotFound) {
			c.logger.Warn("book not found for failed price record",
				zap.String("job_id", msg.JobID),
				zap.String("book_id", msg.BookID),
			)
			return nil
		}
		return fmt.Errorf("load prices for book %s: %w", msg.BookID, err)
	}

	rec := ingest.PriceRecord{
		BookID:           msg.BookID,
		ExternalID:       msg.ExternalID,
		Source:           msg.Source,
		OriginalPrice:    prices.OriginalPrice,
		PromotionalPrice: prices.PromotionalPrice,
		RecordedAt:       c.clock.Now(),
		JobID:            msg.JobID,
		Status:           ingest.PriceStatusFailed,
		ErrorMessage:     msg.ErrorMessage,
	}
	if err := c.history.Insert(ctx, rec); err != nil {
		return fmt.Errorf("insert failed price record for book %s: %w", msg.BookID, err)
	}
	metrics.PriceUpdates.WithLabelValues("failed").Inc()
	c.logger.Warn("failed price update recorded",
		zap.String("job_id", msg.JobID),
		zap.String("book_id", msg.BookID),
		zap.String("error", msg.ErrorMessage),
	)
	return nil
}

// recordProgress bumps the owning job's counters. Manual fan-outs carry a
// synthetic job tag rather than a job record, so an invalid id is not an
// error here.
func (c *Consumer) recordProgress(ctx context.Context, msg ingest.PriceResultMessage) {
	err := c.tracker.RecordItemResult(ctx, msg.JobID, msg.Status == ingest.PriceStatusSuccess)
	if err == nil || errors.Is(err, ingest.ErrInvalidID) || errors.Is(err, ingest.ErrNotFound) {
		return
	}
	c.logger.Warn("job progress update failed",
		zap.String("job_id", msg.JobID),
		zap.Error(err),
	)
}
