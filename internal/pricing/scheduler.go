package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hieutran/bookstore-ingest/internal/bus"
	"github.com/hieutran/bookstore-ingest/internal/ingest"
	"github.com/hieutran/bookstore-ingest/internal/jobs"
)

// SchedulerConfig controls fan-out batching and the recurring trigger.
type SchedulerConfig struct {
	BatchSize       int
	InterBatchDelay time.Duration
	// CronSpec is the recurring trigger schedule; empty disables it.
	CronSpec string
}

func (c *SchedulerConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.InterBatchDelay < 0 {
		c.InterBatchDelay = 0
	}
}

// Scheduler streams eligible catalog rows and emits price-crawl tasks in
// bounded batches. It never completes the job itself: completion is driven
// by the update consumer reaching terminal states per item.
type Scheduler struct {
	books      ingest.BookStore
	tracker    *jobs.Tracker
	dispatcher *bus.Dispatcher
	clock      ingest.Clock
	cfg        SchedulerConfig
	logger     *zap.Logger
	cron       *cron.Cron

	// background tracks the async fan-out goroutine so tests and
	// shutdown can wait for it.
	background sync.WaitGroup
}

// NewScheduler constructs a Scheduler.
func NewScheduler(
	books ingest.BookStore,
	tracker *jobs.Tracker,
	dispatcher *bus.Dispatcher,
	clock ingest.Clock,
	cfg SchedulerConfig,
	logger *zap.Logger,
) *Scheduler {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		books:      books,
		tracker:    tracker,
		dispatcher: dispatcher,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// StartCron registers the recurring trigger and starts the cron runner.
func (s *Scheduler) StartCron(ctx context.Context) error {
	if s.cfg.CronSpec == "" {
		return nil
	}
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.CronSpec, func() {
		s.logger.Info("scheduled price update triggered")
		if _, _, err := s.TriggerPriceUpdate(ctx); err != nil {
			s.logger.Error("scheduled price update failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("register price update cron %q: %w", s.cfg.CronSpec, err)
	}
	s.cron.Start()
	return nil
}

// StopCron stops the cron runner and waits for the in-flight fan-out.
func (s *Scheduler) StopCron() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.background.Wait()
}

// TriggerPriceUpdate creates a PRICE_UPDATE job and kicks off the fan-out
// in the background. It returns the job id and the eligible row count.
func (s *Scheduler) TriggerPriceUpdate(ctx context.Context) (string, int, error) {
	jobID, err := s.tracker.Create(ctx, ingest.JobTypePriceUpdate)
	if err != nil {
		return "", 0, err
	}

	if err := s.tracker.Start(ctx, jobID); err != nil {
		return "", 0, err
	}

	total, err := s.books.CountEligible(ctx)
	if err != nil {
		failErr := s.tracker.Fail(ctx, jobID, err.Error())
		if failErr != nil {
			s.logger.Error("fail job after count error", zap.String("job_id", jobID), zap.Error(failErr))
		}
		return "", 0, fmt.Errorf("count eligible books: %w", err)
	}
	s.logger.Info("price update triggered",
		zap.String("job_id", jobID),
		zap.Int("total_books", total),
	)

	if total == 0 {
		if err := s.tracker.Complete(ctx, jobID, 0, 0, 0); err != nil {
			return "", 0, err
		}
		return jobID, 0, nil
	}

	// The total must be on the row before the first task goes out, or an
	// early result cannot tell whether it was the last one.
	if err := s.tracker.UpdateEmission(ctx, jobID, 0, total); err != nil {
		failErr := s.tracker.Fail(ctx, jobID, err.Error())
		if failErr != nil {
			s.logger.Error("fail job after total update error", zap.String("job_id", jobID), zap.Error(failErr))
		}
		return "", 0, fmt.Errorf("record expected total: %w", err)
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		// Detached from the request context: the fan-out outlives the
		// trigger call.
		runCtx := context.WithoutCancel(ctx)
		if err := s.fanOut(runCtx, jobID, total); err != nil {
			s.logger.Error("price update fan-out failed",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
			if failErr := s.tracker.Fail(runCtx, jobID, err.Error()); failErr != nil {
				s.logger.Error("fail job after fan-out error",
					zap.String("job_id", jobID), zap.Error(failErr))
			}
		}
	}()

	return jobID, total, nil
}

// fanOut streams eligible rows through a fixed-size buffer, flushing each
// full buffer as one parallel publish batch with an inter-batch delay.
func (s *Scheduler) fanOut(ctx context.Context, jobID string, total int) error {
	processed := 0
	buffer := make([]ingest.BookRef, 0, s.cfg.BatchSize)

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		s.publishBatch(ctx, jobID, buffer)
		processed += len(buffer)
		buffer = buffer[:0]
		// Emission progress only: the outcome counters belong to the
		// result consumer and must survive this update.
		if err := s.tracker.UpdateEmission(ctx, jobID, processed, total); err != nil {
			s.logger.Warn("progress update failed", zap.String("job_id", jobID), zap.Error(err))
		}
		s.logger.Debug("price batch emitted",
			zap.String("job_id", jobID),
			zap.Int("processed", processed),
			zap.Int("total", total),
		)
		return nil
	}

	err := s.books.StreamEligible(ctx, func(ref ingest.BookRef) error {
		buffer = append(buffer, ref)
		if len(buffer) < s.cfg.BatchSize {
			return nil
		}
		if err := flush(); err != nil {
			return err
		}
		if s.cfg.InterBatchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.InterBatchDelay):
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("stream eligible books: %w", err)
	}
	if err := flush(); err != nil {
		return err
	}

	s.logger.Info("price update fan-out done",
		zap.String("job_id", jobID),
		zap.Int("emitted", processed),
	)
	return nil
}

// publishBatch fans the batch out in parallel. Publish failures are logged
// and skipped; the bus owns redelivery, not the scheduler.
func (s *Scheduler) publishBatch(ctx context.Context, jobID string, refs []ingest.BookRef) {
	var wg sync.WaitGroup
	for _, ref := range refs {
		wg.Add(1)
		go func(ref ingest.BookRef) {
			defer wg.Done()
			task := ingest.PriceCrawlTask{
				BookID:     ref.ID,
				ExternalID: ref.ExternalID,
				Source:     ref.Source,
				JobID:      jobID,
				Timestamp:  s.clock.Now().Format(time.RFC3339),
				RetryCount: 0,
			}
			if err := s.dispatcher.Publish(ctx, ingest.ChannelPriceCrawl, task); err != nil {
				s.logger.Error("price task publish failed",
					zap.String("job_id", jobID),
					zap.String("book_id", ref.ID),
					zap.Error(err),
				)
			}
		}(ref)
	}
	wg.Wait()
}

// UpdatePricesForBooks fans out price-crawl tasks for an explicit id list,
// used for targeted re-pricing. The synthetic job tag is not a job record.
func (s *Scheduler) UpdatePricesForBooks(ctx context.Context, bookIDs []string) (int, error) {
	if len(bookIDs) == 0 {
		return 0, fmt.Errorf("book ids are required")
	}
	refs, err := s.books.FindRefsByIDs(ctx, bookIDs)
	if err != nil {
		return 0, fmt.Errorf("resolve books for manual price update: %w", err)
	}
	if len(refs) == 0 {
		s.logger.Warn("no valid books found for manual price update")
		return 0, nil
	}
	jobID := fmt.Sprintf("manual-%d", s.clock.Now().Unix())
	s.publishBatch(ctx, jobID, refs)
	s.logger.Info("manual price update emitted",
		zap.String("job_tag", jobID),
		zap.Int("books", len(refs)),
	)
	return len(refs), nil
}

// Wait blocks until background fan-outs finish. Test helper.
func (s *Scheduler) Wait() {
	s.background.Wait()
}
