// Package app wires the long-lived services together from configuration.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hieutran/bookstore-ingest/internal/api"
	"github.com/hieutran/bookstore-ingest/internal/bus"
	busmemory "github.com/hieutran/bookstore-ingest/internal/bus/memory"
	buspubsub "github.com/hieutran/bookstore-ingest/internal/bus/pubsub"
	"github.com/hieutran/bookstore-ingest/internal/clock/system"
	"github.com/hieutran/bookstore-ingest/internal/config"
	"github.com/hieutran/bookstore-ingest/internal/detailcrawl"
	"github.com/hieutran/bookstore-ingest/internal/id/uuid"
	"github.com/hieutran/bookstore-ingest/internal/ingest"
	"github.com/hieutran/bookstore-ingest/internal/jobs"
	"github.com/hieutran/bookstore-ingest/internal/listcrawl"
	"github.com/hieutran/bookstore-ingest/internal/marketplace"
	"github.com/hieutran/bookstore-ingest/internal/pricing"
	storememory "github.com/hieutran/bookstore-ingest/internal/storage/memory"
	"github.com/hieutran/bookstore-ingest/internal/storage/postgres"
)

// App holds the wired services for one process.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Server    *api.Server
	Scheduler *pricing.Scheduler

	// runConsumer blocks consuming the task bus until ctx finishes.
	runConsumer func(ctx context.Context) error
	closers     []func()
}

// New builds the full pipeline from configuration. It fails fast when any
// backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	clk := system.Clock{}
	idGen := uuid.Generator{}

	a := &App{Config: cfg, Logger: logger}

	var (
		jobStore    ingest.JobStore
		bookStore   ingest.BookStore
		authorStore ingest.AuthorStore
		history     ingest.PriceHistoryStore
	)
	switch cfg.Storage.Provider {
	case "postgres":
		pool, err := postgres.Connect(ctx, postgres.PoolConfig{
			DSN:             cfg.Storage.DB.DSN,
			MaxConns:        int32(cfg.Storage.DB.MaxConns),
			MinConns:        int32(cfg.Storage.DB.MinConns),
			MaxConnLifetime: cfg.Storage.DB.ConnLifetime(),
		})
		if err != nil {
			return nil, fmt.Errorf("connect storage: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		jobStore = postgres.NewJobStore(pool)
		bookStore = postgres.NewBookStore(pool)
		authorStore = postgres.NewAuthorStore(pool)
		history = postgres.NewPriceHistoryStore(pool)
		logger.Info("using postgres storage")
	case "memory":
		books := storememory.NewBookStore()
		jobStore = storememory.NewJobStore()
		bookStore = books
		authorStore = storememory.NewAuthorStore()
		history = storememory.NewPriceHistoryStore(books)
		logger.Info("using in-memory storage")
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}

	table := bus.NewHandlerTable()

	var publisher ingest.Publisher
	switch cfg.Bus.Provider {
	case "pubsub":
		pub, err := buspubsub.NewPublisher(ctx, cfg.Bus.ProjectID, logger)
		if err != nil {
			return nil, fmt.Errorf("connect bus: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("close pubsub publisher", zap.Error(err))
			}
		})
		consumer := buspubsub.NewConsumer(pub.Client(), table, logger)
		a.runConsumer = consumer.Run
		publisher = pub
		logger.Info("using pubsub task bus", zap.String("project", cfg.Bus.ProjectID))
	case "memory":
		memBus := busmemory.NewBus(table, 0, logger)
		a.closers = append(a.closers, memBus.Close)
		a.runConsumer = memBus.Run
		publisher = memBus
		logger.Info("using in-memory task bus")
	default:
		return nil, fmt.Errorf("unknown bus provider %q", cfg.Bus.Provider)
	}

	dispatcher := bus.NewDispatcher(publisher, logger)
	tracker := jobs.NewTracker(jobStore, clk, idGen, logger)

	client := marketplace.NewClient(marketplace.Config{
		ListingURL: cfg.Marketplace.ListingURL,
		DetailURL:  cfg.Marketplace.DetailURL,
		Category:   cfg.Marketplace.Category,
		URLKey:     cfg.Marketplace.URLKey,
		Origin:     cfg.Marketplace.Origin,
		PageSize:   cfg.ListCrawl.PageSize,
		Timeout:    cfg.Marketplace.HTTPTimeout(),
		MaxRetries: cfg.Marketplace.MaxRetries,
	}, logger)

	lister := listcrawl.New(bookStore, tracker, dispatcher, client, clk, listcrawl.Config{
		Source:         cfg.ListCrawl.Source,
		MaxPages:       cfg.ListCrawl.MaxPages,
		PageSize:       cfg.ListCrawl.PageSize,
		BulkBatchSize:  cfg.ListCrawl.BulkBatchSize,
		InterPageDelay: cfg.ListCrawl.InterPageDelay(),
	}, logger)

	detailer := detailcrawl.New(bookStore, authorStore, dispatcher, client, clk, detailcrawl.Config{
		Source:           cfg.ListCrawl.Source,
		MaxRetryAttempts: cfg.DetailCrawl.MaxRetryAttempts,
		RetryBaseDelay:   cfg.DetailCrawl.RetryBaseDelay(),
	}, logger)

	priceCrawler := pricing.NewCrawler(dispatcher, client, clk, logger)
	priceConsumer := pricing.NewConsumer(bookStore, history, tracker, clk, logger)

	a.Scheduler = pricing.NewScheduler(bookStore, tracker, dispatcher, clk, pricing.SchedulerConfig{
		BatchSize:       cfg.PriceUpdate.BatchSize,
		InterBatchDelay: cfg.PriceUpdate.InterBatchDelay(),
		CronSpec:        cfg.PriceUpdate.CronSpec,
	}, logger)

	for channel, handler := range map[string]bus.Handler{
		ingest.ChannelListCrawl:   lister.Handler(),
		ingest.ChannelDetailCrawl: detailer.Handler(),
		ingest.ChannelPriceCrawl:  priceCrawler.Handler(),
		ingest.ChannelPriceResult: priceConsumer.Handler(),
	} {
		if err := table.Register(channel, handler); err != nil {
			return nil, fmt.Errorf("register handler: %w", err)
		}
	}

	a.Server = api.NewServer(tracker, lister, detailer, a.Scheduler, history, logger)
	return a, nil
}

// RunConsumer blocks consuming the task bus until the context finishes.
func (a *App) RunConsumer(ctx context.Context) error {
	return a.runConsumer(ctx)
}

// Close tears the services down in reverse construction order.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.StopCron()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.Logger.Sync()
}
