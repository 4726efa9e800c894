// Package pubsub implements the task bus over Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/hieutran/bookstore-ingest/internal/bus"
	"github.com/hieutran/bookstore-ingest/internal/metrics"
)

// Publisher sends channel messages to Pub/Sub topics. Channel names map
// one-to-one onto topic ids.
type Publisher struct {
	client *pubsub.Client
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPublisher creates a Pub/Sub client for the project. It authenticates
// via Application Default Credentials.
func NewPublisher(ctx context.Context, projectID string, logger *zap.Logger) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client: client,
		logger: logger,
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

// Publish sends the payload to the topic named after the channel and waits
// for the server ack so failures surface to the caller.
func (p *Publisher) Publish(ctx context.Context, channel string, data []byte) (string, error) {
	topic := p.topic(channel)
	result := topic.Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to topic %s: %w", channel, err)
	}
	return id, nil
}

func (p *Publisher) topic(channel string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[channel]; ok {
		return t
	}
	t := p.client.Topic(channel)
	p.topics[channel] = t
	return t
}

// Client exposes the underlying client so a Consumer can share it.
func (p *Publisher) Client() *pubsub.Client {
	return p.client
}

// Close stops all topic publishers and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// Consumer runs one Receive loop per registered channel. Subscription ids
// default to "<channel>-workers"; all instances of a stage share the
// subscription, giving consumer-group fan-out.
type Consumer struct {
	client *pubsub.Client
	table  *bus.HandlerTable
	logger *zap.Logger
}

// NewConsumer constructs a Consumer over an existing client.
func NewConsumer(client *pubsub.Client, table *bus.HandlerTable, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{client: client, table: table, logger: logger}
}

// Run blocks until the context finishes, consuming every registered channel.
func (c *Consumer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(c.table.Channels()))
	for _, channel := range c.table.Channels() {
		handler, _ := c.table.Get(channel)
		sub := c.client.Subscription(channel + "-workers")
		wg.Add(1)
		go func(channel string, handler bus.Handler) {
			defer wg.Done()
			err := sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
				c.handle(ctx, channel, handler, msg.Data)
				// Always ack: consumers are idempotent and a handler
				// error must not wedge the subscription.
				msg.Ack()
			})
			if err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("receive on %s: %w", channel, err)
			}
		}(channel, handler)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		return err
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, channel string, handler bus.Handler, data []byte) {
	metrics.MessagesConsumed.WithLabelValues(channel).Inc()
	if err := handler(ctx, data); err != nil {
		metrics.HandlerFailures.WithLabelValues(channel).Inc()
		c.logger.Error("message handler failed",
			zap.String("channel", channel),
			zap.Error(err),
		)
	}
}
