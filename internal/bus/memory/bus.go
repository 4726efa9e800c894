// Package memory contains in-process bus implementations for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hieutran/bookstore-ingest/internal/bus"
)

// PublishedMessage captures one publish call for inspection.
type PublishedMessage struct {
	Channel string
	Data    []byte
}

// Publisher stores published payloads for inspection in tests.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// NewPublisher returns a recording Publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo id.
func (p *Publisher) Publish(_ context.Context, channel string, data []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	p.messages = append(p.messages, PublishedMessage{Channel: channel, Data: cp})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// MessagesOn returns the recorded publishes for one channel.
func (p *Publisher) MessagesOn(channel string) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []PublishedMessage
	for _, m := range p.messages {
		if m.Channel == channel {
			out = append(out, m)
		}
	}
	return out
}

// Bus is a channel-backed transport wiring publishers straight to the
// handler table. It gives the full pipeline locally with at-least-once,
// unordered semantics close enough to the real bus for development.
type Bus struct {
	table  *bus.HandlerTable
	logger *zap.Logger
	ch     chan PublishedMessage

	closeOnce sync.Once
	done      chan struct{}
}

// NewBus constructs a Bus with a bounded queue.
func NewBus(table *bus.HandlerTable, depth int, logger *zap.Logger) *Bus {
	if depth <= 0 {
		depth = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		table:  table,
		logger: logger,
		ch:     make(chan PublishedMessage, depth),
		done:   make(chan struct{}),
	}
}

// Publish enqueues the message for the consumer loop.
func (b *Bus) Publish(ctx context.Context, channel string, data []byte) (string, error) {
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("publish canceled: %w", ctx.Err())
	case <-b.done:
		return "", fmt.Errorf("bus closed")
	case b.ch <- PublishedMessage{Channel: channel, Data: cp}:
		return "memory", nil
	}
}

// Run consumes queued messages until the context finishes.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.ch:
			handler, ok := b.table.Get(msg.Channel)
			if !ok {
				b.logger.Warn("no handler for channel", zap.String("channel", msg.Channel))
				continue
			}
			if err := handler(ctx, msg.Data); err != nil {
				b.logger.Error("message handler failed",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
			}
		}
	}
}

// Close rejects further publishes.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}
