// Package bus provides the task dispatch and consumption layer over a
// durable pub/sub transport.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/hieutran/bookstore-ingest/internal/ingest"
	"github.com/hieutran/bookstore-ingest/internal/metrics"
)

// Dispatcher is a thin wrapper publishing typed task messages onto named
// channels. It performs exactly one publish call per invocation; failures
// surface synchronously and the caller decides what to do with them.
type Dispatcher struct {
	publisher ingest.Publisher
	logger    *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(publisher ingest.Publisher, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{publisher: publisher, logger: logger}
}

// Publish marshals the payload to JSON and sends it on the channel.
func (d *Dispatcher) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", channel, err)
	}
	id, err := d.publisher.Publish(ctx, channel, data)
	if err != nil {
		metrics.PublishFailures.WithLabelValues(channel).Inc()
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	metrics.MessagesPublished.WithLabelValues(channel).Inc()
	d.logger.Debug("message published",
		zap.String("channel", channel),
		zap.String("message_id", id),
	)
	return nil
}
