package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler processes one raw message from a channel. A non-nil error is
// logged by the driver; the message is still acked, since redelivery is
// the bus's responsibility and consumers are idempotent.
type Handler func(ctx context.Context, data []byte) error

// HandlerTable maps channel names to handlers. Each channel has exactly one
// handler, registered at process start; dispatch is a plain lookup.
type HandlerTable struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerTable returns an empty table.
func NewHandlerTable() *HandlerTable {
	return &HandlerTable{handlers: make(map[string]Handler)}
}

// Register binds a handler to a channel. Re-registering a channel is a
// programming error and fails.
func (t *HandlerTable) Register(channel string, h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler for channel %s", channel)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.handlers[channel]; exists {
		return fmt.Errorf("handler already registered for channel %s", channel)
	}
	t.handlers[channel] = h
	return nil
}

// Get returns the handler for a channel, if any.
func (t *HandlerTable) Get(channel string) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[channel]
	return h, ok
}

// Channels lists the registered channel names, sorted.
func (t *HandlerTable) Channels() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.handlers))
	for name := range t.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
