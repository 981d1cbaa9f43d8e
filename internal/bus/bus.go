// Package bus implements the typed in-process event bus that connects the
// trading components.
//
// The bus fans each published event out to every handler subscribed to its
// type. Handlers for one publish run concurrently with each other; the
// publisher is released only when all of them have returned (or panicked).
// A failing handler is logged and never affects its siblings or later
// publishes, so a buggy subscriber cannot stall the pipeline.
//
// Handlers may publish from inside a handler — the causal chain
// TICK → SIGNAL → ORDER_REQUEST → FILL → POSITION_UPDATE is a stack of
// nested publishes, each completing before its parent handler returns.
//
// The bus also keeps a bounded, lossy history of recent events for
// debugging; reading it never blocks publishers.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"tradesim/pkg/types"
)

// maxHistory caps the debug ring buffer. Oldest events are evicted first.
const maxHistory = 1000

// Handler processes one event. Returned errors are logged by the bus and
// not propagated; a handler that needs to abort the pipeline must do so
// through its own state, not the bus.
type Handler func(ctx context.Context, evt types.Event) error

type subscription struct {
	name    string
	handler Handler
}

// Bus is a typed publish/subscribe broker. The zero value is not usable;
// construct with New.
type Bus struct {
	mu   sync.RWMutex
	subs map[types.EventType][]subscription

	histMu  sync.Mutex
	history []types.Event // ring buffer of capacity maxHistory
	next    int           // index of the next write
	full    bool          // true once the ring has wrapped

	logger *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:    make(map[types.EventType][]subscription),
		history: make([]types.Event, 0, maxHistory),
		logger:  logger.With("component", "bus"),
	}
}

// Subscribe registers handler for one event type under a stable name.
// Registration is idempotent per (event type, name): re-subscribing the
// same pair replaces the handler instead of adding a duplicate.
func (b *Bus) Subscribe(t types.EventType, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs[t] {
		if sub.name == name {
			b.subs[t][i].handler = handler
			return
		}
	}
	b.subs[t] = append(b.subs[t], subscription{name: name, handler: handler})
	b.logger.Debug("subscriber added", "event_type", string(t), "name", name)
}

// Unsubscribe removes the handler registered under (event type, name).
// An unknown pair is a no-op.
func (b *Bus) Unsubscribe(t types.EventType, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[t]
	for i, sub := range subs {
		if sub.name == name {
			b.subs[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers evt to every handler currently subscribed to evt.Type.
// Handlers run concurrently; Publish returns when all have completed.
// Panics and errors inside handlers are captured and logged here.
func (b *Bus) Publish(ctx context.Context, evt types.Event) {
	b.record(evt)

	b.mu.RLock()
	subs := make([]subscription, len(b.subs[evt.Type]))
	copy(subs, b.subs[evt.Type])
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub subscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("handler panic",
						"event_type", string(evt.Type),
						"handler", sub.name,
						"panic", r,
					)
				}
			}()
			if err := sub.handler(ctx, evt); err != nil {
				b.logger.Error("handler error",
					"event_type", string(evt.Type),
					"handler", sub.name,
					"error", err,
				)
			}
		}(sub)
	}
	wg.Wait()
}

// record appends evt to the history ring, evicting the oldest on overflow.
func (b *Bus) record(evt types.Event) {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	if len(b.history) < maxHistory {
		b.history = append(b.history, evt)
		return
	}
	b.history[b.next] = evt
	b.next = (b.next + 1) % maxHistory
	b.full = true
}

// History returns a copy of the retained events in publish order, oldest
// first. At most maxHistory events are kept.
func (b *Bus) History() []types.Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	if !b.full {
		out := make([]types.Event, len(b.history))
		copy(out, b.history)
		return out
	}
	out := make([]types.Event, 0, maxHistory)
	out = append(out, b.history[b.next:]...)
	out = append(out, b.history[:b.next]...)
	return out
}

// SubscriberCount returns the total number of registrations across all
// event types.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}
