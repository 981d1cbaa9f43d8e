package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/pkg/types"
)

func newTestBus() *Bus {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(logger)
}

func testTick(symbol string) types.Event {
	px := decimal.NewFromInt(100)
	return types.NewTickEvent(types.Tick{
		Symbol:    symbol,
		Last:      px,
		Bid:       px,
		Ask:       px,
		Volume:    1,
		Timestamp: time.Now(),
	})
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	t.Parallel()
	b := newTestBus()

	var got atomic.Int64
	b.Subscribe(types.EventTick, "counter", func(ctx context.Context, evt types.Event) error {
		got.Add(1)
		return nil
	})

	b.Publish(context.Background(), testTick("ACME"))
	b.Publish(context.Background(), testTick("ACME"))

	if got.Load() != 2 {
		t.Errorf("handler invocations = %d, want 2", got.Load())
	}
}

func TestSubscribeIdempotentPerName(t *testing.T) {
	t.Parallel()
	b := newTestBus()

	var got atomic.Int64
	h := func(ctx context.Context, evt types.Event) error {
		got.Add(1)
		return nil
	}
	b.Subscribe(types.EventTick, "dup", h)
	b.Subscribe(types.EventTick, "dup", h)

	if b.SubscriberCount() != 1 {
		t.Fatalf("subscriber count = %d, want 1", b.SubscriberCount())
	}

	b.Publish(context.Background(), testTick("ACME"))
	if got.Load() != 1 {
		t.Errorf("handler invocations = %d, want 1", got.Load())
	}
}

func TestUnsubscribeRemovesAndUnknownIsNoop(t *testing.T) {
	t.Parallel()
	b := newTestBus()

	var got atomic.Int64
	b.Subscribe(types.EventTick, "counter", func(ctx context.Context, evt types.Event) error {
		got.Add(1)
		return nil
	})
	b.Unsubscribe(types.EventTick, "counter")
	b.Unsubscribe(types.EventTick, "never-registered")
	b.Unsubscribe(types.EventFill, "counter")

	b.Publish(context.Background(), testTick("ACME"))

	if got.Load() != 0 {
		t.Errorf("handler invocations after unsubscribe = %d, want 0", got.Load())
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("subscriber count = %d, want 0", b.SubscriberCount())
	}
}

func TestHandlerIsolation(t *testing.T) {
	t.Parallel()
	b := newTestBus()

	var counted atomic.Int64
	b.Subscribe(types.EventTick, "panics", func(ctx context.Context, evt types.Event) error {
		panic("boom")
	})
	b.Subscribe(types.EventTick, "errors", func(ctx context.Context, evt types.Event) error {
		return errors.New("handler failure")
	})
	b.Subscribe(types.EventTick, "counts", func(ctx context.Context, evt types.Event) error {
		counted.Add(1)
		return nil
	})

	for i := 0; i < 10; i++ {
		b.Publish(context.Background(), testTick("ACME"))
	}

	if counted.Load() != 10 {
		t.Errorf("healthy handler count = %d, want 10", counted.Load())
	}

	// Bus is still operational after repeated failures.
	b.Publish(context.Background(), testTick("ACME"))
	if counted.Load() != 11 {
		t.Errorf("count after final publish = %d, want 11", counted.Load())
	}
}

func TestPublisherWaitsForAllHandlers(t *testing.T) {
	t.Parallel()
	b := newTestBus()

	var done atomic.Int64
	for i := 0; i < 4; i++ {
		b.Subscribe(types.EventTick, fmt.Sprintf("slow-%d", i), func(ctx context.Context, evt types.Event) error {
			time.Sleep(20 * time.Millisecond)
			done.Add(1)
			return nil
		})
	}

	b.Publish(context.Background(), testTick("ACME"))

	if done.Load() != 4 {
		t.Errorf("handlers completed before Publish returned = %d, want 4", done.Load())
	}
}

func TestNestedPublishFromHandler(t *testing.T) {
	t.Parallel()
	b := newTestBus()

	var signals atomic.Int64
	b.Subscribe(types.EventSignal, "sink", func(ctx context.Context, evt types.Event) error {
		signals.Add(1)
		return nil
	})
	b.Subscribe(types.EventTick, "strategy", func(ctx context.Context, evt types.Event) error {
		tick := evt.Payload.(types.Tick)
		b.Publish(ctx, types.NewSignalEvent(types.Signal{
			StrategyID: "test",
			Symbol:     tick.Symbol,
			Side:       types.BUY,
			Strength:   1.0,
			Timestamp:  time.Now(),
		}))
		return nil
	})

	b.Publish(context.Background(), testTick("ACME"))

	if signals.Load() != 1 {
		t.Errorf("nested signal deliveries = %d, want 1", signals.Load())
	}
}

func TestHistoryOrderAndEviction(t *testing.T) {
	t.Parallel()
	b := newTestBus()

	const n = maxHistory + 50
	for i := 0; i < n; i++ {
		b.Publish(context.Background(), testTick(fmt.Sprintf("SYM-%d", i)))
	}

	hist := b.History()
	if len(hist) != maxHistory {
		t.Fatalf("history length = %d, want %d", len(hist), maxHistory)
	}

	// Oldest retained event is publish #50, newest is publish #(n-1).
	first := hist[0].Payload.(types.Tick)
	if first.Symbol != "SYM-50" {
		t.Errorf("oldest retained = %s, want SYM-50", first.Symbol)
	}
	last := hist[len(hist)-1].Payload.(types.Tick)
	if want := fmt.Sprintf("SYM-%d", n-1); last.Symbol != want {
		t.Errorf("newest retained = %s, want %s", last.Symbol, want)
	}
}

func TestHistoryUnderCapacityPreservesOrder(t *testing.T) {
	t.Parallel()
	b := newTestBus()

	for i := 0; i < 5; i++ {
		b.Publish(context.Background(), testTick(fmt.Sprintf("SYM-%d", i)))
	}

	hist := b.History()
	if len(hist) != 5 {
		t.Fatalf("history length = %d, want 5", len(hist))
	}
	for i, evt := range hist {
		tick := evt.Payload.(types.Tick)
		if want := fmt.Sprintf("SYM-%d", i); tick.Symbol != want {
			t.Errorf("hist[%d] = %s, want %s", i, tick.Symbol, want)
		}
	}
}

func TestHistoryDoesNotBlockPublish(t *testing.T) {
	t.Parallel()
	b := newTestBus()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = b.History()
			}
		}
	}()

	for i := 0; i < 200; i++ {
		b.Publish(context.Background(), testTick("ACME"))
	}
	close(stop)
	wg.Wait()

	if len(b.History()) != 200 {
		t.Errorf("history length = %d, want 200", len(b.History()))
	}
}
