package risk

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradesim/internal/bus"
	"tradesim/internal/portfolio"
	"tradesim/pkg/types"
)

type stopFixture struct {
	bus     *bus.Bus
	tracker *portfolio.Tracker

	mu      sync.Mutex
	signals []types.Signal
}

func newStopFixture(t *testing.T, pct string) *stopFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	b := bus.New(logger)
	tracker := portfolio.New(b, decimal.NewFromInt(100000), nil, logger)
	tracker.Start()
	t.Cleanup(tracker.Stop)

	sl := NewStopLoss(b, tracker, decimal.RequireFromString(pct), logger)
	sl.Start()
	t.Cleanup(sl.Stop)

	f := &stopFixture{bus: b, tracker: tracker}
	b.Subscribe(types.EventSignal, "probe", func(ctx context.Context, evt types.Event) error {
		f.mu.Lock()
		f.signals = append(f.signals, evt.Payload.(types.Signal))
		f.mu.Unlock()
		return nil
	})
	return f
}

func (f *stopFixture) tick(symbol, last string) {
	px := decimal.RequireFromString(last)
	f.bus.Publish(context.Background(), types.NewTickEvent(types.Tick{
		Symbol: symbol, Last: px, Bid: px, Ask: px, Volume: 1, Timestamp: time.Now(),
	}))
}

func (f *stopFixture) fill(symbol string, side types.Side, qty int64, price string) {
	f.bus.Publish(context.Background(), types.NewFillEvent(types.Fill{
		ID: uuid.New(), OrderID: uuid.New(), Symbol: symbol, Side: side,
		Quantity: qty, Price: decimal.RequireFromString(price), FilledAt: time.Now(),
	}))
}

func (f *stopFixture) signalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signals)
}

func TestStopLossClosesLong(t *testing.T) {
	t.Parallel()
	f := newStopFixture(t, "0.02")

	f.fill("AAPL", types.BUY, 100, "100")
	f.tick("AAPL", "99") // -1%, inside tolerance
	if n := f.signalCount(); n != 0 {
		t.Fatalf("signals = %d, want 0 before stop level", n)
	}

	f.tick("AAPL", "98") // exactly -2%
	if n := f.signalCount(); n != 1 {
		t.Fatalf("signals = %d, want 1 at stop level", n)
	}
	f.mu.Lock()
	sig := f.signals[0]
	f.mu.Unlock()
	if sig.StrategyID != "stop_loss" || sig.Side != types.SELL || sig.Strength != 1.0 {
		t.Errorf("unexpected stop signal: %+v", sig)
	}

	// Latched: further adverse ticks do not repeat the signal.
	f.tick("AAPL", "90")
	if n := f.signalCount(); n != 1 {
		t.Errorf("signals = %d, want 1 (latched)", n)
	}
}

func TestStopLossClosesShort(t *testing.T) {
	t.Parallel()
	f := newStopFixture(t, "0.02")

	f.fill("AAPL", types.SELL, 50, "100")
	f.tick("AAPL", "101")
	if n := f.signalCount(); n != 0 {
		t.Fatalf("signals = %d, want 0 before stop level", n)
	}

	f.tick("AAPL", "102.5")
	if n := f.signalCount(); n != 1 {
		t.Fatalf("signals = %d, want 1", n)
	}
	f.mu.Lock()
	sig := f.signals[0]
	f.mu.Unlock()
	if sig.Side != types.BUY {
		t.Errorf("side = %s, want BUY to cover the short", sig.Side)
	}
}

func TestStopLossRearmsAfterFlat(t *testing.T) {
	t.Parallel()
	f := newStopFixture(t, "0.02")

	f.fill("AAPL", types.BUY, 100, "100")
	f.tick("AAPL", "97")
	if n := f.signalCount(); n != 1 {
		t.Fatalf("signals = %d, want 1", n)
	}

	// Close the position; the stop re-arms for the next one.
	f.fill("AAPL", types.SELL, 100, "97")
	f.fill("AAPL", types.BUY, 100, "97")
	f.tick("AAPL", "94")
	if n := f.signalCount(); n != 2 {
		t.Errorf("signals = %d, want 2 after re-arm", n)
	}
}

func TestStopLossIgnoresFlatSymbols(t *testing.T) {
	t.Parallel()
	f := newStopFixture(t, "0.02")

	f.tick("AAPL", "50")
	f.tick("AAPL", "10")
	if n := f.signalCount(); n != 0 {
		t.Errorf("signals = %d, want 0 with no position", n)
	}
}
