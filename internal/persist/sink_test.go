package persist

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradesim/internal/bus"
	"tradesim/internal/portfolio"
	"tradesim/internal/store"
	"tradesim/pkg/types"
)

func newSinkFixture(t *testing.T) (*bus.Bus, *store.Repository) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	b := bus.New(logger)
	repo, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	s := NewSink(b, repo, logger)
	s.Start()
	t.Cleanup(s.Stop)
	return b, repo
}

func TestSinkPersistsOrderLifecycle(t *testing.T) {
	t.Parallel()
	b, repo := newSinkFixture(t)
	ctx := context.Background()

	order := types.OrderRequest{
		ID:         uuid.New(),
		Symbol:     "AAPL",
		Side:       types.BUY,
		Quantity:   100,
		Type:       types.OrderTypeMarket,
		StrategyID: "mean_reversion",
		Status:     types.OrderPending,
		CreatedAt:  time.Now().UTC(),
	}
	b.Publish(ctx, types.NewOrderRequestEvent(order))

	rows, err := repo.Orders()
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != string(types.OrderPending) {
		t.Fatalf("rows = %+v, want one PENDING order", rows)
	}

	b.Publish(ctx, types.NewOrderUpdateEvent(types.OrderUpdate{
		OrderID:   order.ID,
		Status:    types.OrderRejected,
		Reason:    "limit breach",
		Timestamp: time.Now().UTC(),
	}))

	rows, _ = repo.Orders()
	if rows[0].Status != string(types.OrderRejected) {
		t.Errorf("status = %s, want REJECTED", rows[0].Status)
	}
}

func TestSinkPersistsFillAndMarksOrderFilled(t *testing.T) {
	t.Parallel()
	b, repo := newSinkFixture(t)
	ctx := context.Background()

	order := types.OrderRequest{
		ID: uuid.New(), Symbol: "AAPL", Side: types.SELL, Quantity: 50,
		Type: types.OrderTypeMarket, StrategyID: "test",
		Status: types.OrderPending, CreatedAt: time.Now().UTC(),
	}
	b.Publish(ctx, types.NewOrderRequestEvent(order))

	fill := types.Fill{
		ID: uuid.New(), OrderID: order.ID, Symbol: "AAPL", Side: types.SELL,
		Quantity: 50, Price: decimal.RequireFromString("99.95"),
		FilledAt: time.Now().UTC(),
	}
	b.Publish(ctx, types.NewFillEvent(fill))

	fills, err := repo.FillsForOrder(order.ID)
	if err != nil {
		t.Fatalf("FillsForOrder: %v", err)
	}
	if len(fills) != 1 || !fills[0].Price.Equal(fill.Price) {
		t.Fatalf("fills = %+v, want the published fill", fills)
	}

	rows, _ := repo.Orders()
	if rows[0].Status != string(types.OrderFilled) {
		t.Errorf("status = %s, want FILLED after its fill", rows[0].Status)
	}
}

func TestSinkPersistsPositionUpdates(t *testing.T) {
	t.Parallel()
	b, repo := newSinkFixture(t)

	b.Publish(context.Background(), types.NewPositionUpdateEvent(types.Position{
		Symbol:        "AAPL",
		Quantity:      100,
		AvgEntryPrice: decimal.RequireFromString("90.045"),
		RealizedPnL:   decimal.Zero,
	}))

	rows, err := repo.Positions()
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(rows) != 1 || rows[0].Quantity != 100 {
		t.Fatalf("rows = %+v, want one 100-share position", rows)
	}
}

func TestPersisterWritesSnapshots(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	b := bus.New(logger)
	repo, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	tracker := portfolio.New(b, decimal.NewFromInt(100000), nil, logger)
	tracker.Start()
	t.Cleanup(tracker.Stop)

	p := NewPersister(tracker, repo, 10*time.Millisecond, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	snaps, err := repo.Snapshots(100)
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(snaps) < 2 {
		t.Fatalf("snapshots = %d, want at least 2", len(snaps))
	}
	if !snaps[0].TotalEquity.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("equity = %s, want 100000", snaps[0].TotalEquity.String())
	}
}
