package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradesim/pkg/types"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testOrder(status types.OrderStatus) types.OrderRequest {
	return types.OrderRequest{
		ID:         uuid.New(),
		Symbol:     "AAPL",
		Side:       types.BUY,
		Quantity:   100,
		Type:       types.OrderTypeMarket,
		StrategyID: "mean_reversion",
		Status:     status,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestOrderUpsertAndStatusUpdate(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	o := testOrder(types.OrderPending)
	if err := repo.UpsertOrder(o); err != nil {
		t.Fatalf("UpsertOrder: %v", err)
	}

	// Re-upserting the same id refreshes rather than duplicates.
	o.Status = types.OrderSubmitted
	if err := repo.UpsertOrder(o); err != nil {
		t.Fatalf("UpsertOrder again: %v", err)
	}

	orders, err := repo.Orders()
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
	if orders[0].Status != string(types.OrderSubmitted) {
		t.Errorf("status = %s, want SUBMITTED", orders[0].Status)
	}

	if err := repo.UpdateOrderStatus(o.ID, types.OrderFilled); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	filled, err := repo.OrdersByStatus(types.OrderFilled)
	if err != nil {
		t.Fatalf("OrdersByStatus: %v", err)
	}
	if len(filled) != 1 || filled[0].ID != o.ID {
		t.Errorf("filled orders = %+v, want the updated order", filled)
	}
}

func TestLimitPriceRoundTrips(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	px := decimal.RequireFromString("101.123456")
	o := testOrder(types.OrderPending)
	o.Type = types.OrderTypeLimit
	o.LimitPrice = &px
	if err := repo.UpsertOrder(o); err != nil {
		t.Fatalf("UpsertOrder: %v", err)
	}

	orders, err := repo.Orders()
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if orders[0].LimitPrice == nil || !orders[0].LimitPrice.Equal(px) {
		t.Errorf("limit price = %v, want %s", orders[0].LimitPrice, px.String())
	}

	// Market orders keep a NULL limit price.
	m := testOrder(types.OrderPending)
	if err := repo.UpsertOrder(m); err != nil {
		t.Fatalf("UpsertOrder market: %v", err)
	}
	orders, _ = repo.Orders()
	for _, row := range orders {
		if row.ID == m.ID && row.LimitPrice != nil {
			t.Errorf("market order limit price = %v, want nil", row.LimitPrice)
		}
	}
}

func TestFillsForOrder(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	orderID := uuid.New()
	fill := types.Fill{
		ID:       uuid.New(),
		OrderID:  orderID,
		Symbol:   "AAPL",
		Side:     types.SELL,
		Quantity: 25,
		Price:    decimal.RequireFromString("99.95"),
		FilledAt: time.Now().UTC(),
	}
	if err := repo.InsertFill(fill); err != nil {
		t.Fatalf("InsertFill: %v", err)
	}
	// A replayed fill with the same fill id is ignored.
	if err := repo.InsertFill(fill); err != nil {
		t.Fatalf("InsertFill replay: %v", err)
	}

	fills, err := repo.FillsForOrder(orderID)
	if err != nil {
		t.Fatalf("FillsForOrder: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(fills))
	}
	if fills[0].Quantity != 25 || !fills[0].Price.Equal(fill.Price) {
		t.Errorf("stored fill = %+v", fills[0])
	}

	if fills, _ := repo.FillsForOrder(uuid.New()); len(fills) != 0 {
		t.Errorf("fills for unknown order = %d, want 0", len(fills))
	}
}

func TestPositionUpsert(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	p := types.Position{
		Symbol:        "AAPL",
		Quantity:      100,
		AvgEntryPrice: decimal.RequireFromString("90.045"),
		RealizedPnL:   decimal.Zero,
	}
	if err := repo.UpsertPosition(p); err != nil {
		t.Fatalf("UpsertPosition: %v", err)
	}

	p.Quantity = 0
	p.AvgEntryPrice = decimal.Zero
	p.RealizedPnL = decimal.RequireFromString("98.95")
	if err := repo.UpsertPosition(p); err != nil {
		t.Fatalf("UpsertPosition again: %v", err)
	}

	rows, err := repo.Positions()
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("positions = %d, want 1", len(rows))
	}
	if rows[0].Quantity != 0 || !rows[0].RealizedPnL.Equal(p.RealizedPnL) {
		t.Errorf("stored position = %+v", rows[0])
	}
}

func TestSnapshotsNewestFirst(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		err := repo.InsertSnapshot(types.PortfolioSnapshot{
			Cash:        decimal.NewFromInt(100000),
			TotalEquity: decimal.NewFromInt(100000 + int64(i)),
			SnapshotAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("InsertSnapshot: %v", err)
		}
	}

	snaps, err := repo.Snapshots(2)
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}
	if !snaps[0].TotalEquity.Equal(decimal.NewFromInt(100002)) {
		t.Errorf("newest equity = %s, want 100002", snaps[0].TotalEquity.String())
	}
	if !snaps[0].SnapshotAt.After(snaps[1].SnapshotAt) {
		t.Error("snapshots not ordered newest first")
	}
}
