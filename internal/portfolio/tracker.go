// Package portfolio maintains positions, cash, and P&L from the fill stream.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/bus"
	"tradesim/pkg/types"
)

// maxQuantity bounds position sizes to the range where int64 share math
// composed with decimal notional stays exact.
const maxQuantity = int64(1) << 53

// Tracker applies fills to positions and cash, marks positions to the last
// tick, and serves consistent snapshots. It is the single writer of
// portfolio state; all mutation happens inside its bus handlers.
type Tracker struct {
	mu          sync.RWMutex
	positions   map[string]*types.Position
	cash        decimal.Decimal
	initialCash decimal.Decimal
	peakEquity  decimal.Decimal

	bus     *bus.Bus
	onFatal func(error)
	logger  *slog.Logger
}

// New creates a tracker seeded with initialCash. onFatal is invoked (once
// per occurrence) when portfolio state becomes untrustworthy, e.g. a
// position quantity outside the exact-arithmetic range; it may be nil.
func New(b *bus.Bus, initialCash decimal.Decimal, onFatal func(error), logger *slog.Logger) *Tracker {
	return &Tracker{
		positions:   make(map[string]*types.Position),
		cash:        initialCash,
		initialCash: initialCash,
		peakEquity:  initialCash,
		bus:         b,
		onFatal:     onFatal,
		logger:      logger.With("component", "portfolio"),
	}
}

// Start subscribes the tracker to fills and ticks.
func (t *Tracker) Start() {
	t.bus.Subscribe(types.EventFill, "portfolio", t.handleFill)
	t.bus.Subscribe(types.EventTick, "portfolio", t.handleTick)
	t.logger.Info("position tracker started", "initial_cash", t.initialCash.String())
}

// Stop detaches the tracker from the bus. State remains readable.
func (t *Tracker) Stop() {
	t.bus.Unsubscribe(types.EventFill, "portfolio")
	t.bus.Unsubscribe(types.EventTick, "portfolio")
}

// handleFill applies one fill: position quantity and average entry move
// first, then cash by the signed notional. Reducing fills realize P&L
// against the average entry; a fill through zero closes the old position
// at its average and opens the remainder at the fill price.
func (t *Tracker) handleFill(ctx context.Context, evt types.Event) error {
	fill, ok := evt.Payload.(types.Fill)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Type)
	}

	t.mu.Lock()
	pos, exists := t.positions[fill.Symbol]
	if !exists {
		pos = &types.Position{Symbol: fill.Symbol}
		t.positions[fill.Symbol] = pos
	}

	delta := fill.Side.Sign() * fill.Quantity
	oldQty := pos.Quantity
	newQty := oldQty + delta

	if newQty > maxQuantity || newQty < -maxQuantity {
		t.mu.Unlock()
		err := fmt.Errorf("position %s quantity %d exceeds exact range", fill.Symbol, newQty)
		t.logger.Error("portfolio state unsafe", "error", err)
		if t.onFatal != nil {
			t.onFatal(err)
		}
		return err
	}

	switch {
	case oldQty == 0 || sameSign(oldQty, delta):
		// Opening or adding: volume-weighted average entry.
		oldAbs := decimal.NewFromInt(abs(oldQty))
		addAbs := decimal.NewFromInt(abs(delta))
		totalAbs := oldAbs.Add(addAbs)
		pos.AvgEntryPrice = pos.AvgEntryPrice.Mul(oldAbs).
			Add(fill.Price.Mul(addAbs)).
			Div(totalAbs).
			Round(types.PriceScale)
	case abs(delta) <= abs(oldQty):
		// Reducing or closing: realize against average entry.
		closed := decimal.NewFromInt(abs(delta))
		pnl := fill.Price.Sub(pos.AvgEntryPrice).Mul(closed)
		if oldQty < 0 {
			pnl = pnl.Neg()
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl).Round(types.PriceScale)
		if newQty == 0 {
			pos.AvgEntryPrice = decimal.Zero
		}
	default:
		// Flip through zero: close the whole old position at its average,
		// open the remainder at the fill price.
		closed := decimal.NewFromInt(abs(oldQty))
		pnl := fill.Price.Sub(pos.AvgEntryPrice).Mul(closed)
		if oldQty < 0 {
			pnl = pnl.Neg()
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl).Round(types.PriceScale)
		pos.AvgEntryPrice = fill.Price
	}

	pos.Quantity = newQty

	// Cash moves by the full signed notional; realized P&L is already
	// implicit in the entry/exit cash flows.
	notional := fill.Price.Mul(decimal.NewFromInt(fill.Quantity))
	if fill.Side == types.BUY {
		t.cash = t.cash.Sub(notional).Round(types.PriceScale)
	} else {
		t.cash = t.cash.Add(notional).Round(types.PriceScale)
	}

	t.markLocked(pos)
	updated := *pos
	t.mu.Unlock()

	t.logger.Info("fill applied",
		"symbol", fill.Symbol,
		"side", string(fill.Side),
		"quantity", fill.Quantity,
		"price", fill.Price.String(),
		"position_qty", updated.Quantity,
		"cash", t.Cash().String(),
	)
	t.bus.Publish(ctx, types.NewPositionUpdateEvent(updated))
	return nil
}

// handleTick remarks the matching position, if any. Symbols we hold no
// position in are ignored.
func (t *Tracker) handleTick(ctx context.Context, evt types.Event) error {
	tick, ok := evt.Payload.(types.Tick)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Type)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	pos, exists := t.positions[tick.Symbol]
	if !exists {
		return nil
	}
	pos.LastMark = tick.Last
	t.markLocked(pos)
	return nil
}

// markLocked recomputes unrealized P&L from the last mark. Caller holds mu.
func (t *Tracker) markLocked(pos *types.Position) {
	if pos.Quantity == 0 || pos.LastMark.IsZero() {
		pos.UnrealizedPnL = decimal.Zero
		return
	}
	qty := decimal.NewFromInt(pos.Quantity)
	pos.UnrealizedPnL = pos.LastMark.Sub(pos.AvgEntryPrice).Mul(qty).Round(types.PriceScale)
}

// Snapshot returns a consistent point-in-time view of the portfolio and
// advances the equity high-water mark.
func (t *Tracker) Snapshot() types.PortfolioSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	positions := make(map[string]types.Position, len(t.positions))
	equity := t.cash
	unrealized := decimal.Zero
	realized := decimal.Zero
	for sym, pos := range t.positions {
		positions[sym] = *pos
		unrealized = unrealized.Add(pos.UnrealizedPnL)
		realized = realized.Add(pos.RealizedPnL)
		if pos.Quantity != 0 && !pos.LastMark.IsZero() {
			equity = equity.Add(pos.LastMark.Mul(decimal.NewFromInt(pos.Quantity)))
		}
	}
	equity = equity.Round(types.PriceScale)

	if equity.GreaterThan(t.peakEquity) {
		t.peakEquity = equity
	}
	drawdown := decimal.Zero
	if t.peakEquity.IsPositive() {
		drawdown = t.peakEquity.Sub(equity).Div(t.peakEquity).Round(types.PriceScale)
		if drawdown.IsNegative() {
			drawdown = decimal.Zero
		}
	}

	return types.PortfolioSnapshot{
		Cash:               t.cash,
		Positions:          positions,
		TotalEquity:        equity,
		TotalUnrealizedPnL: unrealized.Round(types.PriceScale),
		TotalRealizedPnL:   realized.Round(types.PriceScale),
		PeakEquity:         t.peakEquity,
		DrawdownPct:        drawdown,
		SnapshotAt:         time.Now().UTC(),
	}
}

// Position returns a copy of the position for symbol, if any.
func (t *Tracker) Position(symbol string) (types.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all positions keyed by symbol.
func (t *Tracker) Positions() map[string]types.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]types.Position, len(t.positions))
	for sym, pos := range t.positions {
		out[sym] = *pos
	}
	return out
}

// Cash returns the current cash balance.
func (t *Tracker) Cash() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cash
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
