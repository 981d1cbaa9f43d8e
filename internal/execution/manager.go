// Package execution turns strategy signals into orders and simulates their
// fills against the last observed price.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradesim/internal/bus"
	"tradesim/pkg/types"
)

// Config tunes the simulated venue.
type Config struct {
	// MaxQtyPerSignal scales signal strength into shares:
	// quantity = round(strength * MaxQtyPerSignal).
	MaxQtyPerSignal int64
	// RiskWait is how long a pending order is held before filling, giving
	// the risk manager its window to reject.
	RiskWait time.Duration
	// SlippageBps shifts the fill away from the reference price, buys up
	// and sells down.
	SlippageBps int64
}

// Manager is the order manager. Each accepted signal becomes a market
// order published as ORDER_REQUEST; after RiskWait, orders that were not
// rejected fill in full at the last price adjusted for slippage.
type Manager struct {
	cfg      Config
	slippage decimal.Decimal

	mu         sync.Mutex
	orders     map[uuid.UUID]*types.OrderRequest
	lastPrices map[string]decimal.Decimal

	bus    *bus.Bus
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewManager creates an order manager.
func NewManager(b *bus.Bus, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		slippage:   decimal.NewFromInt(cfg.SlippageBps).Shift(-4),
		orders:     make(map[uuid.UUID]*types.OrderRequest),
		lastPrices: make(map[string]decimal.Decimal),
		bus:        b,
		logger:     logger.With("component", "execution"),
	}
}

// Start subscribes the manager and begins accepting signals. ctx bounds
// the lifetime of all pending fill timers.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.bus.Subscribe(types.EventSignal, "execution", m.handleSignal)
	m.bus.Subscribe(types.EventTick, "execution", m.handleTick)
	m.bus.Subscribe(types.EventOrderUpdate, "execution", m.handleOrderUpdate)
	m.logger.Info("order manager started",
		"max_qty_per_signal", m.cfg.MaxQtyPerSignal,
		"risk_wait", m.cfg.RiskWait.String(),
		"slippage_bps", m.cfg.SlippageBps,
	)
}

// Stop detaches the manager, aborts outstanding fill timers, and cancels
// any orders still pending.
func (m *Manager) Stop() {
	m.bus.Unsubscribe(types.EventSignal, "execution")
	m.bus.Unsubscribe(types.EventTick, "execution")
	m.bus.Unsubscribe(types.EventOrderUpdate, "execution")
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.Status == types.OrderPending || order.Status == types.OrderSubmitted {
			order.Status = types.OrderCancelled
			m.logger.Info("order cancelled on shutdown", "order_id", order.ID.String())
		}
	}
}

func (m *Manager) handleTick(ctx context.Context, evt types.Event) error {
	tick, ok := evt.Payload.(types.Tick)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Type)
	}
	m.mu.Lock()
	m.lastPrices[tick.Symbol] = tick.Last
	m.mu.Unlock()
	return nil
}

// handleSignal sizes an order from the signal and schedules its fill.
func (m *Manager) handleSignal(ctx context.Context, evt types.Event) error {
	sig, ok := evt.Payload.(types.Signal)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Type)
	}

	qty := int64(math.Round(sig.Strength * float64(m.cfg.MaxQtyPerSignal)))
	if qty <= 0 {
		m.logger.Debug("signal too weak to size",
			"strategy_id", sig.StrategyID, "symbol", sig.Symbol, "strength", sig.Strength)
		return nil
	}

	order := &types.OrderRequest{
		ID:         uuid.New(),
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Quantity:   qty,
		Type:       types.OrderTypeMarket,
		StrategyID: sig.StrategyID,
		Status:     types.OrderPending,
		CreatedAt:  time.Now().UTC(),
	}

	m.mu.Lock()
	m.orders[order.ID] = order
	snapshot := *order
	m.mu.Unlock()

	m.logger.Info("order created",
		"order_id", order.ID.String(),
		"symbol", order.Symbol,
		"side", string(order.Side),
		"quantity", order.Quantity,
		"strategy_id", order.StrategyID,
	)
	m.bus.Publish(ctx, types.NewOrderRequestEvent(snapshot))

	m.wg.Add(1)
	go m.scheduleFill(order.ID)
	return nil
}

// handleOrderUpdate records externally driven status changes, i.e. the
// risk manager's rejections.
func (m *Manager) handleOrderUpdate(ctx context.Context, evt types.Event) error {
	upd, ok := evt.Payload.(types.OrderUpdate)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Type)
	}
	if upd.Status != types.OrderRejected {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[upd.OrderID]
	if !ok || order.Status.Terminal() {
		return nil
	}
	order.Status = types.OrderRejected
	return nil
}

// scheduleFill waits out the risk window, then fills the order if it is
// still pending.
func (m *Manager) scheduleFill(id uuid.UUID) {
	defer m.wg.Done()
	select {
	case <-m.ctx.Done():
		return
	case <-time.After(m.cfg.RiskWait):
	}
	m.fill(id)
}

func (m *Manager) fill(id uuid.UUID) {
	m.mu.Lock()
	order, ok := m.orders[id]
	if !ok || order.Status != types.OrderPending {
		m.mu.Unlock()
		return
	}

	last, ok := m.lastPrices[order.Symbol]
	if !ok {
		order.Status = types.OrderCancelled
		m.mu.Unlock()
		m.logger.Warn("order cancelled, no market price",
			"order_id", id.String(), "symbol", order.Symbol)
		m.bus.Publish(m.ctx, types.NewOrderUpdateEvent(types.OrderUpdate{
			OrderID:   id,
			Status:    types.OrderCancelled,
			Reason:    "no market price observed",
			Timestamp: time.Now().UTC(),
		}))
		return
	}

	order.Status = types.OrderSubmitted

	var price decimal.Decimal
	if order.Side == types.BUY {
		price = last.Mul(decimal.NewFromInt(1).Add(m.slippage))
	} else {
		price = last.Mul(decimal.NewFromInt(1).Sub(m.slippage))
	}
	price = price.Round(types.PriceScale)

	order.Status = types.OrderFilled
	fill := types.Fill{
		ID:       uuid.New(),
		OrderID:  order.ID,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: order.Quantity,
		Price:    price,
		FilledAt: time.Now().UTC(),
	}
	m.mu.Unlock()

	m.logger.Info("order filled",
		"order_id", id.String(),
		"symbol", fill.Symbol,
		"side", string(fill.Side),
		"quantity", fill.Quantity,
		"price", price.String(),
	)
	m.bus.Publish(m.ctx, types.NewFillEvent(fill))
}

// GetOrder returns a copy of the order with the given id.
func (m *Manager) GetOrder(id uuid.UUID) (types.OrderRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return types.OrderRequest{}, false
	}
	return *order, true
}

// Orders returns copies of all orders the manager has seen.
func (m *Manager) Orders() []types.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.OrderRequest, 0, len(m.orders))
	for _, order := range m.orders {
		out = append(out, *order)
	}
	return out
}
