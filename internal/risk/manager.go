// Package risk enforces pre-trade limits and protective exits.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/bus"
	"tradesim/internal/portfolio"
	"tradesim/pkg/types"
)

// Limits are the hard pre-trade constraints the manager enforces.
type Limits struct {
	MaxOrderValue   decimal.Decimal
	MaxPositionSize int64
	MaxDrawdownPct  decimal.Decimal
}

// Manager vets every order request against the configured limits. Orders
// that pass are left alone; orders that fail get a RISK_BREACH followed by
// an ORDER_UPDATE rejecting them, both published before the order request
// handler returns so the execution layer sees the rejection within its
// pre-fill wait.
type Manager struct {
	limits  Limits
	tracker *portfolio.Tracker
	bus     *bus.Bus

	mu         sync.RWMutex
	lastPrices map[string]decimal.Decimal

	logger *slog.Logger
}

// NewManager creates a risk manager with the given limits.
func NewManager(b *bus.Bus, tracker *portfolio.Tracker, limits Limits, logger *slog.Logger) *Manager {
	return &Manager{
		limits:     limits,
		tracker:    tracker,
		bus:        b,
		lastPrices: make(map[string]decimal.Decimal),
		logger:     logger.With("component", "risk"),
	}
}

// Start subscribes the manager to order requests and ticks.
func (m *Manager) Start() {
	m.bus.Subscribe(types.EventOrderRequest, "risk", m.handleOrderRequest)
	m.bus.Subscribe(types.EventTick, "risk", m.handleTick)
	m.logger.Info("risk manager started",
		"max_order_value", m.limits.MaxOrderValue.String(),
		"max_position_size", m.limits.MaxPositionSize,
		"max_drawdown_pct", m.limits.MaxDrawdownPct.String(),
	)
}

// Stop detaches the manager from the bus.
func (m *Manager) Stop() {
	m.bus.Unsubscribe(types.EventOrderRequest, "risk")
	m.bus.Unsubscribe(types.EventTick, "risk")
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

func (m *Manager) handleOrderRequest(ctx context.Context, evt types.Event) error {
	order, ok := evt.Payload.(types.OrderRequest)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Type)
	}

	if breach := m.check(order); breach != nil {
		m.logger.Warn("order rejected",
			"order_id", order.ID.String(),
			"symbol", order.Symbol,
			"rule", string(breach.Rule),
			"reason", breach.Message,
		)
		m.bus.Publish(ctx, types.NewRiskBreachEvent(*breach))
		m.bus.Publish(ctx, types.NewOrderUpdateEvent(types.OrderUpdate{
			OrderID:   order.ID,
			Status:    types.OrderRejected,
			Reason:    breach.Message,
			Timestamp: breach.Timestamp,
		}))
	}
	return nil
}

// check evaluates the limits in order: order value, projected position
// size, then portfolio drawdown. The first violated rule wins.
func (m *Manager) check(order types.OrderRequest) *types.RiskBreach {
	ref, ok := m.referencePrice(order)
	if !ok {
		return m.breach(order, types.RuleMaxOrderValue,
			fmt.Sprintf("no reference price for %s", order.Symbol))
	}

	value := ref.Mul(decimal.NewFromInt(order.Quantity))
	if value.GreaterThan(m.limits.MaxOrderValue) {
		return m.breach(order, types.RuleMaxOrderValue,
			fmt.Sprintf("order value %s exceeds limit %s", value.String(), m.limits.MaxOrderValue.String()))
	}

	current := int64(0)
	if pos, ok := m.tracker.Position(order.Symbol); ok {
		current = pos.Quantity
	}
	projected := current + order.Side.Sign()*order.Quantity
	if projected > m.limits.MaxPositionSize || projected < -m.limits.MaxPositionSize {
		return m.breach(order, types.RuleMaxPositionSize,
			fmt.Sprintf("projected position %d exceeds limit %d", projected, m.limits.MaxPositionSize))
	}

	snap := m.tracker.Snapshot()
	if snap.DrawdownPct.GreaterThanOrEqual(m.limits.MaxDrawdownPct) {
		return m.breach(order, types.RuleMaxDrawdown,
			fmt.Sprintf("drawdown %s at or above limit %s", snap.DrawdownPct.String(), m.limits.MaxDrawdownPct.String()))
	}
	return nil
}

// referencePrice returns the price used for order valuation: the limit
// price for limit orders, otherwise the last observed tick.
func (m *Manager) referencePrice(order types.OrderRequest) (decimal.Decimal, bool) {
	if order.Type == types.OrderTypeLimit && order.LimitPrice != nil {
		return *order.LimitPrice, true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	px, ok := m.lastPrices[order.Symbol]
	return px, ok
}

func (m *Manager) breach(order types.OrderRequest, rule types.RiskRule, msg string) *types.RiskBreach {
	return &types.RiskBreach{
		Rule:      rule,
		Message:   msg,
		OrderID:   order.ID,
		Timestamp: time.Now().UTC(),
	}
}
