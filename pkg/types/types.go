// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the simulator — market data,
// signals, orders, fills, positions, and the event envelope that carries
// them over the bus. It has no dependencies on internal packages, so it can
// be imported by any layer.
package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceScale is the fixed decimal scale for all prices, cash, and P&L.
const PriceScale = 6

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a signal, order, or fill: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Sign returns +1 for BUY and -1 for SELL, the factor that converts an
// unsigned quantity into a signed position delta.
func (s Side) Sign() int64 {
	if s == BUY {
		return 1
	}
	return -1
}

// OrderType enumerates the supported order kinds.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus tracks an order through its lifecycle:
//
//	PENDING → (SUBMITTED → FILLED | PARTIALLY_FILLED | CANCELLED) | REJECTED
//
// FILLED, CANCELLED, and REJECTED are terminal. PARTIALLY_FILLED is part of
// the vocabulary but never produced — the simulator fills whole orders.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderSubmitted       OrderStatus = "SUBMITTED"
	OrderFilled          OrderStatus = "FILLED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether no further status transitions are allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	}
	return false
}

// EventType tags the payload carried by an Event envelope.
type EventType string

const (
	EventTick           EventType = "TICK"
	EventSignal         EventType = "SIGNAL"
	EventOrderRequest   EventType = "ORDER_REQUEST"
	EventOrderUpdate    EventType = "ORDER_UPDATE"
	EventFill           EventType = "FILL"
	EventPositionUpdate EventType = "POSITION_UPDATE"
	EventRiskBreach     EventType = "RISK_BREACH"
)

// RiskRule identifies which pre-trade limit an order violated.
type RiskRule string

const (
	RuleMaxOrderValue   RiskRule = "MAX_ORDER_VALUE"
	RuleMaxPositionSize RiskRule = "MAX_POSITION_SIZE"
	RuleMaxDrawdown     RiskRule = "MAX_DRAWDOWN"
)

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Tick is a single price observation from a feed. Immutable once published.
// Feeds guarantee Last > 0 and Bid ≤ Last ≤ Ask when quoted.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Last      decimal.Decimal `json:"last"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// Signals
// ————————————————————————————————————————————————————————————————————————

// Signal is a strategy's intent to buy or sell with an intensity in [0, 1].
// Consumed once by the order manager; never persisted.
type Signal struct {
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Strength   float64   `json:"strength"`
	Timestamp  time.Time `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// Orders and fills
// ————————————————————————————————————————————————————————————————————————

// OrderRequest is the intended trade produced from a signal. LimitPrice is
// set iff Type is LIMIT. Status is mutated only by the order manager and,
// for PENDING → REJECTED, by the risk manager.
type OrderRequest struct {
	ID         uuid.UUID        `json:"id"`
	Symbol     string           `json:"symbol"`
	Side       Side             `json:"side"`
	Quantity   int64            `json:"quantity"`
	Type       OrderType        `json:"order_type"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
	StrategyID string           `json:"strategy_id"`
	Status     OrderStatus      `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
}

// OrderUpdate announces a status change for an order, with an optional
// human-readable reason (e.g. the risk rule message on rejection).
type OrderUpdate struct {
	OrderID   uuid.UUID   `json:"order_id"`
	Status    OrderStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Fill is the executed result of an accepted order. Immutable. The
// simulator emits exactly one fill per accepted order.
type Fill struct {
	ID       uuid.UUID       `json:"id"`
	OrderID  uuid.UUID       `json:"order_id"`
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	FilledAt time.Time       `json:"filled_at"`
}

// ————————————————————————————————————————————————————————————————————————
// Positions / P&L
// ————————————————————————————————————————————————————————————————————————

// Position is the signed holding in one symbol. Quantity < 0 means short.
// AvgEntryPrice is the volume-weighted average entry; it is 0 exactly when
// Quantity is 0.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	LastMark      decimal.Decimal `json:"last_mark"`
}

// PortfolioSnapshot is a point-in-time view of cash, positions, and equity.
// Equity = cash + Σ(quantity · last mark); realized P&L is already implicit
// in cash, so it is reported but never added again.
type PortfolioSnapshot struct {
	Cash               decimal.Decimal     `json:"cash"`
	Positions          map[string]Position `json:"positions"`
	TotalEquity        decimal.Decimal     `json:"total_equity"`
	TotalUnrealizedPnL decimal.Decimal     `json:"total_unrealized_pnl"`
	TotalRealizedPnL   decimal.Decimal     `json:"total_realized_pnl"`
	PeakEquity         decimal.Decimal     `json:"peak_equity"`
	DrawdownPct        decimal.Decimal     `json:"drawdown_pct"`
	SnapshotAt         time.Time           `json:"snapshot_at"`
}

// ————————————————————————————————————————————————————————————————————————
// Risk
// ————————————————————————————————————————————————————————————————————————

// RiskBreach reports a pre-trade limit violation for a specific order.
type RiskBreach struct {
	Rule      RiskRule  `json:"rule"`
	Message   string    `json:"message"`
	OrderID   uuid.UUID `json:"order_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// Event envelope
// ————————————————————————————————————————————————————————————————————————

// Payload is the closed set of types an Event may carry. The marker method
// keeps the union closed: only types in this package can be bus payloads.
type Payload interface {
	isPayload()
}

func (Tick) isPayload()         {}
func (Signal) isPayload()       {}
func (OrderRequest) isPayload() {}
func (OrderUpdate) isPayload()  {}
func (Fill) isPayload()         {}
func (Position) isPayload()     {}
func (RiskBreach) isPayload()   {}

// Event is the tagged envelope published on the bus. Type always matches
// the dynamic type of Payload; use the New*Event constructors.
type Event struct {
	Type      EventType `json:"type"`
	Payload   Payload   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

func newEvent(t EventType, p Payload) Event {
	return Event{Type: t, Payload: p, Timestamp: time.Now().UTC()}
}

func NewTickEvent(t Tick) Event                 { return newEvent(EventTick, t) }
func NewSignalEvent(s Signal) Event             { return newEvent(EventSignal, s) }
func NewOrderRequestEvent(o OrderRequest) Event { return newEvent(EventOrderRequest, o) }
func NewOrderUpdateEvent(u OrderUpdate) Event   { return newEvent(EventOrderUpdate, u) }
func NewFillEvent(f Fill) Event                 { return newEvent(EventFill, f) }
func NewPositionUpdateEvent(p Position) Event   { return newEvent(EventPositionUpdate, p) }
func NewRiskBreachEvent(b RiskBreach) Event     { return newEvent(EventRiskBreach, b) }
