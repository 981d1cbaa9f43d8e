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

// StopLoss watches open positions and emits a closing signal once the mark
// moves against the average entry by more than the configured fraction.
// Each position triggers at most once until its quantity returns to zero.
type StopLoss struct {
	pct     decimal.Decimal
	tracker *portfolio.Tracker
	bus     *bus.Bus

	mu        sync.Mutex
	netQty    map[string]int64
	triggered map[string]bool

	logger *slog.Logger
}

// NewStopLoss creates a stop-loss closer. pct is the adverse fraction of
// the average entry price that triggers a close (0.02 = 2%).
func NewStopLoss(b *bus.Bus, tracker *portfolio.Tracker, pct decimal.Decimal, logger *slog.Logger) *StopLoss {
	return &StopLoss{
		pct:       pct,
		tracker:   tracker,
		bus:       b,
		netQty:    make(map[string]int64),
		triggered: make(map[string]bool),
		logger:    logger.With("component", "stop_loss"),
	}
}

// Start subscribes the stop-loss to fills and ticks.
func (s *StopLoss) Start() {
	s.bus.Subscribe(types.EventFill, "stop_loss", s.handleFill)
	s.bus.Subscribe(types.EventTick, "stop_loss", s.handleTick)
	s.logger.Info("stop loss armed", "pct", s.pct.String())
}

// Stop detaches the stop-loss from the bus.
func (s *StopLoss) Stop() {
	s.bus.Unsubscribe(types.EventFill, "stop_loss")
	s.bus.Unsubscribe(types.EventTick, "stop_loss")
}

// handleFill keeps its own net quantity per symbol and re-arms the stop
// once a position is flat again. The tracker's fill handler runs
// concurrently with this one, so the tracker cannot be queried here.
func (s *StopLoss) handleFill(ctx context.Context, evt types.Event) error {
	fill, ok := evt.Payload.(types.Fill)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Type)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.netQty[fill.Symbol] += fill.Side.Sign() * fill.Quantity
	if s.netQty[fill.Symbol] == 0 {
		delete(s.netQty, fill.Symbol)
		delete(s.triggered, fill.Symbol)
	}
	return nil
}

func (s *StopLoss) handleTick(ctx context.Context, evt types.Event) error {
	tick, ok := evt.Payload.(types.Tick)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Type)
	}

	pos, exists := s.tracker.Position(tick.Symbol)
	if !exists || pos.Quantity == 0 || pos.AvgEntryPrice.IsZero() {
		return nil
	}

	s.mu.Lock()
	if s.triggered[tick.Symbol] {
		s.mu.Unlock()
		return nil
	}

	var breached bool
	var side types.Side
	adverse := pos.AvgEntryPrice.Mul(s.pct)
	if pos.Quantity > 0 {
		// Long: stop below entry.
		breached = tick.Last.LessThanOrEqual(pos.AvgEntryPrice.Sub(adverse))
		side = types.SELL
	} else {
		// Short: stop above entry.
		breached = tick.Last.GreaterThanOrEqual(pos.AvgEntryPrice.Add(adverse))
		side = types.BUY
	}
	if !breached {
		s.mu.Unlock()
		return nil
	}
	s.triggered[tick.Symbol] = true
	s.mu.Unlock()

	s.logger.Warn("stop loss triggered",
		"symbol", tick.Symbol,
		"quantity", pos.Quantity,
		"avg_entry", pos.AvgEntryPrice.String(),
		"last", tick.Last.String(),
	)
	s.bus.Publish(ctx, types.NewSignalEvent(types.Signal{
		StrategyID: "stop_loss",
		Symbol:     tick.Symbol,
		Side:       side,
		Strength:   1.0,
		Timestamp:  time.Now().UTC(),
	}))
	return nil
}
