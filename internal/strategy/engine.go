package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"tradesim/internal/bus"
	"tradesim/pkg/types"
)

// Engine routes ticks to the registered strategies and publishes the
// signals they produce. Strategies are dispatched sequentially per tick,
// in registration order, so their internal state needs no locking.
type Engine struct {
	strategies []Strategy
	bus        *bus.Bus
	logger     *slog.Logger
}

// NewEngine creates an engine with the given strategies.
func NewEngine(b *bus.Bus, strategies []Strategy, logger *slog.Logger) *Engine {
	return &Engine{
		strategies: strategies,
		bus:        b,
		logger:     logger.With("component", "strategy_engine"),
	}
}

// Start subscribes the engine to ticks.
func (e *Engine) Start() {
	e.bus.Subscribe(types.EventTick, "strategy_engine", e.handleTick)
	ids := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		ids[i] = s.ID()
	}
	e.logger.Info("strategy engine started", "strategies", ids)
}

// Stop detaches the engine from the bus.
func (e *Engine) Stop() {
	e.bus.Unsubscribe(types.EventTick, "strategy_engine")
}

func (e *Engine) handleTick(ctx context.Context, evt types.Event) error {
	tick, ok := evt.Payload.(types.Tick)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Type)
	}

	for _, s := range e.strategies {
		if !wantsSymbol(s, tick.Symbol) {
			continue
		}
		for _, sig := range s.OnTick(tick) {
			e.logger.Info("signal generated",
				"strategy_id", sig.StrategyID,
				"symbol", sig.Symbol,
				"side", string(sig.Side),
				"strength", sig.Strength,
			)
			e.bus.Publish(ctx, types.NewSignalEvent(sig))
		}
	}
	return nil
}

func wantsSymbol(s Strategy, symbol string) bool {
	symbols := s.Symbols()
	if len(symbols) == 0 {
		return true
	}
	for _, sym := range symbols {
		if sym == symbol {
			return true
		}
	}
	return false
}
