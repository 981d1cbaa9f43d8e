// Package persist writes the event stream and periodic portfolio
// snapshots to the store. Database failures are logged and dropped; the
// trading pipeline never blocks on persistence.
package persist

import (
	"context"
	"fmt"
	"log/slog"

	"tradesim/internal/bus"
	"tradesim/internal/store"
	"tradesim/pkg/types"
)

// Sink mirrors orders, fills, and positions from the bus into the
// repository.
type Sink struct {
	repo   *store.Repository
	bus    *bus.Bus
	logger *slog.Logger
}

// NewSink creates a sink writing to repo.
func NewSink(b *bus.Bus, repo *store.Repository, logger *slog.Logger) *Sink {
	return &Sink{
		repo:   repo,
		bus:    b,
		logger: logger.With("component", "persist"),
	}
}

// Start subscribes the sink to every persisted event type.
func (s *Sink) Start() {
	s.bus.Subscribe(types.EventOrderRequest, "persist", s.handleOrderRequest)
	s.bus.Subscribe(types.EventOrderUpdate, "persist", s.handleOrderUpdate)
	s.bus.Subscribe(types.EventFill, "persist", s.handleFill)
	s.bus.Subscribe(types.EventPositionUpdate, "persist", s.handlePositionUpdate)
	s.logger.Info("persistence sink started")
}

// Stop detaches the sink from the bus.
func (s *Sink) Stop() {
	s.bus.Unsubscribe(types.EventOrderRequest, "persist")
	s.bus.Unsubscribe(types.EventOrderUpdate, "persist")
	s.bus.Unsubscribe(types.EventFill, "persist")
	s.bus.Unsubscribe(types.EventPositionUpdate, "persist")
}

func (s *Sink) handleOrderRequest(ctx context.Context, evt types.Event) error {
	order, ok := evt.Payload.(types.OrderRequest)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Type)
	}
	if err := s.repo.UpsertOrder(order); err != nil {
		s.logger.Warn("order write failed", "order_id", order.ID.String(), "error", err)
	}
	return nil
}

func (s *Sink) handleOrderUpdate(ctx context.Context, evt types.Event) error {
	upd, ok := evt.Payload.(types.OrderUpdate)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Type)
	}
	if err := s.repo.UpdateOrderStatus(upd.OrderID, upd.Status); err != nil {
		s.logger.Warn("order status write failed", "order_id", upd.OrderID.String(), "error", err)
	}
	return nil
}

// handleFill stores the fill and marks the order filled; the execution
// layer does not publish a separate status update for fills.
func (s *Sink) handleFill(ctx context.Context, evt types.Event) error {
	fill, ok := evt.Payload.(types.Fill)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Type)
	}
	if err := s.repo.InsertFill(fill); err != nil {
		s.logger.Warn("fill write failed", "fill_id", fill.ID.String(), "error", err)
		return nil
	}
	if err := s.repo.UpdateOrderStatus(fill.OrderID, types.OrderFilled); err != nil {
		s.logger.Warn("order status write failed", "order_id", fill.OrderID.String(), "error", err)
	}
	return nil
}

func (s *Sink) handlePositionUpdate(ctx context.Context, evt types.Event) error {
	pos, ok := evt.Payload.(types.Position)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", evt.Payload, evt.Type)
	}
	if err := s.repo.UpsertPosition(pos); err != nil {
		s.logger.Warn("position write failed", "symbol", pos.Symbol, "error", err)
	}
	return nil
}
