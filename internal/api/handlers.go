package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tradesim/internal/portfolio"
	"tradesim/internal/store"
	"tradesim/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Read-only local dashboard surface.
		return true
	},
}

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	tracker *portfolio.Tracker
	repo    *store.Repository
	hub     *Hub
	started time.Time
	logger  *slog.Logger
}

// NewHandlers creates a handlers instance.
func NewHandlers(tracker *portfolio.Tracker, repo *store.Repository, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		tracker: tracker,
		repo:    repo,
		hub:     hub,
		started: time.Now().UTC(),
		logger:  logger.With("component", "api_handlers"),
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// HandleHealth reports liveness and uptime.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// HandlePortfolio returns the full portfolio snapshot.
func (h *Handlers) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.tracker.Snapshot())
}

// HandlePositions returns all positions keyed by symbol.
func (h *Handlers) HandlePositions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.tracker.Positions())
}

// HandlePosition returns the position for one symbol, 404 when flat and
// never traded.
func (h *Handlers) HandlePosition(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	pos, ok := h.tracker.Position(symbol)
	if !ok {
		h.writeError(w, http.StatusNotFound, "no position for "+symbol)
		return
	}
	h.writeJSON(w, http.StatusOK, pos)
}

// HandleOrders returns the stored orders, newest first. An optional
// ?status= filter narrows by lifecycle state.
func (h *Handlers) HandleOrders(w http.ResponseWriter, r *http.Request) {
	var (
		orders []store.Order
		err    error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		orders, err = h.repo.OrdersByStatus(types.OrderStatus(status))
	} else {
		orders, err = h.repo.Orders()
	}
	if err != nil {
		h.logger.Error("order query failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "order query failed")
		return
	}
	h.writeJSON(w, http.StatusOK, orders)
}

// HandleOrderFills returns the fills of one order.
func (h *Handlers) HandleOrderFills(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	fills, err := h.repo.FillsForOrder(id)
	if err != nil {
		h.logger.Error("fill query failed", "order_id", id.String(), "error", err)
		h.writeError(w, http.StatusInternalServerError, "fill query failed")
		return
	}
	h.writeJSON(w, http.StatusOK, fills)
}

// HandleWebSocket upgrades the connection and registers the client for
// snapshot pushes, seeding it with the current snapshot.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := NewClient(h.hub, conn)

	data, err := json.Marshal(streamEvent{
		Type:      "portfolio_snapshot",
		Timestamp: time.Now().UTC(),
		Data:      h.tracker.Snapshot(),
	})
	if err != nil {
		h.logger.Error("failed to marshal initial snapshot", "error", err)
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("failed to send initial snapshot to client")
	}
}
