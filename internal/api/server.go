// Package api exposes the read-only HTTP and WebSocket query surface.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tradesim/internal/config"
	"tradesim/internal/portfolio"
	"tradesim/internal/store"
)

// snapshotPushInterval is how often the hub pushes the live portfolio to
// WebSocket subscribers.
const snapshotPushInterval = time.Second

// Server runs the HTTP/WebSocket API.
type Server struct {
	cfg      config.APIConfig
	tracker  *portfolio.Tracker
	hub      *Hub
	handlers *Handlers
	server   *http.Server

	pushCancel context.CancelFunc
	logger     *slog.Logger
}

// NewServer creates the API server.
func NewServer(cfg config.APIConfig, tracker *portfolio.Tracker, repo *store.Repository, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(tracker, repo, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /portfolio", handlers.HandlePortfolio)
	mux.HandleFunc("GET /positions", handlers.HandlePositions)
	mux.HandleFunc("GET /positions/{symbol}", handlers.HandlePosition)
	mux.HandleFunc("GET /orders", handlers.HandleOrders)
	mux.HandleFunc("GET /orders/{id}/fills", handlers.HandleOrderFills)
	mux.HandleFunc("GET /ws/portfolio", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		tracker:  tracker,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api_server"),
	}
}

// Start runs the hub, the snapshot pusher, and the HTTP listener. It
// blocks until the server shuts down.
func (s *Server) Start() error {
	go s.hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	s.pushCancel = cancel
	go s.pushLoop(ctx)

	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully drains the listener and stops the snapshot pusher.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")
	if s.pushCancel != nil {
		s.pushCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// pushLoop broadcasts the live snapshot to WebSocket clients once per
// interval while any are connected.
func (s *Server) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(snapshotPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.ClientCount() == 0 {
				continue
			}
			s.hub.BroadcastSnapshot(s.tracker.Snapshot())
		}
	}
}
