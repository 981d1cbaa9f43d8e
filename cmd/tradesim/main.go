// Trading simulator — an event-driven paper-trading backend.
//
// Architecture:
//
//	main.go                — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	bus/bus.go             — typed event bus: TICK → SIGNAL → ORDER_REQUEST → FILL → POSITION_UPDATE
//	feed/synthetic.go      — geometric random-walk tick generator
//	feed/binance.go        — live tickers over REST bootstrap + WebSocket stream
//	strategy/engine.go     — routes ticks to strategies, publishes their signals
//	strategy/meanreversion — z-score reversion on single symbols
//	strategy/pairs.go      — ratio spread trading on a symbol pair
//	execution/manager.go   — sizes orders from signals, simulates fills with slippage
//	risk/manager.go        — pre-trade limits: order value, position size, drawdown
//	risk/stoploss.go       — closes positions that move too far against entry
//	portfolio/tracker.go   — positions, cash, realized/unrealized P&L
//	persist/sink.go        — mirrors orders, fills, positions to the database
//	api/server.go          — read-only HTTP + WebSocket query surface
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/api"
	"tradesim/internal/bus"
	"tradesim/internal/config"
	"tradesim/internal/execution"
	"tradesim/internal/feed"
	"tradesim/internal/persist"
	"tradesim/internal/portfolio"
	"tradesim/internal/risk"
	"tradesim/internal/store"
	"tradesim/internal/strategy"
)

// snapshotPersistInterval is how often the portfolio is snapshotted to the
// database.
const snapshotPersistInterval = 60 * time.Second

// drainWait bounds how long shutdown waits for in-flight events to settle
// before components are stopped.
const drainWait = 5 * time.Second

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("TRADESIM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	repo, err := store.Open(cfg.DB.DSN())
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	b := bus.New(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A portfolio integrity failure takes the process down.
	tracker := portfolio.New(b, decimal.NewFromFloat(cfg.Portfolio.InitialCash), func(err error) {
		logger.Error("portfolio integrity failure, shutting down", "error", err)
		cancel()
	}, logger)
	tracker.Start()

	riskMgr := risk.NewManager(b, tracker, risk.Limits{
		MaxOrderValue:   decimal.NewFromFloat(cfg.Risk.MaxOrderValue),
		MaxPositionSize: cfg.Risk.MaxPositionSize,
		MaxDrawdownPct:  decimal.NewFromFloat(cfg.Risk.MaxDrawdownPct),
	}, logger)
	riskMgr.Start()

	var stopLoss *risk.StopLoss
	if cfg.Strategy.StopLoss.Enabled {
		stopLoss = risk.NewStopLoss(b, tracker, decimal.NewFromFloat(cfg.Strategy.StopLoss.Pct), logger)
		stopLoss.Start()
	}

	exec := execution.NewManager(b, execution.Config{
		MaxQtyPerSignal: cfg.Execution.MaxQtyPerSignal,
		RiskWait:        cfg.Execution.RiskWait,
		SlippageBps:     cfg.Execution.SlippageBps,
	}, logger)
	exec.Start(ctx)

	var strategies []strategy.Strategy
	if cfg.Strategy.MeanReversion.Enabled {
		strategies = append(strategies, strategy.NewMeanReversion(
			cfg.Strategy.MeanReversion.WindowSize,
			cfg.Strategy.MeanReversion.EntryZ,
		))
	}
	if cfg.Strategy.Pairs.Enabled {
		strategies = append(strategies, strategy.NewPairs(
			cfg.Strategy.Pairs.SymbolA,
			cfg.Strategy.Pairs.SymbolB,
			cfg.Strategy.Pairs.WindowSize,
			cfg.Strategy.Pairs.EntryZ,
			cfg.Strategy.Pairs.ExitZ,
		))
	}
	engine := strategy.NewEngine(b, strategies, logger)
	engine.Start()

	sink := persist.NewSink(b, repo, logger)
	sink.Start()

	persister := persist.NewPersister(tracker, repo, snapshotPersistInterval, logger)
	go persister.Run(ctx)

	var marketFeed feed.Feed
	if cfg.Feed.UseSynthetic {
		marketFeed = feed.NewSynthetic(b, cfg.Feed.Symbols, cfg.Feed.TickInterval, logger)
	} else {
		marketFeed = feed.NewBinance(b, cfg.Feed.Symbols, cfg.Feed.WSBaseURL, cfg.Feed.RESTBaseURL, logger)
	}
	go func() {
		if err := marketFeed.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("feed stopped", "error", err)
			cancel()
		}
	}()

	apiServer := api.NewServer(cfg.API, tracker, repo, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("api server failed", "error", err)
			cancel()
		}
	}()

	logger.Info("trading simulator started",
		"symbols", cfg.Feed.Symbols,
		"synthetic_feed", cfg.Feed.UseSynthetic,
		"strategies", len(strategies),
		"api", fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Warn("shutting down after internal failure")
	}

	// Stop the outer surface first, then the feed, then let in-flight
	// events settle before detaching the pipeline.
	if err := apiServer.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
	cancel()
	time.Sleep(drainWait)

	engine.Stop()
	exec.Stop()
	if stopLoss != nil {
		stopLoss.Stop()
	}
	riskMgr.Stop()
	sink.Stop()
	tracker.Stop()

	logger.Info("trading simulator stopped")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
