package feed

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/bus"
	"tradesim/pkg/types"
)

const (
	syntheticStartPrice = 100.0
	syntheticVolatility = 0.001  // per-tick stdev of the relative step
	syntheticHalfSpread = 0.0005 // bid/ask offset as a fraction of last
	syntheticFloor      = 0.01   // prices never go below one cent
)

// Synthetic generates a geometric random walk per symbol and publishes one
// tick per symbol per interval.
type Synthetic struct {
	symbols  []string
	interval time.Duration
	prices   map[string]float64
	rng      *rand.Rand

	bus    *bus.Bus
	logger *slog.Logger
}

// NewSynthetic creates a synthetic feed for symbols, all starting at the
// same reference price.
func NewSynthetic(b *bus.Bus, symbols []string, interval time.Duration, logger *slog.Logger) *Synthetic {
	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		prices[sym] = syntheticStartPrice
	}
	return &Synthetic{
		symbols:  symbols,
		interval: interval,
		prices:   prices,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		bus:      b,
		logger:   logger.With("component", "feed_synthetic"),
	}
}

// Run publishes ticks until ctx is cancelled.
func (s *Synthetic) Run(ctx context.Context) error {
	s.logger.Info("synthetic feed started",
		"symbols", s.symbols,
		"interval", s.interval.String(),
	)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("synthetic feed stopped")
			return ctx.Err()
		case <-ticker.C:
			for _, sym := range s.symbols {
				s.bus.Publish(ctx, types.NewTickEvent(s.next(sym)))
			}
		}
	}
}

// next advances the walk for one symbol and builds its tick.
func (s *Synthetic) next(symbol string) types.Tick {
	price := s.prices[symbol] * (1 + s.rng.NormFloat64()*syntheticVolatility)
	if price < syntheticFloor {
		price = syntheticFloor
	}
	s.prices[symbol] = price

	last := decimal.NewFromFloat(price).Round(types.PriceScale)
	halfSpread := decimal.NewFromFloat(price * syntheticHalfSpread).Round(types.PriceScale)

	return types.Tick{
		Symbol:    symbol,
		Last:      last,
		Bid:       last.Sub(halfSpread),
		Ask:       last.Add(halfSpread),
		Volume:    100 + s.rng.Int63n(9901),
		Timestamp: time.Now().UTC(),
	}
}
