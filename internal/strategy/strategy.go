// Package strategy contains the signal-generating strategies and the
// engine that feeds them market data.
package strategy

import (
	"math"

	"tradesim/pkg/types"
)

// minStdev is the floor below which a price window is considered flat and
// produces no z-score.
const minStdev = 1e-9

// Strategy consumes ticks and emits trade intents. Implementations are
// driven by a single goroutine and need no internal locking.
type Strategy interface {
	// ID is the stable identifier stamped on every signal.
	ID() string
	// Symbols lists the symbols this strategy wants. Empty means all.
	Symbols() []string
	// OnTick processes one tick and returns zero or more signals.
	OnTick(tick types.Tick) []types.Signal
	// Reset discards all accumulated state.
	Reset()
}

// mean returns the arithmetic mean of xs. Caller guarantees len(xs) > 0.
func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStdev returns the sample standard deviation (n-1 denominator).
// Caller guarantees len(xs) >= 2.
func sampleStdev(xs []float64, mu float64) float64 {
	sum := 0.0
	for _, x := range xs {
		d := x - mu
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
