package strategy

import (
	"math"
	"time"

	"tradesim/pkg/types"
)

// MeanReversion trades single symbols against a rolling z-score: prices
// far below the window mean are bought, prices far above are sold. No
// signals are produced until a symbol's window is full, and a flat window
// (near-zero deviation) is never traded.
type MeanReversion struct {
	id         string
	windowSize int
	entryZ     float64

	windows map[string][]float64
}

// NewMeanReversion creates the strategy. windowSize is the rolling window
// length (>= 2); entryZ is the z-score magnitude a price must strictly
// exceed to trigger.
func NewMeanReversion(windowSize int, entryZ float64) *MeanReversion {
	return &MeanReversion{
		id:         "mean_reversion",
		windowSize: windowSize,
		entryZ:     entryZ,
		windows:    make(map[string][]float64),
	}
}

func (m *MeanReversion) ID() string { return m.id }

// Symbols returns nil: the strategy trades every symbol it sees.
func (m *MeanReversion) Symbols() []string { return nil }

func (m *MeanReversion) OnTick(tick types.Tick) []types.Signal {
	price, _ := tick.Last.Float64()

	w := m.windows[tick.Symbol]
	if len(w) == m.windowSize {
		copy(w, w[1:])
		w[len(w)-1] = price
	} else {
		w = append(w, price)
	}
	m.windows[tick.Symbol] = w

	if len(w) < m.windowSize {
		return nil
	}

	mu := mean(w)
	sigma := sampleStdev(w, mu)
	if sigma < minStdev {
		return nil
	}

	z := (price - mu) / sigma
	var side types.Side
	switch {
	case z > m.entryZ:
		side = types.SELL
	case z < -m.entryZ:
		side = types.BUY
	default:
		return nil
	}

	return []types.Signal{{
		StrategyID: m.id,
		Symbol:     tick.Symbol,
		Side:       side,
		Strength:   math.Min(1.0, math.Abs(z)/(2*m.entryZ)),
		Timestamp:  time.Now().UTC(),
	}}
}

// Reset discards all price windows.
func (m *MeanReversion) Reset() {
	m.windows = make(map[string][]float64)
}
