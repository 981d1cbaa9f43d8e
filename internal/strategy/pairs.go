package strategy

import (
	"math"
	"time"

	"tradesim/pkg/types"
)

// spread position states.
const (
	spreadFlat  = 0
	spreadShort = 1  // short A, long B
	spreadLong  = -1 // long A, short B
)

// Pairs trades the price ratio of two symbols. When the ratio's z-score
// over a rolling window stretches past entryZ the strategy shorts the
// rich leg and buys the cheap one; it unwinds both legs once the ratio
// reverts inside exitZ.
type Pairs struct {
	id      string
	symbolA string
	symbolB string

	windowSize int
	entryZ     float64
	exitZ      float64

	lastA, lastB float64
	haveA, haveB bool
	ratios       []float64
	state        int
}

// NewPairs creates the strategy for the (symbolA, symbolB) ratio.
func NewPairs(symbolA, symbolB string, windowSize int, entryZ, exitZ float64) *Pairs {
	return &Pairs{
		id:         "pairs_" + symbolA + "_" + symbolB,
		symbolA:    symbolA,
		symbolB:    symbolB,
		windowSize: windowSize,
		entryZ:     entryZ,
		exitZ:      exitZ,
	}
}

func (p *Pairs) ID() string { return p.id }

func (p *Pairs) Symbols() []string { return []string{p.symbolA, p.symbolB} }

func (p *Pairs) OnTick(tick types.Tick) []types.Signal {
	price, _ := tick.Last.Float64()
	switch tick.Symbol {
	case p.symbolA:
		p.lastA, p.haveA = price, true
	case p.symbolB:
		p.lastB, p.haveB = price, true
	default:
		return nil
	}
	if !p.haveA || !p.haveB || p.lastB == 0 {
		return nil
	}

	ratio := p.lastA / p.lastB
	if len(p.ratios) == p.windowSize {
		copy(p.ratios, p.ratios[1:])
		p.ratios[len(p.ratios)-1] = ratio
	} else {
		p.ratios = append(p.ratios, ratio)
	}
	if len(p.ratios) < p.windowSize {
		return nil
	}

	mu := mean(p.ratios)
	sigma := sampleStdev(p.ratios, mu)
	if sigma < minStdev {
		return nil
	}
	z := (ratio - mu) / sigma

	now := time.Now().UTC()
	switch p.state {
	case spreadFlat:
		strength := math.Min(1.0, math.Abs(z)/(2*p.entryZ))
		if z > p.entryZ {
			// Ratio rich: sell A, buy B.
			p.state = spreadShort
			return p.legs(types.SELL, types.BUY, strength, now)
		}
		if z < -p.entryZ {
			// Ratio cheap: buy A, sell B.
			p.state = spreadLong
			return p.legs(types.BUY, types.SELL, strength, now)
		}
	case spreadShort:
		if math.Abs(z) < p.exitZ {
			p.state = spreadFlat
			return p.legs(types.BUY, types.SELL, 1.0, now)
		}
	case spreadLong:
		if math.Abs(z) < p.exitZ {
			p.state = spreadFlat
			return p.legs(types.SELL, types.BUY, 1.0, now)
		}
	}
	return nil
}

func (p *Pairs) legs(sideA, sideB types.Side, strength float64, ts time.Time) []types.Signal {
	return []types.Signal{
		{StrategyID: p.id, Symbol: p.symbolA, Side: sideA, Strength: strength, Timestamp: ts},
		{StrategyID: p.id, Symbol: p.symbolB, Side: sideB, Strength: strength, Timestamp: ts},
	}
}

// Reset discards prices, the ratio window, and the spread position.
func (p *Pairs) Reset() {
	p.lastA, p.lastB = 0, 0
	p.haveA, p.haveB = false, false
	p.ratios = nil
	p.state = spreadFlat
}
