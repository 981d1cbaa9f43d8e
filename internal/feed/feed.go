// Package feed produces the tick stream that drives the simulator, either
// from a synthetic random-walk generator or from live exchange tickers.
package feed

import "context"

// Feed publishes ticks onto the bus until ctx is cancelled.
type Feed interface {
	Run(ctx context.Context) error
}
