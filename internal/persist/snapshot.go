package persist

import (
	"context"
	"log/slog"
	"time"

	"tradesim/internal/portfolio"
	"tradesim/internal/store"
)

// Persister writes a portfolio snapshot to the store on a fixed interval.
type Persister struct {
	tracker  *portfolio.Tracker
	repo     *store.Repository
	interval time.Duration
	logger   *slog.Logger
}

// NewPersister creates a snapshot persister.
func NewPersister(tracker *portfolio.Tracker, repo *store.Repository, interval time.Duration, logger *slog.Logger) *Persister {
	return &Persister{
		tracker:  tracker,
		repo:     repo,
		interval: interval,
		logger:   logger.With("component", "snapshot_persister"),
	}
}

// Run snapshots until ctx is cancelled, writing one final snapshot on the
// way out.
func (p *Persister) Run(ctx context.Context) error {
	p.logger.Info("snapshot persister started", "interval", p.interval.String())
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.write()
			p.logger.Info("snapshot persister stopped")
			return ctx.Err()
		case <-ticker.C:
			p.write()
		}
	}
}

func (p *Persister) write() {
	snap := p.tracker.Snapshot()
	if err := p.repo.InsertSnapshot(snap); err != nil {
		p.logger.Warn("snapshot write failed", "error", err)
		return
	}
	p.logger.Debug("snapshot stored",
		"equity", snap.TotalEquity.String(),
		"drawdown_pct", snap.DrawdownPct.String(),
	)
}
