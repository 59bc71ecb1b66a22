package subaccount

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"
)

// Poller refreshes a display-only copy of the sub-account balance in the
// background. It is purely advisory: correctness-sensitive decisions always
// re-read the live balance.
type Poller struct {
	mgr *Manager
	log *slog.Logger

	mu     sync.RWMutex
	cached *big.Int
	at     time.Time
}

// NewPoller creates a balance poller over the given manager.
func NewPoller(mgr *Manager, log *slog.Logger) *Poller {
	return &Poller{mgr: mgr, log: log}
}

// Start runs the refresh loop until ctx is done.
func (p *Poller) Start(ctx context.Context, interval time.Duration) {
	p.log.Info("balance poller started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	if _, ok := p.mgr.Current(); !ok {
		return
	}
	bal, err := p.mgr.Balance(ctx)
	if err != nil {
		// Balance display is best-effort and must never block anything.
		p.log.Debug("balance refresh failed", "error", err)
		return
	}

	p.mu.Lock()
	p.cached = bal
	p.at = time.Now()
	p.mu.Unlock()
}

// Cached returns the last refreshed balance, or nil when none is available.
func (p *Poller) Cached() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cached == nil {
		return nil
	}
	return new(big.Int).Set(p.cached)
}
