// provisioning_sweeper.go implements the ProvisioningSweeper background job, which
// fails instances that have been pending far longer than any provisioning attempt
// may take. Each provisioning goroutine already has its own timeout; the sweeper
// catches the cases where that goroutine never committed (a panic recovered by
// safego, or a provisioner that ignored its context).
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StuckFailer fails instances pending for longer than olderThan and returns
// how many it failed. Implemented by compute.Orchestrator.
type StuckFailer interface {
	FailStuck(olderThan time.Duration) int
}

// sweepGrace is added to the provisioning timeout before an instance counts as stuck.
const sweepGrace = 30 * time.Second

// ProvisioningSweeper periodically fails stuck pending instances.
type ProvisioningSweeper struct {
	failer    StuckFailer
	interval  time.Duration
	threshold time.Duration
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewProvisioningSweeper creates a sweeper that runs every interval and fails
// instances pending for longer than timeout plus a grace period.
func NewProvisioningSweeper(failer StuckFailer, interval, timeout time.Duration) *ProvisioningSweeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &ProvisioningSweeper{
		failer:    failer,
		interval:  interval,
		threshold: timeout + sweepGrace,
		stopChan:  make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
func (s *ProvisioningSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("provisioning sweeper started", "interval", s.interval, "threshold", s.threshold)

	for {
		select {
		case <-ticker.C:
			s.runSweep()
		case <-s.stopChan:
			slog.Info("provisioning sweeper stopped")
			return
		case <-ctx.Done():
			slog.Info("provisioning sweeper context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (s *ProvisioningSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *ProvisioningSweeper) runSweep() {
	if n := s.failer.FailStuck(s.threshold); n > 0 {
		slog.Warn("provisioning sweeper failed stuck instances", "count", n, "threshold", s.threshold)
	}
}
