package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/PoyrazK/Mini-AWS/internal/db/models"
	"github.com/PoyrazK/Mini-AWS/internal/telemetry"
)

// StatusCounter tallies live instances by status. Implemented by store.Arena.
type StatusCounter interface {
	CountByStatus() map[models.InstanceStatus]int
}

// FleetGaugeCollector samples instance counts into the instances{status} gauge.
type FleetGaugeCollector struct {
	counter  StatusCounter
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewFleetGaugeCollector creates a collector sampling every interval.
func NewFleetGaugeCollector(counter StatusCounter, interval time.Duration) *FleetGaugeCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &FleetGaugeCollector{
		counter:  counter,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start samples once immediately, then on every tick until ctx is cancelled
// or Stop is called.
func (g *FleetGaugeCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	g.collect()
	for {
		select {
		case <-ticker.C:
			g.collect()
		case <-g.stopChan:
			slog.Debug("fleet gauge collector stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (g *FleetGaugeCollector) Stop() {
	g.stopOnce.Do(func() { close(g.stopChan) })
}

func (g *FleetGaugeCollector) collect() {
	for status, n := range g.counter.CountByStatus() {
		telemetry.Instances.WithLabelValues(string(status)).Set(float64(n))
	}
}
