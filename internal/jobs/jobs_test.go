package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/PoyrazK/Mini-AWS/internal/db/models"
	"github.com/PoyrazK/Mini-AWS/internal/telemetry"
)

// ---------------------------------------------------------------------------
// ProvisioningSweeper
// ---------------------------------------------------------------------------

type countingFailer struct {
	calls     atomic.Int32
	threshold atomic.Int64
}

func (f *countingFailer) FailStuck(olderThan time.Duration) int {
	f.calls.Add(1)
	f.threshold.Store(int64(olderThan))
	return 1
}

func TestNewProvisioningSweeper_Defaults(t *testing.T) {
	s := NewProvisioningSweeper(&countingFailer{}, 0, 10*time.Second)
	if s.interval != 15*time.Second {
		t.Errorf("interval = %v, want 15s", s.interval)
	}
	if s.threshold != 10*time.Second+sweepGrace {
		t.Errorf("threshold = %v, want timeout + grace", s.threshold)
	}
}

func TestProvisioningSweeper_SweepsUntilStopped(t *testing.T) {
	f := &countingFailer{}
	s := NewProvisioningSweeper(f, 5*time.Millisecond, time.Second)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
	if f.calls.Load() < 2 {
		t.Errorf("FailStuck calls = %d, want at least 2", f.calls.Load())
	}
	if got := time.Duration(f.threshold.Load()); got != time.Second+sweepGrace {
		t.Errorf("threshold passed = %v, want %v", got, time.Second+sweepGrace)
	}
}

func TestProvisioningSweeper_ContextCancel(t *testing.T) {
	s := NewProvisioningSweeper(&countingFailer{}, time.Hour, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}

// ---------------------------------------------------------------------------
// FleetGaugeCollector
// ---------------------------------------------------------------------------

func gaugeValue(status string) float64 {
	var m dto.Metric
	if err := telemetry.Instances.WithLabelValues(status).Write(&m); err != nil {
		return -1
	}
	return m.GetGauge().GetValue()
}

type fixedCounter map[models.InstanceStatus]int

func (f fixedCounter) CountByStatus() map[models.InstanceStatus]int { return f }

func TestFleetGaugeCollector_Collect(t *testing.T) {
	g := NewFleetGaugeCollector(fixedCounter{
		models.InstanceStatusPending: 2,
		models.InstanceStatusRunning: 5,
		models.InstanceStatusStopped: 0,
		models.InstanceStatusError:   1,
	}, 0)
	if g.interval != 15*time.Second {
		t.Errorf("interval = %v, want 15s default", g.interval)
	}

	g.collect()

	tests := map[string]float64{"pending": 2, "running": 5, "stopped": 0, "error": 1}
	for status, want := range tests {
		if got := gaugeValue(status); got != want {
			t.Errorf("instances{status=%q} = %v, want %v", status, got, want)
		}
	}
}

func TestFleetGaugeCollector_StartCollectsImmediately(t *testing.T) {
	g := NewFleetGaugeCollector(fixedCounter{models.InstanceStatusRunning: 7}, time.Hour)

	done := make(chan struct{})
	go func() {
		g.Start(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for gaugeValue("running") != 7 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	g.Stop()
	<-done

	if got := gaugeValue("running"); got != 7 {
		t.Errorf("instances{status=running} = %v, want 7", got)
	}
}
