package fleet

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/PoyrazK/Mini-AWS/internal/db/models"
)

// StatsSource produces a runtime snapshot of a running instance.
type StatsSource interface {
	Stats(ctx context.Context, inst models.Instance, now time.Time) (models.InstanceStats, error)
}

// DefaultMemoryLimit is the memory limit reported by SyntheticSource.
const DefaultMemoryLimit uint64 = 512 << 20

// SyntheticSource derives plausible, repeatable numbers from the instance id
// and its uptime. Two reads at the same instant return the same snapshot;
// byte counters only grow.
type SyntheticSource struct {
	MemoryLimit uint64
}

// Stats implements StatsSource.
func (s SyntheticSource) Stats(_ context.Context, inst models.Instance, now time.Time) (models.InstanceStats, error) {
	limit := s.MemoryLimit
	if limit == 0 {
		limit = DefaultMemoryLimit
	}

	started := inst.CreatedAt
	if inst.StartedAt != nil {
		started = *inst.StartedAt
	}
	uptime := now.Sub(started)
	if uptime < 0 {
		uptime = 0
	}
	secs := uint64(uptime / time.Second)

	h := fnv.New64a()
	_, _ = h.Write([]byte(inst.ID))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed>>1))

	baseCPU := 2 + rng.Float64()*40
	phase := rng.Float64() * 2 * math.Pi
	cpu := baseCPU + 8*math.Sin(phase+float64(secs)/30)
	cpu = math.Max(0, math.Min(100, cpu))

	memBase := 0.1 + rng.Float64()*0.5
	memUsed := uint64(float64(limit) * math.Min(0.95, memBase+0.05*math.Sin(phase+float64(secs)/120)))

	readRate := 1<<10 + rng.Uint64N(64<<10)
	writeRate := 1<<10 + rng.Uint64N(32<<10)
	rxRate := 2<<10 + rng.Uint64N(128<<10)
	txRate := 1<<10 + rng.Uint64N(96<<10)

	return models.InstanceStats{
		InstanceID:       inst.ID,
		CPUPercent:       math.Round(cpu*100) / 100,
		MemoryUsedBytes:  memUsed,
		MemoryLimitBytes: limit,
		DiskReadBytes:    readRate * secs,
		DiskWriteBytes:   writeRate * secs,
		NetworkRxBytes:   rxRate * secs,
		NetworkTxBytes:   txRate * secs,
		UptimeSeconds:    int64(secs),
		CollectedAt:      now,
	}, nil
}
