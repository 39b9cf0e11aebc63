// Package fleet answers read-only questions about an account's resources:
// per-instance runtime stats, the dashboard summary and the recent event log.
package fleet

import (
	"context"
	"time"

	"github.com/PoyrazK/Mini-AWS/internal/apperr"
	"github.com/PoyrazK/Mini-AWS/internal/db/models"
	"github.com/PoyrazK/Mini-AWS/internal/store"
)

// Event log page bounds.
const (
	DefaultEventLimit = 20
	MaxEventLimit     = 100
)

// EventLog lists an account's events, newest first. Implemented by
// events.Feed and repositories.EventRepository.
type EventLog interface {
	ListRecentEvents(ctx context.Context, accountID string, limit int) ([]models.Event, error)
}

// Reader implements the telemetry queries.
type Reader struct {
	arena  *store.Arena
	stats  StatsSource
	events EventLog
	now    func() time.Time
}

// NewReader creates a Reader. A nil source falls back to SyntheticSource.
func NewReader(arena *store.Arena, source StatsSource, log EventLog) *Reader {
	if source == nil {
		source = SyntheticSource{}
	}
	return &Reader{arena: arena, stats: source, events: log, now: time.Now}
}

// InstanceStats returns a snapshot for a running instance. Instances in any
// other state have no runtime and report NotFound.
func (r *Reader) InstanceStats(ctx context.Context, owner, id string) (models.InstanceStats, error) {
	inst, err := r.arena.Tenant(owner).GetInstance(id)
	if err != nil {
		return models.InstanceStats{}, err
	}
	if inst.Status != models.InstanceStatusRunning {
		return models.InstanceStats{}, apperr.NotFound("instance %s is %s and has no runtime stats", id, inst.Status)
	}
	return r.stats.Stats(ctx, inst, r.now().UTC())
}

// Summary aggregates owner's VPCs, subnets, instances and address usage.
func (r *Reader) Summary(_ context.Context, owner string) models.FleetSummary {
	return r.arena.Tenant(owner).Summary(r.now().UTC())
}

// RecentEvents returns up to limit events of owner, newest first. The limit
// is clamped to [1, MaxEventLimit]; zero means DefaultEventLimit.
func (r *Reader) RecentEvents(ctx context.Context, owner string, limit int) ([]models.Event, error) {
	switch {
	case limit == 0:
		limit = DefaultEventLimit
	case limit < 0:
		return nil, apperr.Validation("limit must be positive")
	case limit > MaxEventLimit:
		limit = MaxEventLimit
	}
	if r.events == nil {
		return []models.Event{}, nil
	}
	evs, err := r.events.ListRecentEvents(ctx, owner, limit)
	if err != nil {
		return nil, err
	}
	if evs == nil {
		evs = []models.Event{}
	}
	return evs, nil
}
