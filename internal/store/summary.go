package store

import (
	"time"

	"github.com/PoyrazK/Mini-AWS/internal/db/models"
)

// Summary aggregates the tenant's own resources. Cost is linear in what the
// account owns; other tenants are never visited.
func (t *Tenant) Summary(now time.Time) models.FleetSummary {
	t.mu.RLock()
	vpcCount := len(t.vpcs)
	subnets := make([]*SubnetCell, 0, len(t.subnets))
	for _, c := range t.subnets {
		subnets = append(subnets, c)
	}
	instances := make([]*InstanceCell, 0, len(t.instances))
	for _, c := range t.instances {
		instances = append(instances, c)
	}
	t.mu.RUnlock()

	summary := models.FleetSummary{
		VPCs:        vpcCount,
		Subnets:     len(subnets),
		GeneratedAt: now,
	}
	for _, c := range subnets {
		allocated, capacity := c.Usage()
		summary.AllocatedIPs += allocated
		summary.IPCapacity += capacity
	}
	for _, c := range instances {
		c.mu.Lock()
		if !c.deleted {
			summary.Instances.Add(c.inst.Status)
		}
		c.mu.Unlock()
	}
	return summary
}

// CountByStatus tallies live instances across all tenants. Used by the gauge collector.
func (a *Arena) CountByStatus() map[models.InstanceStatus]int {
	counts := make(map[models.InstanceStatus]int, len(models.AllInstanceStatuses))
	for _, s := range models.AllInstanceStatuses {
		counts[s] = 0
	}
	for _, t := range a.Tenants() {
		for _, inst := range t.ListInstances() {
			counts[inst.Status]++
		}
	}
	return counts
}
