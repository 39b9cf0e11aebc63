// Package guard enforces deletion ordering across resources: instances before
// subnets, subnets before VPCs. A violation is a retryable Conflict, never a
// cascading delete. The checks are handed to the store, which runs them inside
// the critical section that also performs the removal.
package guard

import (
	"strings"

	"github.com/PoyrazK/Mini-AWS/internal/apperr"
	"github.com/PoyrazK/Mini-AWS/internal/store"
	"github.com/PoyrazK/Mini-AWS/internal/telemetry"
)

// maxListed bounds how many dependent ids are echoed back in a conflict message.
const maxListed = 3

// Guard builds dependency checks for the store.
type Guard struct{}

// New returns a Guard.
func New() *Guard {
	return &Guard{}
}

// VPCDeletable rejects deleting vpcID while any subnet references it.
func (g *Guard) VPCDeletable(vpcID string) store.DependencyCheck {
	return func(subnetIDs []string) error {
		if len(subnetIDs) == 0 {
			return nil
		}
		telemetry.NetworkConflictsTotal.WithLabelValues("vpc_has_subnets").Inc()
		return apperr.Conflict("vpc %s still has %d subnet(s): %s", vpcID, len(subnetIDs), listIDs(subnetIDs))
	}
}

// SubnetDeletable rejects deleting subnetID while any instance, in any state, references it.
func (g *Guard) SubnetDeletable(subnetID string) store.DependencyCheck {
	return func(instanceIDs []string) error {
		if len(instanceIDs) == 0 {
			return nil
		}
		telemetry.NetworkConflictsTotal.WithLabelValues("subnet_has_instances").Inc()
		return apperr.Conflict("subnet %s still has %d instance(s): %s", subnetID, len(instanceIDs), listIDs(instanceIDs))
	}
}

func listIDs(ids []string) string {
	if len(ids) <= maxListed {
		return strings.Join(ids, ", ")
	}
	return strings.Join(ids[:maxListed], ", ") + ", ..."
}
