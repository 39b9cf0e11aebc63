package store

import (
	"context"
	"errors"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/PoyrazK/Mini-AWS/internal/apperr"
	"github.com/PoyrazK/Mini-AWS/internal/cidr"
	"github.com/PoyrazK/Mini-AWS/internal/db/models"
)

// InstanceCell is the arena slot of one instance.
type InstanceCell struct {
	Subnet *SubnetCell

	mu      sync.Mutex
	inst    models.Instance
	deleted bool
	cancel  context.CancelFunc
}

// Snapshot returns a copy of the instance record.
func (c *InstanceCell) Snapshot() models.Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyLocked()
}

func (c *InstanceCell) copyLocked() models.Instance {
	inst := c.inst
	if c.inst.Ports != nil {
		inst.Ports = append([]models.PortMapping(nil), c.inst.Ports...)
	}
	return inst
}

// CreateInstance attaches inst to its subnet. The subnet must belong to
// inst.VPCID. cancel is invoked when the instance is deleted so in-flight
// provisioning stops early.
func (t *Tenant) CreateInstance(inst models.Instance, cancel context.CancelFunc) (models.Instance, error) {
	subnet, err := t.Subnet(inst.SubnetID)
	if err != nil {
		return models.Instance{}, apperr.Validation("subnet %s does not exist", inst.SubnetID)
	}

	subnet.mu.Lock()
	defer subnet.mu.Unlock()
	if subnet.deleted {
		return models.Instance{}, apperr.Validation("subnet %s does not exist", inst.SubnetID)
	}
	if subnet.subnet.VPCID != inst.VPCID {
		return models.Instance{}, apperr.Validation("subnet %s does not belong to vpc %s", inst.SubnetID, inst.VPCID)
	}

	cell := &InstanceCell{Subnet: subnet, inst: inst, cancel: cancel}

	t.mu.Lock()
	if _, exists := t.instances[inst.ID]; exists {
		t.mu.Unlock()
		return models.Instance{}, ErrDuplicateID
	}
	t.instances[inst.ID] = cell
	t.mu.Unlock()

	subnet.instances[inst.ID] = struct{}{}
	return cell.copyLocked(), nil
}

// Instance returns the cell of a live instance.
func (t *Tenant) Instance(id string) (*InstanceCell, error) {
	t.mu.RLock()
	cell, ok := t.instances[id]
	t.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("instance %s not found", id)
	}
	return cell, nil
}

// GetInstance returns a snapshot of a live instance.
func (t *Tenant) GetInstance(id string) (models.Instance, error) {
	cell, err := t.Instance(id)
	if err != nil {
		return models.Instance{}, err
	}
	cell.mu.Lock()
	defer cell.mu.Unlock()
	if cell.deleted {
		return models.Instance{}, apperr.NotFound("instance %s not found", id)
	}
	return cell.copyLocked(), nil
}

// ListInstances returns every live instance ordered by creation time.
func (t *Tenant) ListInstances() []models.Instance {
	t.mu.RLock()
	cells := make([]*InstanceCell, 0, len(t.instances))
	for _, c := range t.instances {
		cells = append(cells, c)
	}
	t.mu.RUnlock()

	out := make([]models.Instance, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Outcome is the result of a provisioning attempt.
type Outcome struct {
	Failed  bool
	Message string
	At      time.Time
}

// CommitProvisioning moves a pending instance to running (allocating the lowest
// free address of its subnet) or to error. The commit only applies if the
// record is live and still at generation gen; otherwise ErrStale is returned and
// nothing changes. An exhausted subnet turns a successful outcome into error.
func (t *Tenant) CommitProvisioning(id string, gen uint64, out Outcome) (models.Instance, error) {
	cell, err := t.Instance(id)
	if err != nil {
		return models.Instance{}, ErrStale
	}

	cell.mu.Lock()
	defer cell.mu.Unlock()
	if cell.deleted || cell.inst.Generation != gen || cell.inst.Status != models.InstanceStatusPending {
		return models.Instance{}, ErrStale
	}

	if !out.Failed {
		addr, err := cell.allocateAddress()
		switch {
		case err == nil:
			started := out.At
			cell.inst.Status = models.InstanceStatusRunning
			cell.inst.PrivateIP = addr.String()
			cell.inst.StartedAt = &started
		case errors.Is(err, cidr.ErrExhausted):
			out = Outcome{Failed: true, Message: "no free address in subnet " + cell.inst.SubnetID, At: out.At}
		default:
			return models.Instance{}, err
		}
	}
	if out.Failed {
		cell.inst.Status = models.InstanceStatusError
		cell.inst.ErrorMessage = out.Message
	}

	cell.inst.Generation++
	cell.inst.UpdatedAt = out.At
	if cell.cancel != nil {
		cell.cancel()
		cell.cancel = nil
	}
	return cell.copyLocked(), nil
}

// allocateAddress takes the subnet lock; the instance lock is already held.
func (c *InstanceCell) allocateAddress() (netip.Addr, error) {
	c.Subnet.mu.Lock()
	defer c.Subnet.mu.Unlock()
	if c.Subnet.deleted {
		return netip.Addr{}, cidr.ErrExhausted
	}
	return c.Subnet.pool.Allocate()
}

func (c *InstanceCell) releaseAddressLocked() {
	if c.inst.PrivateIP == "" {
		return
	}
	if addr, err := netip.ParseAddr(c.inst.PrivateIP); err == nil {
		c.Subnet.mu.Lock()
		c.Subnet.pool.Release(addr)
		c.Subnet.mu.Unlock()
	}
	c.inst.PrivateIP = ""
}

// StopInstance moves a running instance to stopped and returns its address to the pool.
func (t *Tenant) StopInstance(id string, at time.Time) (models.Instance, error) {
	cell, err := t.Instance(id)
	if err != nil {
		return models.Instance{}, err
	}

	cell.mu.Lock()
	defer cell.mu.Unlock()
	if cell.deleted {
		return models.Instance{}, apperr.NotFound("instance %s not found", id)
	}
	if !models.CanTransition(cell.inst.Status, models.InstanceStatusStopped) {
		return models.Instance{}, apperr.Conflict("instance %s is %s and cannot be stopped", id, cell.inst.Status)
	}

	cell.releaseAddressLocked()
	cell.inst.Status = models.InstanceStatusStopped
	cell.inst.Generation++
	cell.inst.UpdatedAt = at
	return cell.copyLocked(), nil
}

// DeleteInstance removes the instance from any state. The generation is bumped
// and the provisioning context cancelled before the record disappears, so a
// late provisioning commit observes ErrStale and cannot resurrect the id.
func (t *Tenant) DeleteInstance(id string) (models.Instance, error) {
	cell, err := t.Instance(id)
	if err != nil {
		return models.Instance{}, err
	}

	cell.mu.Lock()
	defer cell.mu.Unlock()
	if cell.deleted {
		return models.Instance{}, apperr.NotFound("instance %s not found", id)
	}
	cell.deleted = true
	cell.inst.Generation++
	if cell.cancel != nil {
		cell.cancel()
		cell.cancel = nil
	}
	removed := cell.copyLocked()

	cell.releaseAddressLocked()
	cell.Subnet.mu.Lock()
	delete(cell.Subnet.instances, id)
	cell.Subnet.mu.Unlock()

	t.mu.Lock()
	delete(t.instances, id)
	t.mu.Unlock()
	return removed, nil
}
