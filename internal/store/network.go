package store

import (
	"sort"
	"sync"

	"github.com/PoyrazK/Mini-AWS/internal/apperr"
	"github.com/PoyrazK/Mini-AWS/internal/cidr"
	"github.com/PoyrazK/Mini-AWS/internal/db/models"
)

// VPCCell is the arena slot of one VPC.
type VPCCell struct {
	Block cidr.Block

	mu      sync.Mutex
	vpc     models.VPC
	subnets map[string]*SubnetCell
	deleted bool
}

// Snapshot returns a copy of the VPC record.
func (c *VPCCell) Snapshot() models.VPC {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vpc
}

// SubnetCell is the arena slot of one subnet.
type SubnetCell struct {
	Block cidr.Block
	VPC   *VPCCell

	mu        sync.Mutex
	subnet    models.Subnet
	pool      *cidr.Pool
	instances map[string]struct{}
	deleted   bool
}

// Snapshot returns a copy of the subnet record with a current free-address count.
func (c *SubnetCell) Snapshot() models.Subnet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *SubnetCell) snapshotLocked() models.Subnet {
	s := c.subnet
	s.AvailableIPs = c.pool.Capacity() - uint64(c.pool.InUse())
	return s
}

// Usage returns the number of allocated addresses and the pool capacity.
func (c *SubnetCell) Usage() (allocated int, capacity uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.InUse(), c.pool.Capacity()
}

// SubnetRange is the view of a sibling subnet handed to overlap validation.
type SubnetRange struct {
	ID    string
	Block cidr.Block
}

// SubnetValidator inspects a prospective subnet against its VPC and siblings.
// It runs under the VPC lock so the siblings cannot change underneath it.
type SubnetValidator func(vpc models.VPC, vpcBlock cidr.Block, siblings []SubnetRange) error

// DependencyCheck decides whether a resource with the given live dependents may
// be removed. It runs under the lock that prevents new dependents from attaching.
type DependencyCheck func(dependents []string) error

// CreateVPC inserts v. The record is stored as given; callers set id, status and timestamps.
func (t *Tenant) CreateVPC(v models.VPC, block cidr.Block) (models.VPC, error) {
	cell := &VPCCell{
		Block:   block,
		vpc:     v,
		subnets: make(map[string]*SubnetCell),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.vpcs[v.ID]; exists {
		return models.VPC{}, ErrDuplicateID
	}
	t.vpcs[v.ID] = cell
	return v, nil
}

// VPC returns the cell of a live VPC.
func (t *Tenant) VPC(id string) (*VPCCell, error) {
	t.mu.RLock()
	cell, ok := t.vpcs[id]
	t.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("vpc %s not found", id)
	}
	return cell, nil
}

// ListVPCs returns every live VPC ordered by creation time.
func (t *Tenant) ListVPCs() []models.VPC {
	t.mu.RLock()
	cells := make([]*VPCCell, 0, len(t.vpcs))
	for _, c := range t.vpcs {
		cells = append(cells, c)
	}
	t.mu.RUnlock()

	out := make([]models.VPC, 0, len(cells))
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

// DeleteVPC removes the VPC if check accepts its live subnets.
func (t *Tenant) DeleteVPC(id string, check DependencyCheck) (models.VPC, error) {
	cell, err := t.VPC(id)
	if err != nil {
		return models.VPC{}, err
	}

	cell.mu.Lock()
	defer cell.mu.Unlock()
	if cell.deleted {
		return models.VPC{}, apperr.NotFound("vpc %s not found", id)
	}
	if err := check(sortedKeys(cell.subnets)); err != nil {
		return models.VPC{}, err
	}
	cell.deleted = true

	t.mu.Lock()
	delete(t.vpcs, id)
	t.mu.Unlock()
	return cell.vpc, nil
}

// CreateSubnet attaches s to its VPC if validate accepts it. Concurrent creates
// on the same VPC are serialized, so of two overlapping requests at most one wins.
func (t *Tenant) CreateSubnet(s models.Subnet, block cidr.Block, validate SubnetValidator) (models.Subnet, error) {
	vpc, err := t.VPC(s.VPCID)
	if err != nil {
		return models.Subnet{}, err
	}

	vpc.mu.Lock()
	defer vpc.mu.Unlock()
	if vpc.deleted {
		return models.Subnet{}, apperr.NotFound("vpc %s not found", s.VPCID)
	}

	siblings := make([]SubnetRange, 0, len(vpc.subnets))
	for _, id := range sortedKeys(vpc.subnets) {
		siblings = append(siblings, SubnetRange{ID: id, Block: vpc.subnets[id].Block})
	}
	if err := validate(vpc.vpc, vpc.Block, siblings); err != nil {
		return models.Subnet{}, err
	}

	cell := &SubnetCell{
		Block:     block,
		VPC:       vpc,
		subnet:    s,
		pool:      cidr.NewPool(block),
		instances: make(map[string]struct{}),
	}

	t.mu.Lock()
	if _, exists := t.subnets[s.ID]; exists {
		t.mu.Unlock()
		return models.Subnet{}, ErrDuplicateID
	}
	t.subnets[s.ID] = cell
	t.mu.Unlock()

	vpc.subnets[s.ID] = cell
	return cell.Snapshot(), nil
}

// Subnet returns the cell of a live subnet.
func (t *Tenant) Subnet(id string) (*SubnetCell, error) {
	t.mu.RLock()
	cell, ok := t.subnets[id]
	t.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("subnet %s not found", id)
	}
	return cell, nil
}

// ListSubnets returns the live subnets of vpcID, or of every VPC when vpcID is empty.
func (t *Tenant) ListSubnets(vpcID string) []models.Subnet {
	t.mu.RLock()
	cells := make([]*SubnetCell, 0, len(t.subnets))
	for _, c := range t.subnets {
		cells = append(cells, c)
	}
	t.mu.RUnlock()

	out := make([]models.Subnet, 0, len(cells))
	for _, c := range cells {
		s := c.Snapshot()
		if vpcID != "" && s.VPCID != vpcID {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// DeleteSubnet removes the subnet if check accepts its attached instances.
func (t *Tenant) DeleteSubnet(id string, check DependencyCheck) (models.Subnet, error) {
	cell, err := t.Subnet(id)
	if err != nil {
		return models.Subnet{}, err
	}

	vpc := cell.VPC
	vpc.mu.Lock()
	defer vpc.mu.Unlock()
	cell.mu.Lock()
	defer cell.mu.Unlock()

	if cell.deleted {
		return models.Subnet{}, apperr.NotFound("subnet %s not found", id)
	}
	if err := check(sortedKeys(cell.instances)); err != nil {
		return models.Subnet{}, err
	}
	cell.deleted = true
	delete(vpc.subnets, id)

	t.mu.Lock()
	delete(t.subnets, id)
	t.mu.Unlock()
	return cell.snapshotLocked(), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
