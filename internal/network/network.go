// Package network manages VPCs and subnets. Creation is synchronous; address
// space checks use numeric ranges and run under the owning VPC's lock, so
// unrelated VPCs never contend and two overlapping subnet requests on one VPC
// cannot both succeed.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PoyrazK/Mini-AWS/internal/apperr"
	"github.com/PoyrazK/Mini-AWS/internal/cidr"
	"github.com/PoyrazK/Mini-AWS/internal/db/models"
	"github.com/PoyrazK/Mini-AWS/internal/events"
	"github.com/PoyrazK/Mini-AWS/internal/guard"
	"github.com/PoyrazK/Mini-AWS/internal/store"
	"github.com/PoyrazK/Mini-AWS/internal/telemetry"
)

// VPC prefix length bounds.
const (
	MinVPCPrefix = 8
	MaxVPCPrefix = 28
)

const maxNameLength = 255

// Manager implements the VPC and subnet operations.
type Manager struct {
	arena  *store.Arena
	guard  *guard.Guard
	events events.Publisher
	now    func() time.Time
}

// NewManager creates a Manager.
func NewManager(arena *store.Arena, g *guard.Guard, pub events.Publisher) *Manager {
	if pub == nil {
		pub = events.Discard{}
	}
	return &Manager{arena: arena, guard: g, events: pub, now: time.Now}
}

// CreateVPC creates an available VPC spanning cidrBlock.
func (m *Manager) CreateVPC(_ context.Context, owner, name, cidrBlock string) (models.VPC, error) {
	name, err := cleanName(name)
	if err != nil {
		return models.VPC{}, err
	}
	block, err := parseCIDR(cidrBlock)
	if err != nil {
		return models.VPC{}, err
	}
	if block.Bits() < MinVPCPrefix || block.Bits() > MaxVPCPrefix {
		return models.VPC{}, apperr.Validation("vpc cidr %s is well-formed but exceeds the size policy: prefix must be between /%d and /%d",
			block, MinVPCPrefix, MaxVPCPrefix)
	}

	tenant := m.arena.Tenant(owner)
	now := m.now().UTC()
	vpc, err := store.InsertWithRetry("vpc", func(id string) (models.VPC, error) {
		return tenant.CreateVPC(models.VPC{
			ID:        id,
			AccountID: owner,
			Name:      name,
			CIDRBlock: block.String(),
			Status:    models.NetworkStatusAvailable,
			CreatedAt: now,
		}, block)
	})
	if err != nil {
		return models.VPC{}, err
	}

	slog.Info("vpc created", "account_id", owner, "vpc_id", vpc.ID, "cidr", vpc.CIDRBlock)
	m.events.Publish(events.New(owner, models.EventVPCCreated, "vpc", vpc.ID,
		fmt.Sprintf("vpc %s created with %s", vpc.ID, vpc.CIDRBlock)))
	return vpc, nil
}

// GetVPC returns one VPC of owner.
func (m *Manager) GetVPC(_ context.Context, owner, id string) (models.VPC, error) {
	cell, err := m.arena.Tenant(owner).VPC(id)
	if err != nil {
		return models.VPC{}, err
	}
	return cell.Snapshot(), nil
}

// ListVPCs returns owner's VPCs, oldest first.
func (m *Manager) ListVPCs(_ context.Context, owner string) []models.VPC {
	return m.arena.Tenant(owner).ListVPCs()
}

// DeleteVPC removes a VPC that has no subnets left.
func (m *Manager) DeleteVPC(_ context.Context, owner, id string) error {
	vpc, err := m.arena.Tenant(owner).DeleteVPC(id, m.guard.VPCDeletable(id))
	if err != nil {
		return err
	}
	slog.Info("vpc deleted", "account_id", owner, "vpc_id", id)
	m.events.Publish(events.New(owner, models.EventVPCDeleted, "vpc", id,
		fmt.Sprintf("vpc %s (%s) deleted", id, vpc.CIDRBlock)))
	return nil
}

// CreateSubnet carves cidrBlock out of vpcID. The range must lie inside the VPC
// and be disjoint from every sibling subnet.
func (m *Manager) CreateSubnet(_ context.Context, owner, vpcID, name, cidrBlock string) (models.Subnet, error) {
	tenant := m.arena.Tenant(owner)
	if _, err := tenant.VPC(vpcID); err != nil {
		return models.Subnet{}, err
	}
	name, err := cleanName(name)
	if err != nil {
		return models.Subnet{}, err
	}
	block, err := parseCIDR(cidrBlock)
	if err != nil {
		return models.Subnet{}, err
	}
	if block.UsableHosts() == 0 {
		return models.Subnet{}, apperr.Validation("subnet %s is well-formed but exceeds the size policy: it has no usable host addresses once the network, gateway and broadcast addresses are reserved", block)
	}

	validate := func(vpc models.VPC, vpcBlock cidr.Block, siblings []store.SubnetRange) error {
		if !vpcBlock.Contains(block) {
			telemetry.NetworkConflictsTotal.WithLabelValues("outside_vpc").Inc()
			return apperr.Validation("subnet %s is not within vpc %s (%s)", block, vpc.ID, vpcBlock)
		}
		for _, sib := range siblings {
			if sib.Block.Overlaps(block) {
				telemetry.NetworkConflictsTotal.WithLabelValues("overlap").Inc()
				return apperr.Validation("subnet %s overlaps subnet %s (%s)", block, sib.ID, sib.Block)
			}
		}
		return nil
	}

	now := m.now().UTC()
	subnet, err := store.InsertWithRetry("subnet", func(id string) (models.Subnet, error) {
		return tenant.CreateSubnet(models.Subnet{
			ID:        id,
			AccountID: owner,
			VPCID:     vpcID,
			Name:      name,
			CIDRBlock: block.String(),
			Status:    models.NetworkStatusAvailable,
			CreatedAt: now,
		}, block, validate)
	})
	if err != nil {
		return models.Subnet{}, err
	}

	slog.Info("subnet created", "account_id", owner, "vpc_id", vpcID, "subnet_id", subnet.ID, "cidr", subnet.CIDRBlock)
	m.events.Publish(events.New(owner, models.EventSubnetCreated, "subnet", subnet.ID,
		fmt.Sprintf("subnet %s created in vpc %s with %s", subnet.ID, vpcID, subnet.CIDRBlock)))
	return subnet, nil
}

// GetSubnet returns one subnet of owner.
func (m *Manager) GetSubnet(_ context.Context, owner, id string) (models.Subnet, error) {
	cell, err := m.arena.Tenant(owner).Subnet(id)
	if err != nil {
		return models.Subnet{}, err
	}
	return cell.Snapshot(), nil
}

// ListSubnets returns the subnets of vpcID, oldest first.
func (m *Manager) ListSubnets(_ context.Context, owner, vpcID string) ([]models.Subnet, error) {
	tenant := m.arena.Tenant(owner)
	if _, err := tenant.VPC(vpcID); err != nil {
		return nil, err
	}
	return tenant.ListSubnets(vpcID), nil
}

// DeleteSubnet removes a subnet that has no instances attached.
func (m *Manager) DeleteSubnet(_ context.Context, owner, id string) error {
	subnet, err := m.arena.Tenant(owner).DeleteSubnet(id, m.guard.SubnetDeletable(id))
	if err != nil {
		return err
	}
	slog.Info("subnet deleted", "account_id", owner, "subnet_id", id, "vpc_id", subnet.VPCID)
	m.events.Publish(events.New(owner, models.EventSubnetDeleted, "subnet", id,
		fmt.Sprintf("subnet %s deleted from vpc %s", id, subnet.VPCID)))
	return nil
}

func parseCIDR(s string) (cidr.Block, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return cidr.Block{}, apperr.Validation("cidr_block is required")
	}
	block, err := cidr.Parse(s)
	if err != nil {
		if errors.Is(err, cidr.ErrInvalid) {
			return cidr.Block{}, apperr.Validation("%v", err)
		}
		return cidr.Block{}, err
	}
	return block, nil
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if len(name) > maxNameLength {
		return "", apperr.Validation("name must be at most %d characters", maxNameLength)
	}
	return name, nil
}
