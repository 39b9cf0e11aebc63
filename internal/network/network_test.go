package network

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PoyrazK/Mini-AWS/internal/apperr"
	"github.com/PoyrazK/Mini-AWS/internal/cidr"
	"github.com/PoyrazK/Mini-AWS/internal/db/models"
	"github.com/PoyrazK/Mini-AWS/internal/guard"
	"github.com/PoyrazK/Mini-AWS/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []*models.Event
}

func (r *recorder) Publish(ev *models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestManager() (*Manager, *store.Arena, *recorder) {
	arena := store.NewArena()
	rec := &recorder{}
	return NewManager(arena, guard.New(), rec), arena, rec
}

var ctx = context.Background()

// ---------------------------------------------------------------------------
// VPCs
// ---------------------------------------------------------------------------

func TestCreateVPC(t *testing.T) {
	m, _, rec := newTestManager()

	vpc, err := m.CreateVPC(ctx, "acct-1", "  main ", "10.0.0.0/16")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(vpc.ID, "vpc-"))
	assert.Len(t, vpc.ID, len("vpc-")+32)
	assert.Equal(t, "main", vpc.Name)
	assert.Equal(t, "10.0.0.0/16", vpc.CIDRBlock)
	assert.Equal(t, models.NetworkStatusAvailable, vpc.Status)
	assert.Equal(t, "acct-1", vpc.AccountID)
	assert.False(t, vpc.CreatedAt.IsZero())
	assert.Equal(t, []string{models.EventVPCCreated}, rec.types())

	got, err := m.GetVPC(ctx, "acct-1", vpc.ID)
	require.NoError(t, err)
	assert.Equal(t, vpc, got)
}

func TestCreateVPC_Rejects(t *testing.T) {
	tests := []struct {
		name string
		cidr string
	}{
		{"empty", ""},
		{"garbage", "not-a-cidr"},
		{"host bits set", "10.0.0.1/16"},
		{"ipv6", "fd00::/48"},
		{"prefix too short", "10.0.0.0/7"},
		{"prefix too long", "10.0.0.0/29"},
		{"missing prefix", "10.0.0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, rec := newTestManager()
			_, err := m.CreateVPC(ctx, "acct-1", "x", tt.cidr)
			assert.ErrorIs(t, err, apperr.ErrValidation)
			assert.Empty(t, m.ListVPCs(ctx, "acct-1"), "rejected create must not insert")
			assert.Empty(t, rec.types())
		})
	}
}

func TestCreateVPC_PrefixBounds(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.CreateVPC(ctx, "acct-1", "", "10.0.0.0/29")
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "well-formed but exceeds the size policy")
	assert.Contains(t, err.Error(), "/8 and /28")

	_, err = m.CreateVPC(ctx, "acct-1", "", "10.0.0.0/8")
	assert.NoError(t, err)
	_, err = m.CreateVPC(ctx, "acct-1", "", "192.168.0.0/28")
	assert.NoError(t, err)
}

func TestCreateVPC_NameTooLong(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.CreateVPC(ctx, "acct-1", strings.Repeat("n", maxNameLength+1), "10.0.0.0/16")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestVPC_TenantIsolation(t *testing.T) {
	m, _, _ := newTestManager()
	vpc, err := m.CreateVPC(ctx, "acct-1", "", "10.0.0.0/16")
	require.NoError(t, err)

	_, err = m.GetVPC(ctx, "acct-2", vpc.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, m.DeleteVPC(ctx, "acct-2", vpc.ID), apperr.ErrNotFound)
	_, err = m.CreateSubnet(ctx, "acct-2", vpc.ID, "", "10.0.1.0/24")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, m.ListVPCs(ctx, "acct-2"))
}

func TestListVPCs_CreationOrder(t *testing.T) {
	m, _, _ := newTestManager()
	var ids []string
	for i := 0; i < 5; i++ {
		vpc, err := m.CreateVPC(ctx, "acct-1", "", fmt.Sprintf("10.%d.0.0/16", i))
		require.NoError(t, err)
		ids = append(ids, vpc.ID)
	}

	list := m.ListVPCs(ctx, "acct-1")
	require.Len(t, list, 5)
	for i := 1; i < len(list); i++ {
		assert.False(t, list[i].CreatedAt.Before(list[i-1].CreatedAt), "list must be ordered by creation time")
	}
	assert.ElementsMatch(t, ids, []string{list[0].ID, list[1].ID, list[2].ID, list[3].ID, list[4].ID})
}

func TestDeleteVPC(t *testing.T) {
	m, _, rec := newTestManager()
	vpc, err := m.CreateVPC(ctx, "acct-1", "", "10.0.0.0/16")
	require.NoError(t, err)

	require.NoError(t, m.DeleteVPC(ctx, "acct-1", vpc.ID))
	_, err = m.GetVPC(ctx, "acct-1", vpc.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, m.DeleteVPC(ctx, "acct-1", vpc.ID), apperr.ErrNotFound)
	assert.Equal(t, []string{models.EventVPCCreated, models.EventVPCDeleted}, rec.types())
}

func TestDeleteVPC_WithSubnetConflicts(t *testing.T) {
	m, _, _ := newTestManager()
	vpc, err := m.CreateVPC(ctx, "acct-1", "", "10.0.0.0/16")
	require.NoError(t, err)
	subnet, err := m.CreateSubnet(ctx, "acct-1", vpc.ID, "", "10.0.1.0/24")
	require.NoError(t, err)

	err = m.DeleteVPC(ctx, "acct-1", vpc.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Contains(t, err.Error(), subnet.ID)

	_, err = m.GetVPC(ctx, "acct-1", vpc.ID)
	assert.NoError(t, err, "rejected delete must leave the vpc in place")

	require.NoError(t, m.DeleteSubnet(ctx, "acct-1", subnet.ID))
	assert.NoError(t, m.DeleteVPC(ctx, "acct-1", vpc.ID))
}

// ---------------------------------------------------------------------------
// Subnets
// ---------------------------------------------------------------------------

func TestCreateSubnet(t *testing.T) {
	m, _, rec := newTestManager()
	vpc, err := m.CreateVPC(ctx, "acct-1", "", "10.0.0.0/16")
	require.NoError(t, err)

	subnet, err := m.CreateSubnet(ctx, "acct-1", vpc.ID, "web", "10.0.1.0/24")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(subnet.ID, "subnet-"))
	assert.Equal(t, vpc.ID, subnet.VPCID)
	assert.Equal(t, "web", subnet.Name)
	assert.Equal(t, models.NetworkStatusAvailable, subnet.Status)
	assert.Equal(t, uint64(253), subnet.AvailableIPs)
	assert.Equal(t, []string{models.EventVPCCreated, models.EventSubnetCreated}, rec.types())

	got, err := m.GetSubnet(ctx, "acct-1", subnet.ID)
	require.NoError(t, err)
	assert.Equal(t, subnet, got)

	list, err := m.ListSubnets(ctx, "acct-1", vpc.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.Subnet{subnet}, list)
}

func TestCreateSubnet_Rejects(t *testing.T) {
	tests := []struct {
		name string
		cidr string
	}{
		{"malformed", "10.0.1/24"},
		{"host bits set", "10.0.1.7/24"},
		{"outside vpc", "10.1.0.0/24"},
		{"larger than vpc", "10.0.0.0/15"},
		{"straddles vpc edge", "9.255.255.0/23"},
		{"overlaps sibling exactly", "10.0.1.0/24"},
		{"inside sibling", "10.0.1.128/25"},
		{"contains sibling", "10.0.0.0/23"},
		{"slash 31", "10.0.9.0/31"},
		{"slash 32", "10.0.9.9/32"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestManager()
			vpc, err := m.CreateVPC(ctx, "acct-1", "", "10.0.0.0/16")
			require.NoError(t, err)
			_, err = m.CreateSubnet(ctx, "acct-1", vpc.ID, "", "10.0.1.0/24")
			require.NoError(t, err)

			_, err = m.CreateSubnet(ctx, "acct-1", vpc.ID, "", tt.cidr)
			assert.ErrorIs(t, err, apperr.ErrValidation)

			list, err := m.ListSubnets(ctx, "acct-1", vpc.ID)
			require.NoError(t, err)
			assert.Len(t, list, 1, "rejected create must not insert")
		})
	}
}

func TestCreateSubnet_SizePolicyMessage(t *testing.T) {
	m, _, _ := newTestManager()
	vpc, err := m.CreateVPC(ctx, "acct-1", "", "10.0.0.0/16")
	require.NoError(t, err)

	_, err = m.CreateSubnet(ctx, "acct-1", vpc.ID, "", "10.0.9.0/31")
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "well-formed but exceeds the size policy")

	_, err = m.CreateSubnet(ctx, "acct-1", vpc.ID, "", "10.0.9.0/30")
	assert.NoError(t, err, "a /30 keeps one usable address")
}

func TestCreateSubnet_AdjacentRangesAreDisjoint(t *testing.T) {
	m, _, _ := newTestManager()
	vpc, err := m.CreateVPC(ctx, "acct-1", "", "10.0.0.0/16")
	require.NoError(t, err)

	for _, c := range []string{"10.0.0.0/25", "10.0.0.128/25", "10.0.1.0/24", "10.0.255.0/24"} {
		_, err := m.CreateSubnet(ctx, "acct-1", vpc.ID, "", c)
		assert.NoError(t, err, c)
	}
}

func TestCreateSubnet_UnknownVPC(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.CreateSubnet(ctx, "acct-1", "vpc-missing", "", "10.0.1.0/24")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = m.ListSubnets(ctx, "acct-1", "vpc-missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateSubnet_SameRangeInDifferentVPCs(t *testing.T) {
	m, _, _ := newTestManager()
	a, err := m.CreateVPC(ctx, "acct-1", "", "10.0.0.0/16")
	require.NoError(t, err)
	b, err := m.CreateVPC(ctx, "acct-1", "", "10.0.0.0/16")
	require.NoError(t, err)

	_, err = m.CreateSubnet(ctx, "acct-1", a.ID, "", "10.0.1.0/24")
	require.NoError(t, err)
	_, err = m.CreateSubnet(ctx, "acct-1", b.ID, "", "10.0.1.0/24")
	assert.NoError(t, err, "overlap is only checked against siblings")
}

func TestCreateSubnet_ConcurrentOverlapAtMostOneWins(t *testing.T) {
	m, _, _ := newTestManager()
	vpc, err := m.CreateVPC(ctx, "acct-1", "", "10.0.0.0/16")
	require.NoError(t, err)

	const workers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Half use the /24, half a /25 inside it: every pair overlaps.
			c := "10.0.5.0/24"
			if i%2 == 1 {
				c = "10.0.5.128/25"
			}
			if _, err := m.CreateSubnet(ctx, "acct-1", vpc.ID, "", c); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, apperr.ErrValidation)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	list, err := m.ListSubnets(ctx, "acct-1", vpc.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// Randomized: whatever sequence of creates is accepted, the resulting subnets
// are pairwise disjoint and contained in the VPC.
func TestCreateSubnet_RandomizedInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	m, _, _ := newTestManager()
	vpc, err := m.CreateVPC(ctx, "acct-1", "", "10.20.0.0/16")
	require.NoError(t, err)
	vpcBlock := cidr.MustParse(vpc.CIDRBlock)

	for i := 0; i < 400; i++ {
		bits := 16 + rng.IntN(14) // /16 .. /29
		base := uint32(10)<<24 | uint32(rng.IntN(3)+19)<<16 | uint32(rng.IntN(1<<16))
		base &^= (uint32(1) << (32 - bits)) - 1
		c := fmt.Sprintf("%d.%d.%d.%d/%d", byte(base>>24), byte(base>>16), byte(base>>8), byte(base), bits)
		_, _ = m.CreateSubnet(ctx, "acct-1", vpc.ID, "", c)
	}

	list, err := m.ListSubnets(ctx, "acct-1", vpc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	blocks := make([]cidr.Block, 0, len(list))
	for _, s := range list {
		b := cidr.MustParse(s.CIDRBlock)
		assert.True(t, vpcBlock.Contains(b), "%s escapes %s", b, vpcBlock)
		blocks = append(blocks, b)
	}
	for i := range blocks {
		for j := i + 1; j < len(blocks); j++ {
			assert.False(t, blocks[i].Overlaps(blocks[j]), "%s overlaps %s", blocks[i], blocks[j])
		}
	}
}

func TestDeleteSubnet(t *testing.T) {
	m, arena, rec := newTestManager()
	vpc, err := m.CreateVPC(ctx, "acct-1", "", "10.0.0.0/16")
	require.NoError(t, err)
	subnet, err := m.CreateSubnet(ctx, "acct-1", vpc.ID, "", "10.0.1.0/24")
	require.NoError(t, err)

	_, err = arena.Tenant("acct-1").CreateInstance(models.Instance{
		ID: "i-1", AccountID: "acct-1", VPCID: vpc.ID, SubnetID: subnet.ID,
		Status: models.InstanceStatusPending, Generation: 1,
	}, nil)
	require.NoError(t, err)

	err = m.DeleteSubnet(ctx, "acct-1", subnet.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = arena.Tenant("acct-1").DeleteInstance("i-1")
	require.NoError(t, err)
	require.NoError(t, m.DeleteSubnet(ctx, "acct-1", subnet.ID))

	_, err = m.GetSubnet(ctx, "acct-1", subnet.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, m.DeleteSubnet(ctx, "acct-1", subnet.ID), apperr.ErrNotFound)
	assert.Contains(t, rec.types(), models.EventSubnetDeleted)

	// The freed range is reusable, under a new id.
	again, err := m.CreateSubnet(ctx, "acct-1", vpc.ID, "", "10.0.1.0/24")
	require.NoError(t, err)
	assert.NotEqual(t, subnet.ID, again.ID)
}
