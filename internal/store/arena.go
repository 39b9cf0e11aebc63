// Package store is the in-memory resource arena of the control plane.
//
// Resources are indexed by account first and by id second, so every lookup is
// scoped to its owner and an id owned by another account is indistinguishable
// from one that does not exist. Locking is layered:
//
//   - Arena.mu guards the account index only.
//   - Tenant.mu guards the id maps of one account and is always the innermost lock.
//   - VPCCell.mu serializes subnet creation, subnet deletion and VPC deletion
//     within one VPC. Unrelated VPCs never contend.
//   - SubnetCell.mu guards the address pool and the set of attached instances.
//   - InstanceCell.mu guards status, generation and address of one instance.
//
// Lock order is VPC before Subnet and Instance before Subnet. No code path takes
// a Subnet lock and then an Instance lock.
package store

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateID is returned when an insert hits an id that is already live.
	// Callers regenerate the id and retry.
	ErrDuplicateID = errors.New("store: duplicate id")
	// ErrStale is returned when a transition targets a deleted record or a
	// superseded generation. The transition must be dropped.
	ErrStale = errors.New("store: stale generation")
)

// maxInsertAttempts bounds id regeneration on ErrDuplicateID.
const maxInsertAttempts = 3

// NewID returns prefix-<32 hex chars> from a random UUID, e.g. vpc-3f2a....
func NewID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// InsertWithRetry calls insert with fresh ids until it stops returning
// ErrDuplicateID. Any other error is returned as is.
func InsertWithRetry[T any](prefix string, insert func(id string) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 0; attempt < maxInsertAttempts; attempt++ {
		out, err = insert(NewID(prefix))
		if !errors.Is(err, ErrDuplicateID) {
			return out, err
		}
	}
	return out, err
}

// Arena indexes tenants by account id.
type Arena struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{tenants: make(map[string]*Tenant)}
}

// Tenant returns the tenant of accountID, creating it on first use.
func (a *Arena) Tenant(accountID string) *Tenant {
	a.mu.RLock()
	t, ok := a.tenants[accountID]
	a.mu.RUnlock()
	if ok {
		return t
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok = a.tenants[accountID]; ok {
		return t
	}
	t = newTenant(accountID)
	a.tenants[accountID] = t
	return t
}

// Tenants returns a snapshot of all tenants ordered by account id. It is meant
// for background jobs; request paths go through Tenant.
func (a *Arena) Tenants() []*Tenant {
	a.mu.RLock()
	out := make([]*Tenant, 0, len(a.tenants))
	for _, t := range a.tenants {
		out = append(out, t)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// Tenant holds the resources of one account.
type Tenant struct {
	AccountID string

	mu        sync.RWMutex
	vpcs      map[string]*VPCCell
	subnets   map[string]*SubnetCell
	instances map[string]*InstanceCell
}

func newTenant(accountID string) *Tenant {
	return &Tenant{
		AccountID: accountID,
		vpcs:      make(map[string]*VPCCell),
		subnets:   make(map[string]*SubnetCell),
		instances: make(map[string]*InstanceCell),
	}
}
