// Package cidr implements IPv4 prefix arithmetic for the network fabric.
// Containment and overlap are evaluated on numeric [first, last] ranges so that
// "10.0.1.0/24" and "10.0.1.0/25" compare correctly regardless of spelling.
package cidr

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

var (
	// ErrInvalid is returned for anything that is not a canonical IPv4 CIDR.
	ErrInvalid = errors.New("invalid CIDR block")
	// ErrExhausted is returned when a pool has no free host address left.
	ErrExhausted = errors.New("address pool exhausted")
)

// reservedLow covers the network address and the gateway (.1).
const reservedLow = 2

// Block is a parsed IPv4 prefix together with its numeric bounds.
type Block struct {
	prefix netip.Prefix
	first  uint32
	last   uint32
}

// Parse parses s as an IPv4 CIDR block. Host bits must be zero: "10.0.0.1/16"
// is rejected rather than silently masked.
func Parse(s string) (Block, error) {
	s = strings.TrimSpace(s)
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return Block{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if !p.Addr().Is4() {
		return Block{}, fmt.Errorf("%w: %q is not IPv4", ErrInvalid, s)
	}
	if p.Masked() != p {
		return Block{}, fmt.Errorf("%w: %q has host bits set (did you mean %s?)", ErrInvalid, s, p.Masked())
	}
	first := addrToInt(p.Addr())
	size := uint64(1) << (32 - p.Bits())
	return Block{
		prefix: p,
		first:  first,
		last:   uint32(uint64(first) + size - 1),
	}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Block {
	b, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return b
}

func (b Block) String() string { return b.prefix.String() }

// Bits returns the prefix length.
func (b Block) Bits() int { return b.prefix.Bits() }

// First returns the network address as an integer.
func (b Block) First() uint32 { return b.first }

// Last returns the broadcast address as an integer.
func (b Block) Last() uint32 { return b.last }

// Size returns the number of addresses in the block.
func (b Block) Size() uint64 { return uint64(b.last) - uint64(b.first) + 1 }

// Contains reports whether o lies entirely inside b.
func (b Block) Contains(o Block) bool {
	return b.first <= o.first && o.last <= b.last
}

// Overlaps reports whether b and o share at least one address.
func (b Block) Overlaps(o Block) bool {
	return b.first <= o.last && o.first <= b.last
}

// ContainsAddr reports whether a falls inside b.
func (b Block) ContainsAddr(a netip.Addr) bool {
	return b.prefix.Contains(a)
}

// UsableHosts is the number of addresses that can be handed to instances:
// everything except the network address, the gateway and the broadcast address.
func (b Block) UsableHosts() uint64 {
	if b.Size() <= reservedLow+1 {
		return 0
	}
	return b.Size() - reservedLow - 1
}

func addrToInt(a netip.Addr) uint32 {
	v := a.As4()
	return uint32(v[0])<<24 | uint32(v[1])<<16 | uint32(v[2])<<8 | uint32(v[3])
}

func intToAddr(n uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
}

// Pool hands out host addresses of a block, lowest free first. A Pool is not
// safe for concurrent use; callers hold the owning subnet's lock.
type Pool struct {
	block Block
	used  map[uint32]struct{}
}

// NewPool returns an empty pool over b.
func NewPool(b Block) *Pool {
	return &Pool{block: b, used: make(map[uint32]struct{})}
}

// Allocate reserves the lowest free host address.
func (p *Pool) Allocate() (netip.Addr, error) {
	if p.block.UsableHosts() == 0 {
		return netip.Addr{}, ErrExhausted
	}
	for n := uint64(p.block.first) + reservedLow; n < uint64(p.block.last); n++ {
		if _, taken := p.used[uint32(n)]; !taken {
			p.used[uint32(n)] = struct{}{}
			return intToAddr(uint32(n)), nil
		}
	}
	return netip.Addr{}, ErrExhausted
}

// Release returns a to the pool. It reports false if a was not allocated.
func (p *Pool) Release(a netip.Addr) bool {
	if !a.Is4() || !p.block.ContainsAddr(a) {
		return false
	}
	n := addrToInt(a)
	if _, ok := p.used[n]; !ok {
		return false
	}
	delete(p.used, n)
	return true
}

// InUse returns the number of allocated addresses.
func (p *Pool) InUse() int { return len(p.used) }

// Capacity returns the number of allocatable addresses.
func (p *Pool) Capacity() uint64 { return p.block.UsableHosts() }
