package models

import "time"

// Network resource statuses. Creation is synchronous, so records are stored as
// available; pending exists for API compatibility with asynchronous backends.
const (
	NetworkStatusPending   = "pending"
	NetworkStatusAvailable = "available"
)

// VPC is an isolated IPv4 address space owned by one account.
type VPC struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Name      string    `json:"name"`
	CIDRBlock string    `json:"cidr_block"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Subnet is a sub-range of its VPC. Its CIDR is contained in the VPC's and
// disjoint from every sibling's.
type Subnet struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	VPCID        string    `json:"vpc_id"`
	Name         string    `json:"name"`
	CIDRBlock    string    `json:"cidr_block"`
	Status       string    `json:"status"`
	AvailableIPs uint64    `json:"available_ips"`
	CreatedAt    time.Time `json:"created_at"`
}
