package models

import "time"

// InstanceStats is a point-in-time runtime snapshot of a running instance.
type InstanceStats struct {
	InstanceID       string    `json:"instance_id"`
	CPUPercent       float64   `json:"cpu_percent"`
	MemoryUsedBytes  uint64    `json:"memory_used_bytes"`
	MemoryLimitBytes uint64    `json:"memory_limit_bytes"`
	DiskReadBytes    uint64    `json:"disk_read_bytes"`
	DiskWriteBytes   uint64    `json:"disk_write_bytes"`
	NetworkRxBytes   uint64    `json:"network_rx_bytes"`
	NetworkTxBytes   uint64    `json:"network_tx_bytes"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
	CollectedAt      time.Time `json:"collected_at"`
}

// InstanceCounts breaks instances down by status.
type InstanceCounts struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Running int `json:"running"`
	Stopped int `json:"stopped"`
	Error   int `json:"error"`
}

// Add counts one instance in status s.
func (c *InstanceCounts) Add(s InstanceStatus) {
	c.Total++
	switch s {
	case InstanceStatusPending:
		c.Pending++
	case InstanceStatusRunning:
		c.Running++
	case InstanceStatusStopped:
		c.Stopped++
	case InstanceStatusError:
		c.Error++
	}
}

// FleetSummary is the dashboard overview of one account's resources.
type FleetSummary struct {
	VPCs         int            `json:"vpcs"`
	Subnets      int            `json:"subnets"`
	Instances    InstanceCounts `json:"instances"`
	AllocatedIPs int            `json:"allocated_ips"`
	IPCapacity   uint64         `json:"ip_capacity"`
	GeneratedAt  time.Time      `json:"generated_at"`
}
