package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// InstanceStatus is the lifecycle state of a compute instance.
type InstanceStatus string

const (
	InstanceStatusPending InstanceStatus = "pending"
	InstanceStatusRunning InstanceStatus = "running"
	InstanceStatusStopped InstanceStatus = "stopped"
	InstanceStatusError   InstanceStatus = "error"
)

// AllInstanceStatuses lists every externally visible status in display order.
var AllInstanceStatuses = []InstanceStatus{
	InstanceStatusPending,
	InstanceStatusRunning,
	InstanceStatusStopped,
	InstanceStatusError,
}

// CanTransition reports whether from -> to is an edge of the instance state machine.
// Deletion is allowed from every state and is not modelled as a status.
func CanTransition(from, to InstanceStatus) bool {
	switch from {
	case InstanceStatusPending:
		return to == InstanceStatusRunning || to == InstanceStatusError
	case InstanceStatusRunning:
		return to == InstanceStatusStopped
	default:
		return false
	}
}

// PortMapping publishes ContainerPort of the instance on HostPort.
type PortMapping struct {
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
	Protocol      string `json:"protocol"`
}

func (p PortMapping) String() string {
	return fmt.Sprintf("%d:%d/%s", p.HostPort, p.ContainerPort, p.Protocol)
}

// ParsePortMappings parses a comma-separated list of "host:container[/proto]"
// entries. A bare "80" maps the port to itself. An empty spec yields no mappings.
func ParsePortMappings(spec string) ([]PortMapping, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	var mappings []PortMapping
	seen := make(map[string]bool)
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			return nil, fmt.Errorf("empty port mapping in %q", spec)
		}

		proto := "tcp"
		if i := strings.IndexByte(entry, '/'); i >= 0 {
			proto = strings.ToLower(entry[i+1:])
			entry = entry[:i]
			if proto != "tcp" && proto != "udp" {
				return nil, fmt.Errorf("unsupported protocol %q", proto)
			}
		}

		hostPart, containerPart, found := strings.Cut(entry, ":")
		if !found {
			containerPart = hostPart
		}
		host, err := parsePort(hostPart)
		if err != nil {
			return nil, err
		}
		container, err := parsePort(containerPart)
		if err != nil {
			return nil, err
		}

		key := fmt.Sprintf("%d/%s", host, proto)
		if seen[key] {
			return nil, fmt.Errorf("host port %s mapped twice", key)
		}
		seen[key] = true

		mappings = append(mappings, PortMapping{HostPort: host, ContainerPort: container, Protocol: proto})
	}
	return mappings, nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return n, nil
}

// Instance is a compute workload bound to one VPC/subnet pair.
type Instance struct {
	ID           string         `json:"id"`
	AccountID    string         `json:"account_id"`
	Name         string         `json:"name"`
	Image        string         `json:"image"`
	VPCID        string         `json:"vpc_id"`
	SubnetID     string         `json:"subnet_id"`
	Ports        []PortMapping  `json:"ports"`
	Status       InstanceStatus `json:"status"`
	PrivateIP    string         `json:"private_ip,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Generation   uint64         `json:"generation"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
}
