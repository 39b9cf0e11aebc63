package models

import "time"

// Lifecycle event types emitted by the control plane.
const (
	EventAccountRegistered = "account.registered"
	EventAPIKeyRotated     = "apikey.rotated"
	EventAPIKeyRevoked     = "apikey.revoked"
	EventVPCCreated        = "vpc.created"
	EventVPCDeleted        = "vpc.deleted"
	EventSubnetCreated     = "subnet.created"
	EventSubnetDeleted     = "subnet.deleted"
	EventInstanceLaunched  = "instance.launched"
	EventInstanceRunning   = "instance.running"
	EventInstanceError     = "instance.error"
	EventInstanceStopped   = "instance.stopped"
	EventInstanceDeleted   = "instance.deleted"
)

// Event records a state change of a resource owned by an account.
type Event struct {
	ID           string                 `json:"id" db:"id"`
	AccountID    string                 `json:"account_id" db:"account_id"`
	Type         string                 `json:"type" db:"type"`
	ResourceType string                 `json:"resource_type" db:"resource_type"`
	ResourceID   string                 `json:"resource_id" db:"resource_id"`
	Message      string                 `json:"message" db:"message"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" db:"-"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
}
