package models

import "time"

// APIKey is the bearer credential of an account. There is at most one active key
// per account; rotated or revoked keys keep their row with RevokedAt set.
type APIKey struct {
	ID            string     `json:"id" db:"id"`
	AccountID     string     `json:"account_id" db:"account_id"`
	KeyHash       string     `json:"-" db:"key_hash"`   // SHA-256 hex of the full key, indexed for lookup
	KeySealed     string     `json:"-" db:"key_sealed"` // AES-GCM sealed key so login can hand it out again
	DisplayPrefix string     `json:"display_prefix" db:"display_prefix"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// IsActive reports whether the key can still authenticate.
func (k *APIKey) IsActive() bool {
	return k != nil && k.RevokedAt == nil
}
