// Package models defines the data types of the control plane.
// Each persisted type carries json tags for the API and db tags for sqlx row scanning.
// Models are pure data types; business logic belongs in the service packages and
// query logic belongs in the repositories layer.
package models

import (
	"strings"
	"time"
)

// Account is a registered tenant. Every VPC, subnet and instance is owned by exactly one account.
type Account struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	Name         string    `json:"name" db:"name"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizeEmail returns the canonical form used for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
