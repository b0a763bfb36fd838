// Package domain contains the tenant model and its projected access state.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// State is tenant access state projected from subscription health. It is
// derived, never a source of truth on its own.
type State string

const (
	StateActive    State = "ACTIVE"
	StatePastDue   State = "PAST_DUE"
	StateSuspended State = "SUSPENDED"
)

// Tenant is the owning account for exactly one subscription.
type Tenant struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	Name       string       `gorm:"type:text;not null"`
	OwnerEmail string       `gorm:"type:text;not null"`
	State      State        `gorm:"type:text;not null"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

// Degrade lowers the access state for a failing payment. Suspension is the
// stronger state and is never downgraded back to PastDue here.
func Degrade(current State, target State) State {
	if current == StateSuspended {
		return StateSuspended
	}
	return target
}
