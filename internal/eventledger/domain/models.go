// Package domain contains the durable idempotency ledger for webhook events.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// WebhookEvent is one received gateway event. EventID is the gateway's
// globally unique event identifier and the natural idempotency key; the
// unique index on it is what turns a concurrent duplicate delivery into a
// detectable no-op instead of a second processing run.
type WebhookEvent struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	EventID         string         `gorm:"type:text;not null;uniqueIndex"`
	EventType       string         `gorm:"type:text;not null"`
	CustomerRef     *string        `gorm:"type:text;index"`
	SubscriptionRef *string        `gorm:"type:text;index"`
	TenantID        *snowflake.ID  `gorm:"index"`
	Payload         datatypes.JSON `gorm:"not null"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time     `gorm:""`

	// Ignored marks events that had no resolvable customer at receipt time.
	// They are kept for audit and replay detection only.
	Ignored bool `gorm:"not null;default:false"`
}

// TableName sets the database table name.
func (WebhookEvent) TableName() string { return "webhook_events" }
