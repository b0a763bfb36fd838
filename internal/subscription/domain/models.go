// Package domain contains the subscription aggregate and its persistence models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Plan is the ordered set of service tiers. Basis is the free tier and never
// has an external subscription behind it.
type Plan string

const (
	PlanBasis    Plan = "BASIS"
	PlanStandard Plan = "STANDARD"
	PlanPremium  Plan = "PREMIUM"
)

// Rank orders plans for upgrade/downgrade checks. Unknown plans rank below
// Basis so they can never pass a strictly-higher validation.
func (p Plan) Rank() int {
	switch p {
	case PlanBasis:
		return 1
	case PlanStandard:
		return 2
	case PlanPremium:
		return 3
	default:
		return 0
	}
}

func (p Plan) Valid() bool {
	return p.Rank() > 0
}

// BillingInfo is the customer-facing invoice address held at the gateway.
type BillingInfo struct {
	Name    string `gorm:"column:billing_name;type:text"`
	Address string `gorm:"column:billing_address;type:text"`
	Email   string `gorm:"column:billing_email;type:text"`
	TaxID   string `gorm:"column:billing_tax_id;type:text"`
}

func (b BillingInfo) IsZero() bool {
	return b == BillingInfo{}
}

// PaymentMethod mirrors the default payment method on file at the gateway.
type PaymentMethod struct {
	Brand       string `gorm:"column:pm_brand;type:text"`
	Last4       string `gorm:"column:pm_last4;type:text"`
	ExpiryMonth int    `gorm:"column:pm_expiry_month"`
	ExpiryYear  int    `gorm:"column:pm_expiry_year"`
}

func (m PaymentMethod) IsZero() bool {
	return m == PaymentMethod{}
}

// Subscription is the per-tenant billing state reconciled against the payment
// gateway. Exactly one exists per tenant; it is created with the tenant and
// never deleted, only reset to the Basis plan.
type Subscription struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	TenantID          snowflake.ID `gorm:"not null;uniqueIndex"`
	Plan              Plan         `gorm:"type:text;not null"`
	ScheduledPlan     *Plan        `gorm:"type:text"`
	CustomerRef       *string      `gorm:"type:text;uniqueIndex"`
	SubscriptionRef   *string      `gorm:"type:text;index"`
	CancelAtPeriodEnd bool         `gorm:"not null;default:false"`
	CurrentPeriodEnd  *time.Time   `gorm:""`

	BillingInfo   BillingInfo   `gorm:"embedded"`
	PaymentMethod PaymentMethod `gorm:"embedded"`

	// FirstPaymentFailedAt marks the start of the open dunning episode. It is
	// set once per episode and cleared only by a successful payment or a
	// subscription deletion.
	FirstPaymentFailedAt   *time.Time `gorm:""`
	LastNotificationSentAt *time.Time `gorm:""`

	DisputedAt *time.Time `gorm:""`
	RefundedAt *time.Time `gorm:""`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Linked reports whether the subscription is attached to a gateway customer.
func (s *Subscription) Linked() bool {
	return s.CustomerRef != nil && *s.CustomerRef != ""
}

// EpisodeOpen reports whether a dunning episode is in progress.
func (s *Subscription) EpisodeOpen() bool {
	return s.FirstPaymentFailedAt != nil
}

// ResetToFree clears all gateway-linked state back to the Basis plan. Used
// when the external subscription disappears or is deleted.
func (s *Subscription) ResetToFree(now time.Time) {
	s.Plan = PlanBasis
	s.ScheduledPlan = nil
	s.SubscriptionRef = nil
	s.CancelAtPeriodEnd = false
	s.CurrentPeriodEnd = nil
	s.PaymentMethod = PaymentMethod{}
	s.FirstPaymentFailedAt = nil
	s.LastNotificationSentAt = nil
	s.UpdatedAt = now
}

// PaymentTransaction is one historical charge attached to a subscription.
type PaymentTransaction struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	SubscriptionID snowflake.ID `gorm:"not null;index"`
	ExternalRef    string       `gorm:"type:text;not null"`
	Amount         int64        `gorm:"not null"`
	Currency       string       `gorm:"type:text;not null"`
	Status         string       `gorm:"type:text;not null"`
	OccurredAt     time.Time    `gorm:"not null"`
	ReceiptURL     string       `gorm:"type:text"`
	CreditNoteURL  string       `gorm:"type:text"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentTransaction) TableName() string { return "payment_transactions" }
