// Package domain defines the abstracted payment gateway contract. The engine
// never talks to the processor's SDK directly; everything goes through this
// interface so tests can substitute a deterministic fake.
package domain

import (
	"context"
	"time"

	subscriptiondomain "github.com/clearhaven/dunlin/internal/subscription/domain"
)

// EventType is the closed set of webhook event classes the engine acts on.
// Classification happens once, in the gateway client; everything downstream
// switches on this type instead of matching provider strings.
type EventType string

const (
	EventPaymentSucceeded    EventType = "payment_succeeded"
	EventPaymentFailed       EventType = "payment_failed"
	EventDisputeCreated      EventType = "dispute_created"
	EventDisputeClosed       EventType = "dispute_closed"
	EventRefunded            EventType = "refunded"
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventSubscriptionDeleted EventType = "subscription_deleted"

	// EventUnknown is still ledgered for idempotency and audit but triggers
	// no state mutation.
	EventUnknown EventType = "unknown"
)

// VerifiedEvent is the result of signature verification and envelope parsing.
// CustomerRef may be empty when the event object carries no customer field;
// ChargeRef is set in that case so the caller can resolve the customer with a
// charge lookup.
type VerifiedEvent struct {
	EventID     string
	Type        EventType
	CustomerRef string
	ChargeRef   string
	SubRef      string
}

// SyncState is the canonical subscription snapshot fetched from the gateway.
// A nil SyncState from SyncSubscriptionState means the gateway knows no
// subscription for the customer and local state must be treated as deleted.
type SyncState struct {
	Plan              subscriptiondomain.Plan
	ScheduledPlan     *subscriptiondomain.Plan
	SubscriptionRef   string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	Transactions      []subscriptiondomain.PaymentTransaction
	PaymentMethod     *subscriptiondomain.PaymentMethod
}

// Gateway abstracts the external payment processor.
type Gateway interface {
	VerifySignature(ctx context.Context, payload []byte, signatureHeader string) (*VerifiedEvent, error)
	ResolveCustomerByCharge(ctx context.Context, chargeRef string) (string, error)
	SyncSubscriptionState(ctx context.Context, customerRef string) (*SyncState, error)
	GetBillingInfo(ctx context.Context, customerRef string) (*subscriptiondomain.BillingInfo, error)

	UpgradePlan(ctx context.Context, subscriptionRef string, target subscriptiondomain.Plan) error
	ScheduleDowngrade(ctx context.Context, subscriptionRef string, target subscriptiondomain.Plan) error
	CancelScheduledDowngrade(ctx context.Context, subscriptionRef string) error
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionRef string, cancel bool) error
	Reactivate(ctx context.Context, subscriptionRef string) error

	CreateCheckoutSession(ctx context.Context, customerRef string, target subscriptiondomain.Plan) (string, error)
	CreatePortalSession(ctx context.Context, customerRef string) (string, error)
}
