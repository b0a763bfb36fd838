package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// BillingStatus is the read model served to the tenant UI. Everything here is
// derived from the Subscription row; it carries no state of its own.
type BillingStatus struct {
	Plan              Plan                 `json:"plan"`
	ScheduledPlan     *Plan                `json:"scheduled_plan,omitempty"`
	Linked            bool                 `json:"linked"`
	CancelAtPeriodEnd bool                 `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *time.Time           `json:"current_period_end,omitempty"`
	PaymentFailing    bool                 `json:"payment_failing"`
	DisputeBanner     bool                 `json:"dispute_banner"`
	RefundBanner      bool                 `json:"refund_banner"`
	BillingInfo       *BillingInfo         `json:"billing_info,omitempty"`
	PaymentMethod     *PaymentMethod       `json:"payment_method,omitempty"`
	Transactions      []PaymentTransaction `json:"transactions"`
}

// Service exposes tenant-facing billing commands. All mutations of plan state
// go through the gateway first; local state only changes via the next webhook
// reconcile, except for the advisory banner flags which are local-only.
type Service interface {
	UpgradePlan(ctx context.Context, tenantID snowflake.ID, target Plan) error
	ScheduleDowngrade(ctx context.Context, tenantID snowflake.ID, target Plan) error
	CancelScheduledDowngrade(ctx context.Context, tenantID snowflake.ID) error
	DismissDisputeBanner(ctx context.Context, tenantID snowflake.ID) error
	DismissRefundBanner(ctx context.Context, tenantID snowflake.ID) error
	GetBillingStatus(ctx context.Context, tenantID snowflake.ID) (*BillingStatus, error)

	// StartCheckout and OpenBillingPortal return redirect URLs hosted by the
	// gateway.
	StartCheckout(ctx context.Context, tenantID snowflake.ID, target Plan) (string, error)
	OpenBillingPortal(ctx context.Context, tenantID snowflake.ID) (string, error)
}
