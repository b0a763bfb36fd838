package gateway

import (
	"context"

	"github.com/clearhaven/dunlin/internal/gateway/domain"
	subscriptiondomain "github.com/clearhaven/dunlin/internal/subscription/domain"
)

// Disabled is the gateway used when no processor credentials are configured.
// Webhooks cannot verify and every outbound call fails with ErrGatewayDisabled,
// which keeps local-only deployments on the free plan without special cases.
type Disabled struct{}

func NewDisabled() *Disabled {
	return &Disabled{}
}

func (Disabled) VerifySignature(ctx context.Context, payload []byte, signatureHeader string) (*domain.VerifiedEvent, error) {
	return nil, domain.ErrGatewayDisabled
}

func (Disabled) ResolveCustomerByCharge(ctx context.Context, chargeRef string) (string, error) {
	return "", domain.ErrGatewayDisabled
}

func (Disabled) SyncSubscriptionState(ctx context.Context, customerRef string) (*domain.SyncState, error) {
	return nil, domain.ErrGatewayDisabled
}

func (Disabled) GetBillingInfo(ctx context.Context, customerRef string) (*subscriptiondomain.BillingInfo, error) {
	return nil, domain.ErrGatewayDisabled
}

func (Disabled) UpgradePlan(ctx context.Context, subscriptionRef string, target subscriptiondomain.Plan) error {
	return domain.ErrGatewayDisabled
}

func (Disabled) ScheduleDowngrade(ctx context.Context, subscriptionRef string, target subscriptiondomain.Plan) error {
	return domain.ErrGatewayDisabled
}

func (Disabled) CancelScheduledDowngrade(ctx context.Context, subscriptionRef string) error {
	return domain.ErrGatewayDisabled
}

func (Disabled) SetCancelAtPeriodEnd(ctx context.Context, subscriptionRef string, cancel bool) error {
	return domain.ErrGatewayDisabled
}

func (Disabled) Reactivate(ctx context.Context, subscriptionRef string) error {
	return domain.ErrGatewayDisabled
}

func (Disabled) CreateCheckoutSession(ctx context.Context, customerRef string, target subscriptiondomain.Plan) (string, error) {
	return "", domain.ErrGatewayDisabled
}

func (Disabled) CreatePortalSession(ctx context.Context, customerRef string) (string, error) {
	return "", domain.ErrGatewayDisabled
}
