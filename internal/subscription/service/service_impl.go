// Package service implements the tenant-facing billing commands. Plan changes
// are state-gated locally but applied at the gateway; the subscription row
// itself only moves when the next webhook reconciles canonical state.
package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/clearhaven/dunlin/internal/clock"
	gatewaydomain "github.com/clearhaven/dunlin/internal/gateway/domain"
	subscriptiondomain "github.com/clearhaven/dunlin/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    subscriptiondomain.Repository
	gateway gatewaydomain.Gateway
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    subscriptiondomain.Repository
	Gateway gatewaydomain.Gateway
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("subscription.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		gateway: p.Gateway,
	}
}

// UpgradePlan moves the external subscription to a strictly higher plan. The
// local row is not touched; the gateway confirms through the next webhook.
func (s *Service) UpgradePlan(ctx context.Context, tenantID snowflake.ID, target subscriptiondomain.Plan) error {
	if !target.Valid() {
		return subscriptiondomain.ErrInvalidPlan
	}

	sub, err := s.load(ctx, tenantID)
	if err != nil {
		return err
	}
	if sub.SubscriptionRef == nil || *sub.SubscriptionRef == "" {
		return subscriptiondomain.ErrNotLinked
	}
	if target.Rank() <= sub.Plan.Rank() {
		return subscriptiondomain.ErrPlanNotHigher
	}

	if err := s.gateway.UpgradePlan(ctx, *sub.SubscriptionRef, target); err != nil {
		return err
	}

	s.log.Info("plan upgrade requested",
		zap.String("tenant_id", tenantID.String()),
		zap.String("from", string(sub.Plan)),
		zap.String("to", string(target)),
	)
	return nil
}

// ScheduleDowngrade schedules a strictly lower paid plan for period end.
// Leaving for the free tier goes through cancel-at-period-end, not this path.
func (s *Service) ScheduleDowngrade(ctx context.Context, tenantID snowflake.ID, target subscriptiondomain.Plan) error {
	if !target.Valid() {
		return subscriptiondomain.ErrInvalidPlan
	}
	if target == subscriptiondomain.PlanBasis {
		return subscriptiondomain.ErrDowngradeToBasis
	}

	sub, err := s.load(ctx, tenantID)
	if err != nil {
		return err
	}
	if sub.SubscriptionRef == nil || *sub.SubscriptionRef == "" {
		return subscriptiondomain.ErrNotLinked
	}
	if target.Rank() >= sub.Plan.Rank() {
		return subscriptiondomain.ErrPlanNotLower
	}

	if err := s.gateway.ScheduleDowngrade(ctx, *sub.SubscriptionRef, target); err != nil {
		return err
	}

	s.log.Info("plan downgrade scheduled",
		zap.String("tenant_id", tenantID.String()),
		zap.String("from", string(sub.Plan)),
		zap.String("to", string(target)),
	)
	return nil
}

func (s *Service) CancelScheduledDowngrade(ctx context.Context, tenantID snowflake.ID) error {
	sub, err := s.load(ctx, tenantID)
	if err != nil {
		return err
	}
	if sub.SubscriptionRef == nil || *sub.SubscriptionRef == "" {
		return subscriptiondomain.ErrNotLinked
	}
	if sub.ScheduledPlan == nil {
		return subscriptiondomain.ErrNoScheduledChange
	}

	if err := s.gateway.CancelScheduledDowngrade(ctx, *sub.SubscriptionRef); err != nil {
		return err
	}

	s.log.Info("scheduled downgrade canceled", zap.String("tenant_id", tenantID.String()))
	return nil
}

// DismissDisputeBanner clears the advisory dispute flag. Dismissing a flag
// that is not set is a client error; it means the UI acted on stale state.
func (s *Service) DismissDisputeBanner(ctx context.Context, tenantID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByTenantIDForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrNotFound
		}
		if sub.DisputedAt == nil {
			return subscriptiondomain.ErrNoDisputeToClear
		}

		sub.DisputedAt = nil
		sub.UpdatedAt = s.clock.Now()
		return s.repo.Update(ctx, tx, sub)
	})
}

func (s *Service) DismissRefundBanner(ctx context.Context, tenantID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByTenantIDForUpdate(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrNotFound
		}
		if sub.RefundedAt == nil {
			return subscriptiondomain.ErrNoRefundToClear
		}

		sub.RefundedAt = nil
		sub.UpdatedAt = s.clock.Now()
		return s.repo.Update(ctx, tx, sub)
	})
}

func (s *Service) GetBillingStatus(ctx context.Context, tenantID snowflake.ID) (*subscriptiondomain.BillingStatus, error) {
	sub, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	transactions, err := s.repo.ListTransactions(ctx, s.db, sub.ID)
	if err != nil {
		return nil, err
	}

	status := &subscriptiondomain.BillingStatus{
		Plan:              sub.Plan,
		ScheduledPlan:     sub.ScheduledPlan,
		Linked:            sub.Linked(),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		PaymentFailing:    sub.EpisodeOpen(),
		DisputeBanner:     sub.DisputedAt != nil,
		RefundBanner:      sub.RefundedAt != nil,
		Transactions:      transactions,
	}
	if !sub.BillingInfo.IsZero() {
		info := sub.BillingInfo
		status.BillingInfo = &info
	}
	if !sub.PaymentMethod.IsZero() {
		method := sub.PaymentMethod
		status.PaymentMethod = &method
	}
	return status, nil
}

// StartCheckout creates a gateway-hosted checkout session for the first paid
// subscription of a tenant.
func (s *Service) StartCheckout(ctx context.Context, tenantID snowflake.ID, target subscriptiondomain.Plan) (string, error) {
	if !target.Valid() || target == subscriptiondomain.PlanBasis {
		return "", subscriptiondomain.ErrInvalidPlan
	}

	sub, err := s.load(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if sub.SubscriptionRef != nil && *sub.SubscriptionRef != "" {
		return "", subscriptiondomain.ErrAlreadySubscribed
	}

	// An unlinked tenant has no gateway customer yet; the gateway creates
	// one as part of the checkout session.
	customerRef := ""
	if sub.CustomerRef != nil {
		customerRef = *sub.CustomerRef
	}
	return s.gateway.CreateCheckoutSession(ctx, customerRef, target)
}

// OpenBillingPortal creates a gateway-hosted self-service portal session.
func (s *Service) OpenBillingPortal(ctx context.Context, tenantID snowflake.ID) (string, error) {
	sub, err := s.load(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if !sub.Linked() {
		return "", subscriptiondomain.ErrMissingPaymentInfo
	}

	return s.gateway.CreatePortalSession(ctx, *sub.CustomerRef)
}

func (s *Service) load(ctx context.Context, tenantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindByTenantID(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrNotFound
	}
	return sub, nil
}
