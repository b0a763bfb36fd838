package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clearhaven/dunlin/internal/clock"
	gatewaydomain "github.com/clearhaven/dunlin/internal/gateway/domain"
	subscriptiondomain "github.com/clearhaven/dunlin/internal/subscription/domain"
	"github.com/clearhaven/dunlin/internal/subscription/repository"
	"github.com/clearhaven/dunlin/internal/subscription/service"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type planCall struct {
	subscriptionRef string
	target          subscriptiondomain.Plan
}

type fakeGateway struct {
	upgrades   []planCall
	downgrades []planCall
	cancels    []string
	err        error
}

func (g *fakeGateway) VerifySignature(ctx context.Context, payload []byte, signatureHeader string) (*gatewaydomain.VerifiedEvent, error) {
	return nil, errors.New("not used")
}

func (g *fakeGateway) ResolveCustomerByCharge(ctx context.Context, chargeRef string) (string, error) {
	return "", errors.New("not used")
}

func (g *fakeGateway) SyncSubscriptionState(ctx context.Context, customerRef string) (*gatewaydomain.SyncState, error) {
	return nil, errors.New("not used")
}

func (g *fakeGateway) GetBillingInfo(ctx context.Context, customerRef string) (*subscriptiondomain.BillingInfo, error) {
	return nil, errors.New("not used")
}

func (g *fakeGateway) UpgradePlan(ctx context.Context, subscriptionRef string, target subscriptiondomain.Plan) error {
	if g.err != nil {
		return g.err
	}
	g.upgrades = append(g.upgrades, planCall{subscriptionRef, target})
	return nil
}

func (g *fakeGateway) ScheduleDowngrade(ctx context.Context, subscriptionRef string, target subscriptiondomain.Plan) error {
	if g.err != nil {
		return g.err
	}
	g.downgrades = append(g.downgrades, planCall{subscriptionRef, target})
	return nil
}

func (g *fakeGateway) CancelScheduledDowngrade(ctx context.Context, subscriptionRef string) error {
	if g.err != nil {
		return g.err
	}
	g.cancels = append(g.cancels, subscriptionRef)
	return nil
}

func (g *fakeGateway) SetCancelAtPeriodEnd(ctx context.Context, subscriptionRef string, cancel bool) error {
	return g.err
}

func (g *fakeGateway) Reactivate(ctx context.Context, subscriptionRef string) error {
	return g.err
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, customerRef string, target subscriptiondomain.Plan) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return "https://checkout.test/session", nil
}

func (g *fakeGateway) CreatePortalSession(ctx context.Context, customerRef string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return "https://portal.test/session", nil
}

type fixture struct {
	db       *gorm.DB
	gateway  *fakeGateway
	svc      subscriptiondomain.Service
	repo     subscriptiondomain.Repository
	node     *snowflake.Node
	clk      *clock.FakeClock
	tenantID snowflake.ID
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.PaymentTransaction{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	start, _ := time.Parse(time.RFC3339, "2026-03-01T10:00:00Z")
	clk := clock.NewFakeClock(start)
	gateway := &fakeGateway{}
	repo := repository.Provide()

	svc := service.NewService(service.ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   clk,
		Repo:    repo,
		Gateway: gateway,
	})

	return &fixture{
		db:       db,
		gateway:  gateway,
		svc:      svc,
		repo:     repo,
		node:     node,
		clk:      clk,
		tenantID: node.Generate(),
	}
}

func (f *fixture) seed(t *testing.T, mutate func(*subscriptiondomain.Subscription)) *subscriptiondomain.Subscription {
	t.Helper()

	customerRef := "cus_200"
	subscriptionRef := "sub_200"
	sub := &subscriptiondomain.Subscription{
		ID:              f.node.Generate(),
		TenantID:        f.tenantID,
		Plan:            subscriptiondomain.PlanStandard,
		CustomerRef:     &customerRef,
		SubscriptionRef: &subscriptionRef,
		CreatedAt:       f.clk.Now(),
		UpdatedAt:       f.clk.Now(),
	}
	if mutate != nil {
		mutate(sub)
	}
	if err := f.repo.Insert(context.Background(), f.db, sub); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}

func TestUpgradePlanCallsGateway(t *testing.T) {
	f := setup(t)
	f.seed(t, nil)

	if err := f.svc.UpgradePlan(context.Background(), f.tenantID, subscriptiondomain.PlanPremium); err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	if len(f.gateway.upgrades) != 1 {
		t.Fatalf("expected one gateway upgrade call, got %d", len(f.gateway.upgrades))
	}
	if f.gateway.upgrades[0].subscriptionRef != "sub_200" || f.gateway.upgrades[0].target != subscriptiondomain.PlanPremium {
		t.Fatalf("unexpected upgrade call: %+v", f.gateway.upgrades[0])
	}

	// The local row only moves when a webhook confirms the change.
	stored, err := f.repo.FindByTenantID(context.Background(), f.db, f.tenantID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Plan != subscriptiondomain.PlanStandard {
		t.Fatalf("local plan must stay Standard until reconciled, got %s", stored.Plan)
	}
}

func TestUpgradePlanValidation(t *testing.T) {
	f := setup(t)
	f.seed(t, nil)

	cases := []struct {
		name   string
		target subscriptiondomain.Plan
		want   error
	}{
		{"unknown_plan", subscriptiondomain.Plan("GOLD"), subscriptiondomain.ErrInvalidPlan},
		{"same_plan", subscriptiondomain.PlanStandard, subscriptiondomain.ErrPlanNotHigher},
		{"lower_plan", subscriptiondomain.PlanBasis, subscriptiondomain.ErrPlanNotHigher},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := f.svc.UpgradePlan(context.Background(), f.tenantID, tc.target); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}

	if len(f.gateway.upgrades) != 0 {
		t.Fatalf("rejected upgrades must not reach the gateway")
	}
}

func TestUpgradePlanRequiresLink(t *testing.T) {
	f := setup(t)
	f.seed(t, func(sub *subscriptiondomain.Subscription) {
		sub.Plan = subscriptiondomain.PlanBasis
		sub.SubscriptionRef = nil
	})

	if err := f.svc.UpgradePlan(context.Background(), f.tenantID, subscriptiondomain.PlanPremium); !errors.Is(err, subscriptiondomain.ErrNotLinked) {
		t.Fatalf("want ErrNotLinked, got %v", err)
	}
}

func TestUpgradePlanUnknownTenant(t *testing.T) {
	f := setup(t)

	if err := f.svc.UpgradePlan(context.Background(), f.node.Generate(), subscriptiondomain.PlanPremium); !errors.Is(err, subscriptiondomain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestScheduleDowngrade(t *testing.T) {
	f := setup(t)
	f.seed(t, func(sub *subscriptiondomain.Subscription) {
		sub.Plan = subscriptiondomain.PlanPremium
	})

	if err := f.svc.ScheduleDowngrade(context.Background(), f.tenantID, subscriptiondomain.PlanStandard); err != nil {
		t.Fatalf("downgrade: %v", err)
	}
	if len(f.gateway.downgrades) != 1 || f.gateway.downgrades[0].target != subscriptiondomain.PlanStandard {
		t.Fatalf("unexpected downgrade calls: %+v", f.gateway.downgrades)
	}
}

func TestScheduleDowngradeValidation(t *testing.T) {
	f := setup(t)
	f.seed(t, nil)

	cases := []struct {
		name   string
		target subscriptiondomain.Plan
		want   error
	}{
		{"to_basis", subscriptiondomain.PlanBasis, subscriptiondomain.ErrDowngradeToBasis},
		{"same_plan", subscriptiondomain.PlanStandard, subscriptiondomain.ErrPlanNotLower},
		{"higher_plan", subscriptiondomain.PlanPremium, subscriptiondomain.ErrPlanNotLower},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := f.svc.ScheduleDowngrade(context.Background(), f.tenantID, tc.target); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCancelScheduledDowngrade(t *testing.T) {
	f := setup(t)
	scheduled := subscriptiondomain.PlanStandard
	f.seed(t, func(sub *subscriptiondomain.Subscription) {
		sub.Plan = subscriptiondomain.PlanPremium
		sub.ScheduledPlan = &scheduled
	})

	if err := f.svc.CancelScheduledDowngrade(context.Background(), f.tenantID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(f.gateway.cancels) != 1 || f.gateway.cancels[0] != "sub_200" {
		t.Fatalf("unexpected cancel calls: %+v", f.gateway.cancels)
	}
}

func TestCancelScheduledDowngradeWithoutSchedule(t *testing.T) {
	f := setup(t)
	f.seed(t, nil)

	if err := f.svc.CancelScheduledDowngrade(context.Background(), f.tenantID); !errors.Is(err, subscriptiondomain.ErrNoScheduledChange) {
		t.Fatalf("want ErrNoScheduledChange, got %v", err)
	}
}

func TestDismissDisputeBanner(t *testing.T) {
	f := setup(t)
	disputed := f.clk.Now().Add(-time.Hour)
	f.seed(t, func(sub *subscriptiondomain.Subscription) {
		sub.DisputedAt = &disputed
	})

	if err := f.svc.DismissDisputeBanner(context.Background(), f.tenantID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	stored, err := f.repo.FindByTenantID(context.Background(), f.db, f.tenantID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.DisputedAt != nil {
		t.Fatalf("expected DisputedAt cleared")
	}

	if err := f.svc.DismissDisputeBanner(context.Background(), f.tenantID); !errors.Is(err, subscriptiondomain.ErrNoDisputeToClear) {
		t.Fatalf("second dismissal: want ErrNoDisputeToClear, got %v", err)
	}
}

func TestDismissRefundBannerWithoutFlag(t *testing.T) {
	f := setup(t)
	f.seed(t, nil)

	if err := f.svc.DismissRefundBanner(context.Background(), f.tenantID); !errors.Is(err, subscriptiondomain.ErrNoRefundToClear) {
		t.Fatalf("want ErrNoRefundToClear, got %v", err)
	}
}

func TestGetBillingStatus(t *testing.T) {
	f := setup(t)
	failedAt := f.clk.Now().Add(-2 * time.Hour)
	periodEnd := f.clk.Now().Add(20 * 24 * time.Hour)
	sub := f.seed(t, func(sub *subscriptiondomain.Subscription) {
		sub.FirstPaymentFailedAt = &failedAt
		sub.CurrentPeriodEnd = &periodEnd
		sub.BillingInfo = subscriptiondomain.BillingInfo{Name: "Acme", Email: "owner@acme.test"}
		sub.PaymentMethod = subscriptiondomain.PaymentMethod{Brand: "visa", Last4: "4242", ExpiryMonth: 12, ExpiryYear: 2030}
	})

	transactions := []subscriptiondomain.PaymentTransaction{
		{
			ID:             f.node.Generate(),
			SubscriptionID: sub.ID,
			ExternalRef:    "in_1",
			Amount:         4900,
			Currency:       "eur",
			Status:         "paid",
			OccurredAt:     f.clk.Now().Add(-24 * time.Hour),
		},
	}
	if err := f.db.Create(&transactions).Error; err != nil {
		t.Fatalf("seed transactions: %v", err)
	}

	status, err := f.svc.GetBillingStatus(context.Background(), f.tenantID)
	if err != nil {
		t.Fatalf("billing status: %v", err)
	}

	if status.Plan != subscriptiondomain.PlanStandard || !status.Linked {
		t.Fatalf("unexpected status head: %+v", status)
	}
	if !status.PaymentFailing {
		t.Fatalf("open episode must surface as PaymentFailing")
	}
	if status.BillingInfo == nil || status.BillingInfo.Name != "Acme" {
		t.Fatalf("billing info missing: %+v", status.BillingInfo)
	}
	if status.PaymentMethod == nil || status.PaymentMethod.Last4 != "4242" {
		t.Fatalf("payment method missing: %+v", status.PaymentMethod)
	}
	if len(status.Transactions) != 1 || status.Transactions[0].ExternalRef != "in_1" {
		t.Fatalf("unexpected transactions: %+v", status.Transactions)
	}
}

func TestGetBillingStatusOmitsEmptyDetails(t *testing.T) {
	f := setup(t)
	f.seed(t, func(sub *subscriptiondomain.Subscription) {
		sub.Plan = subscriptiondomain.PlanBasis
		sub.CustomerRef = nil
		sub.SubscriptionRef = nil
	})

	status, err := f.svc.GetBillingStatus(context.Background(), f.tenantID)
	if err != nil {
		t.Fatalf("billing status: %v", err)
	}
	if status.Linked || status.BillingInfo != nil || status.PaymentMethod != nil {
		t.Fatalf("free tenant must have no gateway details: %+v", status)
	}
	if len(status.Transactions) != 0 {
		t.Fatalf("free tenant must have no transactions")
	}
}

func TestStartCheckout(t *testing.T) {
	f := setup(t)
	f.seed(t, func(sub *subscriptiondomain.Subscription) {
		sub.Plan = subscriptiondomain.PlanBasis
		sub.CustomerRef = nil
		sub.SubscriptionRef = nil
	})

	url, err := f.svc.StartCheckout(context.Background(), f.tenantID, subscriptiondomain.PlanStandard)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if url != "https://checkout.test/session" {
		t.Fatalf("unexpected checkout url %q", url)
	}
}

func TestStartCheckoutRejectsExistingSubscription(t *testing.T) {
	f := setup(t)
	f.seed(t, nil)

	if _, err := f.svc.StartCheckout(context.Background(), f.tenantID, subscriptiondomain.PlanPremium); !errors.Is(err, subscriptiondomain.ErrAlreadySubscribed) {
		t.Fatalf("want ErrAlreadySubscribed, got %v", err)
	}
}

func TestStartCheckoutRejectsBasis(t *testing.T) {
	f := setup(t)
	f.seed(t, func(sub *subscriptiondomain.Subscription) {
		sub.Plan = subscriptiondomain.PlanBasis
		sub.CustomerRef = nil
		sub.SubscriptionRef = nil
	})

	if _, err := f.svc.StartCheckout(context.Background(), f.tenantID, subscriptiondomain.PlanBasis); !errors.Is(err, subscriptiondomain.ErrInvalidPlan) {
		t.Fatalf("want ErrInvalidPlan, got %v", err)
	}
}

func TestOpenBillingPortal(t *testing.T) {
	f := setup(t)
	f.seed(t, nil)

	url, err := f.svc.OpenBillingPortal(context.Background(), f.tenantID)
	if err != nil {
		t.Fatalf("portal: %v", err)
	}
	if url != "https://portal.test/session" {
		t.Fatalf("unexpected portal url %q", url)
	}
}

func TestOpenBillingPortalRequiresCustomer(t *testing.T) {
	f := setup(t)
	f.seed(t, func(sub *subscriptiondomain.Subscription) {
		sub.CustomerRef = nil
		sub.SubscriptionRef = nil
	})

	if _, err := f.svc.OpenBillingPortal(context.Background(), f.tenantID); !errors.Is(err, subscriptiondomain.ErrMissingPaymentInfo) {
		t.Fatalf("want ErrMissingPaymentInfo, got %v", err)
	}
}
