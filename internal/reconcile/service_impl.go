// Package reconcile is the webhook-driven core that keeps local subscription
// state consistent with the payment gateway and drives dunning escalation.
package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clearhaven/dunlin/internal/clock"
	"github.com/clearhaven/dunlin/internal/config"
	ledgerdomain "github.com/clearhaven/dunlin/internal/eventledger/domain"
	gatewaydomain "github.com/clearhaven/dunlin/internal/gateway/domain"
	"github.com/clearhaven/dunlin/internal/notification"
	obsmetrics "github.com/clearhaven/dunlin/internal/observability/metrics"
	subscriptiondomain "github.com/clearhaven/dunlin/internal/subscription/domain"
	tenantdomain "github.com/clearhaven/dunlin/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const reconcileLockTTL = 30 * time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Policy     *config.DunningPolicyHolder
	Gateway    gatewaydomain.Gateway
	Ledger     ledgerdomain.Repository
	SubSystem  subscriptiondomain.SystemRepository
	SubRepo    subscriptiondomain.Repository
	TenantRepo tenantdomain.Repository
	Notifier   notification.Provider
	Locker     *Locker             `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	policy     *config.DunningPolicyHolder
	gateway    gatewaydomain.Gateway
	ledger     ledgerdomain.Repository
	subSystem  subscriptiondomain.SystemRepository
	subRepo    subscriptiondomain.Repository
	tenantRepo tenantdomain.Repository
	notifier   notification.Provider
	locker     *Locker
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reconcile"),
		genID:      p.GenID,
		clock:      p.Clock,
		policy:     p.Policy,
		gateway:    p.Gateway,
		ledger:     p.Ledger,
		subSystem:  p.SubSystem,
		subRepo:    p.SubRepo,
		tenantRepo: p.TenantRepo,
		notifier:   p.Notifier,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}
}

// AckResult is the fast-path answer handed back before reconciliation runs.
type AckResult struct {
	EventID     string
	EventType   gatewaydomain.EventType
	CustomerRef string

	// Replay is true when the event id was already in the ledger.
	Replay bool
	// Ignored is true when no customer could be resolved; the event was
	// recorded for audit and needs no reconciliation.
	Ignored bool
}

// Acknowledge is phase 1: verify the signature, dedupe against the ledger and
// resolve the customer. It never mutates subscription state and performs no
// gateway call beyond signature verification and, when needed, a single
// charge-to-customer lookup.
func (s *Service) Acknowledge(ctx context.Context, payload []byte, signatureHeader string) (*AckResult, error) {
	verified, err := s.gateway.VerifySignature(ctx, payload, signatureHeader)
	if err != nil {
		return nil, err
	}

	existing, err := s.ledger.Find(ctx, s.db, verified.EventID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		result := &AckResult{
			EventID:   verified.EventID,
			EventType: verified.Type,
			Replay:    true,
			Ignored:   existing.Ignored,
		}
		if existing.CustomerRef != nil {
			result.CustomerRef = *existing.CustomerRef
		}
		return result, nil
	}

	customerRef := strings.TrimSpace(verified.CustomerRef)
	if customerRef == "" && verified.ChargeRef != "" {
		customerRef, err = s.gateway.ResolveCustomerByCharge(ctx, verified.ChargeRef)
		if err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	record := ledgerdomain.WebhookEvent{
		ID:         s.genID.Generate(),
		EventID:    verified.EventID,
		EventType:  string(verified.Type),
		Payload:    datatypes.JSON(payload),
		ReceivedAt: now,
	}
	if customerRef != "" {
		record.CustomerRef = &customerRef
	}
	if verified.SubRef != "" {
		record.SubscriptionRef = &verified.SubRef
	}

	if customerRef == "" {
		// No customer to reconcile against. Keep the event for audit and
		// replay detection only.
		record.Ignored = true
		record.ProcessedAt = &now
		if _, err := s.ledger.Insert(ctx, s.db, &record); err != nil {
			return nil, err
		}
		s.log.Info("webhook event ignored, no resolvable customer",
			zap.String("event_id", verified.EventID),
			zap.String("event_type", string(verified.Type)),
		)
		s.obsMetrics.RecordWebhookEvent(ctx, string(verified.Type), "ignored")
		return &AckResult{EventID: verified.EventID, EventType: verified.Type, Ignored: true}, nil
	}

	inserted, err := s.ledger.Insert(ctx, s.db, &record)
	if err != nil {
		return nil, err
	}
	return &AckResult{
		EventID:     verified.EventID,
		EventType:   verified.Type,
		CustomerRef: customerRef,
		Replay:      !inserted,
	}, nil
}

// Reconcile is phase 2: fetch canonical state from the gateway, merge it into
// the subscription, dispatch the event-specific transition and commit the
// mutation together with the ledger mark. Safe to call repeatedly for the
// same event; everything after the ledger check is derived from canonical
// state, not from the webhook payload.
func (s *Service) Reconcile(ctx context.Context, ack *AckResult) error {
	if ack == nil || ack.CustomerRef == "" {
		return nil
	}

	lockKey := "reconcile:customer:" + ack.CustomerRef
	token, ok, err := s.locker.TryLock(ctx, lockKey, reconcileLockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBusy
	}
	defer func() {
		_ = s.locker.Release(ctx, lockKey, token)
	}()

	stored, err := s.ledger.Find(ctx, s.db, ack.EventID)
	if err != nil {
		return err
	}
	if stored == nil {
		return ErrUnknownEvent
	}
	if stored.ProcessedAt != nil || stored.Ignored {
		return ErrEventAlreadyProcessed
	}

	// Outbound calls happen before the transaction so a gateway failure
	// leaves no partial mutation behind.
	sync, err := s.gateway.SyncSubscriptionState(ctx, ack.CustomerRef)
	if err != nil && !errors.Is(err, gatewaydomain.ErrNotFound) {
		s.obsMetrics.RecordReconcileFailure(ctx, "sync")
		return err
	}

	var billing *subscriptiondomain.BillingInfo
	billing, err = s.gateway.GetBillingInfo(ctx, ack.CustomerRef)
	if err != nil {
		s.obsMetrics.RecordReconcileFailure(ctx, "billing_info")
		return err
	}

	now := s.clock.Now()
	var emails []notification.Email
	var events []string
	var ownerEmail string

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.ledger.Find(ctx, tx, ack.EventID)
		if err != nil {
			return err
		}
		if row == nil {
			return ErrUnknownEvent
		}
		if row.ProcessedAt != nil || row.Ignored {
			return ErrEventAlreadyProcessed
		}

		sub, err := s.subSystem.FindByCustomerRefForUpdate(ctx, tx, ack.CustomerRef)
		if err != nil {
			return err
		}
		if sub == nil {
			// The gateway knows a customer we never linked. Informational,
			// not an error; record it and move on.
			s.log.Info("no local subscription for gateway customer",
				zap.String("customer_ref", ack.CustomerRef),
				zap.String("event_id", ack.EventID),
			)
			return s.markIgnored(ctx, tx, row, now)
		}

		tenant, err := s.tenantRepo.FindByID(ctx, tx, sub.TenantID)
		if err != nil {
			return err
		}
		if tenant == nil {
			// One subscription per tenant is a hard invariant; a dangling
			// subscription is a programming error, not a recoverable state.
			return errors.New("tenant_missing_for_subscription")
		}
		ownerEmail = tenant.OwnerEmail

		s.merge(sub, sync, now)
		if billing != nil {
			sub.BillingInfo = *billing
		}

		outcome := s.dispatch(ack.EventType, sub, tenant.Name, tenant.State, now)
		emails = outcome.emails
		events = outcome.events

		if err := s.subRepo.Update(ctx, tx, sub); err != nil {
			return err
		}
		if sync != nil && len(sync.Transactions) > 0 {
			transactions := make([]subscriptiondomain.PaymentTransaction, len(sync.Transactions))
			copy(transactions, sync.Transactions)
			for i := range transactions {
				transactions[i].ID = s.genID.Generate()
				transactions[i].SubscriptionID = sub.ID
				transactions[i].CreatedAt = now
			}
			if err := s.subRepo.ReplaceTransactions(ctx, tx, sub.ID, transactions); err != nil {
				return err
			}
		}
		if outcome.tenantState != tenant.State {
			if err := s.tenantRepo.UpdateState(ctx, tx, tenant.ID, outcome.tenantState, now); err != nil {
				return err
			}
		}

		return s.ledger.MarkProcessed(ctx, tx, row.ID, now)
	})
	if err != nil {
		return err
	}

	// Side effects only after the mutation and the ledger mark are durable;
	// a redelivery now short-circuits on the ledger and cannot repeat them.
	for _, email := range emails {
		if sendErr := s.notifier.Send(ctx, ownerEmail, email.Subject, email.HTML); sendErr != nil {
			s.log.Warn("failed to send billing email",
				zap.String("kind", email.Kind),
				zap.Error(sendErr),
			)
			continue
		}
		s.obsMetrics.RecordNotification(ctx, email.Kind)
	}
	for _, event := range events {
		s.log.Info("billing event",
			zap.String("event", event),
			zap.String("event_id", ack.EventID),
			zap.String("customer_ref", ack.CustomerRef),
		)
		s.obsMetrics.RecordDunningTransition(ctx, event)
	}
	s.obsMetrics.RecordWebhookEvent(ctx, string(ack.EventType), "processed")

	return nil
}

func (s *Service) markIgnored(ctx context.Context, tx *gorm.DB, row *ledgerdomain.WebhookEvent, now time.Time) error {
	if err := tx.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET ignored = TRUE
		 WHERE id = ?`,
		row.ID,
	).Error; err != nil {
		return err
	}
	return s.ledger.MarkProcessed(ctx, tx, row.ID, now)
}

// merge folds the canonical gateway snapshot into the aggregate. A nil
// snapshot means the external subscription is gone and local state resets to
// the free plan instead of going stale.
func (s *Service) merge(sub *subscriptiondomain.Subscription, sync *gatewaydomain.SyncState, now time.Time) {
	if sync == nil {
		sub.ResetToFree(now)
		return
	}

	sub.Plan = sync.Plan
	sub.ScheduledPlan = sync.ScheduledPlan
	if sync.SubscriptionRef != "" {
		ref := sync.SubscriptionRef
		sub.SubscriptionRef = &ref
	}
	sub.CancelAtPeriodEnd = sync.CancelAtPeriodEnd
	sub.CurrentPeriodEnd = sync.CurrentPeriodEnd
	if sync.PaymentMethod != nil {
		sub.PaymentMethod = *sync.PaymentMethod
	}
	sub.UpdatedAt = now
}

type dispatchOutcome struct {
	tenantState tenantdomain.State
	emails      []notification.Email
	events      []string
}

// dispatch runs the event-specific transition. The switch is over the closed
// gateway event type, so adding a type without handling it is a compile-time
// conversation, not a silent string mismatch.
func (s *Service) dispatch(eventType gatewaydomain.EventType, sub *subscriptiondomain.Subscription, tenantName string, current tenantdomain.State, now time.Time) dispatchOutcome {
	out := dispatchOutcome{tenantState: current}

	switch eventType {
	case gatewaydomain.EventPaymentFailed:
		outcome := Escalate(sub, current, now, s.policy.Get())
		out.tenantState = outcome.TenantState
		if outcome.Event != "" {
			out.events = append(out.events, outcome.Event)
		}
		if email, ok := s.composeEmail(tenantName, outcome); ok {
			out.emails = append(out.emails, email)
		}

	case gatewaydomain.EventPaymentSucceeded, gatewaydomain.EventCheckoutCompleted:
		outcome := Recover(sub, current, now)
		out.tenantState = outcome.TenantState
		if outcome.Event != "" {
			out.events = append(out.events, outcome.Event)
		}
		if eventType == gatewaydomain.EventCheckoutCompleted {
			out.events = append(out.events, EventCheckoutCompleted)
		}

	case gatewaydomain.EventDisputeCreated:
		if sub.DisputedAt == nil {
			disputedAt := now
			sub.DisputedAt = &disputedAt
			sub.UpdatedAt = now
			out.events = append(out.events, EventDisputeOpened)
			if email, err := notification.DisputeEmail(tenantName); err == nil {
				out.emails = append(out.emails, email)
			}
		}

	case gatewaydomain.EventDisputeClosed:
		if sub.DisputedAt != nil {
			sub.DisputedAt = nil
			sub.UpdatedAt = now
			out.events = append(out.events, EventDisputeClosed)
		}

	case gatewaydomain.EventRefunded:
		if sub.RefundedAt == nil {
			refundedAt := now
			sub.RefundedAt = &refundedAt
			sub.UpdatedAt = now
			out.events = append(out.events, EventRefundRecorded)
		}

	case gatewaydomain.EventSubscriptionDeleted:
		// merge already reset the aggregate when the canonical sync came
		// back empty; the access state follows the free tier.
		out.events = append(out.events, EventSubscriptionDeleted)
		if current != tenantdomain.StateActive && !sub.EpisodeOpen() {
			out.tenantState = tenantdomain.StateActive
		}

	case gatewaydomain.EventUnknown:
		// Recorded for idempotency and audit only.
	}

	return out
}

func (s *Service) composeEmail(tenantName string, outcome EscalationOutcome) (notification.Email, bool) {
	var (
		email notification.Email
		err   error
	)
	switch outcome.EmailKind {
	case notification.KindPaymentFailed:
		email, err = notification.PaymentFailedEmail(tenantName)
	case notification.KindReminder:
		email, err = notification.ReminderEmail(tenantName, outcome.DaysRemaining)
	case notification.KindSuspended:
		email, err = notification.SuspendedEmail(tenantName)
	default:
		return notification.Email{}, false
	}
	if err != nil {
		s.log.Warn("failed to render billing email", zap.String("kind", outcome.EmailKind), zap.Error(err))
		return notification.Email{}, false
	}
	return email, true
}
