package reconcile

import (
	"context"
	"errors"

	gatewaydomain "github.com/clearhaven/dunlin/internal/gateway/domain"
	subscriptiondomain "github.com/clearhaven/dunlin/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReprocessResult summarizes an operator-triggered reprocess run.
type ReprocessResult struct {
	CustomerRef string `json:"customer_ref"`
	Reprocessed int    `json:"reprocessed"`
	Skipped     int    `json:"skipped"`
	Synced      bool   `json:"synced"`
}

// ReprocessCustomer re-runs every unprocessed ledger event for the customer in
// received order. When the ledger is clean it still performs one canonical
// sync, so the endpoint doubles as a manual "pull fresh state" knob.
func (s *Service) ReprocessCustomer(ctx context.Context, customerRef string) (*ReprocessResult, error) {
	result := &ReprocessResult{CustomerRef: customerRef}

	pending, err := s.ledger.ListUnprocessedByCustomer(ctx, s.db, customerRef)
	if err != nil {
		return nil, err
	}

	for _, event := range pending {
		ack := &AckResult{
			EventID:     event.EventID,
			EventType:   gatewaydomain.EventType(event.EventType),
			CustomerRef: customerRef,
		}
		if err := s.Reconcile(ctx, ack); err != nil {
			if errors.Is(err, ErrEventAlreadyProcessed) {
				result.Skipped++
				continue
			}
			return nil, err
		}
		result.Reprocessed++
	}

	if len(pending) == 0 {
		if err := s.SyncCustomer(ctx, customerRef); err != nil {
			return nil, err
		}
		result.Synced = true
	}

	s.log.Info("customer reprocessed",
		zap.String("customer_ref", customerRef),
		zap.Int("reprocessed", result.Reprocessed),
		zap.Int("skipped", result.Skipped),
		zap.Bool("synced", result.Synced),
	)
	return result, nil
}

// SyncCustomer pulls canonical state and merges it without dispatching any
// event transition. Dunning and dispute timestamps are left untouched.
func (s *Service) SyncCustomer(ctx context.Context, customerRef string) error {
	lockKey := "reconcile:customer:" + customerRef
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

	sync, err := s.gateway.SyncSubscriptionState(ctx, customerRef)
	if err != nil && !errors.Is(err, gatewaydomain.ErrNotFound) {
		s.obsMetrics.RecordReconcileFailure(ctx, "sync")
		return err
	}
	billing, err := s.gateway.GetBillingInfo(ctx, customerRef)
	if err != nil {
		s.obsMetrics.RecordReconcileFailure(ctx, "billing_info")
		return err
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subSystem.FindByCustomerRefForUpdate(ctx, tx, customerRef)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrNotFound
		}
		s.merge(sub, sync, now)
		if billing != nil {
			sub.BillingInfo = *billing
		}
		return s.subRepo.Update(ctx, tx, sub)
	})
}
