package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clearhaven/dunlin/internal/eventledger/domain"
	pkgdb "github.com/clearhaven/dunlin/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	if db.Dialector.Name() == "mysql" {
		return r.insertWithoutConflictClause(ctx, db, event)
	}

	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, event_id, event_type, customer_ref, subscription_ref, tenant_id,
			payload, received_at, processed_at, ignored
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		event.ID,
		event.EventID,
		event.EventType,
		event.CustomerRef,
		event.SubscriptionRef,
		event.TenantID,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
		event.Ignored,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// insertWithoutConflictClause covers dialects with no ON CONFLICT support.
// The unique event_id index rejects the duplicate and the driver error is
// translated back into the inserted=false signal.
func (r *repo) insertWithoutConflictClause(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, event_id, event_type, customer_ref, subscription_ref, tenant_id,
			payload, received_at, processed_at, ignored
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.EventID,
		event.EventType,
		event.CustomerRef,
		event.SubscriptionRef,
		event.TenantID,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
		event.Ignored,
	)
	if pkgdb.IsDuplicateKeyErr(res.Error) {
		return false, nil
	}
	if res.Error != nil {
		return false, res.Error
	}
	return true, nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, eventID string) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, event_id, event_type, customer_ref, subscription_ref, tenant_id,
			payload, received_at, processed_at, ignored
		 FROM webhook_events
		 WHERE event_id = ?
		 LIMIT 1`,
		eventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}

func (r *repo) ListUnprocessedByCustomer(ctx context.Context, db *gorm.DB, customerRef string) ([]domain.WebhookEvent, error) {
	var items []domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, event_id, event_type, customer_ref, subscription_ref, tenant_id,
			payload, received_at, processed_at, ignored
		 FROM webhook_events
		 WHERE customer_ref = ? AND processed_at IS NULL AND ignored = FALSE
		 ORDER BY received_at ASC`,
		customerRef,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByCustomer(ctx context.Context, db *gorm.DB, customerRef string, limit int) ([]domain.WebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, event_id, event_type, customer_ref, subscription_ref, tenant_id,
			payload, received_at, processed_at, ignored
		 FROM webhook_events
		 WHERE customer_ref = ?
		 ORDER BY received_at DESC
		 LIMIT ?`,
		customerRef,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
