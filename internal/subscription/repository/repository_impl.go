package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/clearhaven/dunlin/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// ProvideSystem exposes the same implementation through the system-context
// interface used by webhook reconciliation.
func ProvideSystem() domain.SystemRepository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repo) FindByTenantID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByTenantIDForUpdate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).
		Clauses(forUpdate(db)...).
		Where("tenant_id = ?", tenantID).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("id = ?", subscription.ID).
		Select("*").
		Omit("id", "created_at").
		Updates(subscription).Error
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]domain.PaymentTransaction, error) {
	var items []domain.PaymentTransaction
	err := db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("occurred_at DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ReplaceTransactions swaps the local transaction mirror for the canonical
// set fetched from the gateway. Runs inside the caller's transaction.
func (r *repo) ReplaceTransactions(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, transactions []domain.PaymentTransaction) error {
	if err := db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Delete(&domain.PaymentTransaction{}).Error; err != nil {
		return err
	}
	if len(transactions) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&transactions).Error
}

func (r *repo) FindByCustomerRef(ctx context.Context, db *gorm.DB, customerRef string) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).
		Where("customer_ref = ?", customerRef).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByCustomerRefForUpdate(ctx context.Context, db *gorm.DB, customerRef string) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).
		Clauses(forUpdate(db)...).
		Where("customer_ref = ?", customerRef).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
