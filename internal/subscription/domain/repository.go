package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is tenant-scoped data access used by user-facing commands.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByTenantID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Subscription, error)
	FindByTenantIDForUpdate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Subscription, error)
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	ListTransactions(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]PaymentTransaction, error)
	ReplaceTransactions(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, transactions []PaymentTransaction) error
}

// SystemRepository is the system-context capability used when the caller is
// the payment gateway rather than a tenant user. Lookups here deliberately
// bypass tenant scoping; keeping it a separate interface makes that visible
// in types instead of by convention.
type SystemRepository interface {
	FindByCustomerRef(ctx context.Context, db *gorm.DB, customerRef string) (*Subscription, error)
	FindByCustomerRefForUpdate(ctx context.Context, db *gorm.DB, customerRef string) (*Subscription, error)
}
