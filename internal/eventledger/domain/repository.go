package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert writes the record unless the event id already exists. The bool
	// result reports whether a row was actually inserted; a duplicate is a
	// benign race, not an error.
	Insert(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	Find(ctx context.Context, db *gorm.DB, eventID string) (*WebhookEvent, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
	ListUnprocessedByCustomer(ctx context.Context, db *gorm.DB, customerRef string) ([]WebhookEvent, error)
	ListByCustomer(ctx context.Context, db *gorm.DB, customerRef string, limit int) ([]WebhookEvent, error)
}
