package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clearhaven/dunlin/internal/eventledger/domain"
	"github.com/clearhaven/dunlin/internal/eventledger/repository"
	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setup(t *testing.T) (*gorm.DB, domain.Repository, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.WebhookEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	return db, repository.Provide(), node
}

func event(node *snowflake.Node, eventID, customerRef string, receivedAt time.Time) *domain.WebhookEvent {
	ref := customerRef
	return &domain.WebhookEvent{
		ID:          node.Generate(),
		EventID:     eventID,
		EventType:   "payment_failed",
		CustomerRef: &ref,
		Payload:     datatypes.JSON([]byte(`{}`)),
		ReceivedAt:  receivedAt,
	}
}

func TestInsertIsIdempotentOnEventID(t *testing.T) {
	db, repo, node := setup(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	inserted, err := repo.Insert(ctx, db, event(node, "evt_1", "cus_1", now))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatalf("first insert must report a new row")
	}

	inserted, err = repo.Insert(ctx, db, event(node, "evt_1", "cus_1", now.Add(time.Minute)))
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if inserted {
		t.Fatalf("duplicate event id must be a silent no-op")
	}

	stored, err := repo.Find(ctx, db, "evt_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored == nil || !stored.ReceivedAt.Equal(now) {
		t.Fatalf("original row must survive the duplicate, got %+v", stored)
	}
}

func TestFindUnknownEvent(t *testing.T) {
	db, repo, _ := setup(t)

	stored, err := repo.Find(context.Background(), db, "evt_missing")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored != nil {
		t.Fatalf("expected nil for unknown event, got %+v", stored)
	}
}

func TestMarkProcessed(t *testing.T) {
	db, repo, node := setup(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	row := event(node, "evt_1", "cus_1", now)
	if _, err := repo.Insert(ctx, db, row); err != nil {
		t.Fatalf("insert: %v", err)
	}

	processedAt := now.Add(2 * time.Second)
	if err := repo.MarkProcessed(ctx, db, row.ID, processedAt); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	stored, err := repo.Find(ctx, db, "evt_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.ProcessedAt == nil || !stored.ProcessedAt.Equal(processedAt) {
		t.Fatalf("expected processed_at %v, got %v", processedAt, stored.ProcessedAt)
	}
}

func TestListUnprocessedByCustomerOrdersByReceipt(t *testing.T) {
	db, repo, node := setup(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	late := event(node, "evt_late", "cus_1", now.Add(time.Hour))
	early := event(node, "evt_early", "cus_1", now)
	other := event(node, "evt_other", "cus_2", now)
	done := event(node, "evt_done", "cus_1", now.Add(2*time.Hour))
	processedAt := now.Add(3 * time.Hour)
	done.ProcessedAt = &processedAt
	skipped := event(node, "evt_skipped", "cus_1", now.Add(4*time.Hour))
	skipped.Ignored = true

	for _, row := range []*domain.WebhookEvent{late, early, other, done, skipped} {
		if _, err := repo.Insert(ctx, db, row); err != nil {
			t.Fatalf("insert %s: %v", row.EventID, err)
		}
	}

	pending, err := repo.ListUnprocessedByCustomer(ctx, db, "cus_1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending events, got %d", len(pending))
	}
	if pending[0].EventID != "evt_early" || pending[1].EventID != "evt_late" {
		t.Fatalf("expected oldest first, got %s then %s", pending[0].EventID, pending[1].EventID)
	}
}

func TestListByCustomerNewestFirstWithLimit(t *testing.T) {
	db, repo, node := setup(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		row := event(node, "evt_"+string(rune('a'+i)), "cus_1", now.Add(time.Duration(i)*time.Minute))
		if _, err := repo.Insert(ctx, db, row); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	events, err := repo.ListByCustomer(ctx, db, "cus_1", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected limit of 3, got %d", len(events))
	}
	if events[0].EventID != "evt_e" || events[2].EventID != "evt_c" {
		t.Fatalf("expected newest first, got %s .. %s", events[0].EventID, events[2].EventID)
	}
}
