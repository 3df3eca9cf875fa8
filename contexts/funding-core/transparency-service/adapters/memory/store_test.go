package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"platefund/contexts/funding-core/transparency-service/domain/entities"
	"platefund/contexts/funding-core/transparency-service/ports"
)

func seedEntries(t *testing.T, store *Store, count int, region string) {
	t.Helper()
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		entry := entities.PublicFeedEntry{
			AllocationID: fmt.Sprintf("alloc-%s-%02d", region, i),
			SchoolName:   "SDN 01",
			CatererName:  "Dapur Sehat",
			Region:       region,
			AmountMinor:  1000000,
			Currency:     "IDR",
			ReleasedAt:   base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:    base,
		}
		if err := store.UpsertEntry(context.Background(), entry); err != nil {
			t.Fatalf("seed entry: %v", err)
		}
	}
}

func TestUpsertEntryIsIdempotentPerAllocation(t *testing.T) {
	store := NewStore()
	entry := entities.PublicFeedEntry{
		AllocationID: "alloc-1",
		AmountMinor:  500,
		ReleasedAt:   time.Now().UTC(),
	}
	if err := store.UpsertEntry(context.Background(), entry); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	entry.TxHash = "0xlater"
	if err := store.UpsertEntry(context.Background(), entry); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one entry, got %d", store.Len())
	}
	got, err := store.GetEntry(context.Background(), "alloc-1")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.TxHash != "0xlater" {
		t.Fatalf("upsert did not overwrite, tx hash %q", got.TxHash)
	}
}

func TestListEntriesNewestFirstWithCursor(t *testing.T) {
	store := NewStore()
	seedEntries(t, store, 5, "jakarta")

	first, err := store.ListEntries(context.Background(), ports.FeedFilter{Limit: 2})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(first.Items))
	}
	if first.Items[0].AllocationID != "alloc-jakarta-04" {
		t.Fatalf("expected newest entry first, got %s", first.Items[0].AllocationID)
	}
	if first.NextCursor == "" {
		t.Fatalf("expected a next cursor")
	}

	second, err := store.ListEntries(context.Background(), ports.FeedFilter{Limit: 2, Cursor: first.NextCursor})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Items) != 2 {
		t.Fatalf("expected 2 items on second page, got %d", len(second.Items))
	}
	if second.Items[0].AllocationID == first.Items[1].AllocationID {
		t.Fatalf("second page repeated the cursor entry")
	}
}

func TestListEntriesFiltersByRegion(t *testing.T) {
	store := NewStore()
	seedEntries(t, store, 3, "jakarta")
	seedEntries(t, store, 2, "bandung")

	page, err := store.ListEntries(context.Background(), ports.FeedFilter{Region: "bandung", Limit: 10})
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 bandung entries, got %d", len(page.Items))
	}
	for _, item := range page.Items {
		if item.Region != "bandung" {
			t.Fatalf("unexpected region %s", item.Region)
		}
	}
}
