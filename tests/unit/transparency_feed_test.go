package unit

import (
	"context"
	"testing"
	"time"

	transparency "platefund/contexts/funding-core/transparency-service"
	transparencyports "platefund/contexts/funding-core/transparency-service/ports"
)

func projectTestRelease(t *testing.T, module transparency.Module, allocationID string, region string, releasedAt time.Time) {
	t.Helper()
	if err := module.Service.ProjectRelease(context.Background(), transparencyports.FeedProjectionInput{
		AllocationID: allocationID,
		SchoolName:   "SDN 4 Menteng",
		CatererName:  "Dapur Sehat",
		Region:       region,
		AmountMinor:  15000000,
		Currency:     "IDR",
		Portions:     500,
		DeliveryDate: "2026-09-07",
		ReleasedAt:   releasedAt,
		TxHash:       "0x" + allocationID,
		BlockHeight:  7,
	}); err != nil {
		t.Fatalf("project release %s failed: %v", allocationID, err)
	}
}

func TestTransparencyFeedNewestFirstWithCursor(t *testing.T) {
	module := transparency.NewInMemoryModule(nil)
	ctx := context.Background()
	base := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)

	projectTestRelease(t, module, "allocation-feed-1", "Jakarta", base)
	projectTestRelease(t, module, "allocation-feed-2", "Jakarta", base.Add(time.Hour))
	projectTestRelease(t, module, "allocation-feed-3", "Bandung", base.Add(2*time.Hour))

	first, err := module.Handler.FeedHandler(ctx, transparencyports.FeedFilter{Limit: 2})
	if err != nil {
		t.Fatalf("feed page one failed: %v", err)
	}
	if len(first.Items) != 2 {
		t.Fatalf("expected two items, got %d", len(first.Items))
	}
	if first.Items[0].AllocationID != "allocation-feed-3" || first.Items[1].AllocationID != "allocation-feed-2" {
		t.Fatalf("expected newest first, got %s then %s", first.Items[0].AllocationID, first.Items[1].AllocationID)
	}
	if first.NextCursor == "" {
		t.Fatalf("expected next cursor on a full page")
	}

	second, err := module.Handler.FeedHandler(ctx, transparencyports.FeedFilter{Limit: 2, Cursor: first.NextCursor})
	if err != nil {
		t.Fatalf("feed page two failed: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].AllocationID != "allocation-feed-1" {
		t.Fatalf("unexpected second page: %+v", second.Items)
	}
}

func TestTransparencyFeedRegionFilterAndReprojection(t *testing.T) {
	module := transparency.NewInMemoryModule(nil)
	ctx := context.Background()
	base := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)

	projectTestRelease(t, module, "allocation-feed-4", "Jakarta", base)
	projectTestRelease(t, module, "allocation-feed-5", "Bandung", base.Add(time.Hour))
	// Replays upsert in place instead of duplicating the entry.
	projectTestRelease(t, module, "allocation-feed-4", "Jakarta", base)

	page, err := module.Handler.FeedHandler(ctx, transparencyports.FeedFilter{Region: "Jakarta"})
	if err != nil {
		t.Fatalf("feed filter failed: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].AllocationID != "allocation-feed-4" {
		t.Fatalf("unexpected region page: %+v", page.Items)
	}
	if module.Store.Len() != 2 {
		t.Fatalf("expected two distinct entries, got %d", module.Store.Len())
	}
}
