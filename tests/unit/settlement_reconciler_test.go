package unit

import (
	"context"
	"testing"
	"time"

	"platefund/contexts/funding-core/settlement-service/domain/entities"
	httptransport "platefund/contexts/funding-core/settlement-service/transport/http"
	"platefund/internal/shared/events"
)

func releasedEvent(allocationID string, block uint64) events.ChainEvent {
	return events.ChainEvent{
		Kind:          events.ChainEventFundsReleased,
		AllocationRef: allocationID,
		TxHash:        "0xrelease",
		BlockHeight:   block,
		AmountMinor:   15000000,
		OccurredAtUTC: time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC),
	}
}

func lockedEvent(allocationID string, block uint64) events.ChainEvent {
	return events.ChainEvent{
		Kind:          events.ChainEventFundsLocked,
		AllocationRef: allocationID,
		TxHash:        "0xlock",
		BlockHeight:   block,
		AmountMinor:   15000000,
		OccurredAtUTC: time.Date(2026, 9, 7, 11, 0, 0, 0, time.UTC),
	}
}

func TestReconcilerDuplicateReleaseReplayIsIdempotent(t *testing.T) {
	fx := newSettlementFixture()
	ctx := context.Background()
	locked := createLockedAllocation(t, fx)
	height := fx.node.Height()

	ev := releasedEvent(locked.ID, height+1)
	if err := fx.module.Reconciler.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("first replay failed: %v", err)
	}
	if err := fx.module.Reconciler.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("second replay failed: %v", err)
	}

	allocation, err := fx.module.Store.GetAllocation(ctx, locked.ID)
	if err != nil {
		t.Fatalf("get allocation failed: %v", err)
	}
	if allocation.Status != entities.AllocationStatusReleased {
		t.Fatalf("expected released, got %s", allocation.Status)
	}
	if paymentEvents := fx.module.Store.ListPaymentEvents(locked.ID); len(paymentEvents) != 1 {
		t.Fatalf("expected one payment released event, got %d", len(paymentEvents))
	}
	if fx.module.Store.PendingOutboxCount() != 1 {
		t.Fatalf("expected one outbox row, got %d", fx.module.Store.PendingOutboxCount())
	}
	if fx.transparency.Store.Len() != 1 {
		t.Fatalf("expected one feed entry, got %d", fx.transparency.Store.Len())
	}
}

func TestReconcilerReleasedBeforeLockedConvergesToReleased(t *testing.T) {
	fx := newSettlementFixture()
	ctx := context.Background()
	locked := createLockedAllocation(t, fx)
	height := fx.node.Height()

	if err := fx.module.Reconciler.HandleEvent(ctx, releasedEvent(locked.ID, height+2)); err != nil {
		t.Fatalf("released event failed: %v", err)
	}
	// The earlier locked event arrives late and must be dropped as stale.
	if err := fx.module.Reconciler.HandleEvent(ctx, lockedEvent(locked.ID, height+1)); err != nil {
		t.Fatalf("late locked event failed: %v", err)
	}

	allocation, err := fx.module.Store.GetAllocation(ctx, locked.ID)
	if err != nil {
		t.Fatalf("get allocation failed: %v", err)
	}
	if allocation.Status != entities.AllocationStatusReleased {
		t.Fatalf("expected released after reordering, got %s", allocation.Status)
	}
	delivery, err := fx.module.Store.GetDelivery(ctx, locked.DeliveryID)
	if err != nil {
		t.Fatalf("get delivery failed: %v", err)
	}
	if delivery.Status != entities.DeliveryStatusConfirmed {
		t.Fatalf("expected confirmed delivery backstop, got %s", delivery.Status)
	}
}

func TestReconcilerCancelledEventCancelsAllocation(t *testing.T) {
	fx := newSettlementFixture()
	ctx := context.Background()
	locked := createLockedAllocation(t, fx)
	height := fx.node.Height()

	if err := fx.module.Reconciler.HandleEvent(ctx, events.ChainEvent{
		Kind:          events.ChainEventFundsCancelled,
		AllocationRef: locked.ID,
		TxHash:        "0xcancel",
		BlockHeight:   height + 1,
		Reason:        "administrative cancel",
		OccurredAtUTC: time.Date(2026, 9, 7, 13, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("cancelled event failed: %v", err)
	}

	allocation, err := fx.module.Store.GetAllocation(ctx, locked.ID)
	if err != nil {
		t.Fatalf("get allocation failed: %v", err)
	}
	if allocation.Status != entities.AllocationStatusCancelled {
		t.Fatalf("expected cancelled, got %s", allocation.Status)
	}
}

func TestReconcilerUnknownAllocationDoesNotHaltProcessing(t *testing.T) {
	fx := newSettlementFixture()
	ctx := context.Background()
	locked := createLockedAllocation(t, fx)
	height := fx.node.Height()

	if err := fx.module.Reconciler.HandleEvent(ctx, releasedEvent("allocation-unknown", height+1)); err != nil {
		t.Fatalf("unknown allocation event must not error: %v", err)
	}
	if err := fx.module.Reconciler.HandleEvent(ctx, releasedEvent(locked.ID, height+2)); err != nil {
		t.Fatalf("subsequent event failed: %v", err)
	}

	allocation, err := fx.module.Store.GetAllocation(ctx, locked.ID)
	if err != nil {
		t.Fatalf("get allocation failed: %v", err)
	}
	if allocation.Status != entities.AllocationStatusReleased {
		t.Fatalf("expected released, got %s", allocation.Status)
	}
}

func TestReconcilerResyncReplaysRetainedLog(t *testing.T) {
	fx := newSettlementFixture()
	ctx := context.Background()
	locked := createLockedAllocation(t, fx)

	if _, err := fx.module.Handler.ConfirmDeliveryHandler(ctx, "verifier-rec-1", locked.DeliveryID, httptransport.ConfirmDeliveryRequest{
		Accepted:         true,
		SchoolID:         "school-sln-1",
		PortionsReceived: 500,
		QualityRating:    5,
	}); err != nil {
		t.Fatalf("confirm delivery failed: %v", err)
	}

	report, err := fx.module.Reconciler.Resync(ctx, 0, 0)
	if err != nil {
		t.Fatalf("resync failed: %v", err)
	}
	if report.Locked != 1 || report.Released != 1 {
		t.Fatalf("unexpected resync report: %+v", report)
	}
	if fx.transparency.Store.Len() != 1 {
		t.Fatalf("resync must not duplicate feed entries, got %d", fx.transparency.Store.Len())
	}
	if fx.module.Store.PendingOutboxCount() != 1 {
		t.Fatalf("resync must not duplicate outbox rows, got %d", fx.module.Store.PendingOutboxCount())
	}
}

func TestReconcilerAdvancesCursorMonotonically(t *testing.T) {
	fx := newSettlementFixture()
	ctx := context.Background()
	locked := createLockedAllocation(t, fx)
	height := fx.node.Height()

	if err := fx.module.Reconciler.HandleEvent(ctx, releasedEvent(locked.ID, height+5)); err != nil {
		t.Fatalf("released event failed: %v", err)
	}
	if err := fx.module.Reconciler.HandleEvent(ctx, lockedEvent(locked.ID, height+2)); err != nil {
		t.Fatalf("stale event failed: %v", err)
	}

	cursor, err := fx.module.Store.LoadChainCursor(ctx, "settlement-chain-reconciler")
	if err != nil {
		t.Fatalf("load cursor failed: %v", err)
	}
	if cursor != height+5 {
		t.Fatalf("expected cursor at %d, got %d", height+5, cursor)
	}
}
