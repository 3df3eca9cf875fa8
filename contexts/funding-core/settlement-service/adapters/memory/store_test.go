package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"platefund/contexts/funding-core/settlement-service/domain/entities"
	domainerrors "platefund/contexts/funding-core/settlement-service/domain/errors"
	"platefund/contexts/funding-core/settlement-service/ports"
)

func seedAllocation(t *testing.T, store *Store, status entities.AllocationStatus) entities.Allocation {
	t.Helper()
	allocation := entities.Allocation{
		ID:           "alloc-1",
		SchoolID:     "school-1",
		CatererID:    "caterer-1",
		DeliveryDate: "2026-09-07",
		AmountMinor:  15000000,
		Currency:     "IDR",
		Status:       status,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := store.CreateAllocation(context.Background(), allocation); err != nil {
		t.Fatalf("seed allocation: %v", err)
	}
	return allocation
}

func TestTransitionAllocationGuardRejectsWrongSource(t *testing.T) {
	store := NewStore()
	seedAllocation(t, store, entities.AllocationStatusPlanned)

	_, _, err := store.TransitionAllocation(context.Background(), "alloc-1",
		[]entities.AllocationStatus{entities.AllocationStatusLocked},
		ports.AllocationChange{To: entities.AllocationStatusReleased, At: time.Now().UTC()},
	)
	if !errors.Is(err, domainerrors.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestTransitionAllocationNoOpWhenAlreadyInTarget(t *testing.T) {
	store := NewStore()
	seedAllocation(t, store, entities.AllocationStatusLocked)

	allocation, changed, err := store.TransitionAllocation(context.Background(), "alloc-1",
		[]entities.AllocationStatus{entities.AllocationStatusPlanned, entities.AllocationStatusLocking},
		ports.AllocationChange{To: entities.AllocationStatusLocked, At: time.Now().UTC()},
	)
	if err != nil {
		t.Fatalf("no-op transition returned error: %v", err)
	}
	if changed {
		t.Fatalf("transition into current status must report changed=false")
	}
	if allocation.Version != 0 {
		t.Fatalf("no-op must not bump the version, got %d", allocation.Version)
	}
}

func TestTransitionAllocationDropsStaleBlock(t *testing.T) {
	store := NewStore()
	seedAllocation(t, store, entities.AllocationStatusPlanned)

	five := uint64(5)
	if _, changed, err := store.TransitionAllocation(context.Background(), "alloc-1",
		nil,
		ports.AllocationChange{To: entities.AllocationStatusReleased, ObservedBlock: &five, At: time.Now().UTC()},
	); err != nil || !changed {
		t.Fatalf("applying block 5: changed=%v err=%v", changed, err)
	}

	four := uint64(4)
	allocation, changed, err := store.TransitionAllocation(context.Background(), "alloc-1",
		nil,
		ports.AllocationChange{To: entities.AllocationStatusLocked, ObservedBlock: &four, At: time.Now().UTC()},
	)
	if err != nil {
		t.Fatalf("stale transition returned error: %v", err)
	}
	if changed {
		t.Fatalf("observation below last seen block must be dropped")
	}
	if allocation.Status != entities.AllocationStatusReleased {
		t.Fatalf("stale drop must keep status released, got %s", allocation.Status)
	}
}

func TestTransitionAllocationAdvancesVersionAndBlock(t *testing.T) {
	store := NewStore()
	seedAllocation(t, store, entities.AllocationStatusPlanned)

	block := uint64(12)
	allocation, changed, err := store.TransitionAllocation(context.Background(), "alloc-1",
		[]entities.AllocationStatus{entities.AllocationStatusPlanned},
		ports.AllocationChange{
			To:             entities.AllocationStatusLocked,
			LockTxHash:     "0xabc",
			ChainConfirmed: true,
			ObservedBlock:  &block,
			At:             time.Now().UTC(),
		},
	)
	if err != nil || !changed {
		t.Fatalf("transition: changed=%v err=%v", changed, err)
	}
	if allocation.Version != 1 {
		t.Fatalf("expected version 1, got %d", allocation.Version)
	}
	if allocation.LastSeenBlock != 12 {
		t.Fatalf("expected last seen block 12, got %d", allocation.LastSeenBlock)
	}
	if allocation.LockTxHash != "0xabc" || !allocation.ChainConfirmed {
		t.Fatalf("change fields not applied: %+v", allocation)
	}
	if allocation.LockedAt == nil {
		t.Fatalf("locked timestamp not set")
	}
}

func TestCreateAllocationRejectsDuplicateID(t *testing.T) {
	store := NewStore()
	allocation := seedAllocation(t, store, entities.AllocationStatusPlanned)

	if err := store.CreateAllocation(context.Background(), allocation); !errors.Is(err, domainerrors.ErrAllocationExists) {
		t.Fatalf("expected ErrAllocationExists, got %v", err)
	}
}

func TestConfirmationUniquePerDelivery(t *testing.T) {
	store := NewStore()
	confirmation := entities.DeliveryConfirmation{ID: "conf-1", DeliveryID: "delivery-1"}
	if err := store.CreateConfirmation(context.Background(), confirmation); err != nil {
		t.Fatalf("first confirmation: %v", err)
	}
	second := entities.DeliveryConfirmation{ID: "conf-2", DeliveryID: "delivery-1"}
	if err := store.CreateConfirmation(context.Background(), second); !errors.Is(err, domainerrors.ErrConfirmationExists) {
		t.Fatalf("expected ErrConfirmationExists, got %v", err)
	}
}

func TestSetPaymentEntryStatusNeverDowngrades(t *testing.T) {
	store := NewStore()
	entry := entities.PaymentLedgerEntry{AllocationID: "alloc-1", Status: entities.PaymentEntryStatusCompleted}
	if err := store.CreatePaymentEntry(context.Background(), entry); err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if err := store.SetPaymentEntryStatus(context.Background(), "alloc-1", entities.PaymentEntryStatusLocked, "ref", time.Now().UTC()); err != nil {
		t.Fatalf("downgrade attempt returned error: %v", err)
	}
	got, err := store.GetPaymentEntry(context.Background(), "alloc-1")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.Status != entities.PaymentEntryStatusCompleted {
		t.Fatalf("entry status downgraded to %s", got.Status)
	}
}

func TestSaveChainCursorIsMonotonic(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	if err := store.SaveChainCursor(ctx, "consumer", 10); err != nil {
		t.Fatalf("save cursor: %v", err)
	}
	if err := store.SaveChainCursor(ctx, "consumer", 7); err != nil {
		t.Fatalf("save lower cursor: %v", err)
	}
	cursor, err := store.LoadChainCursor(ctx, "consumer")
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if cursor != 10 {
		t.Fatalf("cursor regressed to %d", cursor)
	}
}
