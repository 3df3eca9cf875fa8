package unit

import (
	"context"
	"errors"
	"testing"

	settlement "platefund/contexts/funding-core/settlement-service"
	"platefund/contexts/funding-core/settlement-service/domain/entities"
	domainerrors "platefund/contexts/funding-core/settlement-service/domain/errors"
	settlementports "platefund/contexts/funding-core/settlement-service/ports"
	httptransport "platefund/contexts/funding-core/settlement-service/transport/http"
	transparency "platefund/contexts/funding-core/transparency-service"
	transparencyports "platefund/contexts/funding-core/transparency-service/ports"
	"platefund/internal/platform/chain"
	"platefund/internal/platform/messaging"
)

type feedBridge struct {
	transparency transparency.Module
}

func (b feedBridge) ProjectRelease(ctx context.Context, projection settlementports.FeedProjection) error {
	return b.transparency.Service.ProjectRelease(ctx, transparencyports.FeedProjectionInput{
		AllocationID: projection.AllocationID,
		SchoolName:   projection.SchoolName,
		CatererName:  projection.CatererName,
		Region:       projection.Region,
		AmountMinor:  projection.AmountMinor,
		Currency:     projection.Currency,
		Portions:     projection.Portions,
		DeliveryDate: projection.DeliveryDate,
		ReleasedAt:   projection.ReleasedAt,
		TxHash:       projection.TxHash,
		BlockHeight:  projection.BlockHeight,
	})
}

type settlementFixture struct {
	module       settlement.Module
	transparency transparency.Module
	node         *chain.Node
	bus          *messaging.Bus
}

func newSettlementFixture() settlementFixture {
	node := chain.NewNode(nil)
	bus := messaging.NewBus(nil)
	transparencyModule := transparency.NewInMemoryModule(nil)
	module := settlement.NewInMemoryModule(
		node,
		node,
		feedBridge{transparency: transparencyModule},
		bus,
		nil,
	)
	return settlementFixture{
		module:       module,
		transparency: transparencyModule,
		node:         node,
		bus:          bus,
	}
}

func createLockedAllocation(t *testing.T, fx settlementFixture) httptransport.AllocationDTO {
	t.Helper()
	ctx := context.Background()
	created, err := fx.module.Handler.CreateAllocationHandler(ctx, httptransport.CreateAllocationRequest{
		SchoolID:     "school-sln-1",
		SchoolName:   "SDN 4 Menteng",
		CatererID:    "caterer-sln-1",
		CatererName:  "Dapur Sehat",
		Region:       "Jakarta",
		DeliveryDate: "2026-09-07",
		AmountMinor:  15000000,
		Portions:     500,
	})
	if err != nil {
		t.Fatalf("create allocation failed: %v", err)
	}
	locked, err := fx.module.Handler.LockAllocationHandler(ctx, created.ID)
	if err != nil {
		t.Fatalf("lock allocation failed: %v", err)
	}
	if locked.Status != string(entities.AllocationStatusLocked) {
		t.Fatalf("expected locked allocation, got %s", locked.Status)
	}
	if locked.LockTxHash == "" {
		t.Fatalf("expected lock tx hash")
	}
	return locked
}

func TestSettlementAcceptedDeliveryReleasesFunds(t *testing.T) {
	fx := newSettlementFixture()
	ctx := context.Background()
	locked := createLockedAllocation(t, fx)

	result, err := fx.module.Handler.ConfirmDeliveryHandler(ctx, "verifier-sln-1", locked.DeliveryID, httptransport.ConfirmDeliveryRequest{
		Accepted:         true,
		SchoolID:         "school-sln-1",
		PortionsReceived: 500,
		QualityRating:    5,
	})
	if err != nil {
		t.Fatalf("confirm delivery failed: %v", err)
	}
	if result.Status != string(entities.AllocationStatusReleased) {
		t.Fatalf("expected released status, got %s", result.Status)
	}
	if result.ReleasedAmountMinor != 15000000 {
		t.Fatalf("unexpected released amount: %d", result.ReleasedAmountMinor)
	}
	if result.TxHash == "" {
		t.Fatalf("expected release tx hash")
	}

	entry, err := fx.module.Store.GetPaymentEntry(ctx, locked.ID)
	if err != nil {
		t.Fatalf("get payment entry failed: %v", err)
	}
	if entry.Status != entities.PaymentEntryStatusCompleted {
		t.Fatalf("expected completed payment entry, got %s", entry.Status)
	}
	if fx.transparency.Store.Len() != 1 {
		t.Fatalf("expected one transparency feed entry, got %d", fx.transparency.Store.Len())
	}
	feedEntry, err := fx.transparency.Store.GetEntry(ctx, locked.ID)
	if err != nil {
		t.Fatalf("feed entry lookup failed: %v", err)
	}
	if feedEntry.AmountMinor != 15000000 || feedEntry.TxHash != result.TxHash {
		t.Fatalf("feed entry does not match release: %+v", feedEntry)
	}
	if fx.module.Store.PendingOutboxCount() != 1 {
		t.Fatalf("expected one pending outbox row, got %d", fx.module.Store.PendingOutboxCount())
	}
}

func TestSettlementRejectedDeliveryOpensIssueAndKeepsFundsLocked(t *testing.T) {
	fx := newSettlementFixture()
	ctx := context.Background()
	locked := createLockedAllocation(t, fx)

	result, err := fx.module.Handler.ConfirmDeliveryHandler(ctx, "verifier-sln-2", locked.DeliveryID, httptransport.ConfirmDeliveryRequest{
		Accepted:         false,
		SchoolID:         "school-sln-1",
		PortionsReceived: 120,
		QualityRating:    1,
		Notes:            "portions short and cold",
	})
	if err != nil {
		t.Fatalf("reject delivery failed: %v", err)
	}
	if result.Status != string(entities.AllocationStatusLocked) {
		t.Fatalf("expected allocation to stay locked, got %s", result.Status)
	}

	issues := fx.module.Store.ListIssuesByAllocation(locked.ID)
	if len(issues) != 1 {
		t.Fatalf("expected one issue, got %d", len(issues))
	}
	if issues[0].Status != entities.IssueStatusOpen {
		t.Fatalf("expected open issue, got %s", issues[0].Status)
	}
	if issues[0].AllocationID != locked.ID {
		t.Fatalf("expected issue bound to allocation %s, got %s", locked.ID, issues[0].AllocationID)
	}
	if issues[0].DeliveryID != locked.DeliveryID {
		t.Fatalf("expected issue bound to delivery %s, got %s", locked.DeliveryID, issues[0].DeliveryID)
	}
	if issues[0].Severity != entities.IssueSeverityMedium {
		t.Fatalf("expected medium severity issue, got %s", issues[0].Severity)
	}
	delivery, err := fx.module.Store.GetDelivery(ctx, locked.DeliveryID)
	if err != nil {
		t.Fatalf("get delivery failed: %v", err)
	}
	if delivery.Status != entities.DeliveryStatusRejected {
		t.Fatalf("expected rejected delivery, got %s", delivery.Status)
	}
	if fx.node.ReleaseCallCount() != 0 {
		t.Fatalf("rejection must not call escrow release, got %d calls", fx.node.ReleaseCallCount())
	}
}

func TestSettlementDuplicateConfirmationRejectedWithoutSecondRelease(t *testing.T) {
	fx := newSettlementFixture()
	ctx := context.Background()
	locked := createLockedAllocation(t, fx)

	req := httptransport.ConfirmDeliveryRequest{
		Accepted:         true,
		SchoolID:         "school-sln-1",
		PortionsReceived: 500,
		QualityRating:    4,
	}
	if _, err := fx.module.Handler.ConfirmDeliveryHandler(ctx, "verifier-sln-3", locked.DeliveryID, req); err != nil {
		t.Fatalf("first confirmation failed: %v", err)
	}
	_, err := fx.module.Handler.ConfirmDeliveryHandler(ctx, "verifier-sln-3", locked.DeliveryID, req)
	if !errors.Is(err, domainerrors.ErrConfirmationExists) {
		t.Fatalf("expected ErrConfirmationExists, got %v", err)
	}
	if fx.node.ReleaseCallCount() != 1 {
		t.Fatalf("expected exactly one release call, got %d", fx.node.ReleaseCallCount())
	}
}

func TestSettlementConfirmRejectsVerifierFromOtherSchool(t *testing.T) {
	fx := newSettlementFixture()
	ctx := context.Background()
	locked := createLockedAllocation(t, fx)

	_, err := fx.module.Handler.ConfirmDeliveryHandler(ctx, "verifier-sln-4", locked.DeliveryID, httptransport.ConfirmDeliveryRequest{
		Accepted:         true,
		SchoolID:         "school-other",
		PortionsReceived: 500,
		QualityRating:    4,
	})
	if !errors.Is(err, domainerrors.ErrUnauthorizedVerifier) {
		t.Fatalf("expected ErrUnauthorizedVerifier, got %v", err)
	}
}

func TestSettlementReleaseFailureRollsBackAndStaysRetryable(t *testing.T) {
	fx := newSettlementFixture()
	ctx := context.Background()
	locked := createLockedAllocation(t, fx)

	fx.node.SetFailNextRelease()
	req := httptransport.ConfirmDeliveryRequest{
		Accepted:         true,
		SchoolID:         "school-sln-1",
		PortionsReceived: 500,
		QualityRating:    5,
	}
	_, err := fx.module.Handler.ConfirmDeliveryHandler(ctx, "verifier-sln-5", locked.DeliveryID, req)
	if !errors.Is(err, domainerrors.ErrEscrowReleaseFailed) {
		t.Fatalf("expected ErrEscrowReleaseFailed, got %v", err)
	}

	delivery, err := fx.module.Store.GetDelivery(ctx, locked.DeliveryID)
	if err != nil {
		t.Fatalf("get delivery failed: %v", err)
	}
	if delivery.Status != entities.DeliveryStatusPending {
		t.Fatalf("expected delivery reverted to pending, got %s", delivery.Status)
	}
	if _, err := fx.module.Store.GetConfirmationByDelivery(ctx, locked.DeliveryID); !errors.Is(err, domainerrors.ErrConfirmationNotFound) {
		t.Fatalf("expected confirmation deleted, got %v", err)
	}
	allocation, err := fx.module.Store.GetAllocation(ctx, locked.ID)
	if err != nil {
		t.Fatalf("get allocation failed: %v", err)
	}
	if allocation.Status != entities.AllocationStatusLocked {
		t.Fatalf("expected allocation still locked, got %s", allocation.Status)
	}

	// Retry succeeds once the chain recovers.
	result, err := fx.module.Handler.ConfirmDeliveryHandler(ctx, "verifier-sln-5", locked.DeliveryID, req)
	if err != nil {
		t.Fatalf("retry confirmation failed: %v", err)
	}
	if result.Status != string(entities.AllocationStatusReleased) {
		t.Fatalf("expected released after retry, got %s", result.Status)
	}
}

func TestSettlementLockFailureRevertsToPlanned(t *testing.T) {
	fx := newSettlementFixture()
	ctx := context.Background()
	created, err := fx.module.Handler.CreateAllocationHandler(ctx, httptransport.CreateAllocationRequest{
		SchoolID:     "school-sln-6",
		CatererID:    "caterer-sln-6",
		DeliveryDate: "2026-09-08",
		AmountMinor:  8000000,
		Portions:     250,
	})
	if err != nil {
		t.Fatalf("create allocation failed: %v", err)
	}

	fx.node.SetFailNextLock()
	if _, err := fx.module.Handler.LockAllocationHandler(ctx, created.ID); !errors.Is(err, domainerrors.ErrEscrowLockFailed) {
		t.Fatalf("expected ErrEscrowLockFailed, got %v", err)
	}
	allocation, err := fx.module.Store.GetAllocation(ctx, created.ID)
	if err != nil {
		t.Fatalf("get allocation failed: %v", err)
	}
	if allocation.Status != entities.AllocationStatusPlanned {
		t.Fatalf("expected allocation reverted to planned, got %s", allocation.Status)
	}

	locked, err := fx.module.Handler.LockAllocationHandler(ctx, created.ID)
	if err != nil {
		t.Fatalf("lock retry failed: %v", err)
	}
	if locked.Status != string(entities.AllocationStatusLocked) {
		t.Fatalf("expected locked after retry, got %s", locked.Status)
	}
}

func TestSettlementHoldAndResumeRoundTrip(t *testing.T) {
	fx := newSettlementFixture()
	ctx := context.Background()
	locked := createLockedAllocation(t, fx)

	held, err := fx.module.Handler.HoldAllocationHandler(ctx, locked.ID, httptransport.HoldAllocationRequest{Reason: "audit in progress"})
	if err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if held.Status != string(entities.AllocationStatusOnHold) {
		t.Fatalf("expected on_hold, got %s", held.Status)
	}

	if _, err := fx.module.Handler.ConfirmDeliveryHandler(ctx, "verifier-sln-7", locked.DeliveryID, httptransport.ConfirmDeliveryRequest{
		Accepted:         true,
		SchoolID:         "school-sln-1",
		PortionsReceived: 500,
		QualityRating:    4,
	}); !errors.Is(err, domainerrors.ErrAllocationNotLocked) {
		t.Fatalf("expected ErrAllocationNotLocked while on hold, got %v", err)
	}

	resumed, err := fx.module.Handler.ResumeAllocationHandler(ctx, locked.ID)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.Status != string(entities.AllocationStatusLocked) {
		t.Fatalf("expected locked after resume, got %s", resumed.Status)
	}
}

func TestSettlementCancelReleasedAllocationRejected(t *testing.T) {
	fx := newSettlementFixture()
	ctx := context.Background()
	locked := createLockedAllocation(t, fx)

	if _, err := fx.module.Handler.ConfirmDeliveryHandler(ctx, "verifier-sln-8", locked.DeliveryID, httptransport.ConfirmDeliveryRequest{
		Accepted:         true,
		SchoolID:         "school-sln-1",
		PortionsReceived: 500,
		QualityRating:    5,
	}); err != nil {
		t.Fatalf("confirm delivery failed: %v", err)
	}

	_, err := fx.module.Handler.CancelAllocationHandler(ctx, locked.ID, httptransport.CancelAllocationRequest{Reason: "school closed"})
	if !errors.Is(err, domainerrors.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestSettlementEscrowAuditTrailRecordsLockAndRelease(t *testing.T) {
	fx := newSettlementFixture()
	ctx := context.Background()
	locked := createLockedAllocation(t, fx)

	if _, err := fx.module.Handler.ConfirmDeliveryHandler(ctx, "verifier-sln-9", locked.DeliveryID, httptransport.ConfirmDeliveryRequest{
		Accepted:         true,
		SchoolID:         "school-sln-1",
		PortionsReceived: 500,
		QualityRating:    5,
	}); err != nil {
		t.Fatalf("confirm delivery failed: %v", err)
	}

	trail, err := fx.module.Handler.EscrowAuditTrailHandler(ctx, locked.ID)
	if err != nil {
		t.Fatalf("audit trail failed: %v", err)
	}
	if len(trail.Records) != 2 {
		t.Fatalf("expected lock and release records, got %d", len(trail.Records))
	}
	if trail.Records[0].Kind != string(entities.EscrowTxKindLock) || trail.Records[1].Kind != string(entities.EscrowTxKindRelease) {
		t.Fatalf("unexpected record kinds: %s, %s", trail.Records[0].Kind, trail.Records[1].Kind)
	}
}
