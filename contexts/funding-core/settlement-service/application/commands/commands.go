package commands

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	application "platefund/contexts/funding-core/settlement-service/application"
	"platefund/contexts/funding-core/settlement-service/domain/entities"
	domainerrors "platefund/contexts/funding-core/settlement-service/domain/errors"
	"platefund/contexts/funding-core/settlement-service/ports"
	"platefund/internal/shared/events"

	"github.com/google/uuid"
)

const (
	paymentReleasedTopic = "funding.payment.released"
	minQualityRating     = 1
	maxQualityRating     = 5
)

// allocationNamespace seeds the deterministic allocation identifier. One
// (school, caterer, delivery date) triple always maps to the same UUID, which
// is what enforces the single-allocation-per-triple invariant at create time.
var allocationNamespace = uuid.MustParse("7f1f9d2e-4b61-4c8a-9a73-5c2d05e3b6a1")

func DeterministicAllocationID(schoolID string, catererID string, deliveryDate string) string {
	key := strings.TrimSpace(schoolID) + "|" + strings.TrimSpace(catererID) + "|" + strings.TrimSpace(deliveryDate)
	return uuid.NewSHA1(allocationNamespace, []byte(key)).String()
}

type CreateAllocationCommand struct {
	SchoolID     string
	SchoolName   string
	CatererID    string
	CatererName  string
	Region       string
	DeliveryDate string
	AmountMinor  int64
	Currency     string
	Portions     int
	Notes        string
}

type LockAllocationCommand struct {
	AllocationID string
}

type ConfirmDeliveryCommand struct {
	DeliveryID       string
	VerifierID       string
	VerifierSchoolID string
	Accepted         bool
	PortionsReceived int
	QualityRating    int
	Notes            string
	EvidenceURL      string
}

type ConfirmDeliveryResult struct {
	AllocationID        string
	Status              entities.AllocationStatus
	ReleasedAmountMinor int64
	TxHash              string
}

type CancelAllocationCommand struct {
	AllocationID string
	Reason       string
}

type HoldAllocationCommand struct {
	AllocationID string
	Reason       string
}

type UseCase struct {
	Repository ports.Repository
	Escrow     ports.EscrowGateway
	Feed       ports.FeedProjector
	Outbox     ports.OutboxWriter
	Clock      ports.Clock
	IDGen      ports.IDGenerator
	Logger     *slog.Logger
}

// CreateAllocation registers a budget commitment. The allocation starts in
// planned state together with its pending delivery and payment ledger entry.
func (uc UseCase) CreateAllocation(ctx context.Context, cmd CreateAllocationCommand) (entities.Allocation, error) {
	logger := application.ResolveLogger(uc.Logger)
	schoolID := strings.TrimSpace(cmd.SchoolID)
	catererID := strings.TrimSpace(cmd.CatererID)
	deliveryDate := strings.TrimSpace(cmd.DeliveryDate)
	if schoolID == "" || catererID == "" || deliveryDate == "" || cmd.AmountMinor <= 0 {
		logger.Warn("settlement create allocation invalid input",
			"event", "settlement_create_allocation_invalid_input",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"school_id", schoolID,
			"caterer_id", catererID,
			"delivery_date", deliveryDate,
			"amount_minor", cmd.AmountMinor,
		)
		return entities.Allocation{}, domainerrors.ErrInvalidAllocationInput
	}
	if _, err := time.Parse("2006-01-02", deliveryDate); err != nil {
		logger.Warn("settlement create allocation invalid delivery date",
			"event", "settlement_create_allocation_invalid_delivery_date",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"delivery_date", deliveryDate,
		)
		return entities.Allocation{}, domainerrors.ErrInvalidAllocationInput
	}

	now := uc.now()
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = "IDR"
	}
	deliveryID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return entities.Allocation{}, err
	}
	allocation := entities.Allocation{
		ID:           DeterministicAllocationID(schoolID, catererID, deliveryDate),
		SchoolID:     schoolID,
		SchoolName:   strings.TrimSpace(cmd.SchoolName),
		CatererID:    catererID,
		CatererName:  strings.TrimSpace(cmd.CatererName),
		Region:       strings.TrimSpace(cmd.Region),
		DeliveryID:   deliveryID,
		DeliveryDate: deliveryDate,
		AmountMinor:  cmd.AmountMinor,
		Currency:     currency,
		Status:       entities.AllocationStatusPlanned,
		Portions:     cmd.Portions,
		Notes:        strings.TrimSpace(cmd.Notes),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := uc.Repository.CreateAllocation(ctx, allocation); err != nil {
		logger.Warn("settlement create allocation rejected",
			"event", "settlement_create_allocation_rejected",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"allocation_id", allocation.ID,
			"school_id", schoolID,
			"caterer_id", catererID,
			"delivery_date", deliveryDate,
			"error", err.Error(),
		)
		return entities.Allocation{}, err
	}
	if err := uc.Repository.CreateDelivery(ctx, entities.Delivery{
		ID:              deliveryID,
		AllocationID:    allocation.ID,
		SchoolID:        schoolID,
		CatererID:       catererID,
		DeliveryDate:    deliveryDate,
		Status:          entities.DeliveryStatusPending,
		PortionsPlanned: cmd.Portions,
		CreatedAt:       now,
		UpdatedAt:       now,
	}); err != nil {
		return entities.Allocation{}, err
	}
	entryID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return entities.Allocation{}, err
	}
	if err := uc.Repository.CreatePaymentEntry(ctx, entities.PaymentLedgerEntry{
		ID:           entryID,
		AllocationID: allocation.ID,
		AmountMinor:  allocation.AmountMinor,
		Currency:     currency,
		Status:       entities.PaymentEntryStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return entities.Allocation{}, err
	}

	logger.Info("settlement allocation created",
		"event", "settlement_allocation_created",
		"module", "funding-core/settlement-service",
		"layer", "application",
		"allocation_id", allocation.ID,
		"delivery_id", deliveryID,
		"school_id", schoolID,
		"caterer_id", catererID,
		"amount_minor", allocation.AmountMinor,
	)
	return allocation, nil
}

// LockAllocation moves funds into escrow. The allocation passes through the
// locking state while the on-chain call is in flight; a failed call reverts
// it to planned so the lock remains retryable.
func (uc UseCase) LockAllocation(ctx context.Context, cmd LockAllocationCommand) (entities.Allocation, error) {
	logger := application.ResolveLogger(uc.Logger)
	allocationID := strings.TrimSpace(cmd.AllocationID)
	now := uc.now()

	allocation, _, err := uc.Repository.TransitionAllocation(ctx, allocationID,
		[]entities.AllocationStatus{entities.AllocationStatusPlanned},
		ports.AllocationChange{To: entities.AllocationStatusLocking, At: now},
	)
	if err != nil {
		logger.Warn("settlement lock transition rejected",
			"event", "settlement_lock_transition_rejected",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"allocation_id", allocationID,
			"error", err.Error(),
		)
		return entities.Allocation{}, err
	}

	lock, err := uc.Escrow.Lock(ctx, allocation.ID, allocation.AmountMinor)
	if err != nil {
		// Compensating rollback: the escrow call never went through, so the
		// allocation returns to planned and stays retryable.
		if _, _, revertErr := uc.Repository.TransitionAllocation(ctx, allocationID,
			[]entities.AllocationStatus{entities.AllocationStatusLocking},
			ports.AllocationChange{To: entities.AllocationStatusPlanned, At: uc.now()},
		); revertErr != nil {
			logger.Error("settlement lock rollback failed",
				"event", "settlement_lock_rollback_failed",
				"module", "funding-core/settlement-service",
				"layer", "application",
				"allocation_id", allocationID,
				"error", revertErr.Error(),
			)
		}
		uc.appendFailedEscrowRecord(ctx, allocation, entities.EscrowTxKindLock, err)
		logger.Error("settlement escrow lock call failed",
			"event", "settlement_escrow_lock_failed",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"allocation_id", allocationID,
			"amount_minor", allocation.AmountMinor,
			"error", err.Error(),
		)
		return entities.Allocation{}, domainerrors.ErrEscrowLockFailed
	}

	locked, _, err := uc.Repository.TransitionAllocation(ctx, allocationID,
		[]entities.AllocationStatus{entities.AllocationStatusPlanned, entities.AllocationStatusLocking},
		ports.AllocationChange{
			To:            entities.AllocationStatusLocked,
			LockTxHash:    lock.TxHash,
			ObservedBlock: &lock.BlockHeight,
			At:            uc.now(),
		},
	)
	if err != nil {
		// Funds are locked on chain; never roll back past this point. The
		// reconciler observes the funds-locked event and converges state.
		logger.Error("settlement lock finalize incurred reconciliation debt",
			"event", "settlement_lock_reconciliation_debt",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"allocation_id", allocationID,
			"tx_hash", lock.TxHash,
			"error", err.Error(),
		)
		return allocation, nil
	}
	uc.appendEscrowRecord(ctx, locked, entities.EscrowTxKindLock, lock.TxHash, lock.BlockHeight, "")
	if err := uc.Repository.SetPaymentEntryStatus(ctx, allocationID, entities.PaymentEntryStatusLocked, lock.TxHash, uc.now()); err != nil {
		logger.Error("settlement lock payment entry update failed",
			"event", "settlement_lock_payment_entry_failed",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"allocation_id", allocationID,
			"error", err.Error(),
		)
	}

	logger.Info("settlement allocation locked",
		"event", "settlement_allocation_locked",
		"module", "funding-core/settlement-service",
		"layer", "application",
		"allocation_id", allocationID,
		"tx_hash", lock.TxHash,
		"block_height", lock.BlockHeight,
	)
	return locked, nil
}

// ConfirmDelivery is the synchronous settlement path. Acceptance persists a
// durability checkpoint, releases escrow on chain and finalizes the
// allocation; rejection records the outcome and opens an issue while leaving
// the funds locked for administrative resolution.
func (uc UseCase) ConfirmDelivery(ctx context.Context, cmd ConfirmDeliveryCommand) (ConfirmDeliveryResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	deliveryID := strings.TrimSpace(cmd.DeliveryID)
	verifierID := strings.TrimSpace(cmd.VerifierID)
	if deliveryID == "" || verifierID == "" ||
		cmd.QualityRating < minQualityRating || cmd.QualityRating > maxQualityRating ||
		cmd.PortionsReceived < 0 {
		logger.Warn("settlement confirm delivery invalid input",
			"event", "settlement_confirm_invalid_input",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"delivery_id", deliveryID,
			"verifier_id", verifierID,
			"quality_rating", cmd.QualityRating,
			"portions_received", cmd.PortionsReceived,
		)
		return ConfirmDeliveryResult{}, domainerrors.ErrInvalidConfirmation
	}

	delivery, err := uc.Repository.GetDelivery(ctx, deliveryID)
	if err != nil {
		logger.Warn("settlement confirm delivery lookup failed",
			"event", "settlement_confirm_delivery_lookup_failed",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"delivery_id", deliveryID,
			"error", err.Error(),
		)
		return ConfirmDeliveryResult{}, err
	}
	// VerifierSchoolID is caller-asserted. There is no identity context to
	// resolve a school from the user header, so this only guards against
	// cross-school mixups, not against a hostile caller.
	if delivery.SchoolID != strings.TrimSpace(cmd.VerifierSchoolID) {
		logger.Warn("settlement confirm delivery unauthorized",
			"event", "settlement_confirm_unauthorized",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"delivery_id", deliveryID,
			"verifier_id", verifierID,
			"school_id", delivery.SchoolID,
		)
		return ConfirmDeliveryResult{}, domainerrors.ErrUnauthorizedVerifier
	}
	if _, err := uc.Repository.GetConfirmationByDelivery(ctx, deliveryID); err == nil {
		logger.Warn("settlement confirm delivery duplicate",
			"event", "settlement_confirm_duplicate",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"delivery_id", deliveryID,
		)
		return ConfirmDeliveryResult{}, domainerrors.ErrConfirmationExists
	}

	allocation, err := uc.Repository.GetAllocation(ctx, delivery.AllocationID)
	if err != nil {
		return ConfirmDeliveryResult{}, err
	}
	if allocation.Status != entities.AllocationStatusLocked {
		logger.Warn("settlement confirm allocation not locked",
			"event", "settlement_confirm_allocation_not_locked",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"delivery_id", deliveryID,
			"allocation_id", allocation.ID,
			"status", allocation.Status,
		)
		return ConfirmDeliveryResult{}, domainerrors.ErrAllocationNotLocked
	}

	if !cmd.Accepted {
		return uc.rejectDelivery(ctx, delivery, allocation, cmd)
	}
	return uc.acceptDelivery(ctx, delivery, allocation, cmd)
}

func (uc UseCase) acceptDelivery(
	ctx context.Context,
	delivery entities.Delivery,
	allocation entities.Allocation,
	cmd ConfirmDeliveryCommand,
) (ConfirmDeliveryResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.now()

	confirmationID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return ConfirmDeliveryResult{}, err
	}
	confirmation := entities.DeliveryConfirmation{
		ID:               confirmationID,
		DeliveryID:       delivery.ID,
		AllocationID:     allocation.ID,
		VerifierID:       strings.TrimSpace(cmd.VerifierID),
		Outcome:          entities.ConfirmationOutcomeApproved,
		PortionsReceived: cmd.PortionsReceived,
		QualityRating:    cmd.QualityRating,
		Notes:            strings.TrimSpace(cmd.Notes),
		EvidenceURL:      strings.TrimSpace(cmd.EvidenceURL),
		ConfirmedAt:      now,
	}
	// Durability checkpoint before the external call.
	if err := uc.Repository.CreateConfirmation(ctx, confirmation); err != nil {
		return ConfirmDeliveryResult{}, err
	}
	if err := uc.Repository.UpdateDeliveryStatus(ctx, delivery.ID, entities.DeliveryStatusConfirmed, now); err != nil {
		if delErr := uc.Repository.DeleteConfirmation(ctx, confirmationID); delErr != nil {
			logger.Error("settlement confirm checkpoint rollback failed",
				"event", "settlement_confirm_checkpoint_rollback_failed",
				"module", "funding-core/settlement-service",
				"layer", "application",
				"delivery_id", delivery.ID,
				"confirmation_id", confirmationID,
				"error", delErr.Error(),
			)
		}
		return ConfirmDeliveryResult{}, err
	}

	release, err := uc.Escrow.Release(ctx, allocation.ID)
	if err != nil {
		// Compensating rollback: revert every local write taken before the
		// on-chain call. The allocation itself never left locked, so the
		// whole confirmation is safely retryable.
		if delErr := uc.Repository.DeleteConfirmation(ctx, confirmationID); delErr != nil {
			logger.Error("settlement confirm rollback delete failed",
				"event", "settlement_confirm_rollback_delete_failed",
				"module", "funding-core/settlement-service",
				"layer", "application",
				"delivery_id", delivery.ID,
				"confirmation_id", confirmationID,
				"error", delErr.Error(),
			)
		}
		if revertErr := uc.Repository.UpdateDeliveryStatus(ctx, delivery.ID, entities.DeliveryStatusPending, uc.now()); revertErr != nil {
			logger.Error("settlement confirm rollback revert failed",
				"event", "settlement_confirm_rollback_revert_failed",
				"module", "funding-core/settlement-service",
				"layer", "application",
				"delivery_id", delivery.ID,
				"error", revertErr.Error(),
			)
		}
		uc.appendFailedEscrowRecord(ctx, allocation, entities.EscrowTxKindRelease, err)
		logger.Error("settlement escrow release call failed",
			"event", "settlement_escrow_release_failed",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"delivery_id", delivery.ID,
			"allocation_id", allocation.ID,
			"error", err.Error(),
		)
		return ConfirmDeliveryResult{}, domainerrors.ErrEscrowReleaseFailed
	}

	// Money has moved on chain. Nothing below may trigger rollback; failures
	// are logged as reconciliation debt and the reconciler converges state
	// from the funds-released event.
	released, changed, err := uc.Repository.TransitionAllocation(ctx, allocation.ID,
		[]entities.AllocationStatus{entities.AllocationStatusLocked, entities.AllocationStatusReleasing},
		ports.AllocationChange{
			To:                 entities.AllocationStatusReleased,
			ReleaseTxHash:      release.TxHash,
			ReleaseBlockHeight: release.BlockHeight,
			ObservedBlock:      &release.BlockHeight,
			At:                 uc.now(),
		},
	)
	if err != nil {
		logger.Error("settlement release finalize incurred reconciliation debt",
			"event", "settlement_release_reconciliation_debt",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"allocation_id", allocation.ID,
			"tx_hash", release.TxHash,
			"error", err.Error(),
		)
		released = allocation
		released.ReleaseTxHash = release.TxHash
	}
	uc.appendEscrowRecord(ctx, released, entities.EscrowTxKindRelease, release.TxHash, release.BlockHeight, "")
	if err := uc.Repository.SetPaymentEntryStatus(ctx, allocation.ID, entities.PaymentEntryStatusCompleted, release.TxHash, uc.now()); err != nil {
		logger.Error("settlement release payment entry update failed",
			"event", "settlement_release_payment_entry_failed",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"allocation_id", allocation.ID,
			"error", err.Error(),
		)
	}
	if changed {
		uc.appendPaymentReleasedEvent(ctx, released, release.TxHash)
		uc.appendReleaseOutbox(ctx, released, release.TxHash)
	}
	uc.projectRelease(ctx, released, release.TxHash, release.BlockHeight)

	logger.Info("settlement delivery confirmed and released",
		"event", "settlement_delivery_released",
		"module", "funding-core/settlement-service",
		"layer", "application",
		"delivery_id", delivery.ID,
		"allocation_id", allocation.ID,
		"amount_minor", allocation.AmountMinor,
		"tx_hash", release.TxHash,
		"block_height", release.BlockHeight,
	)
	return ConfirmDeliveryResult{
		AllocationID:        allocation.ID,
		Status:              entities.AllocationStatusReleased,
		ReleasedAmountMinor: allocation.AmountMinor,
		TxHash:              release.TxHash,
	}, nil
}

func (uc UseCase) rejectDelivery(
	ctx context.Context,
	delivery entities.Delivery,
	allocation entities.Allocation,
	cmd ConfirmDeliveryCommand,
) (ConfirmDeliveryResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.now()

	confirmationID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return ConfirmDeliveryResult{}, err
	}
	if err := uc.Repository.CreateConfirmation(ctx, entities.DeliveryConfirmation{
		ID:               confirmationID,
		DeliveryID:       delivery.ID,
		AllocationID:     allocation.ID,
		VerifierID:       strings.TrimSpace(cmd.VerifierID),
		Outcome:          entities.ConfirmationOutcomeRejected,
		PortionsReceived: cmd.PortionsReceived,
		QualityRating:    cmd.QualityRating,
		Notes:            strings.TrimSpace(cmd.Notes),
		EvidenceURL:      strings.TrimSpace(cmd.EvidenceURL),
		ConfirmedAt:      now,
	}); err != nil {
		return ConfirmDeliveryResult{}, err
	}
	if err := uc.Repository.UpdateDeliveryStatus(ctx, delivery.ID, entities.DeliveryStatusRejected, now); err != nil {
		return ConfirmDeliveryResult{}, err
	}
	issueID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return ConfirmDeliveryResult{}, err
	}
	if err := uc.Repository.CreateIssue(ctx, entities.Issue{
		ID:           issueID,
		DeliveryID:   delivery.ID,
		AllocationID: delivery.AllocationID,
		SchoolID:     delivery.SchoolID,
		Severity:     entities.IssueSeverityMedium,
		Reason:       strings.TrimSpace(cmd.Notes),
		Status:       entities.IssueStatusOpen,
		OpenedAt:     now,
	}); err != nil {
		return ConfirmDeliveryResult{}, err
	}

	// Rejection does not auto-cancel funds. The allocation stays locked and
	// resolution is an administrative decision.
	logger.Warn("settlement delivery rejected",
		"event", "settlement_delivery_rejected",
		"module", "funding-core/settlement-service",
		"layer", "application",
		"delivery_id", delivery.ID,
		"allocation_id", allocation.ID,
		"issue_id", issueID,
		"verifier_id", strings.TrimSpace(cmd.VerifierID),
	)
	return ConfirmDeliveryResult{
		AllocationID: allocation.ID,
		Status:       allocation.Status,
	}, nil
}

func (uc UseCase) CancelAllocation(ctx context.Context, cmd CancelAllocationCommand) (entities.Allocation, error) {
	logger := application.ResolveLogger(uc.Logger)
	allocationID := strings.TrimSpace(cmd.AllocationID)
	now := uc.now()

	allocation, changed, err := uc.Repository.TransitionAllocation(ctx, allocationID,
		[]entities.AllocationStatus{
			entities.AllocationStatusPlanned,
			entities.AllocationStatusLocked,
			entities.AllocationStatusOnHold,
		},
		ports.AllocationChange{
			To:           entities.AllocationStatusCancelled,
			CancelReason: strings.TrimSpace(cmd.Reason),
			At:           now,
		},
	)
	if err != nil {
		logger.Warn("settlement cancel rejected",
			"event", "settlement_cancel_rejected",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"allocation_id", allocationID,
			"error", err.Error(),
		)
		return entities.Allocation{}, err
	}
	if changed {
		if err := uc.Repository.UpdateDeliveryStatus(ctx, allocation.DeliveryID, entities.DeliveryStatusCancelled, now); err != nil {
			logger.Error("settlement cancel delivery update failed",
				"event", "settlement_cancel_delivery_update_failed",
				"module", "funding-core/settlement-service",
				"layer", "application",
				"allocation_id", allocationID,
				"delivery_id", allocation.DeliveryID,
				"error", err.Error(),
			)
		}
		uc.appendCancelledEvent(ctx, allocation)
	}
	logger.Info("settlement allocation cancelled",
		"event", "settlement_allocation_cancelled",
		"module", "funding-core/settlement-service",
		"layer", "application",
		"allocation_id", allocationID,
		"reason", strings.TrimSpace(cmd.Reason),
	)
	return allocation, nil
}

func (uc UseCase) HoldAllocation(ctx context.Context, cmd HoldAllocationCommand) (entities.Allocation, error) {
	allocation, _, err := uc.Repository.TransitionAllocation(ctx, strings.TrimSpace(cmd.AllocationID),
		[]entities.AllocationStatus{entities.AllocationStatusLocked},
		ports.AllocationChange{
			To:           entities.AllocationStatusOnHold,
			CancelReason: strings.TrimSpace(cmd.Reason),
			At:           uc.now(),
		},
	)
	if err != nil {
		return entities.Allocation{}, err
	}
	application.ResolveLogger(uc.Logger).Info("settlement allocation put on hold",
		"event", "settlement_allocation_on_hold",
		"module", "funding-core/settlement-service",
		"layer", "application",
		"allocation_id", allocation.ID,
		"reason", strings.TrimSpace(cmd.Reason),
	)
	return allocation, nil
}

func (uc UseCase) ResumeAllocation(ctx context.Context, allocationID string) (entities.Allocation, error) {
	allocation, _, err := uc.Repository.TransitionAllocation(ctx, strings.TrimSpace(allocationID),
		[]entities.AllocationStatus{entities.AllocationStatusOnHold},
		ports.AllocationChange{To: entities.AllocationStatusLocked, At: uc.now()},
	)
	if err != nil {
		return entities.Allocation{}, err
	}
	application.ResolveLogger(uc.Logger).Info("settlement allocation resumed",
		"event", "settlement_allocation_resumed",
		"module", "funding-core/settlement-service",
		"layer", "application",
		"allocation_id", allocation.ID,
	)
	return allocation, nil
}

func (uc UseCase) appendEscrowRecord(
	ctx context.Context,
	allocation entities.Allocation,
	kind entities.EscrowTxKind,
	txHash string,
	blockHeight uint64,
	errorDetail string,
) {
	logger := application.ResolveLogger(uc.Logger)
	recordID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		logger.Error("settlement escrow record id generation failed",
			"event", "settlement_escrow_record_id_failed",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"allocation_id", allocation.ID,
			"error", err.Error(),
		)
		return
	}
	if err := uc.Repository.AppendEscrowRecord(ctx, entities.EscrowTransactionRecord{
		ID:           recordID,
		AllocationID: allocation.ID,
		Kind:         kind,
		AmountMinor:  allocation.AmountMinor,
		TxHash:       txHash,
		BlockHeight:  blockHeight,
		FromAddress:  "escrow:" + allocation.SchoolID,
		ToAddress:    "caterer:" + allocation.CatererID,
		ChainStatus:  "confirmed",
		ErrorDetail:  errorDetail,
		CreatedAt:    uc.now(),
	}); err != nil {
		logger.Error("settlement escrow record append failed",
			"event", "settlement_escrow_record_append_failed",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"allocation_id", allocation.ID,
			"tx_kind", string(kind),
			"error", err.Error(),
		)
	}
}

func (uc UseCase) appendFailedEscrowRecord(
	ctx context.Context,
	allocation entities.Allocation,
	attempted entities.EscrowTxKind,
	cause error,
) {
	logger := application.ResolveLogger(uc.Logger)
	recordID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return
	}
	if err := uc.Repository.AppendEscrowRecord(ctx, entities.EscrowTransactionRecord{
		ID:           recordID,
		AllocationID: allocation.ID,
		Kind:         entities.EscrowTxKindFailed,
		AmountMinor:  allocation.AmountMinor,
		FromAddress:  "escrow:" + allocation.SchoolID,
		ToAddress:    "caterer:" + allocation.CatererID,
		ChainStatus:  "failed",
		ErrorDetail:  string(attempted) + ": " + cause.Error(),
		CreatedAt:    uc.now(),
	}); err != nil {
		logger.Error("settlement failed escrow record append failed",
			"event", "settlement_failed_escrow_record_append_failed",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"allocation_id", allocation.ID,
			"error", err.Error(),
		)
	}
}

func (uc UseCase) appendPaymentReleasedEvent(ctx context.Context, allocation entities.Allocation, txHash string) {
	logger := application.ResolveLogger(uc.Logger)
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"allocation_id": allocation.ID,
		"school_id":     allocation.SchoolID,
		"caterer_id":    allocation.CatererID,
		"amount_minor":  allocation.AmountMinor,
		"tx_hash":       txHash,
	})
	if err != nil {
		return
	}
	if err := uc.Repository.AppendPaymentEvent(ctx, entities.PaymentEvent{
		ID:           eventID,
		AllocationID: allocation.ID,
		EventType:    entities.PaymentEventReleased,
		Payload:      payload,
		OccurredAt:   uc.now(),
	}); err != nil {
		logger.Error("settlement payment event append failed",
			"event", "settlement_payment_event_append_failed",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"allocation_id", allocation.ID,
			"error", err.Error(),
		)
	}
}

func (uc UseCase) appendCancelledEvent(ctx context.Context, allocation entities.Allocation) {
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"allocation_id": allocation.ID,
		"reason":        allocation.CancelReason,
	})
	if err != nil {
		return
	}
	if err := uc.Repository.AppendPaymentEvent(ctx, entities.PaymentEvent{
		ID:           eventID,
		AllocationID: allocation.ID,
		EventType:    entities.PaymentEventAllocationCancelled,
		Payload:      payload,
		OccurredAt:   uc.now(),
	}); err != nil {
		application.ResolveLogger(uc.Logger).Error("settlement cancel event append failed",
			"event", "settlement_cancel_event_append_failed",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"allocation_id", allocation.ID,
			"error", err.Error(),
		)
	}
}

func (uc UseCase) appendReleaseOutbox(ctx context.Context, allocation entities.Allocation, txHash string) {
	logger := application.ResolveLogger(uc.Logger)
	if uc.Outbox == nil {
		return
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"allocation_id": allocation.ID,
		"school_id":     allocation.SchoolID,
		"caterer_id":    allocation.CatererID,
		"amount_minor":  allocation.AmountMinor,
		"tx_hash":       txHash,
	})
	if err != nil {
		return
	}
	if err := uc.Outbox.AppendOutbox(ctx, events.Envelope{
		EventID:       eventID,
		EventType:     paymentReleasedTopic,
		SourceService: "settlement-service",
		OccurredAtUTC: uc.now(),
		PartitionKey:  allocation.ID,
		SchemaVersion: 1,
		Data:          payload,
	}); err != nil {
		logger.Error("settlement release outbox append failed",
			"event", "settlement_release_outbox_append_failed",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"allocation_id", allocation.ID,
			"error", err.Error(),
		)
	}
}

func (uc UseCase) projectRelease(
	ctx context.Context,
	allocation entities.Allocation,
	txHash string,
	blockHeight uint64,
) {
	logger := application.ResolveLogger(uc.Logger)
	if uc.Feed == nil {
		return
	}
	if err := uc.Feed.ProjectRelease(ctx, ports.FeedProjection{
		AllocationID: allocation.ID,
		SchoolName:   allocation.SchoolName,
		CatererName:  allocation.CatererName,
		Region:       allocation.Region,
		AmountMinor:  allocation.AmountMinor,
		Currency:     allocation.Currency,
		Portions:     allocation.Portions,
		DeliveryDate: allocation.DeliveryDate,
		ReleasedAt:   uc.now(),
		TxHash:       txHash,
		BlockHeight:  blockHeight,
	}); err != nil {
		// The feed is an eventually consistent read model, not the ledger of
		// record. Projection failure is logged, never fatal.
		logger.Error("settlement feed projection failed",
			"event", "settlement_feed_projection_failed",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"allocation_id", allocation.ID,
			"error", err.Error(),
		)
	}
}

func (uc UseCase) now() time.Time {
	if uc.Clock == nil {
		return time.Now().UTC()
	}
	return uc.Clock.Now().UTC()
}
