package workers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	application "platefund/contexts/funding-core/settlement-service/application"
	"platefund/contexts/funding-core/settlement-service/domain/entities"
	domainerrors "platefund/contexts/funding-core/settlement-service/domain/errors"
	"platefund/contexts/funding-core/settlement-service/ports"
	"platefund/internal/shared/events"
)

const defaultReconcilerName = "settlement-chain-reconciler"

// releaseGuard deliberately accepts any non-terminal, non-cancelled prior
// state. During catch-up a funds-released event can be processed before the
// corresponding funds-locked event has been replayed; the relaxed guard lets
// reordering still converge on released.
var releaseGuard = []entities.AllocationStatus{
	entities.AllocationStatusPlanned,
	entities.AllocationStatusLocking,
	entities.AllocationStatusLocked,
	entities.AllocationStatusReleasing,
	entities.AllocationStatusOnHold,
}

type ResyncReport struct {
	Locked    int
	Released  int
	Cancelled int
	Skipped   int
}

// ChainReconciler is the long-lived subscriber that keeps the allocation
// ledger consistent with the escrow contract's event feed. Every handler is
// idempotent through the guarded transition primitive, and one malformed or
// unresolvable event never blocks subsequent events.
type ChainReconciler struct {
	Source       ports.ChainEventSource
	Repository   ports.Repository
	Cursors      ports.CursorStore
	Feed         ports.FeedProjector
	Outbox       ports.OutboxWriter
	Clock        ports.Clock
	IDGen        ports.IDGenerator
	ConsumerName string
	Logger       *slog.Logger

	mu        sync.Mutex
	lastBlock uint64
}

func (r *ChainReconciler) Start(ctx context.Context) error {
	logger := application.ResolveLogger(r.Logger)
	name := r.consumerName()
	if r.Cursors != nil {
		cursor, err := r.Cursors.LoadChainCursor(ctx, name)
		if err != nil {
			logger.Warn("settlement reconciler cursor load failed",
				"event", "settlement_reconciler_cursor_load_failed",
				"module", "funding-core/settlement-service",
				"layer", "worker",
				"consumer", name,
				"error", err.Error(),
			)
		} else {
			r.mu.Lock()
			r.lastBlock = cursor
			r.mu.Unlock()
		}
	}

	if err := r.Source.Subscribe(ctx, func(ctx context.Context, ev events.ChainEvent) error {
		if err := r.HandleEvent(ctx, ev); err != nil {
			// Per-event isolation: the subscription keeps running.
			logger.Error("settlement reconciler event failed",
				"event", "settlement_reconciler_event_failed",
				"module", "funding-core/settlement-service",
				"layer", "worker",
				"chain_event", string(ev.Kind),
				"allocation_ref", ev.AllocationRef,
				"block_height", ev.BlockHeight,
				"error", err.Error(),
			)
		}
		return nil
	}); err != nil {
		logger.Error("settlement reconciler subscribe failed",
			"event", "settlement_reconciler_subscribe_failed",
			"module", "funding-core/settlement-service",
			"layer", "worker",
			"consumer", name,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("settlement reconciler subscribed",
		"event", "settlement_reconciler_subscribed",
		"module", "funding-core/settlement-service",
		"layer", "worker",
		"consumer", name,
		"last_block", r.LastBlock(),
	)
	return nil
}

// Resync re-scans a block range through the same idempotent handlers and
// reports per-kind counts. Repeated or overlapping scans are safe.
func (r *ChainReconciler) Resync(ctx context.Context, fromBlock uint64, toBlock uint64) (ResyncReport, error) {
	logger := application.ResolveLogger(r.Logger)
	var report ResyncReport
	err := r.Source.ReplayRange(ctx, fromBlock, toBlock, func(ctx context.Context, ev events.ChainEvent) error {
		if err := r.HandleEvent(ctx, ev); err != nil {
			report.Skipped++
			logger.Warn("settlement resync event skipped",
				"event", "settlement_resync_event_skipped",
				"module", "funding-core/settlement-service",
				"layer", "worker",
				"chain_event", string(ev.Kind),
				"allocation_ref", ev.AllocationRef,
				"error", err.Error(),
			)
			return nil
		}
		switch ev.Kind {
		case events.ChainEventFundsLocked:
			report.Locked++
		case events.ChainEventFundsReleased:
			report.Released++
		case events.ChainEventFundsCancelled:
			report.Cancelled++
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	logger.Info("settlement resync completed",
		"event", "settlement_resync_completed",
		"module", "funding-core/settlement-service",
		"layer", "worker",
		"from_block", fromBlock,
		"to_block", toBlock,
		"locked", report.Locked,
		"released", report.Released,
		"cancelled", report.Cancelled,
		"skipped", report.Skipped,
	)
	return report, nil
}

func (r *ChainReconciler) HandleEvent(ctx context.Context, ev events.ChainEvent) error {
	logger := application.ResolveLogger(r.Logger)
	var err error
	switch ev.Kind {
	case events.ChainEventFundsLocked:
		err = r.handleLocked(ctx, ev)
	case events.ChainEventFundsReleased:
		err = r.handleReleased(ctx, ev)
	case events.ChainEventFundsCancelled:
		err = r.handleCancelled(ctx, ev)
	default:
		// The decode boundary should have dropped unknown kinds already.
		logger.Warn("settlement reconciler unknown event kind",
			"event", "settlement_reconciler_unknown_kind",
			"module", "funding-core/settlement-service",
			"layer", "worker",
			"chain_event", string(ev.Kind),
		)
		return nil
	}
	if err != nil {
		return err
	}
	r.advanceCursor(ctx, ev.BlockHeight)
	return nil
}

func (r *ChainReconciler) handleLocked(ctx context.Context, ev events.ChainEvent) error {
	logger := application.ResolveLogger(r.Logger)
	block := ev.BlockHeight
	allocation, changed, err := r.Repository.TransitionAllocation(ctx, ev.AllocationRef,
		[]entities.AllocationStatus{entities.AllocationStatusPlanned, entities.AllocationStatusLocking},
		ports.AllocationChange{
			To:             entities.AllocationStatusLocked,
			LockTxHash:     ev.TxHash,
			ChainConfirmed: true,
			ObservedBlock:  &block,
			At:             r.now(),
		},
	)
	if err != nil {
		return r.classifyTransitionError(ctx, "funds_locked", ev, err)
	}
	if changed {
		if err := r.Repository.SetPaymentEntryStatus(ctx, allocation.ID, entities.PaymentEntryStatusLocked, ev.TxHash, r.now()); err != nil {
			logger.Error("settlement reconciler payment entry lock failed",
				"event", "settlement_reconciler_payment_lock_failed",
				"module", "funding-core/settlement-service",
				"layer", "worker",
				"allocation_id", allocation.ID,
				"error", err.Error(),
			)
		}
	}
	logger.Info("settlement reconciler applied funds locked",
		"event", "settlement_reconciler_funds_locked",
		"module", "funding-core/settlement-service",
		"layer", "worker",
		"allocation_id", allocation.ID,
		"tx_hash", ev.TxHash,
		"block_height", ev.BlockHeight,
		"applied", changed,
	)
	return nil
}

func (r *ChainReconciler) handleReleased(ctx context.Context, ev events.ChainEvent) error {
	logger := application.ResolveLogger(r.Logger)
	block := ev.BlockHeight
	allocation, changed, err := r.Repository.TransitionAllocation(ctx, ev.AllocationRef, releaseGuard,
		ports.AllocationChange{
			To:                 entities.AllocationStatusReleased,
			ReleaseTxHash:      ev.TxHash,
			ReleaseBlockHeight: ev.BlockHeight,
			ChainConfirmed:     true,
			ObservedBlock:      &block,
			At:                 r.now(),
		},
	)
	if err != nil {
		return r.classifyTransitionError(ctx, "funds_released", ev, err)
	}

	// Backstop duties run even when the transition was a no-op: the
	// synchronous path may have moved the status but died before finishing
	// its derived writes. All of these are idempotent.
	delivery, err := r.Repository.GetDeliveryByAllocation(ctx, allocation.ID)
	if err == nil {
		if delivery.Status != entities.DeliveryStatusConfirmed && delivery.Status != entities.DeliveryStatusCancelled {
			if err := r.Repository.UpdateDeliveryStatus(ctx, delivery.ID, entities.DeliveryStatusConfirmed, r.now()); err != nil {
				logger.Error("settlement reconciler delivery update failed",
					"event", "settlement_reconciler_delivery_update_failed",
					"module", "funding-core/settlement-service",
					"layer", "worker",
					"delivery_id", delivery.ID,
					"error", err.Error(),
				)
			}
		}
	} else if !errors.Is(err, domainerrors.ErrDeliveryNotFound) {
		logger.Error("settlement reconciler delivery lookup failed",
			"event", "settlement_reconciler_delivery_lookup_failed",
			"module", "funding-core/settlement-service",
			"layer", "worker",
			"allocation_id", allocation.ID,
			"error", err.Error(),
		)
	}
	if err := r.Repository.SetPaymentEntryStatus(ctx, allocation.ID, entities.PaymentEntryStatusCompleted, ev.TxHash, r.now()); err != nil {
		logger.Error("settlement reconciler payment entry complete failed",
			"event", "settlement_reconciler_payment_complete_failed",
			"module", "funding-core/settlement-service",
			"layer", "worker",
			"allocation_id", allocation.ID,
			"error", err.Error(),
		)
	}
	if changed {
		r.appendPaymentReleasedEvent(ctx, allocation, ev)
		r.appendReleaseOutbox(ctx, allocation, ev)
	}
	r.projectRelease(ctx, allocation, ev)

	logger.Info("settlement reconciler applied funds released",
		"event", "settlement_reconciler_funds_released",
		"module", "funding-core/settlement-service",
		"layer", "worker",
		"allocation_id", allocation.ID,
		"tx_hash", ev.TxHash,
		"block_height", ev.BlockHeight,
		"applied", changed,
	)
	return nil
}

func (r *ChainReconciler) handleCancelled(ctx context.Context, ev events.ChainEvent) error {
	logger := application.ResolveLogger(r.Logger)
	block := ev.BlockHeight
	allocation, changed, err := r.Repository.TransitionAllocation(ctx, ev.AllocationRef,
		[]entities.AllocationStatus{
			entities.AllocationStatusPlanned,
			entities.AllocationStatusLocked,
			entities.AllocationStatusOnHold,
		},
		ports.AllocationChange{
			To:             entities.AllocationStatusCancelled,
			CancelReason:   ev.Reason,
			ChainConfirmed: true,
			ObservedBlock:  &block,
			At:             r.now(),
		},
	)
	if err != nil {
		return r.classifyTransitionError(ctx, "funds_cancelled", ev, err)
	}
	if changed {
		if err := r.Repository.UpdateDeliveryStatus(ctx, allocation.DeliveryID, entities.DeliveryStatusCancelled, r.now()); err != nil {
			logger.Error("settlement reconciler delivery cancel failed",
				"event", "settlement_reconciler_delivery_cancel_failed",
				"module", "funding-core/settlement-service",
				"layer", "worker",
				"delivery_id", allocation.DeliveryID,
				"error", err.Error(),
			)
		}
	}
	logger.Info("settlement reconciler applied funds cancelled",
		"event", "settlement_reconciler_funds_cancelled",
		"module", "funding-core/settlement-service",
		"layer", "worker",
		"allocation_id", allocation.ID,
		"reason", ev.Reason,
		"applied", changed,
	)
	return nil
}

func (r *ChainReconciler) classifyTransitionError(
	ctx context.Context,
	kind string,
	ev events.ChainEvent,
	err error,
) error {
	logger := application.ResolveLogger(r.Logger)
	switch {
	case errors.Is(err, domainerrors.ErrAllocationNotFound):
		// Reconciliation mismatch: the event references an allocation this
		// ledger does not know. Logged, never fatal to the subscription.
		logger.Warn("settlement reconciler unknown allocation",
			"event", "settlement_reconciler_unknown_allocation",
			"module", "funding-core/settlement-service",
			"layer", "worker",
			"chain_event", kind,
			"allocation_ref", ev.AllocationRef,
			"block_height", ev.BlockHeight,
		)
		r.advanceCursor(ctx, ev.BlockHeight)
		return nil
	case errors.Is(err, domainerrors.ErrInvalidStateTransition):
		logger.Warn("settlement reconciler transition not applicable",
			"event", "settlement_reconciler_transition_skipped",
			"module", "funding-core/settlement-service",
			"layer", "worker",
			"chain_event", kind,
			"allocation_ref", ev.AllocationRef,
			"block_height", ev.BlockHeight,
		)
		r.advanceCursor(ctx, ev.BlockHeight)
		return nil
	default:
		return err
	}
}

func (r *ChainReconciler) appendPaymentReleasedEvent(ctx context.Context, allocation entities.Allocation, ev events.ChainEvent) {
	logger := application.ResolveLogger(r.Logger)
	eventID, err := r.IDGen.NewID(ctx)
	if err != nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"allocation_id": allocation.ID,
		"school_id":     allocation.SchoolID,
		"caterer_id":    allocation.CatererID,
		"amount_minor":  allocation.AmountMinor,
		"tx_hash":       ev.TxHash,
		"block_height":  ev.BlockHeight,
	})
	if err != nil {
		return
	}
	if err := r.Repository.AppendPaymentEvent(ctx, entities.PaymentEvent{
		ID:           eventID,
		AllocationID: allocation.ID,
		EventType:    entities.PaymentEventReleased,
		Payload:      payload,
		OccurredAt:   r.now(),
	}); err != nil {
		logger.Error("settlement reconciler payment event append failed",
			"event", "settlement_reconciler_payment_event_failed",
			"module", "funding-core/settlement-service",
			"layer", "worker",
			"allocation_id", allocation.ID,
			"error", err.Error(),
		)
	}
}

func (r *ChainReconciler) appendReleaseOutbox(ctx context.Context, allocation entities.Allocation, ev events.ChainEvent) {
	logger := application.ResolveLogger(r.Logger)
	if r.Outbox == nil {
		return
	}
	eventID, err := r.IDGen.NewID(ctx)
	if err != nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"allocation_id": allocation.ID,
		"school_id":     allocation.SchoolID,
		"caterer_id":    allocation.CatererID,
		"amount_minor":  allocation.AmountMinor,
		"tx_hash":       ev.TxHash,
	})
	if err != nil {
		return
	}
	if err := r.Outbox.AppendOutbox(ctx, events.Envelope{
		EventID:       eventID,
		EventType:     "funding.payment.released",
		SourceService: "settlement-service",
		OccurredAtUTC: r.now(),
		PartitionKey:  allocation.ID,
		SchemaVersion: 1,
		Data:          payload,
	}); err != nil {
		logger.Error("settlement reconciler outbox append failed",
			"event", "settlement_reconciler_outbox_append_failed",
			"module", "funding-core/settlement-service",
			"layer", "worker",
			"allocation_id", allocation.ID,
			"error", err.Error(),
		)
	}
}

func (r *ChainReconciler) projectRelease(ctx context.Context, allocation entities.Allocation, ev events.ChainEvent) {
	logger := application.ResolveLogger(r.Logger)
	if r.Feed == nil {
		return
	}
	if err := r.Feed.ProjectRelease(ctx, ports.FeedProjection{
		AllocationID: allocation.ID,
		SchoolName:   allocation.SchoolName,
		CatererName:  allocation.CatererName,
		Region:       allocation.Region,
		AmountMinor:  allocation.AmountMinor,
		Currency:     allocation.Currency,
		Portions:     allocation.Portions,
		DeliveryDate: allocation.DeliveryDate,
		ReleasedAt:   r.now(),
		TxHash:       ev.TxHash,
		BlockHeight:  ev.BlockHeight,
	}); err != nil {
		logger.Error("settlement reconciler feed projection failed",
			"event", "settlement_reconciler_feed_projection_failed",
			"module", "funding-core/settlement-service",
			"layer", "worker",
			"allocation_id", allocation.ID,
			"error", err.Error(),
		)
	}
}

func (r *ChainReconciler) advanceCursor(ctx context.Context, block uint64) {
	r.mu.Lock()
	if block <= r.lastBlock {
		r.mu.Unlock()
		return
	}
	r.lastBlock = block
	r.mu.Unlock()

	if r.Cursors == nil {
		return
	}
	if err := r.Cursors.SaveChainCursor(ctx, r.consumerName(), block); err != nil {
		application.ResolveLogger(r.Logger).Error("settlement reconciler cursor save failed",
			"event", "settlement_reconciler_cursor_save_failed",
			"module", "funding-core/settlement-service",
			"layer", "worker",
			"consumer", r.consumerName(),
			"block_height", block,
			"error", err.Error(),
		)
	}
}

func (r *ChainReconciler) LastBlock() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastBlock
}

func (r *ChainReconciler) consumerName() string {
	if r.ConsumerName != "" {
		return r.ConsumerName
	}
	return defaultReconcilerName
}

func (r *ChainReconciler) now() time.Time {
	if r.Clock == nil {
		return time.Now().UTC()
	}
	return r.Clock.Now().UTC()
}
