package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"platefund/contexts/funding-core/settlement-service/domain/entities"
	domainerrors "platefund/contexts/funding-core/settlement-service/domain/errors"
	"platefund/contexts/funding-core/settlement-service/ports"
	"platefund/internal/shared/events"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"

	transitionAttempts = 3
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) CreateAllocation(ctx context.Context, allocation entities.Allocation) error {
	row := allocationModelFromEntity(allocation)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			r.logWarn("settlement_repo_create_allocation_unique_conflict",
				"allocation_id", row.ID,
				"school_id", row.SchoolID,
				"caterer_id", row.CatererID,
				"delivery_date", row.DeliveryDate,
			)
			return domainerrors.ErrAllocationExists
		}
		return r.logError("settlement_repo_create_allocation_failed", err,
			"allocation_id", row.ID,
		)
	}
	return nil
}

func (r *Repository) GetAllocation(ctx context.Context, allocationID string) (entities.Allocation, error) {
	var row allocationModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(allocationID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Allocation{}, domainerrors.ErrAllocationNotFound
		}
		return entities.Allocation{}, r.logError("settlement_repo_get_allocation_failed", err,
			"allocation_id", strings.TrimSpace(allocationID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) ListAllocationsBySchool(ctx context.Context, schoolID string) ([]entities.Allocation, error) {
	var rows []allocationModel
	if err := r.db.WithContext(ctx).
		Where("school_id = ?", strings.TrimSpace(schoolID)).
		Order("delivery_date ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("settlement_repo_list_allocations_failed", err,
			"school_id", strings.TrimSpace(schoolID),
		)
	}
	allocations := make([]entities.Allocation, 0, len(rows))
	for _, row := range rows {
		allocations = append(allocations, row.toEntity())
	}
	return allocations, nil
}

// TransitionAllocation performs the guarded status write with optimistic
// concurrency on the version column. Concurrent writers (the HTTP path and
// the chain reconciler) both come through here, so a lost update is retried
// against the fresh row instead of reported as a conflict.
func (r *Repository) TransitionAllocation(
	ctx context.Context,
	allocationID string,
	from []entities.AllocationStatus,
	change ports.AllocationChange,
) (entities.Allocation, bool, error) {
	id := strings.TrimSpace(allocationID)
	for attempt := 0; attempt < transitionAttempts; attempt++ {
		current, err := r.GetAllocation(ctx, id)
		if err != nil {
			return entities.Allocation{}, false, err
		}
		if change.ObservedBlock != nil && *change.ObservedBlock < current.LastSeenBlock {
			return current, false, nil
		}
		if current.Status == change.To {
			if change.ObservedBlock != nil && *change.ObservedBlock > current.LastSeenBlock {
				r.db.WithContext(ctx).
					Model(&allocationModel{}).
					Where("id = ? AND version = ?", id, current.Version).
					Update("last_seen_block", *change.ObservedBlock)
			}
			return current, false, nil
		}
		if len(from) > 0 && !statusIn(current.Status, from) {
			r.logWarn("settlement_repo_transition_guard_rejected",
				"allocation_id", id,
				"from_status", string(current.Status),
				"to_status", string(change.To),
			)
			return current, false, domainerrors.ErrInvalidStateTransition
		}

		next := applyChange(current, change)
		updates := allocationUpdatesFromEntity(next)
		result := r.db.WithContext(ctx).
			Model(&allocationModel{}).
			Where("id = ? AND version = ?", id, current.Version).
			Updates(updates)
		if result.Error != nil {
			return entities.Allocation{}, false, r.logError("settlement_repo_transition_failed", result.Error,
				"allocation_id", id,
				"to_status", string(change.To),
			)
		}
		if result.RowsAffected > 0 {
			return next, true, nil
		}
		// Version moved under us; re-read and re-evaluate the guard.
	}
	r.logWarn("settlement_repo_transition_contention",
		"allocation_id", id,
		"to_status", string(change.To),
	)
	return entities.Allocation{}, false, domainerrors.ErrInvalidStateTransition
}

func applyChange(current entities.Allocation, change ports.AllocationChange) entities.Allocation {
	next := current
	next.Status = change.To
	next.Version = current.Version + 1
	next.UpdatedAt = change.At.UTC()
	if change.ObservedBlock != nil && *change.ObservedBlock > next.LastSeenBlock {
		next.LastSeenBlock = *change.ObservedBlock
	}
	if change.LockTxHash != "" {
		next.LockTxHash = change.LockTxHash
	}
	if change.ReleaseTxHash != "" {
		next.ReleaseTxHash = change.ReleaseTxHash
	}
	if change.ReleaseBlockHeight > 0 {
		next.ReleaseBlockHeight = change.ReleaseBlockHeight
	}
	if change.ChainConfirmed {
		next.ChainConfirmed = true
	}
	if change.CancelReason != "" {
		next.CancelReason = change.CancelReason
	}
	switch change.To {
	case entities.AllocationStatusLocked:
		if next.LockedAt == nil {
			at := change.At.UTC()
			next.LockedAt = &at
		}
	case entities.AllocationStatusReleased:
		if next.ReleasedAt == nil {
			at := change.At.UTC()
			next.ReleasedAt = &at
		}
	}
	return next
}

func statusIn(status entities.AllocationStatus, allowed []entities.AllocationStatus) bool {
	for _, candidate := range allowed {
		if status == candidate {
			return true
		}
	}
	return false
}

func (r *Repository) CreateDelivery(ctx context.Context, delivery entities.Delivery) error {
	row := deliveryModelFromEntity(delivery)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return r.logError("settlement_repo_create_delivery_failed", err,
			"delivery_id", row.ID,
			"allocation_id", row.AllocationID,
		)
	}
	return nil
}

func (r *Repository) GetDelivery(ctx context.Context, deliveryID string) (entities.Delivery, error) {
	var row deliveryModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(deliveryID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Delivery{}, domainerrors.ErrDeliveryNotFound
		}
		return entities.Delivery{}, r.logError("settlement_repo_get_delivery_failed", err,
			"delivery_id", strings.TrimSpace(deliveryID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) GetDeliveryByAllocation(ctx context.Context, allocationID string) (entities.Delivery, error) {
	var row deliveryModel
	err := r.db.WithContext(ctx).
		Where("allocation_id = ?", strings.TrimSpace(allocationID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Delivery{}, domainerrors.ErrDeliveryNotFound
		}
		return entities.Delivery{}, r.logError("settlement_repo_get_delivery_by_allocation_failed", err,
			"allocation_id", strings.TrimSpace(allocationID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) UpdateDeliveryStatus(ctx context.Context, deliveryID string, status entities.DeliveryStatus, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&deliveryModel{}).
		Where("id = ?", strings.TrimSpace(deliveryID)).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": at.UTC(),
		})
	if result.Error != nil {
		return r.logError("settlement_repo_update_delivery_status_failed", result.Error,
			"delivery_id", strings.TrimSpace(deliveryID),
			"status", string(status),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrDeliveryNotFound
	}
	return nil
}

func (r *Repository) CreateConfirmation(ctx context.Context, confirmation entities.DeliveryConfirmation) error {
	row := confirmationModelFromEntity(confirmation)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			r.logWarn("settlement_repo_create_confirmation_unique_conflict",
				"delivery_id", row.DeliveryID,
				"verifier_id", row.VerifierID,
			)
			return domainerrors.ErrConfirmationExists
		}
		return r.logError("settlement_repo_create_confirmation_failed", err,
			"confirmation_id", row.ID,
			"delivery_id", row.DeliveryID,
		)
	}
	return nil
}

func (r *Repository) GetConfirmationByDelivery(ctx context.Context, deliveryID string) (entities.DeliveryConfirmation, error) {
	var row confirmationModel
	err := r.db.WithContext(ctx).
		Where("delivery_id = ?", strings.TrimSpace(deliveryID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.DeliveryConfirmation{}, domainerrors.ErrConfirmationNotFound
		}
		return entities.DeliveryConfirmation{}, r.logError("settlement_repo_get_confirmation_failed", err,
			"delivery_id", strings.TrimSpace(deliveryID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) DeleteConfirmation(ctx context.Context, confirmationID string) error {
	result := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(confirmationID)).
		Delete(&confirmationModel{})
	if result.Error != nil {
		return r.logError("settlement_repo_delete_confirmation_failed", result.Error,
			"confirmation_id", strings.TrimSpace(confirmationID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConfirmationNotFound
	}
	return nil
}

func (r *Repository) AppendEscrowRecord(ctx context.Context, record entities.EscrowTransactionRecord) error {
	row := escrowRecordModelFromEntity(record)
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return r.logError("settlement_repo_append_escrow_record_failed", err,
			"allocation_id", row.AllocationID,
			"kind", row.Kind,
		)
	}
	return nil
}

func (r *Repository) ListEscrowRecords(ctx context.Context, allocationID string) ([]entities.EscrowTransactionRecord, error) {
	var rows []escrowRecordModel
	if err := r.db.WithContext(ctx).
		Where("allocation_id = ?", strings.TrimSpace(allocationID)).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("settlement_repo_list_escrow_records_failed", err,
			"allocation_id", strings.TrimSpace(allocationID),
		)
	}
	records := make([]entities.EscrowTransactionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toEntity())
	}
	return records, nil
}

func (r *Repository) CreatePaymentEntry(ctx context.Context, entry entities.PaymentLedgerEntry) error {
	row := paymentEntryModelFromEntity(entry)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return r.logError("settlement_repo_create_payment_entry_failed", err,
			"allocation_id", row.AllocationID,
		)
	}
	return nil
}

func (r *Repository) GetPaymentEntry(ctx context.Context, allocationID string) (entities.PaymentLedgerEntry, error) {
	var row paymentEntryModel
	err := r.db.WithContext(ctx).
		Where("allocation_id = ?", strings.TrimSpace(allocationID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.PaymentLedgerEntry{}, domainerrors.ErrAllocationNotFound
		}
		return entities.PaymentLedgerEntry{}, r.logError("settlement_repo_get_payment_entry_failed", err,
			"allocation_id", strings.TrimSpace(allocationID),
		)
	}
	return row.toEntity(), nil
}

// SetPaymentEntryStatus moves a ledger entry forward only. The rank guard
// runs against the row read in the same call; a concurrent forward move makes
// the conditional update affect zero rows, which is the desired outcome.
func (r *Repository) SetPaymentEntryStatus(ctx context.Context, allocationID string, status entities.PaymentEntryStatus, gatewayRef string, at time.Time) error {
	current, err := r.GetPaymentEntry(ctx, allocationID)
	if err != nil {
		return err
	}
	if status.Rank() < current.Status.Rank() {
		return nil
	}
	updates := map[string]any{
		"status":     string(status),
		"updated_at": at.UTC(),
	}
	if strings.TrimSpace(gatewayRef) != "" {
		updates["gateway_ref"] = strings.TrimSpace(gatewayRef)
	}
	result := r.db.WithContext(ctx).
		Model(&paymentEntryModel{}).
		Where("allocation_id = ? AND status = ?", strings.TrimSpace(allocationID), string(current.Status)).
		Updates(updates)
	if result.Error != nil {
		return r.logError("settlement_repo_set_payment_entry_status_failed", result.Error,
			"allocation_id", strings.TrimSpace(allocationID),
			"status", string(status),
		)
	}
	return nil
}

func (r *Repository) AppendPaymentEvent(ctx context.Context, event entities.PaymentEvent) error {
	row := paymentEventModel{
		ID:           strings.TrimSpace(event.ID),
		AllocationID: strings.TrimSpace(event.AllocationID),
		EventType:    strings.TrimSpace(event.EventType),
		Payload:      append([]byte(nil), event.Payload...),
		OccurredAt:   event.OccurredAt.UTC(),
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return r.logError("settlement_repo_append_payment_event_failed", err,
			"allocation_id", row.AllocationID,
			"event_type", row.EventType,
		)
	}
	return nil
}

func (r *Repository) CreateIssue(ctx context.Context, issue entities.Issue) error {
	row := issueModel{
		ID:           strings.TrimSpace(issue.ID),
		DeliveryID:   strings.TrimSpace(issue.DeliveryID),
		AllocationID: strings.TrimSpace(issue.AllocationID),
		SchoolID:     strings.TrimSpace(issue.SchoolID),
		Severity:     string(issue.Severity),
		Reason:       strings.TrimSpace(issue.Reason),
		Status:       issue.Status,
		OpenedAt:     issue.OpenedAt.UTC(),
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.Status == "" {
		row.Status = entities.IssueStatusOpen
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return r.logError("settlement_repo_create_issue_failed", err,
			"delivery_id", row.DeliveryID,
		)
	}
	return nil
}

func (r *Repository) LoadChainCursor(ctx context.Context, consumer string) (uint64, error) {
	var row chainCursorModel
	err := r.db.WithContext(ctx).
		Where("consumer = ?", strings.TrimSpace(consumer)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, r.logError("settlement_repo_load_chain_cursor_failed", err,
			"consumer", strings.TrimSpace(consumer),
		)
	}
	return row.LastBlock, nil
}

func (r *Repository) SaveChainCursor(ctx context.Context, consumer string, block uint64) error {
	row := chainCursorModel{
		Consumer:  strings.TrimSpace(consumer),
		LastBlock: block,
		UpdatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "consumer"}},
		DoUpdates: clause.Assignments(map[string]any{
			"last_block": gorm.Expr("GREATEST(funding_chain_cursors.last_block, ?)", block),
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error; err != nil {
		return r.logError("settlement_repo_save_chain_cursor_failed", err,
			"consumer", row.Consumer,
			"block_height", block,
		)
	}
	return nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope events.Envelope) error {
	payload, err := envelope.Marshal()
	if err != nil {
		return r.logError("settlement_repo_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
			"event_type", strings.TrimSpace(envelope.EventType),
		)
	}
	row := settlementOutboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		Topic:        strings.TrimSpace(envelope.EventType),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAtUTC.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		return r.logError("settlement_repo_append_outbox_insert_failed", err,
			"outbox_id", row.OutboxID,
			"event_type", row.EventType,
		)
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []settlementOutboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("settlement_repo_list_pending_outbox_failed", err,
			"limit", limit,
		)
	}
	messages := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			Topic:        row.Topic,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return messages, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&settlementOutboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("settlement_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		r.logWarn("settlement_repo_mark_outbox_published_not_found",
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+7)
	fields = append(fields,
		"event", event,
		"module", "funding-core/settlement-service",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("settlement repository operation failed", fields...)
	return err
}

func (r *Repository) logWarn(event string, attrs ...any) {
	fields := make([]any, 0, len(attrs)+5)
	fields = append(fields,
		"event", event,
		"module", "funding-core/settlement-service",
		"layer", "adapter",
	)
	fields = append(fields, attrs...)
	r.logger.Warn("settlement repository warning", fields...)
}

type allocationModel struct {
	ID                 string     `gorm:"column:id;primaryKey"`
	SchoolID           string     `gorm:"column:school_id"`
	SchoolName         string     `gorm:"column:school_name"`
	CatererID          string     `gorm:"column:caterer_id"`
	CatererName        string     `gorm:"column:caterer_name"`
	Region             string     `gorm:"column:region"`
	DeliveryID         string     `gorm:"column:delivery_id"`
	DeliveryDate       string     `gorm:"column:delivery_date"`
	AmountMinor        int64      `gorm:"column:amount_minor"`
	Currency           string     `gorm:"column:currency"`
	Status             string     `gorm:"column:status"`
	LockTxHash         string     `gorm:"column:lock_tx_hash"`
	ReleaseTxHash      string     `gorm:"column:release_tx_hash"`
	ReleaseBlockHeight uint64     `gorm:"column:release_block_height"`
	ChainConfirmed     bool       `gorm:"column:chain_confirmed"`
	CancelReason       string     `gorm:"column:cancel_reason"`
	Portions           int        `gorm:"column:portions"`
	Notes              string     `gorm:"column:notes"`
	Version            int64      `gorm:"column:version"`
	LastSeenBlock      uint64     `gorm:"column:last_seen_block"`
	LockedAt           *time.Time `gorm:"column:locked_at"`
	ReleasedAt         *time.Time `gorm:"column:released_at"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at"`
}

func (allocationModel) TableName() string {
	return "funding_allocations"
}

func allocationModelFromEntity(allocation entities.Allocation) allocationModel {
	return allocationModel{
		ID:                 strings.TrimSpace(allocation.ID),
		SchoolID:           strings.TrimSpace(allocation.SchoolID),
		SchoolName:         strings.TrimSpace(allocation.SchoolName),
		CatererID:          strings.TrimSpace(allocation.CatererID),
		CatererName:        strings.TrimSpace(allocation.CatererName),
		Region:             strings.TrimSpace(allocation.Region),
		DeliveryID:         strings.TrimSpace(allocation.DeliveryID),
		DeliveryDate:       strings.TrimSpace(allocation.DeliveryDate),
		AmountMinor:        allocation.AmountMinor,
		Currency:           strings.TrimSpace(allocation.Currency),
		Status:             string(allocation.Status),
		LockTxHash:         strings.TrimSpace(allocation.LockTxHash),
		ReleaseTxHash:      strings.TrimSpace(allocation.ReleaseTxHash),
		ReleaseBlockHeight: allocation.ReleaseBlockHeight,
		ChainConfirmed:     allocation.ChainConfirmed,
		CancelReason:       strings.TrimSpace(allocation.CancelReason),
		Portions:           allocation.Portions,
		Notes:              strings.TrimSpace(allocation.Notes),
		Version:            allocation.Version,
		LastSeenBlock:      allocation.LastSeenBlock,
		LockedAt:           normalizeOptionalTime(allocation.LockedAt),
		ReleasedAt:         normalizeOptionalTime(allocation.ReleasedAt),
		CreatedAt:          allocation.CreatedAt.UTC(),
		UpdatedAt:          allocation.UpdatedAt.UTC(),
	}
}

func allocationUpdatesFromEntity(allocation entities.Allocation) map[string]any {
	row := allocationModelFromEntity(allocation)
	return map[string]any{
		"status":               row.Status,
		"lock_tx_hash":         row.LockTxHash,
		"release_tx_hash":      row.ReleaseTxHash,
		"release_block_height": row.ReleaseBlockHeight,
		"chain_confirmed":      row.ChainConfirmed,
		"cancel_reason":        row.CancelReason,
		"version":              row.Version,
		"last_seen_block":      row.LastSeenBlock,
		"locked_at":            row.LockedAt,
		"released_at":          row.ReleasedAt,
		"updated_at":           row.UpdatedAt,
	}
}

func (m allocationModel) toEntity() entities.Allocation {
	return entities.Allocation{
		ID:                 m.ID,
		SchoolID:           m.SchoolID,
		SchoolName:         m.SchoolName,
		CatererID:          m.CatererID,
		CatererName:        m.CatererName,
		Region:             m.Region,
		DeliveryID:         m.DeliveryID,
		DeliveryDate:       m.DeliveryDate,
		AmountMinor:        m.AmountMinor,
		Currency:           m.Currency,
		Status:             entities.AllocationStatus(m.Status),
		LockTxHash:         m.LockTxHash,
		ReleaseTxHash:      m.ReleaseTxHash,
		ReleaseBlockHeight: m.ReleaseBlockHeight,
		ChainConfirmed:     m.ChainConfirmed,
		CancelReason:       m.CancelReason,
		Portions:           m.Portions,
		Notes:              m.Notes,
		Version:            m.Version,
		LastSeenBlock:      m.LastSeenBlock,
		LockedAt:           normalizeOptionalTime(m.LockedAt),
		ReleasedAt:         normalizeOptionalTime(m.ReleasedAt),
		CreatedAt:          m.CreatedAt.UTC(),
		UpdatedAt:          m.UpdatedAt.UTC(),
	}
}

type deliveryModel struct {
	ID              string    `gorm:"column:id;primaryKey"`
	AllocationID    string    `gorm:"column:allocation_id"`
	SchoolID        string    `gorm:"column:school_id"`
	CatererID       string    `gorm:"column:caterer_id"`
	DeliveryDate    string    `gorm:"column:delivery_date"`
	Status          string    `gorm:"column:status"`
	PortionsPlanned int       `gorm:"column:portions_planned"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (deliveryModel) TableName() string {
	return "funding_deliveries"
}

func deliveryModelFromEntity(delivery entities.Delivery) deliveryModel {
	return deliveryModel{
		ID:              strings.TrimSpace(delivery.ID),
		AllocationID:    strings.TrimSpace(delivery.AllocationID),
		SchoolID:        strings.TrimSpace(delivery.SchoolID),
		CatererID:       strings.TrimSpace(delivery.CatererID),
		DeliveryDate:    strings.TrimSpace(delivery.DeliveryDate),
		Status:          string(delivery.Status),
		PortionsPlanned: delivery.PortionsPlanned,
		CreatedAt:       delivery.CreatedAt.UTC(),
		UpdatedAt:       delivery.UpdatedAt.UTC(),
	}
}

func (m deliveryModel) toEntity() entities.Delivery {
	return entities.Delivery{
		ID:              m.ID,
		AllocationID:    m.AllocationID,
		SchoolID:        m.SchoolID,
		CatererID:       m.CatererID,
		DeliveryDate:    m.DeliveryDate,
		Status:          entities.DeliveryStatus(m.Status),
		PortionsPlanned: m.PortionsPlanned,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
}

type confirmationModel struct {
	ID               string    `gorm:"column:id;primaryKey"`
	DeliveryID       string    `gorm:"column:delivery_id;uniqueIndex"`
	AllocationID     string    `gorm:"column:allocation_id"`
	VerifierID       string    `gorm:"column:verifier_id"`
	Outcome          string    `gorm:"column:outcome"`
	PortionsReceived int       `gorm:"column:portions_received"`
	QualityRating    int       `gorm:"column:quality_rating"`
	Notes            string    `gorm:"column:notes"`
	EvidenceURL      string    `gorm:"column:evidence_url"`
	ConfirmedAt      time.Time `gorm:"column:confirmed_at"`
}

func (confirmationModel) TableName() string {
	return "funding_delivery_confirmations"
}

func confirmationModelFromEntity(confirmation entities.DeliveryConfirmation) confirmationModel {
	return confirmationModel{
		ID:               strings.TrimSpace(confirmation.ID),
		DeliveryID:       strings.TrimSpace(confirmation.DeliveryID),
		AllocationID:     strings.TrimSpace(confirmation.AllocationID),
		VerifierID:       strings.TrimSpace(confirmation.VerifierID),
		Outcome:          string(confirmation.Outcome),
		PortionsReceived: confirmation.PortionsReceived,
		QualityRating:    confirmation.QualityRating,
		Notes:            strings.TrimSpace(confirmation.Notes),
		EvidenceURL:      strings.TrimSpace(confirmation.EvidenceURL),
		ConfirmedAt:      confirmation.ConfirmedAt.UTC(),
	}
}

func (m confirmationModel) toEntity() entities.DeliveryConfirmation {
	return entities.DeliveryConfirmation{
		ID:               m.ID,
		DeliveryID:       m.DeliveryID,
		AllocationID:     m.AllocationID,
		VerifierID:       m.VerifierID,
		Outcome:          entities.ConfirmationOutcome(m.Outcome),
		PortionsReceived: m.PortionsReceived,
		QualityRating:    m.QualityRating,
		Notes:            m.Notes,
		EvidenceURL:      m.EvidenceURL,
		ConfirmedAt:      m.ConfirmedAt.UTC(),
	}
}

type escrowRecordModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	AllocationID string    `gorm:"column:allocation_id"`
	Kind         string    `gorm:"column:kind"`
	AmountMinor  int64     `gorm:"column:amount_minor"`
	TxHash       string    `gorm:"column:tx_hash"`
	BlockHeight  uint64    `gorm:"column:block_height"`
	GasUsed      int64     `gorm:"column:gas_used"`
	FromAddress  string    `gorm:"column:from_address"`
	ToAddress    string    `gorm:"column:to_address"`
	ChainStatus  string    `gorm:"column:chain_status"`
	RetryCount   int       `gorm:"column:retry_count"`
	ErrorDetail  string    `gorm:"column:error_detail"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (escrowRecordModel) TableName() string {
	return "funding_escrow_transactions"
}

func escrowRecordModelFromEntity(record entities.EscrowTransactionRecord) escrowRecordModel {
	return escrowRecordModel{
		ID:           strings.TrimSpace(record.ID),
		AllocationID: strings.TrimSpace(record.AllocationID),
		Kind:         string(record.Kind),
		AmountMinor:  record.AmountMinor,
		TxHash:       strings.TrimSpace(record.TxHash),
		BlockHeight:  record.BlockHeight,
		GasUsed:      record.GasUsed,
		FromAddress:  strings.TrimSpace(record.FromAddress),
		ToAddress:    strings.TrimSpace(record.ToAddress),
		ChainStatus:  strings.TrimSpace(record.ChainStatus),
		RetryCount:   record.RetryCount,
		ErrorDetail:  strings.TrimSpace(record.ErrorDetail),
		CreatedAt:    record.CreatedAt.UTC(),
	}
}

func (m escrowRecordModel) toEntity() entities.EscrowTransactionRecord {
	return entities.EscrowTransactionRecord{
		ID:           m.ID,
		AllocationID: m.AllocationID,
		Kind:         entities.EscrowTxKind(m.Kind),
		AmountMinor:  m.AmountMinor,
		TxHash:       m.TxHash,
		BlockHeight:  m.BlockHeight,
		GasUsed:      m.GasUsed,
		FromAddress:  m.FromAddress,
		ToAddress:    m.ToAddress,
		ChainStatus:  m.ChainStatus,
		RetryCount:   m.RetryCount,
		ErrorDetail:  m.ErrorDetail,
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

type paymentEntryModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	AllocationID string    `gorm:"column:allocation_id;uniqueIndex"`
	AmountMinor  int64     `gorm:"column:amount_minor"`
	Currency     string    `gorm:"column:currency"`
	Status       string    `gorm:"column:status"`
	GatewayRef   string    `gorm:"column:gateway_ref"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (paymentEntryModel) TableName() string {
	return "funding_payment_ledger"
}

func paymentEntryModelFromEntity(entry entities.PaymentLedgerEntry) paymentEntryModel {
	return paymentEntryModel{
		ID:           strings.TrimSpace(entry.ID),
		AllocationID: strings.TrimSpace(entry.AllocationID),
		AmountMinor:  entry.AmountMinor,
		Currency:     strings.TrimSpace(entry.Currency),
		Status:       string(entry.Status),
		GatewayRef:   strings.TrimSpace(entry.GatewayRef),
		CreatedAt:    entry.CreatedAt.UTC(),
		UpdatedAt:    entry.UpdatedAt.UTC(),
	}
}

func (m paymentEntryModel) toEntity() entities.PaymentLedgerEntry {
	return entities.PaymentLedgerEntry{
		ID:           m.ID,
		AllocationID: m.AllocationID,
		AmountMinor:  m.AmountMinor,
		Currency:     m.Currency,
		Status:       entities.PaymentEntryStatus(m.Status),
		GatewayRef:   m.GatewayRef,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

type paymentEventModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	AllocationID string    `gorm:"column:allocation_id"`
	EventType    string    `gorm:"column:event_type"`
	Payload      []byte    `gorm:"column:payload"`
	OccurredAt   time.Time `gorm:"column:occurred_at"`
}

func (paymentEventModel) TableName() string {
	return "funding_payment_events"
}

type issueModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	DeliveryID   string    `gorm:"column:delivery_id"`
	AllocationID string    `gorm:"column:allocation_id"`
	SchoolID     string    `gorm:"column:school_id"`
	Severity     string    `gorm:"column:severity"`
	Reason       string    `gorm:"column:reason"`
	Status       string    `gorm:"column:status"`
	OpenedAt     time.Time `gorm:"column:opened_at"`
}

func (issueModel) TableName() string {
	return "funding_issues"
}

type chainCursorModel struct {
	Consumer  string    `gorm:"column:consumer;primaryKey"`
	LastBlock uint64    `gorm:"column:last_block"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (chainCursorModel) TableName() string {
	return "funding_chain_cursors"
}

type settlementOutboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	Topic        string     `gorm:"column:topic"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (settlementOutboxModel) TableName() string {
	return "settlement_outbox"
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	t := value.UTC()
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.Repository = (*Repository)(nil)
var _ ports.CursorStore = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
