package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"platefund/contexts/billing-ops/payment-gateway-service/domain/entities"
	domainerrors "platefund/contexts/billing-ops/payment-gateway-service/domain/errors"
	"platefund/contexts/billing-ops/payment-gateway-service/ports"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository reads and advances the payment ledger owned by the settlement
// context. Billing only ever moves entry status forward and appends its own
// gateway event audit rows.
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

func (r *Repository) GetEntryByAllocation(ctx context.Context, allocationID string) (entities.LedgerEntry, error) {
	var row ledgerEntryModel
	err := r.db.WithContext(ctx).
		Where("allocation_id = ?", strings.TrimSpace(allocationID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.LedgerEntry{}, domainerrors.ErrEntryNotFound
		}
		return entities.LedgerEntry{}, r.logError("gateway_repo_get_entry_failed", err,
			"allocation_id", strings.TrimSpace(allocationID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) SetEntryStatus(ctx context.Context, allocationID string, status entities.EntryStatus, gatewayRef string, at time.Time) error {
	current, err := r.GetEntryByAllocation(ctx, allocationID)
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
		Model(&ledgerEntryModel{}).
		Where("allocation_id = ? AND status = ?", strings.TrimSpace(allocationID), string(current.Status)).
		Updates(updates)
	if result.Error != nil {
		return r.logError("gateway_repo_set_entry_status_failed", result.Error,
			"allocation_id", strings.TrimSpace(allocationID),
			"status", string(status),
		)
	}
	return nil
}

func (r *Repository) AppendGatewayEvent(ctx context.Context, event entities.GatewayEvent) error {
	row := gatewayEventModel{
		ID:           strings.TrimSpace(event.ID),
		AllocationID: strings.TrimSpace(event.AllocationID),
		EventType:    strings.TrimSpace(event.EventType),
		GatewayRef:   strings.TrimSpace(event.GatewayRef),
		AmountMinor:  event.AmountMinor,
		ReceivedAt:   event.ReceivedAt.UTC(),
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return r.logError("gateway_repo_append_event_failed", err,
			"allocation_id", row.AllocationID,
			"event_type", row.EventType,
		)
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+7)
	fields = append(fields,
		"event", event,
		"module", "billing-ops/payment-gateway-service",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("gateway repository operation failed", fields...)
	return err
}

type ledgerEntryModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	AllocationID string    `gorm:"column:allocation_id"`
	AmountMinor  int64     `gorm:"column:amount_minor"`
	Currency     string    `gorm:"column:currency"`
	Status       string    `gorm:"column:status"`
	GatewayRef   string    `gorm:"column:gateway_ref"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (ledgerEntryModel) TableName() string {
	return "funding_payment_ledger"
}

func (m ledgerEntryModel) toEntity() entities.LedgerEntry {
	return entities.LedgerEntry{
		ID:           m.ID,
		AllocationID: m.AllocationID,
		AmountMinor:  m.AmountMinor,
		Currency:     m.Currency,
		Status:       entities.EntryStatus(m.Status),
		GatewayRef:   m.GatewayRef,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

type gatewayEventModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	AllocationID string    `gorm:"column:allocation_id"`
	EventType    string    `gorm:"column:event_type"`
	GatewayRef   string    `gorm:"column:gateway_ref"`
	AmountMinor  int64     `gorm:"column:amount_minor"`
	ReceivedAt   time.Time `gorm:"column:received_at"`
}

func (gatewayEventModel) TableName() string {
	return "billing_gateway_events"
}

var _ ports.LedgerStore = (*Repository)(nil)
