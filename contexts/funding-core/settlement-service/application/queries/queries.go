package queries

import (
	"context"
	"log/slog"
	"strings"

	application "platefund/contexts/funding-core/settlement-service/application"
	"platefund/contexts/funding-core/settlement-service/domain/entities"
	"platefund/contexts/funding-core/settlement-service/ports"
)

type UseCase struct {
	Repository ports.Repository
	Logger     *slog.Logger
}

func (uc UseCase) GetAllocation(ctx context.Context, allocationID string) (entities.Allocation, error) {
	logger := application.ResolveLogger(uc.Logger)
	normalizedID := strings.TrimSpace(allocationID)
	allocation, err := uc.Repository.GetAllocation(ctx, normalizedID)
	if err != nil {
		logger.Warn("settlement query get allocation failed",
			"event", "settlement_query_get_allocation_failed",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"allocation_id", normalizedID,
			"error", err.Error(),
		)
		return entities.Allocation{}, err
	}
	return allocation, nil
}

func (uc UseCase) ListAllocationsBySchool(ctx context.Context, schoolID string) ([]entities.Allocation, error) {
	logger := application.ResolveLogger(uc.Logger)
	normalizedSchoolID := strings.TrimSpace(schoolID)
	allocations, err := uc.Repository.ListAllocationsBySchool(ctx, normalizedSchoolID)
	if err != nil {
		logger.Warn("settlement query list allocations failed",
			"event", "settlement_query_list_allocations_failed",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"school_id", normalizedSchoolID,
			"error", err.Error(),
		)
		return nil, err
	}
	return allocations, nil
}

func (uc UseCase) EscrowAuditTrail(ctx context.Context, allocationID string) ([]entities.EscrowTransactionRecord, error) {
	logger := application.ResolveLogger(uc.Logger)
	normalizedID := strings.TrimSpace(allocationID)
	if _, err := uc.Repository.GetAllocation(ctx, normalizedID); err != nil {
		return nil, err
	}
	records, err := uc.Repository.ListEscrowRecords(ctx, normalizedID)
	if err != nil {
		logger.Warn("settlement query escrow trail failed",
			"event", "settlement_query_escrow_trail_failed",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"allocation_id", normalizedID,
			"error", err.Error(),
		)
		return nil, err
	}
	return records, nil
}

func (uc UseCase) GetDeliveryConfirmation(ctx context.Context, deliveryID string) (entities.DeliveryConfirmation, error) {
	logger := application.ResolveLogger(uc.Logger)
	normalizedID := strings.TrimSpace(deliveryID)
	confirmation, err := uc.Repository.GetConfirmationByDelivery(ctx, normalizedID)
	if err != nil {
		logger.Warn("settlement query confirmation failed",
			"event", "settlement_query_confirmation_failed",
			"module", "funding-core/settlement-service",
			"layer", "application",
			"delivery_id", normalizedID,
			"error", err.Error(),
		)
		return entities.DeliveryConfirmation{}, err
	}
	return confirmation, nil
}
