package httpadapter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "platefund/contexts/funding-core/settlement-service/application"
	"platefund/contexts/funding-core/settlement-service/application/commands"
	"platefund/contexts/funding-core/settlement-service/application/queries"
	"platefund/contexts/funding-core/settlement-service/domain/entities"
	httptransport "platefund/contexts/funding-core/settlement-service/transport/http"
)

type Handler struct {
	Commands commands.UseCase
	Queries  queries.UseCase
	Logger   *slog.Logger
}

// CreateAllocationHandler godoc
// @Summary Create a funding allocation
// @Description Registers a budget commitment for one school, caterer and delivery date.
// @Tags funding
// @Accept json
// @Produce json
// @Param request body httptransport.CreateAllocationRequest true "Allocation details"
// @Success 201 {object} httptransport.AllocationDTO
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Router /v1/funding/allocations [post]
func (h Handler) CreateAllocationHandler(
	ctx context.Context,
	req httptransport.CreateAllocationRequest,
) (httptransport.AllocationDTO, error) {
	logger := application.ResolveLogger(h.Logger)
	allocation, err := h.Commands.CreateAllocation(ctx, commands.CreateAllocationCommand{
		SchoolID:     req.SchoolID,
		SchoolName:   req.SchoolName,
		CatererID:    req.CatererID,
		CatererName:  req.CatererName,
		Region:       req.Region,
		DeliveryDate: req.DeliveryDate,
		AmountMinor:  req.AmountMinor,
		Currency:     req.Currency,
		Portions:     req.Portions,
		Notes:        req.Notes,
	})
	if err != nil {
		logger.Warn("settlement http create allocation failed",
			"event", "settlement_http_create_allocation_failed",
			"module", "funding-core/settlement-service",
			"layer", "adapter",
			"school_id", strings.TrimSpace(req.SchoolID),
			"caterer_id", strings.TrimSpace(req.CatererID),
			"delivery_date", strings.TrimSpace(req.DeliveryDate),
			"error", err.Error(),
		)
		return httptransport.AllocationDTO{}, err
	}
	logger.Info("settlement http create allocation completed",
		"event", "settlement_http_create_allocation_completed",
		"module", "funding-core/settlement-service",
		"layer", "adapter",
		"allocation_id", allocation.ID,
	)
	return mapAllocation(allocation), nil
}

// LockAllocationHandler godoc
// @Summary Lock allocation funds in escrow
// @Tags funding
// @Produce json
// @Param allocation_id path string true "Allocation id"
// @Success 200 {object} httptransport.AllocationDTO
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Failure 502 {object} httptransport.ErrorResponse
// @Router /v1/funding/allocations/{allocation_id}/lock [post]
func (h Handler) LockAllocationHandler(ctx context.Context, allocationID string) (httptransport.AllocationDTO, error) {
	logger := application.ResolveLogger(h.Logger)
	allocation, err := h.Commands.LockAllocation(ctx, commands.LockAllocationCommand{
		AllocationID: allocationID,
	})
	if err != nil {
		logger.Warn("settlement http lock allocation failed",
			"event", "settlement_http_lock_allocation_failed",
			"module", "funding-core/settlement-service",
			"layer", "adapter",
			"allocation_id", strings.TrimSpace(allocationID),
			"error", err.Error(),
		)
		return httptransport.AllocationDTO{}, err
	}
	return mapAllocation(allocation), nil
}

// ConfirmDeliveryHandler godoc
// @Summary Confirm or reject a meal delivery
// @Description An accepted confirmation releases the escrowed funds to the caterer.
// @Tags funding
// @Accept json
// @Produce json
// @Param X-User-Id header string true "Verifier user id"
// @Param delivery_id path string true "Delivery id"
// @Param request body httptransport.ConfirmDeliveryRequest true "Confirmation details"
// @Success 200 {object} httptransport.ConfirmDeliveryResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 401 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Failure 502 {object} httptransport.ErrorResponse
// @Router /v1/funding/deliveries/{delivery_id}/confirm [post]
func (h Handler) ConfirmDeliveryHandler(
	ctx context.Context,
	verifierID string,
	deliveryID string,
	req httptransport.ConfirmDeliveryRequest,
) (httptransport.ConfirmDeliveryResponse, error) {
	logger := application.ResolveLogger(h.Logger)
	result, err := h.Commands.ConfirmDelivery(ctx, commands.ConfirmDeliveryCommand{
		DeliveryID:       deliveryID,
		VerifierID:       verifierID,
		VerifierSchoolID: req.SchoolID,
		Accepted:         req.Accepted,
		PortionsReceived: req.PortionsReceived,
		QualityRating:    req.QualityRating,
		Notes:            req.Notes,
		EvidenceURL:      req.EvidenceURL,
	})
	if err != nil {
		logger.Warn("settlement http confirm delivery failed",
			"event", "settlement_http_confirm_delivery_failed",
			"module", "funding-core/settlement-service",
			"layer", "adapter",
			"delivery_id", strings.TrimSpace(deliveryID),
			"verifier_id", strings.TrimSpace(verifierID),
			"accepted", req.Accepted,
			"error", err.Error(),
		)
		return httptransport.ConfirmDeliveryResponse{}, err
	}
	logger.Info("settlement http confirm delivery completed",
		"event", "settlement_http_confirm_delivery_completed",
		"module", "funding-core/settlement-service",
		"layer", "adapter",
		"delivery_id", strings.TrimSpace(deliveryID),
		"allocation_id", result.AllocationID,
		"status", string(result.Status),
	)
	return httptransport.ConfirmDeliveryResponse{
		AllocationID:        result.AllocationID,
		Status:              string(result.Status),
		ReleasedAmountMinor: result.ReleasedAmountMinor,
		TxHash:              result.TxHash,
	}, nil
}

// CancelAllocationHandler godoc
// @Summary Cancel an allocation
// @Tags funding
// @Accept json
// @Produce json
// @Param allocation_id path string true "Allocation id"
// @Param request body httptransport.CancelAllocationRequest true "Cancellation reason"
// @Success 200 {object} httptransport.AllocationDTO
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Router /v1/funding/allocations/{allocation_id}/cancel [post]
func (h Handler) CancelAllocationHandler(
	ctx context.Context,
	allocationID string,
	req httptransport.CancelAllocationRequest,
) (httptransport.AllocationDTO, error) {
	logger := application.ResolveLogger(h.Logger)
	allocation, err := h.Commands.CancelAllocation(ctx, commands.CancelAllocationCommand{
		AllocationID: allocationID,
		Reason:       req.Reason,
	})
	if err != nil {
		logger.Warn("settlement http cancel allocation failed",
			"event", "settlement_http_cancel_allocation_failed",
			"module", "funding-core/settlement-service",
			"layer", "adapter",
			"allocation_id", strings.TrimSpace(allocationID),
			"error", err.Error(),
		)
		return httptransport.AllocationDTO{}, err
	}
	return mapAllocation(allocation), nil
}

// HoldAllocationHandler godoc
// @Summary Put a locked allocation on hold
// @Tags funding
// @Accept json
// @Produce json
// @Param allocation_id path string true "Allocation id"
// @Param request body httptransport.HoldAllocationRequest true "Hold reason"
// @Success 200 {object} httptransport.AllocationDTO
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Router /v1/funding/allocations/{allocation_id}/hold [post]
func (h Handler) HoldAllocationHandler(
	ctx context.Context,
	allocationID string,
	req httptransport.HoldAllocationRequest,
) (httptransport.AllocationDTO, error) {
	logger := application.ResolveLogger(h.Logger)
	allocation, err := h.Commands.HoldAllocation(ctx, commands.HoldAllocationCommand{
		AllocationID: allocationID,
		Reason:       req.Reason,
	})
	if err != nil {
		logger.Warn("settlement http hold allocation failed",
			"event", "settlement_http_hold_allocation_failed",
			"module", "funding-core/settlement-service",
			"layer", "adapter",
			"allocation_id", strings.TrimSpace(allocationID),
			"error", err.Error(),
		)
		return httptransport.AllocationDTO{}, err
	}
	return mapAllocation(allocation), nil
}

// ResumeAllocationHandler godoc
// @Summary Resume an on-hold allocation
// @Tags funding
// @Produce json
// @Param allocation_id path string true "Allocation id"
// @Success 200 {object} httptransport.AllocationDTO
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Router /v1/funding/allocations/{allocation_id}/resume [post]
func (h Handler) ResumeAllocationHandler(ctx context.Context, allocationID string) (httptransport.AllocationDTO, error) {
	logger := application.ResolveLogger(h.Logger)
	allocation, err := h.Commands.ResumeAllocation(ctx, allocationID)
	if err != nil {
		logger.Warn("settlement http resume allocation failed",
			"event", "settlement_http_resume_allocation_failed",
			"module", "funding-core/settlement-service",
			"layer", "adapter",
			"allocation_id", strings.TrimSpace(allocationID),
			"error", err.Error(),
		)
		return httptransport.AllocationDTO{}, err
	}
	return mapAllocation(allocation), nil
}

// GetAllocationHandler godoc
// @Summary Get allocation details
// @Tags funding
// @Produce json
// @Param allocation_id path string true "Allocation id"
// @Success 200 {object} httptransport.AllocationDTO
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/funding/allocations/{allocation_id} [get]
func (h Handler) GetAllocationHandler(ctx context.Context, allocationID string) (httptransport.AllocationDTO, error) {
	allocation, err := h.Queries.GetAllocation(ctx, allocationID)
	if err != nil {
		return httptransport.AllocationDTO{}, err
	}
	return mapAllocation(allocation), nil
}

// ListAllocationsHandler godoc
// @Summary List allocations for a school
// @Tags funding
// @Produce json
// @Param school_id query string true "School id"
// @Success 200 {object} httptransport.ListAllocationsResponse
// @Router /v1/funding/allocations [get]
func (h Handler) ListAllocationsHandler(ctx context.Context, schoolID string) (httptransport.ListAllocationsResponse, error) {
	allocations, err := h.Queries.ListAllocationsBySchool(ctx, schoolID)
	if err != nil {
		return httptransport.ListAllocationsResponse{}, err
	}
	items := make([]httptransport.AllocationDTO, 0, len(allocations))
	for _, allocation := range allocations {
		items = append(items, mapAllocation(allocation))
	}
	return httptransport.ListAllocationsResponse{Items: items}, nil
}

// GetDeliveryConfirmationHandler godoc
// @Summary Get the confirmation recorded for a delivery
// @Tags funding
// @Produce json
// @Param delivery_id path string true "Delivery id"
// @Success 200 {object} httptransport.ConfirmationDTO
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/funding/deliveries/{delivery_id}/confirmation [get]
func (h Handler) GetDeliveryConfirmationHandler(ctx context.Context, deliveryID string) (httptransport.ConfirmationDTO, error) {
	confirmation, err := h.Queries.GetDeliveryConfirmation(ctx, deliveryID)
	if err != nil {
		return httptransport.ConfirmationDTO{}, err
	}
	return httptransport.ConfirmationDTO{
		ID:               confirmation.ID,
		DeliveryID:       confirmation.DeliveryID,
		AllocationID:     confirmation.AllocationID,
		VerifierID:       confirmation.VerifierID,
		Outcome:          string(confirmation.Outcome),
		PortionsReceived: confirmation.PortionsReceived,
		QualityRating:    confirmation.QualityRating,
		Notes:            confirmation.Notes,
		EvidenceURL:      confirmation.EvidenceURL,
		ConfirmedAt:      confirmation.ConfirmedAt.Format(time.RFC3339),
	}, nil
}

// EscrowAuditTrailHandler godoc
// @Summary Get the escrow audit trail for an allocation
// @Tags funding
// @Produce json
// @Param allocation_id path string true "Allocation id"
// @Success 200 {object} httptransport.EscrowAuditTrailResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/funding/allocations/{allocation_id}/escrow [get]
func (h Handler) EscrowAuditTrailHandler(ctx context.Context, allocationID string) (httptransport.EscrowAuditTrailResponse, error) {
	records, err := h.Queries.EscrowAuditTrail(ctx, allocationID)
	if err != nil {
		return httptransport.EscrowAuditTrailResponse{}, err
	}
	dtos := make([]httptransport.EscrowRecordDTO, 0, len(records))
	for _, record := range records {
		dtos = append(dtos, httptransport.EscrowRecordDTO{
			ID:          record.ID,
			Kind:        string(record.Kind),
			AmountMinor: record.AmountMinor,
			TxHash:      record.TxHash,
			BlockHeight: record.BlockHeight,
			FromAddress: record.FromAddress,
			ToAddress:   record.ToAddress,
			ChainStatus: record.ChainStatus,
			ErrorDetail: record.ErrorDetail,
			CreatedAt:   record.CreatedAt.Format(time.RFC3339),
		})
	}
	return httptransport.EscrowAuditTrailResponse{
		AllocationID: strings.TrimSpace(allocationID),
		Records:      dtos,
	}, nil
}

func mapAllocation(allocation entities.Allocation) httptransport.AllocationDTO {
	dto := httptransport.AllocationDTO{
		ID:                 allocation.ID,
		SchoolID:           allocation.SchoolID,
		SchoolName:         allocation.SchoolName,
		CatererID:          allocation.CatererID,
		CatererName:        allocation.CatererName,
		Region:             allocation.Region,
		DeliveryID:         allocation.DeliveryID,
		DeliveryDate:       allocation.DeliveryDate,
		AmountMinor:        allocation.AmountMinor,
		Currency:           allocation.Currency,
		Status:             string(allocation.Status),
		LockTxHash:         allocation.LockTxHash,
		ReleaseTxHash:      allocation.ReleaseTxHash,
		ReleaseBlockHeight: allocation.ReleaseBlockHeight,
		ChainConfirmed:     allocation.ChainConfirmed,
		CancelReason:       allocation.CancelReason,
		Portions:           allocation.Portions,
		CreatedAt:          allocation.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          allocation.UpdatedAt.Format(time.RFC3339),
	}
	if allocation.LockedAt != nil {
		dto.LockedAt = allocation.LockedAt.Format(time.RFC3339)
	}
	if allocation.ReleasedAt != nil {
		dto.ReleasedAt = allocation.ReleasedAt.Format(time.RFC3339)
	}
	return dto
}
