package httpadapter

import (
	"context"
	"log/slog"

	"platefund/contexts/billing-ops/payment-gateway-service/application"
	httptransport "platefund/contexts/billing-ops/payment-gateway-service/transport/http"
)

type Handler struct {
	Service application.Service
	Logger  *slog.Logger
}

// CallbackHandler godoc
// @Summary Payment gateway webhook callback
// @Description Verifies the HMAC signature over the raw body and advances the payment ledger.
// @Tags billing
// @Accept json
// @Produce json
// @Param X-Gateway-Signature header string true "Hex HMAC-SHA256 of the raw body"
// @Success 200 {object} httptransport.CallbackResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 401 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/billing/webhooks/payment-gateway [post]
func (h Handler) CallbackHandler(ctx context.Context, signature string, body []byte) (httptransport.CallbackResponse, error) {
	result, err := h.Service.HandleCallback(ctx, signature, body)
	if err != nil {
		return httptransport.CallbackResponse{}, err
	}
	return httptransport.CallbackResponse{
		AllocationID: result.AllocationID,
		EventType:    result.EventType,
		Status:       string(result.Status),
		Applied:      result.Applied,
	}, nil
}
