package httpserver

import (
	"errors"
	"io"
	"net/http"

	billingerrors "platefund/contexts/billing-ops/payment-gateway-service/domain/errors"
	billinghttp "platefund/contexts/billing-ops/payment-gateway-service/transport/http"
)

// Callback bodies are verified against X-Gateway-Signature before any
// parsing, so the raw bytes must be read exactly as sent.
func (s *Server) handleGatewayCallback(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get("X-Gateway-Signature")
	if signature == "" {
		writeBillingError(w, http.StatusUnauthorized, "missing_signature", "X-Gateway-Signature header is required")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBillingError(w, http.StatusBadRequest, "unreadable_body", "request body could not be read")
		return
	}
	resp, err := s.billing.Handler.CallbackHandler(r.Context(), signature, body)
	if err != nil {
		writeBillingDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeBillingDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billingerrors.ErrInvalidSignature):
		writeBillingError(w, http.StatusUnauthorized, "invalid_signature", err.Error())
	case errors.Is(err, billingerrors.ErrInvalidCallback):
		writeBillingError(w, http.StatusBadRequest, "invalid_callback", err.Error())
	case errors.Is(err, billingerrors.ErrEntryNotFound):
		writeBillingError(w, http.StatusNotFound, "entry_not_found", err.Error())
	default:
		writeBillingError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeBillingError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, billinghttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}
