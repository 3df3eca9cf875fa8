package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	paymentgateway "platefund/contexts/billing-ops/payment-gateway-service"
	settlement "platefund/contexts/funding-core/settlement-service"
	settlementerrors "platefund/contexts/funding-core/settlement-service/domain/errors"
	settlementhttp "platefund/contexts/funding-core/settlement-service/transport/http"
	transparency "platefund/contexts/funding-core/transparency-service"

	httpSwagger "github.com/swaggo/http-swagger"
	_ "platefund/internal/platform/httpserver/docs"
)

type Server struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	addr         string
	readTimeout  time.Duration
	writeTimeout time.Duration
	settlement   settlement.Module
	transparency transparency.Module
	billing      paymentgateway.Module
}

type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func New(
	settlementModule settlement.Module,
	transparencyModule transparency.Module,
	billingModule paymentgateway.Module,
	logger *slog.Logger,
	opts Options,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}

	s := &Server{
		mux:          http.NewServeMux(),
		logger:       logger,
		addr:         opts.Addr,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		settlement:   settlementModule,
		transparency: transparencyModule,
		billing:      billingModule,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Mux exposes the routing table for tests.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("POST /v1/funding/allocations", s.handleCreateAllocation)
	s.mux.HandleFunc("GET /v1/funding/allocations", s.handleListAllocations)
	s.mux.HandleFunc("GET /v1/funding/allocations/{allocation_id}", s.handleGetAllocation)
	s.mux.HandleFunc("GET /v1/funding/allocations/{allocation_id}/escrow", s.handleEscrowAuditTrail)
	s.mux.HandleFunc("POST /v1/funding/allocations/{allocation_id}/lock", s.handleLockAllocation)
	s.mux.HandleFunc("POST /v1/funding/allocations/{allocation_id}/cancel", s.handleCancelAllocation)
	s.mux.HandleFunc("POST /v1/funding/allocations/{allocation_id}/hold", s.handleHoldAllocation)
	s.mux.HandleFunc("POST /v1/funding/allocations/{allocation_id}/resume", s.handleResumeAllocation)
	s.mux.HandleFunc("POST /v1/funding/deliveries/{delivery_id}/confirm", s.handleConfirmDelivery)
	s.mux.HandleFunc("GET /v1/funding/deliveries/{delivery_id}/confirmation", s.handleGetDeliveryConfirmation)

	s.mux.HandleFunc("GET /v1/transparency/feed", s.handleTransparencyFeed)
	s.mux.HandleFunc("GET /v1/transparency/feed/{allocation_id}", s.handleTransparencyFeedEntry)

	s.mux.HandleFunc("POST /v1/billing/webhooks/payment-gateway", s.handleGatewayCallback)
}

func (s *Server) handleCreateAllocation(w http.ResponseWriter, r *http.Request) {
	var req settlementhttp.CreateAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSettlementError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.settlement.Handler.CreateAllocationHandler(r.Context(), req)
	if err != nil {
		writeSettlementDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	schoolID := r.URL.Query().Get("school_id")
	if schoolID == "" {
		writeSettlementError(w, http.StatusBadRequest, "missing_school_id", "school_id query parameter is required")
		return
	}
	resp, err := s.settlement.Handler.ListAllocationsHandler(r.Context(), schoolID)
	if err != nil {
		writeSettlementDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetAllocation(w http.ResponseWriter, r *http.Request) {
	allocationID := r.PathValue("allocation_id")
	resp, err := s.settlement.Handler.GetAllocationHandler(r.Context(), allocationID)
	if err != nil {
		writeSettlementDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEscrowAuditTrail(w http.ResponseWriter, r *http.Request) {
	allocationID := r.PathValue("allocation_id")
	resp, err := s.settlement.Handler.EscrowAuditTrailHandler(r.Context(), allocationID)
	if err != nil {
		writeSettlementDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLockAllocation(w http.ResponseWriter, r *http.Request) {
	allocationID := r.PathValue("allocation_id")
	resp, err := s.settlement.Handler.LockAllocationHandler(r.Context(), allocationID)
	if err != nil {
		writeSettlementDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelAllocation(w http.ResponseWriter, r *http.Request) {
	allocationID := r.PathValue("allocation_id")
	var req settlementhttp.CancelAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSettlementError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.settlement.Handler.CancelAllocationHandler(r.Context(), allocationID, req)
	if err != nil {
		writeSettlementDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHoldAllocation(w http.ResponseWriter, r *http.Request) {
	allocationID := r.PathValue("allocation_id")
	var req settlementhttp.HoldAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSettlementError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.settlement.Handler.HoldAllocationHandler(r.Context(), allocationID, req)
	if err != nil {
		writeSettlementDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResumeAllocation(w http.ResponseWriter, r *http.Request) {
	allocationID := r.PathValue("allocation_id")
	resp, err := s.settlement.Handler.ResumeAllocationHandler(r.Context(), allocationID)
	if err != nil {
		writeSettlementDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	verifierID := r.Header.Get("X-User-Id")
	if verifierID == "" {
		writeSettlementError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	deliveryID := r.PathValue("delivery_id")
	var req settlementhttp.ConfirmDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSettlementError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.settlement.Handler.ConfirmDeliveryHandler(r.Context(), verifierID, deliveryID, req)
	if err != nil {
		writeSettlementDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetDeliveryConfirmation(w http.ResponseWriter, r *http.Request) {
	deliveryID := r.PathValue("delivery_id")
	resp, err := s.settlement.Handler.GetDeliveryConfirmationHandler(r.Context(), deliveryID)
	if err != nil {
		writeSettlementDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeSettlementDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settlementerrors.ErrAllocationNotFound):
		writeSettlementError(w, http.StatusNotFound, "allocation_not_found", err.Error())
	case errors.Is(err, settlementerrors.ErrDeliveryNotFound):
		writeSettlementError(w, http.StatusNotFound, "delivery_not_found", err.Error())
	case errors.Is(err, settlementerrors.ErrConfirmationNotFound):
		writeSettlementError(w, http.StatusNotFound, "confirmation_not_found", err.Error())
	case errors.Is(err, settlementerrors.ErrAllocationExists):
		writeSettlementError(w, http.StatusConflict, "allocation_exists", err.Error())
	case errors.Is(err, settlementerrors.ErrConfirmationExists):
		writeSettlementError(w, http.StatusConflict, "confirmation_exists", err.Error())
	case errors.Is(err, settlementerrors.ErrInvalidStateTransition):
		writeSettlementError(w, http.StatusConflict, "invalid_state_transition", err.Error())
	case errors.Is(err, settlementerrors.ErrAllocationNotLocked):
		writeSettlementError(w, http.StatusConflict, "allocation_not_locked", err.Error())
	case errors.Is(err, settlementerrors.ErrUnauthorizedVerifier):
		writeSettlementError(w, http.StatusUnauthorized, "unauthorized_verifier", err.Error())
	case errors.Is(err, settlementerrors.ErrInvalidAllocationInput):
		writeSettlementError(w, http.StatusBadRequest, "invalid_allocation_input", err.Error())
	case errors.Is(err, settlementerrors.ErrInvalidConfirmation):
		writeSettlementError(w, http.StatusBadRequest, "invalid_confirmation", err.Error())
	case errors.Is(err, settlementerrors.ErrEscrowLockFailed),
		errors.Is(err, settlementerrors.ErrEscrowReleaseFailed):
		writeSettlementError(w, http.StatusBadGateway, "escrow_call_failed", err.Error())
	default:
		writeSettlementError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeSettlementError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, settlementhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseQueryInt(raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return value, true
}
