package httpserver

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	paymentgateway "platefund/contexts/billing-ops/payment-gateway-service"
	settlement "platefund/contexts/funding-core/settlement-service"
	settlementports "platefund/contexts/funding-core/settlement-service/ports"
	transparency "platefund/contexts/funding-core/transparency-service"
	transparencyports "platefund/contexts/funding-core/transparency-service/ports"
	"platefund/internal/platform/chain"
	"platefund/internal/platform/messaging"
)

const testWebhookSecret = "test-webhook-secret"

type feedBridge struct {
	service interface {
		ProjectRelease(ctx context.Context, input transparencyports.FeedProjectionInput) error
	}
}

func (b feedBridge) ProjectRelease(ctx context.Context, projection settlementports.FeedProjection) error {
	return b.service.ProjectRelease(ctx, transparencyports.FeedProjectionInput{
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

func newTestServer() *Server {
	logger := slog.Default()
	node := chain.NewNode(logger)
	bus := messaging.NewBus(logger)
	transparencyModule := transparency.NewInMemoryModule(logger)
	settlementModule := settlement.NewInMemoryModule(
		node,
		node,
		feedBridge{service: transparencyModule.Service},
		bus,
		logger,
	)
	billingModule := paymentgateway.NewInMemoryModule([]byte(testWebhookSecret), logger)
	return New(settlementModule, transparencyModule, billingModule, logger, Options{Addr: ":0"})
}

func TestConfirmDeliveryRequiresUserHeader(t *testing.T) {
	server := newTestServer()
	body := []byte(`{"accepted":true,"school_id":"school-1","portions_received":120}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/funding/deliveries/delivery-1/confirm", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestCreateAllocationRejectsMalformedBody(t *testing.T) {
	server := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/v1/funding/allocations", bytes.NewReader([]byte(`{"school_id":`)))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestListAllocationsRequiresSchoolID(t *testing.T) {
	server := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/funding/allocations", nil)

	rr := httptest.NewRecorder()
	server.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGetAllocationUnknownReturnsNotFound(t *testing.T) {
	server := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/funding/allocations/allocation-missing", nil)

	rr := httptest.NewRecorder()
	server.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}
