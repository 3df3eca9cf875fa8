package httpserver

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	paymentgateway "platefund/contexts/billing-ops/payment-gateway-service"
	"platefund/contexts/billing-ops/payment-gateway-service/domain/entities"
	settlement "platefund/contexts/funding-core/settlement-service"
	transparency "platefund/contexts/funding-core/transparency-service"
	"platefund/internal/platform/chain"
	"platefund/internal/platform/messaging"
)

func newWebhookTestServer() (*Server, paymentgateway.Module) {
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
	server := New(settlementModule, transparencyModule, billingModule, logger, Options{Addr: ":0"})
	return server, billingModule
}

func seedLedgerEntry(module paymentgateway.Module, allocationID string, status entities.EntryStatus) {
	module.Store.SeedEntry(entities.LedgerEntry{
		ID:           "entry-" + allocationID,
		AllocationID: allocationID,
		AmountMinor:  15000000,
		Currency:     "IDR",
		Status:       status,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	})
}

func TestGatewayCallbackRejectsTamperedBody(t *testing.T) {
	server, billing := newWebhookTestServer()
	seedLedgerEntry(billing, "allocation-hmac-1", entities.EntryStatusPending)

	signed := []byte(`{"event_type":"invoice.paid","allocation_id":"allocation-hmac-1","reference":"inv-1"}`)
	signature := billing.Service.Sign(signed)
	tampered := []byte(`{"event_type":"invoice.paid","allocation_id":"allocation-hmac-1","reference":"inv-evil"}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/billing/webhooks/payment-gateway", bytes.NewReader(tampered))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Signature", signature)

	rr := httptest.NewRecorder()
	server.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
	}

	entry, err := billing.Store.GetEntryByAllocation(context.Background(), "allocation-hmac-1")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.Status != entities.EntryStatusPending {
		t.Fatalf("ledger entry mutated on rejected callback: %s", entry.Status)
	}
	if events := billing.Store.GatewayEvents(); len(events) != 0 {
		t.Fatalf("expected no gateway events, got %d", len(events))
	}
}

func TestGatewayCallbackRequiresSignatureHeader(t *testing.T) {
	server, billing := newWebhookTestServer()
	seedLedgerEntry(billing, "allocation-hmac-2", entities.EntryStatusPending)

	body := []byte(`{"event_type":"invoice.paid","allocation_id":"allocation-hmac-2","reference":"inv-2"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/billing/webhooks/payment-gateway", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGatewayCallbackAppliesSignedPayload(t *testing.T) {
	server, billing := newWebhookTestServer()
	seedLedgerEntry(billing, "allocation-hmac-3", entities.EntryStatusPending)

	body := []byte(`{"event_type":"invoice.paid","allocation_id":"allocation-hmac-3","reference":"inv-3"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/billing/webhooks/payment-gateway", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Signature", billing.Service.Sign(body))

	rr := httptest.NewRecorder()
	server.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	entry, err := billing.Store.GetEntryByAllocation(context.Background(), "allocation-hmac-3")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.Status != entities.EntryStatusLocked {
		t.Fatalf("expected locked entry, got %s", entry.Status)
	}
}
