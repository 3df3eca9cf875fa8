package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"platefund/contexts/billing-ops/payment-gateway-service/domain/entities"
	domainerrors "platefund/contexts/billing-ops/payment-gateway-service/domain/errors"
)

type testLedger struct {
	entry       entities.LedgerEntry
	statusCalls int
	events      []entities.GatewayEvent
}

func (l *testLedger) GetEntryByAllocation(_ context.Context, allocationID string) (entities.LedgerEntry, error) {
	if l.entry.AllocationID != allocationID {
		return entities.LedgerEntry{}, domainerrors.ErrEntryNotFound
	}
	return l.entry, nil
}

func (l *testLedger) SetEntryStatus(_ context.Context, _ string, status entities.EntryStatus, gatewayRef string, _ time.Time) error {
	l.statusCalls++
	l.entry.Status = status
	l.entry.GatewayRef = gatewayRef
	return nil
}

func (l *testLedger) AppendGatewayEvent(_ context.Context, event entities.GatewayEvent) error {
	l.events = append(l.events, event)
	return nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func newTestService(ledger *testLedger) Service {
	return Service{
		Ledger: ledger,
		Clock:  fixedClock{now: time.Date(2026, time.September, 1, 9, 0, 0, 0, time.UTC)},
		Secret: []byte("webhook-test-secret"),
	}
}

func TestHandleCallbackAppliesInvoicePaid(t *testing.T) {
	ledger := &testLedger{entry: entities.LedgerEntry{
		AllocationID: "alloc-1",
		Status:       entities.EntryStatusPending,
	}}
	service := newTestService(ledger)
	body := []byte(`{"event_type":"invoice.paid","allocation_id":"alloc-1","reference":"inv-77","amount_minor":15000000}`)

	result, err := service.HandleCallback(context.Background(), service.Sign(body), body)
	if err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	if !result.Applied || result.Status != entities.EntryStatusLocked {
		t.Fatalf("expected applied locked result, got %+v", result)
	}
	if ledger.entry.GatewayRef != "inv-77" {
		t.Fatalf("gateway reference not recorded: %q", ledger.entry.GatewayRef)
	}
	if len(ledger.events) != 1 {
		t.Fatalf("expected one gateway event, got %d", len(ledger.events))
	}
}

func TestHandleCallbackRejectsTamperedBody(t *testing.T) {
	ledger := &testLedger{entry: entities.LedgerEntry{
		AllocationID: "alloc-1",
		Status:       entities.EntryStatusPending,
	}}
	service := newTestService(ledger)
	body := []byte(`{"event_type":"invoice.paid","allocation_id":"alloc-1","amount_minor":15000000}`)
	signature := service.Sign(body)
	tampered := []byte(`{"event_type":"invoice.paid","allocation_id":"alloc-1","amount_minor":99000000}`)

	_, err := service.HandleCallback(context.Background(), signature, tampered)
	if !errors.Is(err, domainerrors.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if ledger.statusCalls != 0 || len(ledger.events) != 0 {
		t.Fatalf("rejected callback must not touch the ledger")
	}
}

func TestHandleCallbackRejectsMalformedSignature(t *testing.T) {
	ledger := &testLedger{entry: entities.LedgerEntry{AllocationID: "alloc-1"}}
	service := newTestService(ledger)
	body := []byte(`{"event_type":"invoice.paid","allocation_id":"alloc-1"}`)

	_, err := service.HandleCallback(context.Background(), "not-hex", body)
	if !errors.Is(err, domainerrors.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestHandleCallbackNeverDowngradesStatus(t *testing.T) {
	ledger := &testLedger{entry: entities.LedgerEntry{
		AllocationID: "alloc-1",
		Status:       entities.EntryStatusCompleted,
	}}
	service := newTestService(ledger)
	body := []byte(`{"event_type":"invoice.paid","allocation_id":"alloc-1","reference":"inv-late"}`)

	result, err := service.HandleCallback(context.Background(), service.Sign(body), body)
	if err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	if result.Applied {
		t.Fatalf("stale callback must not apply")
	}
	if result.Status != entities.EntryStatusCompleted {
		t.Fatalf("expected completed status to stand, got %s", result.Status)
	}
	if ledger.statusCalls != 0 {
		t.Fatalf("downgrade attempt wrote to the ledger")
	}
	if len(ledger.events) != 0 {
		t.Fatalf("stale callback must not append an audit event, got %d", len(ledger.events))
	}
}

func TestHandleCallbackDuplicateAppendsNoSecondEvent(t *testing.T) {
	ledger := &testLedger{entry: entities.LedgerEntry{
		AllocationID: "alloc-1",
		Status:       entities.EntryStatusPending,
	}}
	service := newTestService(ledger)
	body := []byte(`{"event_type":"invoice.paid","allocation_id":"alloc-1","reference":"inv-77"}`)

	first, err := service.HandleCallback(context.Background(), service.Sign(body), body)
	if err != nil {
		t.Fatalf("first callback: %v", err)
	}
	if !first.Applied {
		t.Fatalf("first callback must apply")
	}
	second, err := service.HandleCallback(context.Background(), service.Sign(body), body)
	if err != nil {
		t.Fatalf("duplicate callback: %v", err)
	}
	if second.Applied {
		t.Fatalf("duplicate callback must be a no-op")
	}
	if len(ledger.events) != 1 {
		t.Fatalf("expected one audit event after duplicate delivery, got %d", len(ledger.events))
	}
}

func TestHandleCallbackAcknowledgesUnknownEventType(t *testing.T) {
	ledger := &testLedger{entry: entities.LedgerEntry{
		AllocationID: "alloc-1",
		Status:       entities.EntryStatusPending,
	}}
	service := newTestService(ledger)
	body := []byte(`{"event_type":"customer.updated","allocation_id":"alloc-1"}`)

	result, err := service.HandleCallback(context.Background(), service.Sign(body), body)
	if err != nil {
		t.Fatalf("unknown event type must be acknowledged, got %v", err)
	}
	if result.Applied {
		t.Fatalf("unknown event type must not change the ledger")
	}
	if ledger.statusCalls != 0 {
		t.Fatalf("unknown event type wrote a status")
	}
}

func TestHandleCallbackRejectsPayloadWithoutAllocation(t *testing.T) {
	ledger := &testLedger{}
	service := newTestService(ledger)
	body := []byte(`{"event_type":"invoice.paid"}`)

	_, err := service.HandleCallback(context.Background(), service.Sign(body), body)
	if !errors.Is(err, domainerrors.ErrInvalidCallback) {
		t.Fatalf("expected ErrInvalidCallback, got %v", err)
	}
}
