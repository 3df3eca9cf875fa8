package application

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"platefund/contexts/billing-ops/payment-gateway-service/domain/entities"
	domainerrors "platefund/contexts/billing-ops/payment-gateway-service/domain/errors"
	"platefund/contexts/billing-ops/payment-gateway-service/ports"
)

const (
	CallbackInvoicePaid   = "invoice.paid"
	CallbackPayoutSettled = "payout.settled"
)

type Service struct {
	Ledger ports.LedgerStore
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	Secret []byte
	Logger *slog.Logger
}

type callbackPayload struct {
	EventType    string `json:"event_type"`
	AllocationID string `json:"allocation_id"`
	Reference    string `json:"reference"`
	AmountMinor  int64  `json:"amount_minor"`
}

type CallbackResult struct {
	AllocationID string
	EventType    string
	Status       entities.EntryStatus
	Applied      bool
}

// HandleCallback verifies and applies one payment gateway callback. The
// signature is checked against the raw body before any parsing happens; a
// failed check leaves the ledger untouched. Unknown event types are logged
// and acknowledged so the gateway stops retrying them.
func (s Service) HandleCallback(ctx context.Context, signatureHex string, body []byte) (CallbackResult, error) {
	if err := s.verifySignature(signatureHex, body); err != nil {
		s.resolveLogger().Warn("gateway callback signature rejected",
			"event", "gateway_callback_signature_rejected",
			"module", "billing-ops/payment-gateway-service",
			"layer", "application",
		)
		return CallbackResult{}, err
	}

	var payload callbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return CallbackResult{}, domainerrors.ErrInvalidCallback
	}
	payload.EventType = strings.TrimSpace(payload.EventType)
	payload.AllocationID = strings.TrimSpace(payload.AllocationID)
	payload.Reference = strings.TrimSpace(payload.Reference)
	if payload.EventType == "" || payload.AllocationID == "" {
		return CallbackResult{}, domainerrors.ErrInvalidCallback
	}

	result := CallbackResult{
		AllocationID: payload.AllocationID,
		EventType:    payload.EventType,
	}
	var target entities.EntryStatus
	switch payload.EventType {
	case CallbackInvoicePaid:
		target = entities.EntryStatusLocked
	case CallbackPayoutSettled:
		target = entities.EntryStatusCompleted
	default:
		s.resolveLogger().Info("gateway callback event type ignored",
			"event", "gateway_callback_event_ignored",
			"module", "billing-ops/payment-gateway-service",
			"layer", "application",
			"event_type", payload.EventType,
			"allocation_id", payload.AllocationID,
		)
		return result, nil
	}

	entry, err := s.Ledger.GetEntryByAllocation(ctx, payload.AllocationID)
	if err != nil {
		return CallbackResult{}, err
	}
	if target.Rank() > entry.Status.Rank() {
		if err := s.Ledger.SetEntryStatus(ctx, payload.AllocationID, target, payload.Reference, s.now()); err != nil {
			return CallbackResult{}, err
		}
		result.Applied = true
		result.Status = target
		s.appendGatewayEvent(ctx, payload)
	} else {
		result.Status = entry.Status
	}
	s.resolveLogger().Info("gateway callback processed",
		"event", "gateway_callback_processed",
		"module", "billing-ops/payment-gateway-service",
		"layer", "application",
		"event_type", payload.EventType,
		"allocation_id", payload.AllocationID,
		"applied", result.Applied,
		"status", string(result.Status),
	)
	return result, nil
}

func (s Service) verifySignature(signatureHex string, body []byte) error {
	provided, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil || len(provided) == 0 {
		return domainerrors.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return domainerrors.ErrInvalidSignature
	}
	return nil
}

// Sign computes the hex signature for a payload. Exposed for tests and for
// local tooling that emulates the gateway.
func (s Service) Sign(body []byte) string {
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s Service) appendGatewayEvent(ctx context.Context, payload callbackPayload) {
	eventID := ""
	if s.IDGen != nil {
		if id, err := s.IDGen.NewID(ctx); err == nil {
			eventID = id
		}
	}
	if err := s.Ledger.AppendGatewayEvent(ctx, entities.GatewayEvent{
		ID:           eventID,
		AllocationID: payload.AllocationID,
		EventType:    payload.EventType,
		GatewayRef:   payload.Reference,
		AmountMinor:  payload.AmountMinor,
		ReceivedAt:   s.now(),
	}); err != nil {
		s.resolveLogger().Error("gateway event append failed",
			"event", "gateway_event_append_failed",
			"module", "billing-ops/payment-gateway-service",
			"layer", "application",
			"allocation_id", payload.AllocationID,
			"error", err.Error(),
		)
	}
}

func (s Service) resolveLogger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}
