package unit

import (
	"context"
	"testing"
	"time"

	httptransport "platefund/contexts/funding-core/settlement-service/transport/http"
	"platefund/internal/shared/events"
)

func TestOutboxRelayPublishesReleaseAtLeastOnce(t *testing.T) {
	fx := newSettlementFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan events.Envelope, 8)
	if err := fx.bus.Subscribe(ctx, "funding.payment.released", "test-consumer", func(_ context.Context, envelope events.Envelope) error {
		received <- envelope
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	locked := createLockedAllocation(t, fx)
	if _, err := fx.module.Handler.ConfirmDeliveryHandler(ctx, "verifier-obx-1", locked.DeliveryID, httptransport.ConfirmDeliveryRequest{
		Accepted:         true,
		SchoolID:         "school-sln-1",
		PortionsReceived: 500,
		QualityRating:    5,
	}); err != nil {
		t.Fatalf("confirm delivery failed: %v", err)
	}
	if fx.module.Store.PendingOutboxCount() != 1 {
		t.Fatalf("expected one pending outbox row, got %d", fx.module.Store.PendingOutboxCount())
	}

	published, err := fx.module.OutboxRelay.DrainOnce(ctx)
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if published != 1 {
		t.Fatalf("expected one published row, got %d", published)
	}
	if fx.module.Store.PendingOutboxCount() != 0 {
		t.Fatalf("expected drained outbox, got %d pending", fx.module.Store.PendingOutboxCount())
	}

	select {
	case envelope := <-received:
		if envelope.EventType != "funding.payment.released" {
			t.Fatalf("unexpected event type: %s", envelope.EventType)
		}
		if envelope.PartitionKey != locked.ID {
			t.Fatalf("expected partition key %s, got %s", locked.ID, envelope.PartitionKey)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for published envelope")
	}

	// A second drain finds nothing to publish.
	published, err = fx.module.OutboxRelay.DrainOnce(ctx)
	if err != nil {
		t.Fatalf("second drain failed: %v", err)
	}
	if published != 0 {
		t.Fatalf("expected empty drain, got %d", published)
	}
}
