package ports

import (
	"context"
	"time"

	"platefund/contexts/billing-ops/payment-gateway-service/domain/entities"
)

type LedgerStore interface {
	GetEntryByAllocation(ctx context.Context, allocationID string) (entities.LedgerEntry, error)
	// SetEntryStatus applies a forward-only status change. Lower-ranked
	// statuses are ignored without error.
	SetEntryStatus(ctx context.Context, allocationID string, status entities.EntryStatus, gatewayRef string, at time.Time) error
	AppendGatewayEvent(ctx context.Context, event entities.GatewayEvent) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
