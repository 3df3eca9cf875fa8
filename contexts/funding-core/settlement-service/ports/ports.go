package ports

import (
	"context"
	"time"

	"platefund/contexts/funding-core/settlement-service/domain/entities"
	"platefund/internal/shared/events"
)

// AllocationChange describes the target of one guarded transition. Only the
// fields relevant to the target status need to be set.
type AllocationChange struct {
	To                 entities.AllocationStatus
	LockTxHash         string
	ReleaseTxHash      string
	ReleaseBlockHeight uint64
	ChainConfirmed     bool
	CancelReason       string
	// ObservedBlock carries the block height of the chain event driving the
	// change. Events older than the allocation's last seen block are dropped
	// as stale no-ops.
	ObservedBlock *uint64
	At            time.Time
}

type Repository interface {
	CreateAllocation(ctx context.Context, allocation entities.Allocation) error
	GetAllocation(ctx context.Context, allocationID string) (entities.Allocation, error)
	ListAllocationsBySchool(ctx context.Context, schoolID string) ([]entities.Allocation, error)

	// TransitionAllocation is the single guarded state-transition primitive.
	// It performs one atomic conditional write: the allocation moves to
	// change.To only when its current status is in from. A transition whose
	// target equals the current status is a no-op success (changed=false);
	// this is the idempotency contract the orchestrator and the reconciler
	// both rely on. Every status write goes through this method.
	TransitionAllocation(
		ctx context.Context,
		allocationID string,
		from []entities.AllocationStatus,
		change AllocationChange,
	) (entities.Allocation, bool, error)

	CreateDelivery(ctx context.Context, delivery entities.Delivery) error
	GetDelivery(ctx context.Context, deliveryID string) (entities.Delivery, error)
	GetDeliveryByAllocation(ctx context.Context, allocationID string) (entities.Delivery, error)
	UpdateDeliveryStatus(ctx context.Context, deliveryID string, status entities.DeliveryStatus, at time.Time) error

	CreateConfirmation(ctx context.Context, confirmation entities.DeliveryConfirmation) error
	GetConfirmationByDelivery(ctx context.Context, deliveryID string) (entities.DeliveryConfirmation, error)
	DeleteConfirmation(ctx context.Context, confirmationID string) error

	AppendEscrowRecord(ctx context.Context, record entities.EscrowTransactionRecord) error
	ListEscrowRecords(ctx context.Context, allocationID string) ([]entities.EscrowTransactionRecord, error)

	CreatePaymentEntry(ctx context.Context, entry entities.PaymentLedgerEntry) error
	GetPaymentEntry(ctx context.Context, allocationID string) (entities.PaymentLedgerEntry, error)
	SetPaymentEntryStatus(ctx context.Context, allocationID string, status entities.PaymentEntryStatus, gatewayRef string, at time.Time) error
	AppendPaymentEvent(ctx context.Context, event entities.PaymentEvent) error

	CreateIssue(ctx context.Context, issue entities.Issue) error
}

// CursorStore persists the reconciler's last-processed-block cursor.
type CursorStore interface {
	LoadChainCursor(ctx context.Context, consumer string) (uint64, error)
	SaveChainCursor(ctx context.Context, consumer string, block uint64) error
}

type LockResult struct {
	TxHash      string
	BlockHeight uint64
}

type ReleaseResult struct {
	TxHash      string
	BlockHeight uint64
}

// EscrowGateway abstracts the on-chain escrow contract. Calls are synchronous
// and may take tens of seconds to confirm; callers pass generous context
// deadlines and must treat a deadline error as "outcome unknown", never as a
// confirmed failure.
type EscrowGateway interface {
	Lock(ctx context.Context, allocationRef string, amountMinor int64) (LockResult, error)
	Release(ctx context.Context, allocationRef string) (ReleaseResult, error)
}

// ChainEventSource delivers decoded escrow contract events one at a time.
type ChainEventSource interface {
	Subscribe(ctx context.Context, handler func(context.Context, events.ChainEvent) error) error
	ReplayRange(ctx context.Context, fromBlock uint64, toBlock uint64, handler func(context.Context, events.ChainEvent) error) error
}

type FeedProjection struct {
	AllocationID string
	SchoolName   string
	CatererName  string
	Region       string
	AmountMinor  int64
	Currency     string
	Portions     int
	DeliveryDate string
	ReleasedAt   time.Time
	TxHash       string
	BlockHeight  uint64
}

// FeedProjector is the write side of the public transparency feed. The
// projection is an eventually consistent read model, not the ledger of
// record; projection failures are logged by callers, never propagated.
type FeedProjector interface {
	ProjectRelease(ctx context.Context, projection FeedProjection) error
}

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope events.Envelope) error
}

type OutboxMessage struct {
	OutboxID     string
	Topic        string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, envelope events.Envelope) error
}

type EventSubscriber interface {
	Subscribe(ctx context.Context, topic string, consumerGroup string, handler func(context.Context, events.Envelope) error) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
