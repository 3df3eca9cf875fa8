package entities

import (
	"encoding/json"
	"time"
)

type EscrowTxKind string

const (
	EscrowTxKindLock    EscrowTxKind = "lock"
	EscrowTxKindRelease EscrowTxKind = "release"
	EscrowTxKindFailed  EscrowTxKind = "failed"
)

// EscrowTransactionRecord is one row of the append-only escrow audit trail.
// Rows are never mutated once written.
type EscrowTransactionRecord struct {
	ID           string
	AllocationID string
	Kind         EscrowTxKind
	AmountMinor  int64
	TxHash       string
	BlockHeight  uint64
	GasUsed      int64
	FromAddress  string
	ToAddress    string
	ChainStatus  string
	RetryCount   int
	ErrorDetail  string
	CreatedAt    time.Time
}

type PaymentEntryStatus string

const (
	PaymentEntryStatusPending   PaymentEntryStatus = "pending"
	PaymentEntryStatusLocked    PaymentEntryStatus = "locked"
	PaymentEntryStatusCompleted PaymentEntryStatus = "completed"
)

// Rank orders payment entry statuses so that status writes stay monotonic;
// duplicate or out-of-order updates can only move an entry forward.
func (s PaymentEntryStatus) Rank() int {
	switch s {
	case PaymentEntryStatusLocked:
		return 1
	case PaymentEntryStatusCompleted:
		return 2
	default:
		return 0
	}
}

type PaymentLedgerEntry struct {
	ID           string
	AllocationID string
	AmountMinor  int64
	Currency     string
	Status       PaymentEntryStatus
	GatewayRef   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const (
	PaymentEventReleased            = "payment.released"
	PaymentEventAllocationCancelled = "allocation.cancelled"
)

// PaymentEvent is one row of the append-only domain event audit log.
type PaymentEvent struct {
	ID           string
	AllocationID string
	EventType    string
	Payload      json.RawMessage
	OccurredAt   time.Time
}
