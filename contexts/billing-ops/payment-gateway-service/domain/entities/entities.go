package entities

import "time"

type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusLocked    EntryStatus = "locked"
	EntryStatusCompleted EntryStatus = "completed"
)

// Rank orders entry statuses. Gateway callbacks may arrive duplicated or out
// of order; a callback can only move an entry forward.
func (s EntryStatus) Rank() int {
	switch s {
	case EntryStatusLocked:
		return 1
	case EntryStatusCompleted:
		return 2
	default:
		return 0
	}
}

// LedgerEntry is the billing view over the shared payment ledger table.
type LedgerEntry struct {
	ID           string
	AllocationID string
	AmountMinor  int64
	Currency     string
	Status       EntryStatus
	GatewayRef   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GatewayEvent is one verified callback, kept as an append-only audit row.
type GatewayEvent struct {
	ID           string
	AllocationID string
	EventType    string
	GatewayRef   string
	AmountMinor  int64
	ReceivedAt   time.Time
}
