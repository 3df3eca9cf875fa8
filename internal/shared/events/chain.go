package events

import "time"

// ChainEventKind is the closed set of escrow contract notifications the
// application understands. Raw payloads are decoded into one of these at the
// subscription boundary; anything else is dropped there.
type ChainEventKind string

const (
	ChainEventFundsLocked    ChainEventKind = "funds.locked"
	ChainEventFundsReleased  ChainEventKind = "funds.released"
	ChainEventFundsCancelled ChainEventKind = "funds.cancelled"
)

// ChainEvent is a decoded escrow contract notification.
type ChainEvent struct {
	Kind          ChainEventKind
	AllocationRef string
	TxHash        string
	BlockHeight   uint64
	AmountMinor   int64
	FromAddress   string
	ToAddress     string
	Reason        string
	OccurredAtUTC time.Time
}
