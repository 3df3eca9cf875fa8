package entities

import "time"

type AllocationStatus string

const (
	AllocationStatusPlanned   AllocationStatus = "planned"
	AllocationStatusLocking   AllocationStatus = "locking"
	AllocationStatusLocked    AllocationStatus = "locked"
	AllocationStatusReleasing AllocationStatus = "releasing"
	AllocationStatusReleased  AllocationStatus = "released"
	AllocationStatusOnHold    AllocationStatus = "on_hold"
	AllocationStatusCancelled AllocationStatus = "cancelled"
)

// IsTerminal reports whether no further transition may leave the status.
func (s AllocationStatus) IsTerminal() bool {
	return s == AllocationStatusReleased || s == AllocationStatusCancelled
}

// Allocation is a budget commitment tying a school, a caterer and a delivery
// date to a funded amount moving through escrow. The ID is derived
// deterministically from the (school, caterer, delivery date) triple, which is
// what enforces the one-non-cancelled-allocation-per-triple invariant.
// Allocations are never hard-deleted; cancellation is a terminal soft state.
type Allocation struct {
	ID                 string
	SchoolID           string
	SchoolName         string
	CatererID          string
	CatererName        string
	Region             string
	DeliveryID         string
	DeliveryDate       string
	AmountMinor        int64
	Currency           string
	Status             AllocationStatus
	LockTxHash         string
	ReleaseTxHash      string
	ReleaseBlockHeight uint64
	ChainConfirmed     bool
	CancelReason       string
	Portions           int
	Notes              string
	Version            int64
	LastSeenBlock      uint64
	LockedAt           *time.Time
	ReleasedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
