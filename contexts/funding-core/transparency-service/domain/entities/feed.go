package entities

import "time"

// PublicFeedEntry is one row of the public transparency feed. Entries are
// keyed by allocation id, so the synchronous release path and the chain
// reconciler can both project the same release without duplicating it.
type PublicFeedEntry struct {
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
	UpdatedAt    time.Time
}
