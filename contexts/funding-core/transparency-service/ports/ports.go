package ports

import (
	"context"
	"time"

	"platefund/contexts/funding-core/transparency-service/domain/entities"
)

// FeedProjectionInput carries the denormalized release data projected into
// the public feed. Monetary amounts stay in minor units.
type FeedProjectionInput struct {
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

type FeedFilter struct {
	Region string
	Cursor string
	Limit  int
}

type FeedPage struct {
	Items      []entities.PublicFeedEntry
	NextCursor string
}

type Repository interface {
	// UpsertEntry inserts or overwrites the entry for its allocation id.
	UpsertEntry(ctx context.Context, entry entities.PublicFeedEntry) error
	GetEntry(ctx context.Context, allocationID string) (entities.PublicFeedEntry, error)
	ListEntries(ctx context.Context, filter FeedFilter) (FeedPage, error)
}

type Clock interface {
	Now() time.Time
}
