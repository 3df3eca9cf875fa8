package application

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"platefund/contexts/funding-core/transparency-service/domain/entities"
	domainerrors "platefund/contexts/funding-core/transparency-service/domain/errors"
	"platefund/contexts/funding-core/transparency-service/ports"
)

const (
	defaultFeedPageSize = 20
	maxFeedPageSize     = 100
)

type Service struct {
	Repo   ports.Repository
	Clock  ports.Clock
	Logger *slog.Logger
}

// ProjectRelease records a released allocation in the public feed. The write
// is an upsert keyed by allocation id, so projecting the same release twice
// leaves exactly one entry.
func (s Service) ProjectRelease(ctx context.Context, input ports.FeedProjectionInput) error {
	allocationID := strings.TrimSpace(input.AllocationID)
	if allocationID == "" || input.AmountMinor <= 0 {
		return domainerrors.ErrInvalidFeedInput
	}
	releasedAt := input.ReleasedAt.UTC()
	if releasedAt.IsZero() {
		releasedAt = s.now()
	}
	entry := entities.PublicFeedEntry{
		AllocationID: allocationID,
		SchoolName:   strings.TrimSpace(input.SchoolName),
		CatererName:  strings.TrimSpace(input.CatererName),
		Region:       strings.TrimSpace(input.Region),
		AmountMinor:  input.AmountMinor,
		Currency:     strings.TrimSpace(input.Currency),
		Portions:     input.Portions,
		DeliveryDate: strings.TrimSpace(input.DeliveryDate),
		ReleasedAt:   releasedAt,
		TxHash:       strings.TrimSpace(input.TxHash),
		BlockHeight:  input.BlockHeight,
		UpdatedAt:    s.now(),
	}
	if err := s.Repo.UpsertEntry(ctx, entry); err != nil {
		s.resolveLogger().Error("transparency feed projection failed",
			"event", "transparency_feed_projection_failed",
			"module", "funding-core/transparency-service",
			"layer", "application",
			"allocation_id", allocationID,
			"error", err.Error(),
		)
		return err
	}
	s.resolveLogger().Info("transparency feed entry projected",
		"event", "transparency_feed_entry_projected",
		"module", "funding-core/transparency-service",
		"layer", "application",
		"allocation_id", allocationID,
		"amount_minor", entry.AmountMinor,
		"tx_hash", entry.TxHash,
	)
	return nil
}

func (s Service) GetEntry(ctx context.Context, allocationID string) (entities.PublicFeedEntry, error) {
	normalized := strings.TrimSpace(allocationID)
	if normalized == "" {
		return entities.PublicFeedEntry{}, domainerrors.ErrInvalidFeedInput
	}
	return s.Repo.GetEntry(ctx, normalized)
}

// ListFeed returns released allocations newest first, optionally filtered by
// region, with cursor pagination.
func (s Service) ListFeed(ctx context.Context, filter ports.FeedFilter) (ports.FeedPage, error) {
	filter.Region = strings.TrimSpace(filter.Region)
	filter.Cursor = strings.TrimSpace(filter.Cursor)
	if filter.Limit <= 0 {
		filter.Limit = defaultFeedPageSize
	}
	if filter.Limit > maxFeedPageSize {
		filter.Limit = maxFeedPageSize
	}
	return s.Repo.ListEntries(ctx, filter)
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
