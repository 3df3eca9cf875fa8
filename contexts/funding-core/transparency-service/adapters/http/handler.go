package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"platefund/contexts/funding-core/transparency-service/application"
	"platefund/contexts/funding-core/transparency-service/domain/entities"
	"platefund/contexts/funding-core/transparency-service/ports"
	httptransport "platefund/contexts/funding-core/transparency-service/transport/http"
)

type Handler struct {
	Service application.Service
	Logger  *slog.Logger
}

// FeedHandler godoc
// @Summary Public transparency feed of released allocations
// @Description Returns released meal fundings newest first. No authentication required.
// @Tags transparency
// @Produce json
// @Param region query string false "Region filter"
// @Param cursor query string false "Cursor token"
// @Param limit query int false "Page size (max 100)"
// @Success 200 {object} httptransport.FeedResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /v1/transparency/feed [get]
func (h Handler) FeedHandler(ctx context.Context, filter ports.FeedFilter) (httptransport.FeedResponse, error) {
	page, err := h.Service.ListFeed(ctx, filter)
	if err != nil {
		h.resolveLogger().Error("transparency http feed failed",
			"event", "transparency_http_feed_failed",
			"module", "funding-core/transparency-service",
			"layer", "adapter",
			"region", filter.Region,
			"error", err.Error(),
		)
		return httptransport.FeedResponse{}, err
	}
	items := make([]httptransport.FeedEntryDTO, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, mapFeedEntry(entry))
	}
	return httptransport.FeedResponse{
		Items:      items,
		NextCursor: page.NextCursor,
	}, nil
}

// FeedEntryHandler godoc
// @Summary Get one transparency feed entry
// @Tags transparency
// @Produce json
// @Param allocation_id path string true "Allocation id"
// @Success 200 {object} httptransport.FeedEntryDTO
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/transparency/feed/{allocation_id} [get]
func (h Handler) FeedEntryHandler(ctx context.Context, allocationID string) (httptransport.FeedEntryDTO, error) {
	entry, err := h.Service.GetEntry(ctx, allocationID)
	if err != nil {
		return httptransport.FeedEntryDTO{}, err
	}
	return mapFeedEntry(entry), nil
}

func (h Handler) resolveLogger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func mapFeedEntry(entry entities.PublicFeedEntry) httptransport.FeedEntryDTO {
	return httptransport.FeedEntryDTO{
		AllocationID: entry.AllocationID,
		SchoolName:   entry.SchoolName,
		CatererName:  entry.CatererName,
		Region:       entry.Region,
		AmountMinor:  entry.AmountMinor,
		Currency:     entry.Currency,
		Portions:     entry.Portions,
		DeliveryDate: entry.DeliveryDate,
		ReleasedAt:   entry.ReleasedAt.Format(time.RFC3339),
		TxHash:       entry.TxHash,
		BlockHeight:  entry.BlockHeight,
	}
}
