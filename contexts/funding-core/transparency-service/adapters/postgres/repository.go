package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"platefund/contexts/funding-core/transparency-service/domain/entities"
	domainerrors "platefund/contexts/funding-core/transparency-service/domain/errors"
	"platefund/contexts/funding-core/transparency-service/ports"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) UpsertEntry(ctx context.Context, entry entities.PublicFeedEntry) error {
	row := feedEntryModelFromEntity(entry)
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "allocation_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"school_name":   row.SchoolName,
			"caterer_name":  row.CatererName,
			"region":        row.Region,
			"amount_minor":  row.AmountMinor,
			"currency":      row.Currency,
			"portions":      row.Portions,
			"delivery_date": row.DeliveryDate,
			"released_at":   row.ReleasedAt,
			"tx_hash":       row.TxHash,
			"block_height":  row.BlockHeight,
			"updated_at":    row.UpdatedAt,
		}),
	}).Create(&row).Error; err != nil {
		return r.logError("transparency_repo_upsert_entry_failed", err,
			"allocation_id", row.AllocationID,
		)
	}
	return nil
}

func (r *Repository) GetEntry(ctx context.Context, allocationID string) (entities.PublicFeedEntry, error) {
	var row feedEntryModel
	err := r.db.WithContext(ctx).
		Where("allocation_id = ?", strings.TrimSpace(allocationID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.PublicFeedEntry{}, domainerrors.ErrFeedEntryNotFound
		}
		return entities.PublicFeedEntry{}, r.logError("transparency_repo_get_entry_failed", err,
			"allocation_id", strings.TrimSpace(allocationID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) ListEntries(ctx context.Context, filter ports.FeedFilter) (ports.FeedPage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := r.db.WithContext(ctx).Model(&feedEntryModel{})
	if filter.Region != "" {
		query = query.Where("region = ?", filter.Region)
	}
	if filter.Cursor != "" {
		var cursorRow feedEntryModel
		err := r.db.WithContext(ctx).
			Where("allocation_id = ?", filter.Cursor).
			First(&cursorRow).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ports.FeedPage{Items: []entities.PublicFeedEntry{}}, nil
			}
			return ports.FeedPage{}, r.logError("transparency_repo_resolve_cursor_failed", err,
				"cursor", filter.Cursor,
			)
		}
		query = query.Where(
			"(released_at, allocation_id) < (?, ?)",
			cursorRow.ReleasedAt, cursorRow.AllocationID,
		)
	}

	var rows []feedEntryModel
	if err := query.
		Order("released_at DESC, allocation_id DESC").
		Limit(limit + 1).
		Find(&rows).Error; err != nil {
		return ports.FeedPage{}, r.logError("transparency_repo_list_entries_failed", err,
			"region", filter.Region,
			"limit", limit,
		)
	}

	page := ports.FeedPage{Items: make([]entities.PublicFeedEntry, 0, len(rows))}
	for i, row := range rows {
		if i >= limit {
			page.NextCursor = rows[limit-1].AllocationID
			break
		}
		page.Items = append(page.Items, row.toEntity())
	}
	return page, nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+7)
	fields = append(fields,
		"event", event,
		"module", "funding-core/transparency-service",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("transparency repository operation failed", fields...)
	return err
}

type feedEntryModel struct {
	AllocationID string    `gorm:"column:allocation_id;primaryKey"`
	SchoolName   string    `gorm:"column:school_name"`
	CatererName  string    `gorm:"column:caterer_name"`
	Region       string    `gorm:"column:region"`
	AmountMinor  int64     `gorm:"column:amount_minor"`
	Currency     string    `gorm:"column:currency"`
	Portions     int       `gorm:"column:portions"`
	DeliveryDate string    `gorm:"column:delivery_date"`
	ReleasedAt   time.Time `gorm:"column:released_at"`
	TxHash       string    `gorm:"column:tx_hash"`
	BlockHeight  uint64    `gorm:"column:block_height"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (feedEntryModel) TableName() string {
	return "transparency_feed_entries"
}

func feedEntryModelFromEntity(entry entities.PublicFeedEntry) feedEntryModel {
	return feedEntryModel{
		AllocationID: strings.TrimSpace(entry.AllocationID),
		SchoolName:   strings.TrimSpace(entry.SchoolName),
		CatererName:  strings.TrimSpace(entry.CatererName),
		Region:       strings.TrimSpace(entry.Region),
		AmountMinor:  entry.AmountMinor,
		Currency:     strings.TrimSpace(entry.Currency),
		Portions:     entry.Portions,
		DeliveryDate: strings.TrimSpace(entry.DeliveryDate),
		ReleasedAt:   entry.ReleasedAt.UTC(),
		TxHash:       strings.TrimSpace(entry.TxHash),
		BlockHeight:  entry.BlockHeight,
		UpdatedAt:    entry.UpdatedAt.UTC(),
	}
}

func (m feedEntryModel) toEntity() entities.PublicFeedEntry {
	return entities.PublicFeedEntry{
		AllocationID: m.AllocationID,
		SchoolName:   m.SchoolName,
		CatererName:  m.CatererName,
		Region:       m.Region,
		AmountMinor:  m.AmountMinor,
		Currency:     m.Currency,
		Portions:     m.Portions,
		DeliveryDate: m.DeliveryDate,
		ReleasedAt:   m.ReleasedAt.UTC(),
		TxHash:       m.TxHash,
		BlockHeight:  m.BlockHeight,
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

var _ ports.Repository = (*Repository)(nil)
