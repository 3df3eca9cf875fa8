package memory

import (
	"context"
	"sort"
	"sync"

	"platefund/contexts/funding-core/transparency-service/domain/entities"
	domainerrors "platefund/contexts/funding-core/transparency-service/domain/errors"
	"platefund/contexts/funding-core/transparency-service/ports"
)

type Store struct {
	mu      sync.RWMutex
	entries map[string]entities.PublicFeedEntry
}

var _ ports.Repository = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		entries: make(map[string]entities.PublicFeedEntry),
	}
}

func (s *Store) UpsertEntry(_ context.Context, entry entities.PublicFeedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.AllocationID] = entry
	return nil
}

func (s *Store) GetEntry(_ context.Context, allocationID string) (entities.PublicFeedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, exists := s.entries[allocationID]
	if !exists {
		return entities.PublicFeedEntry{}, domainerrors.ErrFeedEntryNotFound
	}
	return entry, nil
}

func (s *Store) ListEntries(_ context.Context, filter ports.FeedFilter) (ports.FeedPage, error) {
	s.mu.RLock()
	matches := make([]entities.PublicFeedEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if filter.Region != "" && entry.Region != filter.Region {
			continue
		}
		matches = append(matches, entry)
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].ReleasedAt.Equal(matches[j].ReleasedAt) {
			return matches[i].AllocationID > matches[j].AllocationID
		}
		return matches[i].ReleasedAt.After(matches[j].ReleasedAt)
	})

	start := 0
	if filter.Cursor != "" {
		for i, entry := range matches {
			if entry.AllocationID == filter.Cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(matches) {
		return ports.FeedPage{Items: []entities.PublicFeedEntry{}}, nil
	}

	end := start + filter.Limit
	if filter.Limit <= 0 || end > len(matches) {
		end = len(matches)
	}
	page := ports.FeedPage{Items: matches[start:end]}
	if end < len(matches) {
		page.NextCursor = matches[end-1].AllocationID
	}
	return page, nil
}

// Len is a test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
