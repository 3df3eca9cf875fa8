package memory

import (
	"context"
	"sync"
	"time"

	"platefund/contexts/billing-ops/payment-gateway-service/domain/entities"
	domainerrors "platefund/contexts/billing-ops/payment-gateway-service/domain/errors"
	"platefund/contexts/billing-ops/payment-gateway-service/ports"

	"github.com/google/uuid"
)

type Store struct {
	mu      sync.RWMutex
	entries map[string]entities.LedgerEntry
	events  []entities.GatewayEvent
}

var _ ports.LedgerStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		entries: make(map[string]entities.LedgerEntry),
	}
}

// SeedEntry installs a ledger entry, used by tests and local bootstrapping.
func (s *Store) SeedEntry(entry entities.LedgerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.AllocationID] = entry
}

func (s *Store) GetEntryByAllocation(_ context.Context, allocationID string) (entities.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, exists := s.entries[allocationID]
	if !exists {
		return entities.LedgerEntry{}, domainerrors.ErrEntryNotFound
	}
	return entry, nil
}

func (s *Store) SetEntryStatus(_ context.Context, allocationID string, status entities.EntryStatus, gatewayRef string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists := s.entries[allocationID]
	if !exists {
		return domainerrors.ErrEntryNotFound
	}
	if status.Rank() < entry.Status.Rank() {
		return nil
	}
	entry.Status = status
	if gatewayRef != "" {
		entry.GatewayRef = gatewayRef
	}
	entry.UpdatedAt = at
	s.entries[allocationID] = entry
	return nil
}

func (s *Store) AppendGatewayEvent(_ context.Context, event entities.GatewayEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	s.events = append(s.events, event)
	return nil
}

// GatewayEvents is a test helper.
func (s *Store) GatewayEvents() []entities.GatewayEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entities.GatewayEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}
