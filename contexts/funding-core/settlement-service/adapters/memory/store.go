// Package memory provides an in-memory settlement store used by unit tests
// and local bootstrapping.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"platefund/contexts/funding-core/settlement-service/domain/entities"
	domainerrors "platefund/contexts/funding-core/settlement-service/domain/errors"
	"platefund/contexts/funding-core/settlement-service/ports"
	"platefund/internal/shared/events"

	"github.com/google/uuid"
)

type Store struct {
	mu sync.RWMutex

	allocations          map[string]entities.Allocation
	deliveries           map[string]entities.Delivery
	deliveryByAllocation map[string]string
	confirmations        map[string]entities.DeliveryConfirmation
	escrowRecords        map[string][]entities.EscrowTransactionRecord
	paymentEntries       map[string]entities.PaymentLedgerEntry
	paymentEvents        map[string][]entities.PaymentEvent
	issues               map[string]entities.Issue
	cursors              map[string]uint64
	outbox               []outboxRow
}

type outboxRow struct {
	message   ports.OutboxMessage
	published bool
}

var _ ports.Repository = (*Store)(nil)
var _ ports.CursorStore = (*Store)(nil)
var _ ports.OutboxWriter = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		allocations:          make(map[string]entities.Allocation),
		deliveries:           make(map[string]entities.Delivery),
		deliveryByAllocation: make(map[string]string),
		confirmations:        make(map[string]entities.DeliveryConfirmation),
		escrowRecords:        make(map[string][]entities.EscrowTransactionRecord),
		paymentEntries:       make(map[string]entities.PaymentLedgerEntry),
		paymentEvents:        make(map[string][]entities.PaymentEvent),
		issues:               make(map[string]entities.Issue),
		cursors:              make(map[string]uint64),
	}
}

func (s *Store) CreateAllocation(_ context.Context, allocation entities.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.allocations[allocation.ID]; exists {
		return domainerrors.ErrAllocationExists
	}
	s.allocations[allocation.ID] = allocation
	return nil
}

func (s *Store) GetAllocation(_ context.Context, allocationID string) (entities.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	allocation, exists := s.allocations[allocationID]
	if !exists {
		return entities.Allocation{}, domainerrors.ErrAllocationNotFound
	}
	return allocation, nil
}

func (s *Store) ListAllocationsBySchool(_ context.Context, schoolID string) ([]entities.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]entities.Allocation, 0)
	for _, allocation := range s.allocations {
		if allocation.SchoolID == schoolID {
			matches = append(matches, allocation)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].DeliveryDate == matches[j].DeliveryDate {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].DeliveryDate < matches[j].DeliveryDate
	})
	return matches, nil
}

// TransitionAllocation is the single guarded write for allocation status.
// Stale observations (block below the last seen one) and transitions into
// the current status are absorbed as no-ops with changed=false.
func (s *Store) TransitionAllocation(
	_ context.Context,
	allocationID string,
	from []entities.AllocationStatus,
	change ports.AllocationChange,
) (entities.Allocation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allocation, exists := s.allocations[allocationID]
	if !exists {
		return entities.Allocation{}, false, domainerrors.ErrAllocationNotFound
	}
	if change.ObservedBlock != nil && *change.ObservedBlock < allocation.LastSeenBlock {
		return allocation, false, nil
	}
	if allocation.Status == change.To {
		if change.ObservedBlock != nil && *change.ObservedBlock > allocation.LastSeenBlock {
			allocation.LastSeenBlock = *change.ObservedBlock
			s.allocations[allocationID] = allocation
		}
		return allocation, false, nil
	}
	if len(from) > 0 && !statusIn(allocation.Status, from) {
		return allocation, false, domainerrors.ErrInvalidStateTransition
	}

	allocation.Status = change.To
	allocation.Version++
	allocation.UpdatedAt = change.At
	if change.ObservedBlock != nil && *change.ObservedBlock > allocation.LastSeenBlock {
		allocation.LastSeenBlock = *change.ObservedBlock
	}
	if change.LockTxHash != "" {
		allocation.LockTxHash = change.LockTxHash
	}
	if change.ReleaseTxHash != "" {
		allocation.ReleaseTxHash = change.ReleaseTxHash
	}
	if change.ReleaseBlockHeight > 0 {
		allocation.ReleaseBlockHeight = change.ReleaseBlockHeight
	}
	if change.ChainConfirmed {
		allocation.ChainConfirmed = true
	}
	if change.CancelReason != "" {
		allocation.CancelReason = change.CancelReason
	}
	switch change.To {
	case entities.AllocationStatusLocked:
		if allocation.LockedAt == nil {
			at := change.At
			allocation.LockedAt = &at
		}
	case entities.AllocationStatusReleased:
		if allocation.ReleasedAt == nil {
			at := change.At
			allocation.ReleasedAt = &at
		}
	}
	s.allocations[allocationID] = allocation
	return allocation, true, nil
}

func statusIn(status entities.AllocationStatus, allowed []entities.AllocationStatus) bool {
	for _, candidate := range allowed {
		if status == candidate {
			return true
		}
	}
	return false
}

func (s *Store) CreateDelivery(_ context.Context, delivery entities.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[delivery.ID] = delivery
	s.deliveryByAllocation[delivery.AllocationID] = delivery.ID
	return nil
}

func (s *Store) GetDelivery(_ context.Context, deliveryID string) (entities.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	delivery, exists := s.deliveries[deliveryID]
	if !exists {
		return entities.Delivery{}, domainerrors.ErrDeliveryNotFound
	}
	return delivery, nil
}

func (s *Store) GetDeliveryByAllocation(_ context.Context, allocationID string) (entities.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deliveryID, exists := s.deliveryByAllocation[allocationID]
	if !exists {
		return entities.Delivery{}, domainerrors.ErrDeliveryNotFound
	}
	return s.deliveries[deliveryID], nil
}

func (s *Store) UpdateDeliveryStatus(_ context.Context, deliveryID string, status entities.DeliveryStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delivery, exists := s.deliveries[deliveryID]
	if !exists {
		return domainerrors.ErrDeliveryNotFound
	}
	delivery.Status = status
	delivery.UpdatedAt = at
	s.deliveries[deliveryID] = delivery
	return nil
}

func (s *Store) CreateConfirmation(_ context.Context, confirmation entities.DeliveryConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.confirmations[confirmation.DeliveryID]; exists {
		return domainerrors.ErrConfirmationExists
	}
	s.confirmations[confirmation.DeliveryID] = confirmation
	return nil
}

func (s *Store) GetConfirmationByDelivery(_ context.Context, deliveryID string) (entities.DeliveryConfirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	confirmation, exists := s.confirmations[deliveryID]
	if !exists {
		return entities.DeliveryConfirmation{}, domainerrors.ErrConfirmationNotFound
	}
	return confirmation, nil
}

func (s *Store) DeleteConfirmation(_ context.Context, confirmationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for deliveryID, confirmation := range s.confirmations {
		if confirmation.ID == confirmationID {
			delete(s.confirmations, deliveryID)
			return nil
		}
	}
	return domainerrors.ErrConfirmationNotFound
}

func (s *Store) AppendEscrowRecord(_ context.Context, record entities.EscrowTransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escrowRecords[record.AllocationID] = append(s.escrowRecords[record.AllocationID], record)
	return nil
}

func (s *Store) ListEscrowRecords(_ context.Context, allocationID string) ([]entities.EscrowTransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.escrowRecords[allocationID]
	out := make([]entities.EscrowTransactionRecord, len(records))
	copy(out, records)
	return out, nil
}

func (s *Store) CreatePaymentEntry(_ context.Context, entry entities.PaymentLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paymentEntries[entry.AllocationID] = entry
	return nil
}

func (s *Store) GetPaymentEntry(_ context.Context, allocationID string) (entities.PaymentLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, exists := s.paymentEntries[allocationID]
	if !exists {
		return entities.PaymentLedgerEntry{}, domainerrors.ErrAllocationNotFound
	}
	return entry, nil
}

// SetPaymentEntryStatus only moves a ledger entry forward. A status with a
// lower rank than the current one is ignored.
func (s *Store) SetPaymentEntryStatus(_ context.Context, allocationID string, status entities.PaymentEntryStatus, gatewayRef string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists := s.paymentEntries[allocationID]
	if !exists {
		return domainerrors.ErrAllocationNotFound
	}
	if status.Rank() < entry.Status.Rank() {
		return nil
	}
	entry.Status = status
	if gatewayRef != "" {
		entry.GatewayRef = gatewayRef
	}
	entry.UpdatedAt = at
	s.paymentEntries[allocationID] = entry
	return nil
}

func (s *Store) AppendPaymentEvent(_ context.Context, event entities.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paymentEvents[event.AllocationID] = append(s.paymentEvents[event.AllocationID], event)
	return nil
}

// ListPaymentEvents is a test helper, not part of the repository port.
func (s *Store) ListPaymentEvents(allocationID string) []entities.PaymentEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eventsForAllocation := s.paymentEvents[allocationID]
	out := make([]entities.PaymentEvent, len(eventsForAllocation))
	copy(out, eventsForAllocation)
	return out
}

func (s *Store) CreateIssue(_ context.Context, issue entities.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues[issue.ID] = issue
	return nil
}

// ListIssuesByAllocation is a test helper, not part of the repository port.
func (s *Store) ListIssuesByAllocation(allocationID string) []entities.Issue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]entities.Issue, 0)
	for _, issue := range s.issues {
		if issue.AllocationID == allocationID {
			matches = append(matches, issue)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].OpenedAt.Before(matches[j].OpenedAt) })
	return matches
}

func (s *Store) LoadChainCursor(_ context.Context, consumer string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[consumer], nil
}

func (s *Store) SaveChainCursor(_ context.Context, consumer string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if block > s.cursors[consumer] {
		s.cursors[consumer] = block
	}
	return nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, err := envelope.Marshal()
	if err != nil {
		return err
	}
	s.outbox = append(s.outbox, outboxRow{
		message: ports.OutboxMessage{
			OutboxID:     envelope.EventID,
			Topic:        envelope.EventType,
			EventType:    envelope.EventType,
			PartitionKey: envelope.PartitionKey,
			Payload:      payload,
			CreatedAt:    envelope.OccurredAtUTC,
		},
	})
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pending := make([]ports.OutboxMessage, 0)
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		pending = append(pending, row.message)
		if limit > 0 && len(pending) >= limit {
			break
		}
	}
	return pending, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].message.OutboxID == outboxID {
			s.outbox[i].published = true
			return nil
		}
	}
	return nil
}

// PendingOutboxCount is a test helper.
func (s *Store) PendingOutboxCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, row := range s.outbox {
		if !row.published {
			count++
		}
	}
	return count
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}
