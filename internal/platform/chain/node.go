// Package chain provides the escrow contract adapter. The current node is an
// in-process deterministic implementation with the same surface the external
// chain client will have: lock/release calls, an ordered event feed with
// block heights, and range replay for catch-up.
package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"platefund/contexts/funding-core/settlement-service/ports"
	"platefund/internal/shared/events"
)

var (
	ErrLockRejected    = errors.New("escrow lock rejected by contract")
	ErrReleaseRejected = errors.New("escrow release rejected by contract")
)

type Node struct {
	mu               sync.Mutex
	height           uint64
	log              []events.ChainEvent
	subscribers      []chan events.ChainEvent
	failNextLock     bool
	failNextRelease  bool
	releaseCallCount int
	logger           *slog.Logger
}

var _ ports.EscrowGateway = (*Node)(nil)
var _ ports.ChainEventSource = (*Node)(nil)

func NewNode(logger *slog.Logger) *Node {
	return &Node{logger: logger}
}

// Lock commits funds for an allocation reference. The reference doubles as
// the on-chain escrow identifier, so later events resolve back to the
// allocation without a separate mapping.
func (n *Node) Lock(ctx context.Context, allocationRef string, amountMinor int64) (ports.LockResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.LockResult{}, err
	}
	n.mu.Lock()
	if n.failNextLock {
		n.failNextLock = false
		n.mu.Unlock()
		return ports.LockResult{}, ErrLockRejected
	}
	n.height++
	event := events.ChainEvent{
		Kind:          events.ChainEventFundsLocked,
		AllocationRef: allocationRef,
		TxHash:        txHash("lock", allocationRef, n.height),
		BlockHeight:   n.height,
		AmountMinor:   amountMinor,
		OccurredAtUTC: time.Now().UTC(),
	}
	n.log = append(n.log, event)
	subs := append([]chan events.ChainEvent(nil), n.subscribers...)
	n.mu.Unlock()

	n.dispatch(subs, event)
	return ports.LockResult{TxHash: event.TxHash, BlockHeight: event.BlockHeight}, nil
}

func (n *Node) Release(ctx context.Context, allocationRef string) (ports.ReleaseResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.ReleaseResult{}, err
	}
	n.mu.Lock()
	n.releaseCallCount++
	if n.failNextRelease {
		n.failNextRelease = false
		n.mu.Unlock()
		return ports.ReleaseResult{}, ErrReleaseRejected
	}
	n.height++
	event := events.ChainEvent{
		Kind:          events.ChainEventFundsReleased,
		AllocationRef: allocationRef,
		TxHash:        txHash("release", allocationRef, n.height),
		BlockHeight:   n.height,
		OccurredAtUTC: time.Now().UTC(),
	}
	n.log = append(n.log, event)
	subs := append([]chan events.ChainEvent(nil), n.subscribers...)
	n.mu.Unlock()

	n.dispatch(subs, event)
	return ports.ReleaseResult{TxHash: event.TxHash, BlockHeight: event.BlockHeight}, nil
}

// AdminCancel emits a funds-cancelled event for an allocation, mirroring the
// contract's administrative cancel entrypoint.
func (n *Node) AdminCancel(ctx context.Context, allocationRef string, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	n.height++
	event := events.ChainEvent{
		Kind:          events.ChainEventFundsCancelled,
		AllocationRef: allocationRef,
		TxHash:        txHash("cancel", allocationRef, n.height),
		BlockHeight:   n.height,
		Reason:        reason,
		OccurredAtUTC: time.Now().UTC(),
	}
	n.log = append(n.log, event)
	subs := append([]chan events.ChainEvent(nil), n.subscribers...)
	n.mu.Unlock()

	n.dispatch(subs, event)
	return nil
}

// InjectRaw decodes a raw notification envelope at the subscription boundary
// and appends it to the event log. Unknown kinds are dropped here, so typed
// consumers never see them. The payload carries the chain event fields.
func (n *Node) InjectRaw(envelope events.Envelope) {
	var decoded events.ChainEvent
	if err := json.Unmarshal(envelope.Data, &decoded); err != nil {
		if n.logger != nil {
			n.logger.Warn("chain notification payload malformed",
				"event", "chain_notification_malformed",
				"module", "internal/platform/chain",
				"layer", "platform",
				"event_id", envelope.EventID,
			)
		}
		return
	}
	decoded.Kind = events.ChainEventKind(envelope.EventType)
	switch decoded.Kind {
	case events.ChainEventFundsLocked, events.ChainEventFundsReleased, events.ChainEventFundsCancelled:
	default:
		if n.logger != nil {
			n.logger.Warn("chain notification kind dropped",
				"event", "chain_notification_kind_dropped",
				"module", "internal/platform/chain",
				"layer", "platform",
				"kind", envelope.EventType,
			)
		}
		return
	}

	n.mu.Lock()
	if decoded.BlockHeight == 0 {
		n.height++
		decoded.BlockHeight = n.height
	} else if decoded.BlockHeight > n.height {
		n.height = decoded.BlockHeight
	}
	if decoded.OccurredAtUTC.IsZero() {
		decoded.OccurredAtUTC = time.Now().UTC()
	}
	n.log = append(n.log, decoded)
	subs := append([]chan events.ChainEvent(nil), n.subscribers...)
	n.mu.Unlock()

	n.dispatch(subs, decoded)
}

func (n *Node) Subscribe(ctx context.Context, handler func(context.Context, events.ChainEvent) error) error {
	ch := make(chan events.ChainEvent, 256)
	n.mu.Lock()
	n.subscribers = append(n.subscribers, ch)
	n.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				n.removeSubscriber(ch)
				return
			case event := <-ch:
				if err := handler(ctx, event); err != nil && n.logger != nil {
					n.logger.Error("chain subscriber handler failed",
						"event", "chain_subscriber_failed",
						"module", "internal/platform/chain",
						"layer", "platform",
						"chain_event", string(event.Kind),
						"allocation_ref", event.AllocationRef,
						"error", err.Error(),
					)
				}
			}
		}
	}()
	return nil
}

// ReplayRange walks the retained log between fromBlock and toBlock inclusive
// and feeds matching events to the handler synchronously. toBlock zero means
// the current head.
func (n *Node) ReplayRange(ctx context.Context, fromBlock uint64, toBlock uint64, handler func(context.Context, events.ChainEvent) error) error {
	n.mu.Lock()
	snapshot := append([]events.ChainEvent(nil), n.log...)
	head := n.height
	n.mu.Unlock()

	if toBlock == 0 {
		toBlock = head
	}
	for _, event := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if event.BlockHeight < fromBlock || event.BlockHeight > toBlock {
			continue
		}
		if err := handler(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) SetFailNextLock() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failNextLock = true
}

func (n *Node) SetFailNextRelease() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failNextRelease = true
}

func (n *Node) ReleaseCallCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.releaseCallCount
}

func (n *Node) Height() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.height
}

func (n *Node) dispatch(subs []chan events.ChainEvent, event events.ChainEvent) {
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			if n.logger != nil {
				n.logger.Warn("dropping chain event for slow subscriber",
					"event", "chain_dispatch_drop",
					"module", "internal/platform/chain",
					"layer", "platform",
					"chain_event", string(event.Kind),
					"allocation_ref", event.AllocationRef,
				)
			}
		}
	}
}

func (n *Node) removeSubscriber(target chan events.ChainEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	filtered := make([]chan events.ChainEvent, 0, len(n.subscribers))
	for _, sub := range n.subscribers {
		if sub != target {
			filtered = append(filtered, sub)
		}
	}
	n.subscribers = filtered
}

func txHash(kind string, allocationRef string, height uint64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", kind, allocationRef, height)))
	return "0x" + hex.EncodeToString(sum[:20])
}
