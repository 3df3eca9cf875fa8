package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "platefund/contexts/funding-core/settlement-service/application"
	"platefund/contexts/funding-core/settlement-service/ports"
	"platefund/internal/shared/events"
)

const (
	defaultOutboxBatchSize    = 50
	defaultOutboxPollInterval = 2 * time.Second
)

// OutboxRelay drains pending settlement outbox rows to the event bus.
// Rows are only marked published after a successful publish, so a crash
// between publish and mark can produce duplicates; downstream consumers
// dedupe on the envelope event id.
type OutboxRelay struct {
	Outbox       ports.OutboxRepository
	Publisher    ports.EventPublisher
	Clock        ports.Clock
	BatchSize    int
	PollInterval time.Duration
	Logger       *slog.Logger
}

func (w OutboxRelay) Run(ctx context.Context) {
	logger := application.ResolveLogger(w.Logger)
	interval := w.PollInterval
	if interval <= 0 {
		interval = defaultOutboxPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("settlement outbox relay started",
		"event", "settlement_outbox_relay_started",
		"module", "funding-core/settlement-service",
		"layer", "worker",
		"poll_interval", interval.String(),
	)
	for {
		select {
		case <-ctx.Done():
			logger.Info("settlement outbox relay stopped",
				"event", "settlement_outbox_relay_stopped",
				"module", "funding-core/settlement-service",
				"layer", "worker",
			)
			return
		case <-ticker.C:
			if _, err := w.DrainOnce(ctx); err != nil {
				logger.Error("settlement outbox relay drain failed",
					"event", "settlement_outbox_relay_drain_failed",
					"module", "funding-core/settlement-service",
					"layer", "worker",
					"error", err.Error(),
				)
			}
		}
	}
}

// DrainOnce publishes one batch and reports how many rows were relayed.
func (w OutboxRelay) DrainOnce(ctx context.Context) (int, error) {
	logger := application.ResolveLogger(w.Logger)
	batch := w.BatchSize
	if batch <= 0 {
		batch = defaultOutboxBatchSize
	}
	pending, err := w.Outbox.ListPendingOutbox(ctx, batch)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, message := range pending {
		var envelope events.Envelope
		if err := json.Unmarshal(message.Payload, &envelope); err != nil {
			logger.Error("settlement outbox payload malformed",
				"event", "settlement_outbox_payload_malformed",
				"module", "funding-core/settlement-service",
				"layer", "worker",
				"outbox_id", message.OutboxID,
				"error", err.Error(),
			)
			// A poison row would wedge the relay forever; mark it published
			// and move on.
			if markErr := w.Outbox.MarkOutboxPublished(ctx, message.OutboxID, w.now()); markErr != nil {
				return published, markErr
			}
			continue
		}
		if err := w.Publisher.Publish(ctx, message.Topic, envelope); err != nil {
			logger.Error("settlement outbox publish failed",
				"event", "settlement_outbox_publish_failed",
				"module", "funding-core/settlement-service",
				"layer", "worker",
				"outbox_id", message.OutboxID,
				"topic", message.Topic,
				"error", err.Error(),
			)
			return published, err
		}
		if err := w.Outbox.MarkOutboxPublished(ctx, message.OutboxID, w.now()); err != nil {
			return published, err
		}
		published++
		logger.Info("settlement outbox message published",
			"event", "settlement_outbox_message_published",
			"module", "funding-core/settlement-service",
			"layer", "worker",
			"outbox_id", message.OutboxID,
			"topic", message.Topic,
			"event_type", envelope.EventType,
		)
	}
	return published, nil
}

func (w OutboxRelay) now() time.Time {
	if w.Clock == nil {
		return time.Now().UTC()
	}
	return w.Clock.Now().UTC()
}
