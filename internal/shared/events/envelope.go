package events

import (
	"encoding/json"
	"time"
)

// Envelope is the shared event shape used in Platefund.
// Outbox rows, bus messages and raw chain notifications all travel in this form.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SourceService string          `json:"source_service"`
	OccurredAtUTC time.Time       `json:"occurred_at_utc"`
	PartitionKey  string          `json:"partition_key"`
	SchemaVersion int             `json:"schema_version"`
	Data          json.RawMessage `json:"data"`
}

// Marshal renders the envelope as the canonical JSON wire form.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
