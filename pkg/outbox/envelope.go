package outbox

import (
	"encoding/json"
	"time"
)

// SourceRef identifies which service and registry produced the event.
type SourceRef struct {
	Service    string `json:"service"`
	RegistryID string `json:"registryId,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Source     *SourceRef      `json:"source,omitempty"`
	Data       json.RawMessage `json:"data"`
}
