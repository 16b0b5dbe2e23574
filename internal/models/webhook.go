package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is the durable inbox row for one provider delivery. Seen and
// processed are tracked separately: ProcessedAt stays nil until reconciliation
// finishes, so a redelivery of a half-processed event runs again.
type WebhookEvent struct {
	ID           uuid.UUID       `json:"id"`
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Payload      json.RawMessage `json:"payload"`
	ReceivedAt   time.Time       `json:"received_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	Outcome      string          `json:"outcome,omitempty"`
	Attempts     int             `json:"attempts"`
	LastError    string          `json:"last_error,omitempty"`
}

func (e *WebhookEvent) Processed() bool { return e.ProcessedAt != nil }

// WebhookRegistration is a webhook subscription created at the provider.
type WebhookRegistration struct {
	ID                uuid.UUID `json:"id"`
	ProviderWebhookID string    `json:"provider_webhook_id"`
	URL               string    `json:"url"`
	EventTypes        []string  `json:"event_types"`
	CreatedAt         time.Time `json:"created_at"`
}
