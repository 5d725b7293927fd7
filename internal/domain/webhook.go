package domain

import (
	"encoding/json"
	"time"
)

// EventEntitlementRevoked is the only event type emitted today.
const EventEntitlementRevoked = "entitlement.revoked"

// WebhookEvent is the signed envelope delivered to vendor endpoints.
// Data must never carry secrets, API keys, or the webhook secret.
type WebhookEvent struct {
	ID      string           `json:"id"`
	Type    string           `json:"type"`
	Created int64            `json:"created"`
	Data    WebhookEventData `json:"data"`
}

// WebhookEventData is the payload of an entitlement event.
type WebhookEventData struct {
	OneSubUserID string `json:"oneSubUserId"`
	ToolID       string `json:"toolId"`
}

// Encode renders the canonical JSON body that gets signed and delivered.
func (e WebhookEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// WebhookLogEntry records a single delivery attempt.
type WebhookLogEntry struct {
	ID             int64
	EventID        string
	ToolID         string
	EventType      string
	URL            string
	Success        bool
	StatusCode     int
	DeliveryTimeMs int64
	AttemptNumber  int
	CreatedAt      time.Time
}

// WebhookRetryEntry exists only while a delivery is pending retry.
type WebhookRetryEntry struct {
	ID            int64
	ToolID        string
	EventID       string
	EventType     string
	Payload       []byte
	NextAttemptAt time.Time
	AttemptCount  int
	CreatedAt     time.Time
}

// WebhookDeadLetter is the terminal record for an undeliverable event.
type WebhookDeadLetter struct {
	ID             int64
	ToolID         string
	EventID        string
	EventType      string
	Payload        []byte
	FailureHistory []WebhookFailure
	CreatedAt      time.Time
}

// WebhookFailure is one entry in a dead letter's failure history.
type WebhookFailure struct {
	AttemptNumber int       `json:"attemptNumber"`
	StatusCode    int       `json:"statusCode"`
	OccurredAt    time.Time `json:"occurredAt"`
}
