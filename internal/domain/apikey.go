package domain

import "time"

// APIKeyCredential is written by vendor onboarding and only consumed here.
// The raw key (sk-tool-...) is never stored; KeyHash is its SHA-256 hex.
type APIKeyCredential struct {
	ID            int64
	ToolID        string
	KeyHash       string
	KeyPrefix     string
	IsActive      bool
	WebhookURL    string
	WebhookSecret string
	CreatedAt     time.Time
}

// WebhookTarget is the delivery endpoint configured for a tool.
type WebhookTarget struct {
	ToolID string
	URL    string
	Secret string
}

// Configured reports whether the tool registered a webhook endpoint.
func (t WebhookTarget) Configured() bool {
	return t.URL != ""
}
