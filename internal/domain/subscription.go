package domain

import "time"

// SubscriptionStatus mirrors the lifecycle states written by the billing flows.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionTrialing  SubscriptionStatus = "trialing"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Granting reports whether the status confers access to the tool.
func (s SubscriptionStatus) Granting() bool {
	return s == SubscriptionActive || s == SubscriptionTrialing
}

// ToolSubscription is owned by billing; this service only reads it.
type ToolSubscription struct {
	UserID    string
	ToolID    string
	Status    SubscriptionStatus
	PeriodEnd time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entitlement is the per-tool access summary returned to vendors.
type Entitlement struct {
	ToolID    string    `json:"toolId"`
	Status    string    `json:"status"`
	PeriodEnd time.Time `json:"periodEnd"`
}

// Entitlements derives the vendor-facing entitlement list from a subscription.
func (s ToolSubscription) Entitlements() []Entitlement {
	return []Entitlement{{ToolID: s.ToolID, Status: string(s.Status), PeriodEnd: s.PeriodEnd}}
}
