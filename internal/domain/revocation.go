package domain

import "time"

// RevocationReason explains why access for a (user, tool) pair ended.
type RevocationReason string

const (
	ReasonSubscriptionCancelled RevocationReason = "subscription_cancelled"
	ReasonPaymentFailed         RevocationReason = "payment_failed"
	ReasonManual                RevocationReason = "manual"
	ReasonToolDisabled          RevocationReason = "tool_disabled"
)

// Valid reports whether the reason is one of the known enum values.
func (r RevocationReason) Valid() bool {
	switch r {
	case ReasonSubscriptionCancelled, ReasonPaymentFailed, ReasonManual, ReasonToolDisabled:
		return true
	}
	return false
}

// Revocation is the authoritative "access ended" record for a (user, tool)
// pair, independent of token bookkeeping.
type Revocation struct {
	ID        int64
	UserID    string
	ToolID    string
	Reason    RevocationReason
	CreatedAt time.Time
}
