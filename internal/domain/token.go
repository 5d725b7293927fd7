package domain

import "time"

// VerificationToken is the opaque credential vendors hold between verifies.
// IsRevoked is monotonic: once set it is never cleared.
type VerificationToken struct {
	ID          int64
	Token       string
	ToolID      string
	UserID      string
	GrantID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	IsRevoked   bool
	RotatedFrom *int64
	CreatedAt   time.Time
}

// Expired reports whether the token lapsed.
func (t VerificationToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
