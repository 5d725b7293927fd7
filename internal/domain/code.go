package domain

import "time"

// AuthorizationCode models short-lived, single-use launch codes.
// used_at transitions exactly once; nothing else is ever mutated.
type AuthorizationCode struct {
	ID          int64
	Code        string
	ToolID      string
	UserID      string
	RedirectURI string
	State       string
	ExpiresAt   time.Time
	UsedAt      *time.Time
	CreatedAt   time.Time
}

// Expired reports whether the code lapsed before being redeemed.
func (c AuthorizationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
