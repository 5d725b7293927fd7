package domain

import "time"

// Bounds enforced on credit consumption before the store is touched.
const (
	MaxCreditAmount      = 1_000_000
	MaxCreditReasonLen   = 500
	MaxIdempotencyKeyLen = 255
)

// CreditTransaction records one consumption against a user's balance. The
// idempotency key is unique per tool so vendor retries replay the original
// outcome instead of double-charging.
type CreditTransaction struct {
	ID             int64
	UserID         string
	ToolID         string
	Amount         int64
	Reason         string
	IdempotencyKey string
	BalanceAfter   int64
	CreatedAt      time.Time
}
