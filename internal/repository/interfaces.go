package repository

import (
	"context"
	"time"

	"github.com/onesub/vendor-gateway/internal/domain"
)

// ToolRepository exposes read-only tool metadata written by onboarding.
type ToolRepository interface {
	GetTool(ctx context.Context, toolID string) (domain.Tool, error)
}

// UserRepository exposes read-only platform user identities.
type UserRepository interface {
	GetByID(ctx context.Context, userID string) (domain.User, error)
	GetByEmailHash(ctx context.Context, emailSHA256 string) (domain.User, error)
}

// CodeRepository manages authorization codes.
type CodeRepository interface {
	CreateCode(ctx context.Context, code domain.AuthorizationCode) error
	// ConsumeCode marks the code used if and only if it is currently unused
	// and unexpired, returning the claimed row. The store's own concurrency
	// control guarantees a unique winner under concurrent redemption.
	// Returns domain.ErrCodeAlreadyUsed for lost races and domain.ErrNotFound
	// for unknown or expired codes.
	ConsumeCode(ctx context.Context, code string) (domain.AuthorizationCode, error)
}

// TokenRepository handles verification token persistence.
type TokenRepository interface {
	CreateToken(ctx context.Context, token domain.VerificationToken) (domain.VerificationToken, error)
	GetByValue(ctx context.Context, token string) (domain.VerificationToken, error)
}

// RevocationRepository records revocations and flips outstanding tokens in
// the same transaction.
type RevocationRepository interface {
	// Record inserts the revocation idempotently and marks every outstanding
	// non-revoked token for the pair. Returns true when this call created the
	// revocation row (the caller then owns webhook emission).
	Record(ctx context.Context, rev domain.Revocation) (bool, error)
	Get(ctx context.Context, userID, toolID string) (domain.Revocation, error)
}

// SubscriptionRepository reads billing-owned subscription state.
type SubscriptionRepository interface {
	GetSubscription(ctx context.Context, userID, toolID string) (domain.ToolSubscription, error)
}

// CreditRepository decrements balances and records consumption.
type CreditRepository interface {
	// Consume decrements the user's balance and records the transaction in
	// one store transaction. When the tool already consumed with the same
	// idempotency key the original transaction is returned with
	// duplicate=true and nothing changes. Returns
	// *domain.InsufficientCreditsError when the balance cannot cover the
	// amount and domain.ErrNotFound when the user has no balance row.
	Consume(ctx context.Context, txn domain.CreditTransaction) (domain.CreditTransaction, bool, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
}

// APIKeyRepository resolves vendor credentials and webhook targets.
type APIKeyRepository interface {
	GetByHash(ctx context.Context, keyHash string) (domain.APIKeyCredential, error)
	GetWebhookTarget(ctx context.Context, toolID string) (domain.WebhookTarget, error)
}

// WebhookRepository persists delivery logs, the retry queue, and dead letters.
type WebhookRepository interface {
	InsertLog(ctx context.Context, entry domain.WebhookLogEntry) error
	ListLogsByEvent(ctx context.Context, eventID string) ([]domain.WebhookLogEntry, error)
	EnqueueRetry(ctx context.Context, entry domain.WebhookRetryEntry) error
	DueRetries(ctx context.Context, now time.Time, limit int) ([]domain.WebhookRetryEntry, error)
	RescheduleRetry(ctx context.Context, id int64, nextAttemptAt time.Time, attemptCount int) error
	DeleteRetry(ctx context.Context, id int64) error
	GetRetryByEvent(ctx context.Context, eventID string) (domain.WebhookRetryEntry, error)
	InsertDeadLetter(ctx context.Context, letter domain.WebhookDeadLetter) error
}

// SigningKeyRepository stores the platform session signing keys.
type SigningKeyRepository interface {
	GetActiveKey(ctx context.Context) (domain.SigningKey, error)
	CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error)
}

// VerifyCache pins cacheUntil values so repeated verifies inside one cache
// window return an identical horizon. Validity is never cached here.
type VerifyCache interface {
	GetCacheUntil(ctx context.Context, token string) (time.Time, bool, error)
	PinCacheUntil(ctx context.Context, token string, until time.Time) (time.Time, error)
}
