package service

import (
	"time"

	"github.com/onesub/vendor-gateway/internal/domain"
)

// InitiateResult is returned to the authenticated end user starting a launch.
type InitiateResult struct {
	Code             string    `json:"code"`
	AuthorizationURL string    `json:"authorizationUrl"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// ExchangeResult is returned to vendors redeeming an authorization code.
type ExchangeResult struct {
	Valid             bool                 `json:"valid"`
	OneSubUserID      string               `json:"onesubUserId,omitempty"`
	VerificationToken string               `json:"verificationToken,omitempty"`
	Entitlements      []domain.Entitlement `json:"entitlements,omitempty"`
	GrantID           string               `json:"grantId,omitempty"`
}

// VerifyResult is returned on a granting verification.
type VerifyResult struct {
	Valid                  bool                 `json:"valid"`
	OneSubUserID           string               `json:"onesubUserId"`
	Entitlements           []domain.Entitlement `json:"entitlements"`
	CacheUntil             time.Time            `json:"cacheUntil"`
	NextVerificationBefore time.Time            `json:"nextVerificationBefore"`
	TokenRotated           bool                 `json:"tokenRotated,omitempty"`
	VerificationToken      string               `json:"verificationToken,omitempty"`
}

// SubscriptionResult is the read-only subscription lookup response.
type SubscriptionResult struct {
	Active           bool                 `json:"active"`
	OneSubUserID     string               `json:"oneSubUserId"`
	Status           string               `json:"status"`
	Entitlements     []domain.Entitlement `json:"entitlements,omitempty"`
	PeriodEnd        *time.Time           `json:"periodEnd,omitempty"`
	CacheUntil       time.Time            `json:"cacheUntil"`
	CreditsRemaining *int64               `json:"creditsRemaining,omitempty"`
}

// CreditConsumeResult reports a credit consumption. Field names follow the
// vendor SDK, which reads snake_case here.
type CreditConsumeResult struct {
	Success       bool   `json:"success"`
	NewBalance    int64  `json:"new_balance"`
	TransactionID string `json:"transaction_id"`
	IsDuplicate   bool   `json:"is_duplicate"`
}
