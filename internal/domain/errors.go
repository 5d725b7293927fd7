package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes surfaced to vendors.
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeInvalidRedirect      = "INVALID_REDIRECT"
	CodeToolNotFound         = "TOOL_NOT_FOUND"
	CodeUserNotFound         = "USER_NOT_FOUND"
	CodeCodeInvalidOrExpired = "CODE_INVALID_OR_EXPIRED"
	CodeCodeAlreadyUsed      = "CODE_ALREADY_USED"
	CodeSubscriptionInactive = "SUBSCRIPTION_INACTIVE"
	CodeTokenNotFound        = "TOKEN_NOT_FOUND"
	CodeTokenRevoked         = "TOKEN_REVOKED"
	CodeAccessRevoked        = "ACCESS_REVOKED"
	CodeInsufficientCredits  = "INSUFFICIENT_CREDITS"
	CodeUnauthorized         = "UNAUTHORIZED"
)

// ActionTerminateSession instructs vendors to end the local session, not
// merely display an error.
const ActionTerminateSession = "terminate_session"

// APIError standardizes errors returned to vendor and platform callers.
// Details carries machine-readable context (such as a credit shortfall)
// alongside the human-readable message.
type APIError struct {
	Code    string
	Message string
	Status  int
	Action  string
	Details map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError builds a plain client error.
func NewAPIError(code, message string, status int) *APIError {
	return &APIError{Code: code, Message: message, Status: status}
}

// NewTerminalError builds an entitlement-state error carrying the
// terminate_session instruction.
func NewTerminalError(code, message string) *APIError {
	return &APIError{Code: code, Message: message, Status: http.StatusOK, Action: ActionTerminateSession}
}

// AsAPIError unwraps err into an *APIError when possible.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Sentinel storage errors shared across repository implementations.
var (
	// ErrNotFound signals a missing row where absence is an expected outcome.
	ErrNotFound = errors.New("record not found")
	// ErrCodeAlreadyUsed signals a lost redemption race: the code exists but
	// another exchange consumed it first.
	ErrCodeAlreadyUsed = errors.New("authorization code already used")
)

// InsufficientCreditsError reports a refused consume together with the
// balance the store saw, so callers can surface the shortfall.
type InsufficientCreditsError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, required %d", e.Balance, e.Required)
}

// Shortfall is the amount missing from the balance.
func (e *InsufficientCreditsError) Shortfall() int64 {
	return e.Required - e.Balance
}
