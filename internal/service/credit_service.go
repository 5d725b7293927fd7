package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/onesub/vendor-gateway/internal/domain"
	"github.com/onesub/vendor-gateway/internal/repository"
)

// CreditService meters vendor usage against a user's credit balance. The
// balance itself is owned by billing; this service only consumes from it.
type CreditService struct {
	credits   repository.CreditRepository
	users     repository.UserRepository
	snowflake *snowflake.Node
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewCreditService wires dependencies.
func NewCreditService(credits repository.CreditRepository, users repository.UserRepository, node *snowflake.Node, logger *zap.Logger) *CreditService {
	return &CreditService{
		credits:   credits,
		users:     users,
		snowflake: node,
		logger:    logger,
		tracer:    otel.Tracer("github.com/onesub/vendor-gateway/internal/service"),
	}
}

// Consume debits the user's balance for the calling tool. The idempotency
// key makes vendor retries safe: a replay returns the original transaction
// with isDuplicate set and charges nothing.
func (s *CreditService) Consume(ctx context.Context, cred domain.APIKeyCredential, userID string, amount int64, reason, idempotencyKey string) (*CreditConsumeResult, error) {
	ctx, span := s.tracer.Start(ctx, "CreditService.Consume")
	defer span.End()

	userID = strings.TrimSpace(userID)
	reason = strings.TrimSpace(reason)
	idempotencyKey = strings.TrimSpace(idempotencyKey)

	switch {
	case userID == "":
		return nil, domain.NewAPIError(domain.CodeInvalidRequest, "user_id is required.", http.StatusBadRequest)
	case amount <= 0:
		return nil, domain.NewAPIError(domain.CodeInvalidRequest, "amount must be a positive integer.", http.StatusBadRequest)
	case amount > domain.MaxCreditAmount:
		return nil, domain.NewAPIError(domain.CodeInvalidRequest, fmt.Sprintf("amount cannot exceed %d.", int64(domain.MaxCreditAmount)), http.StatusBadRequest)
	case reason == "":
		return nil, domain.NewAPIError(domain.CodeInvalidRequest, "reason is required.", http.StatusBadRequest)
	case len(reason) > domain.MaxCreditReasonLen:
		return nil, domain.NewAPIError(domain.CodeInvalidRequest, fmt.Sprintf("reason cannot exceed %d characters.", domain.MaxCreditReasonLen), http.StatusBadRequest)
	case idempotencyKey == "":
		return nil, domain.NewAPIError(domain.CodeInvalidRequest, "idempotency_key is required.", http.StatusBadRequest)
	case len(idempotencyKey) > domain.MaxIdempotencyKeyLen:
		return nil, domain.NewAPIError(domain.CodeInvalidRequest, fmt.Sprintf("idempotency_key cannot exceed %d characters.", domain.MaxIdempotencyKeyLen), http.StatusBadRequest)
	}

	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewAPIError(domain.CodeUserNotFound, "No matching user.", http.StatusNotFound)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("credit consume load user: %w", err)
	}

	txn := domain.CreditTransaction{
		ID:             s.snowflake.Generate().Int64(),
		UserID:         userID,
		ToolID:         cred.ToolID,
		Amount:         amount,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
	}

	recorded, duplicate, err := s.credits.Consume(ctx, txn)
	if err != nil {
		var insufficient *domain.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			return nil, insufficientCreditsError(insufficient)
		}
		if errors.Is(err, domain.ErrNotFound) {
			// A user without a balance row has zero credits.
			return nil, insufficientCreditsError(&domain.InsufficientCreditsError{Balance: 0, Required: amount})
		}
		span.RecordError(err)
		return nil, fmt.Errorf("consume credits: %w", err)
	}

	if !duplicate {
		auditLog(s.logger, "credits.consumed",
			"tool_id", cred.ToolID,
			"user_id", userID,
			"amount", amount,
			"transaction_id", recorded.ID,
		)
	}

	return &CreditConsumeResult{
		Success:       true,
		NewBalance:    recorded.BalanceAfter,
		TransactionID: strconv.FormatInt(recorded.ID, 10),
		IsDuplicate:   duplicate,
	}, nil
}

func insufficientCreditsError(e *domain.InsufficientCreditsError) *domain.APIError {
	return &domain.APIError{
		Code:    domain.CodeInsufficientCredits,
		Message: fmt.Sprintf("Insufficient credits. Current: %d, Required: %d.", e.Balance, e.Required),
		Status:  http.StatusBadRequest,
		Details: map[string]any{
			"current_balance": e.Balance,
			"required":        e.Required,
			"shortfall":       e.Shortfall(),
		},
	}
}
