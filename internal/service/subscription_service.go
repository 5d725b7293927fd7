package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/onesub/vendor-gateway/internal/config"
	"github.com/onesub/vendor-gateway/internal/domain"
	"github.com/onesub/vendor-gateway/internal/repository"
)

// SubscriptionService answers read-only subscription lookups for vendors
// that key off a user ID or an email hash instead of a verification token.
type SubscriptionService struct {
	users   repository.UserRepository
	subs    repository.SubscriptionRepository
	credits repository.CreditRepository
	cfg     config.Config
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewSubscriptionService wires dependencies.
func NewSubscriptionService(users repository.UserRepository, subs repository.SubscriptionRepository, credits repository.CreditRepository, cfg config.Config, logger *zap.Logger) *SubscriptionService {
	return &SubscriptionService{
		users:   users,
		subs:    subs,
		credits: credits,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("github.com/onesub/vendor-gateway/internal/service"),
	}
}

// VerifySubscription resolves the user and reports whether their subscription
// for the caller's tool currently grants access. No token is issued here.
func (s *SubscriptionService) VerifySubscription(ctx context.Context, cred domain.APIKeyCredential, oneSubUserID, emailSHA256 string) (*SubscriptionResult, error) {
	ctx, span := s.tracer.Start(ctx, "SubscriptionService.VerifySubscription")
	defer span.End()

	oneSubUserID = strings.TrimSpace(oneSubUserID)
	emailSHA256 = strings.ToLower(strings.TrimSpace(emailSHA256))
	if oneSubUserID == "" && emailSHA256 == "" {
		return nil, domain.NewAPIError(domain.CodeInvalidRequest, "oneSubUserId or emailSha256 is required.", http.StatusBadRequest)
	}

	var (
		user domain.User
		err  error
	)
	if oneSubUserID != "" {
		user, err = s.users.GetByID(ctx, oneSubUserID)
	} else {
		user, err = s.users.GetByEmailHash(ctx, emailSHA256)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewAPIError(domain.CodeUserNotFound, "No matching user.", http.StatusNotFound)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("subscription verify load user: %w", err)
	}

	result := &SubscriptionResult{
		OneSubUserID: user.ID,
		Status:       "none",
		CacheUntil:   time.Now().Add(s.cfg.VerifyCacheWindow),
	}

	if s.credits != nil {
		balance, err := s.credits.GetBalance(ctx, user.ID)
		switch {
		case err == nil:
			result.CreditsRemaining = &balance
		case errors.Is(err, domain.ErrNotFound):
			var zero int64
			result.CreditsRemaining = &zero
		default:
			span.RecordError(err)
			return nil, fmt.Errorf("subscription verify load balance: %w", err)
		}
	}

	sub, err := s.subs.GetSubscription(ctx, user.ID, cred.ToolID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return result, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("subscription verify load subscription: %w", err)
	}

	periodEnd := sub.PeriodEnd
	result.Active = sub.Status.Granting()
	result.Status = string(sub.Status)
	result.Entitlements = sub.Entitlements()
	result.PeriodEnd = &periodEnd
	return result, nil
}
