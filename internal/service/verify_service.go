package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/onesub/vendor-gateway/internal/config"
	"github.com/onesub/vendor-gateway/internal/domain"
	"github.com/onesub/vendor-gateway/internal/repository"
)

// VerifyService validates verification tokens against live entitlement state
// and rotates tokens nearing expiry.
type VerifyService struct {
	tokens      repository.TokenRepository
	revocations repository.RevocationRepository
	subs        repository.SubscriptionRepository
	cache       repository.VerifyCache
	snowflake   *snowflake.Node
	cfg         config.Config
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewVerifyService wires dependencies.
func NewVerifyService(tokens repository.TokenRepository, revocations repository.RevocationRepository, subs repository.SubscriptionRepository, cache repository.VerifyCache, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *VerifyService {
	return &VerifyService{
		tokens:      tokens,
		revocations: revocations,
		subs:        subs,
		cache:       cache,
		snowflake:   node,
		cfg:         cfg,
		logger:      logger,
		tracer:      otel.Tracer("github.com/onesub/vendor-gateway/internal/service"),
	}
}

// Verify re-derives the access decision from current entitlement state on
// every call. Only the cacheUntil horizon is pinned between calls; validity
// itself always comes from the store so revocations surface immediately.
func (s *VerifyService) Verify(ctx context.Context, cred domain.APIKeyCredential, tokenValue string) (*VerifyResult, error) {
	ctx, span := s.startSpan(ctx, "VerifyService.Verify")
	defer span.End()

	tokenValue = strings.TrimSpace(tokenValue)
	if tokenValue == "" {
		return nil, domain.NewTerminalError(domain.CodeTokenNotFound, "Verification token is required.")
	}

	token, err := s.tokens.GetByValue(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewTerminalError(domain.CodeTokenNotFound, "Verification token is not recognized; the user must launch the tool again.")
		}
		span.RecordError(err)
		return nil, fmt.Errorf("verify load token: %w", err)
	}
	if token.ToolID != cred.ToolID {
		return nil, domain.NewTerminalError(domain.CodeTokenNotFound, "Verification token is not recognized; the user must launch the tool again.")
	}

	if token.IsRevoked {
		return nil, domain.NewTerminalError(domain.CodeTokenRevoked, "Access for this user has been revoked; end the session.")
	}

	rev, err := s.revocations.Get(ctx, token.UserID, token.ToolID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		return nil, fmt.Errorf("verify load revocation: %w", err)
	}
	if err == nil {
		return nil, domain.NewTerminalError(domain.CodeAccessRevoked, fmt.Sprintf("Access for this user was revoked (%s); end the session.", rev.Reason))
	}

	now := time.Now()
	if token.Expired(now) {
		return nil, domain.NewTerminalError(domain.CodeTokenNotFound, "Verification token has expired; the user must launch the tool again.")
	}

	sub, err := s.subs.GetSubscription(ctx, token.UserID, token.ToolID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		return nil, fmt.Errorf("verify load subscription: %w", err)
	}
	if err != nil {
		return nil, domain.NewTerminalError(domain.CodeSubscriptionInactive, "The user has no subscription for this tool; end the session.")
	}
	if !sub.Status.Granting() {
		return nil, domain.NewTerminalError(domain.CodeSubscriptionInactive, fmt.Sprintf("The user's subscription is %s and no longer grants access; end the session.", sub.Status))
	}

	cacheUntil := s.pinCacheUntil(ctx, token.Token, now)

	result := &VerifyResult{
		Valid:                  true,
		OneSubUserID:           token.UserID,
		Entitlements:           sub.Entitlements(),
		CacheUntil:             cacheUntil,
		NextVerificationBefore: cacheUntil.Add(s.cfg.ReverifyHorizon - s.cfg.VerifyCacheWindow),
	}

	// Rotation only while the subscription still grants access. Refusing
	// rotation for lapsed subscriptions closes the "keep calling verify to
	// extend access forever" gap; the granting check above already did that.
	if token.ExpiresAt.Sub(now) < s.cfg.TokenRotationWindow {
		rotated, err := s.rotate(ctx, token, now)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		result.TokenRotated = true
		result.VerificationToken = rotated.Token
	}

	return result, nil
}

// rotate issues a replacement token. The old token keeps its original expiry
// so in-flight vendor requests keep working through the grace overlap.
func (s *VerifyService) rotate(ctx context.Context, old domain.VerificationToken, now time.Time) (domain.VerificationToken, error) {
	oldID := old.ID
	replacement := domain.VerificationToken{
		ID:          s.snowflake.Generate().Int64(),
		Token:       randomToken(32),
		ToolID:      old.ToolID,
		UserID:      old.UserID,
		GrantID:     old.GrantID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.cfg.VerificationTokenTTL),
		RotatedFrom: &oldID,
	}
	created, err := s.tokens.CreateToken(ctx, replacement)
	if err != nil {
		return domain.VerificationToken{}, fmt.Errorf("persist rotated token: %w", err)
	}
	s.audit("verification_token.rotated", "tool_id", old.ToolID, "user_id", old.UserID, "grant_id", old.GrantID)
	return created, nil
}

// pinCacheUntil makes repeated verifies inside one window return an identical
// horizon. A cache outage degrades to per-call horizons, never to a stale
// access decision.
func (s *VerifyService) pinCacheUntil(ctx context.Context, tokenValue string, now time.Time) time.Time {
	candidate := now.Add(s.cfg.VerifyCacheWindow)
	if s.cache == nil {
		return candidate
	}
	pinned, err := s.cache.PinCacheUntil(ctx, tokenValue, candidate)
	if err != nil {
		s.logger.Warn("verify cache unavailable", zap.Error(err))
		return candidate
	}
	return pinned
}

func (s *VerifyService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *VerifyService) audit(event string, attrs ...any) {
	auditLog(s.logger, event, attrs...)
}
