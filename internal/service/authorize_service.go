package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/onesub/vendor-gateway/internal/config"
	"github.com/onesub/vendor-gateway/internal/domain"
	"github.com/onesub/vendor-gateway/internal/repository"
)

// AuthorizeService mints authorization codes and redeems them for
// verification tokens.
type AuthorizeService struct {
	tools     repository.ToolRepository
	codes     repository.CodeRepository
	tokens    repository.TokenRepository
	subs      repository.SubscriptionRepository
	snowflake *snowflake.Node
	cfg       config.Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewAuthorizeService wires dependencies.
func NewAuthorizeService(tools repository.ToolRepository, codes repository.CodeRepository, tokens repository.TokenRepository, subs repository.SubscriptionRepository, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *AuthorizeService {
	return &AuthorizeService{
		tools:     tools,
		codes:     codes,
		tokens:    tokens,
		subs:      subs,
		snowflake: node,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("github.com/onesub/vendor-gateway/internal/service"),
	}
}

// Initiate creates a short-lived single-use authorization code for the
// authenticated user. Only the opaque code and the caller's state end up in
// the authorization URL, never entitlement data.
func (s *AuthorizeService) Initiate(ctx context.Context, userID, toolID, redirectURI, state string) (*InitiateResult, error) {
	ctx, span := s.startSpan(ctx, "AuthorizeService.Initiate")
	defer span.End()

	tool, err := s.tools.GetTool(ctx, toolID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewAPIError(domain.CodeToolNotFound, "Unknown tool.", http.StatusNotFound)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("initiate load tool: %w", err)
	}
	if !tool.IsActive {
		return nil, domain.NewAPIError(domain.CodeToolNotFound, "Tool is disabled.", http.StatusNotFound)
	}

	redirect := strings.TrimSpace(redirectURI)
	if !tool.AllowsRedirect(redirect) {
		return nil, domain.NewAPIError(domain.CodeInvalidRedirect, "redirectUri does not match a registered value for this tool.", http.StatusBadRequest)
	}

	now := time.Now()
	code := domain.AuthorizationCode{
		ID:          s.snowflake.Generate().Int64(),
		Code:        randomToken(32),
		ToolID:      tool.ID,
		UserID:      userID,
		RedirectURI: redirect,
		State:       state,
		ExpiresAt:   now.Add(s.cfg.AuthorizationCodeTTL),
	}
	if err := s.codes.CreateCode(ctx, code); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persist authorization code: %w", err)
	}

	s.audit("authorization_code.issued", "tool_id", tool.ID, "user_id", userID)

	return &InitiateResult{
		Code:             code.Code,
		AuthorizationURL: buildAuthorizationURL(redirect, code.Code, state),
		ExpiresAt:        code.ExpiresAt,
	}, nil
}

// Exchange redeems a code for a verification token. Redemption runs through
// one conditional update in the store, so exactly one of any number of
// concurrent exchanges wins.
func (s *AuthorizeService) Exchange(ctx context.Context, cred domain.APIKeyCredential, codeValue, redirectURI string) (*ExchangeResult, error) {
	ctx, span := s.startSpan(ctx, "AuthorizeService.Exchange")
	defer span.End()

	codeValue = strings.TrimSpace(codeValue)
	if codeValue == "" {
		return nil, domain.NewAPIError(domain.CodeInvalidRequest, "code is required.", http.StatusBadRequest)
	}

	claimed, err := s.codes.ConsumeCode(ctx, codeValue)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCodeAlreadyUsed):
			// Expected under concurrent redemption; the race loser is benign.
			s.logger.Debug("authorization code race lost", zap.String("tool_id", cred.ToolID))
			return nil, exchangeFailure(domain.CodeCodeAlreadyUsed, "This authorization code has already been exchanged.")
		case errors.Is(err, domain.ErrNotFound):
			return nil, exchangeFailure(domain.CodeCodeInvalidOrExpired, "Authorization code not found or expired.")
		default:
			span.RecordError(err)
			return nil, fmt.Errorf("consume authorization code: %w", err)
		}
	}

	if claimed.ToolID != cred.ToolID || claimed.RedirectURI != strings.TrimSpace(redirectURI) {
		// The code is burned either way; do not reveal which check failed.
		return nil, exchangeFailure(domain.CodeCodeInvalidOrExpired, "Authorization code not found or expired.")
	}

	sub, err := s.subs.GetSubscription(ctx, claimed.UserID, claimed.ToolID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		return nil, fmt.Errorf("exchange load subscription: %w", err)
	}
	if err != nil || !sub.Status.Granting() {
		return nil, exchangeFailure(domain.CodeSubscriptionInactive, "The user does not have an active subscription for this tool.")
	}

	now := time.Now()
	token := domain.VerificationToken{
		ID:        s.snowflake.Generate().Int64(),
		Token:     randomToken(32),
		ToolID:    claimed.ToolID,
		UserID:    claimed.UserID,
		GrantID:   uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.VerificationTokenTTL),
	}
	created, err := s.tokens.CreateToken(ctx, token)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persist verification token: %w", err)
	}

	s.audit("authorization_code.exchanged", "tool_id", claimed.ToolID, "user_id", claimed.UserID, "grant_id", created.GrantID)

	return &ExchangeResult{
		Valid:             true,
		OneSubUserID:      claimed.UserID,
		VerificationToken: created.Token,
		Entitlements:      sub.Entitlements(),
		GrantID:           created.GrantID,
	}, nil
}

func (s *AuthorizeService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthorizeService) audit(event string, attrs ...any) {
	auditLog(s.logger, event, attrs...)
}

// exchangeFailure builds the expected-failure shape for exchange: valid:false
// with a stable code, delivered with a 200 since the request itself was fine.
func exchangeFailure(code, message string) *domain.APIError {
	return domain.NewAPIError(code, message, http.StatusOK)
}

func buildAuthorizationURL(redirectURI, code, state string) string {
	values := url.Values{}
	values.Set("code", code)
	values.Set("state", state)
	separator := "?"
	if strings.Contains(redirectURI, "?") {
		separator = "&"
	}
	return redirectURI + separator + values.Encode()
}

func randomToken(bytes int) string {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

func auditLog(logger *zap.Logger, event string, attrs ...any) {
	if logger == nil {
		logger = zap.L()
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}
