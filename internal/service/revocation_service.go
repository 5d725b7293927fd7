package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/onesub/vendor-gateway/internal/domain"
	"github.com/onesub/vendor-gateway/internal/repository"
)

// RevocationNotifier emits the entitlement.revoked webhook for a pair.
type RevocationNotifier interface {
	DispatchRevocation(ctx context.Context, toolID, userID string) error
}

// RevocationService is the single entrypoint for ending access. Manual
// cancellation and billing-driven cancellation both land here, so the two
// paths can never drift apart.
type RevocationService struct {
	revocations repository.RevocationRepository
	notifier    RevocationNotifier
	snowflake   *snowflake.Node
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewRevocationService wires dependencies.
func NewRevocationService(revocations repository.RevocationRepository, notifier RevocationNotifier, node *snowflake.Node, logger *zap.Logger) *RevocationService {
	return &RevocationService{
		revocations: revocations,
		notifier:    notifier,
		snowflake:   node,
		logger:      logger,
		tracer:      otel.Tracer("github.com/onesub/vendor-gateway/internal/service"),
	}
}

// Revoke records the revocation and flips every outstanding token in one
// store transaction. The webhook fires asynchronously on the first recording
// only; delivery failures never block or reverse the revocation.
func (s *RevocationService) Revoke(ctx context.Context, userID, toolID string, reason domain.RevocationReason) error {
	ctx, span := s.startSpan(ctx, "RevocationService.Revoke")
	defer span.End()

	if userID == "" || toolID == "" {
		return domain.NewAPIError(domain.CodeInvalidRequest, "userId and toolId are required.", http.StatusBadRequest)
	}
	if !reason.Valid() {
		return domain.NewAPIError(domain.CodeInvalidRequest, fmt.Sprintf("unknown revocation reason %q.", reason), http.StatusBadRequest)
	}

	rev := domain.Revocation{
		ID:     s.snowflake.Generate().Int64(),
		UserID: userID,
		ToolID: toolID,
		Reason: reason,
	}

	created, err := s.revocations.Record(ctx, rev)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("record revocation: %w", err)
	}
	if !created {
		// Already revoked; idempotent re-invocation is expected.
		return nil
	}

	auditLog(s.logger, "entitlement.revoked", "tool_id", toolID, "user_id", userID, "reason", string(reason))

	if s.notifier != nil {
		notifyCtx := context.WithoutCancel(ctx)
		go func() {
			if err := s.notifier.DispatchRevocation(notifyCtx, toolID, userID); err != nil {
				s.logger.Error("revocation webhook dispatch failed",
					zap.String("tool_id", toolID),
					zap.String("user_id", userID),
					zap.Error(err),
				)
			}
		}()
	}

	return nil
}

// HandleBillingEvent maps a billing status transition onto the unified
// revocation path. Transitions into granting states are ignored here; access
// is always re-derived at verify time.
func (s *RevocationService) HandleBillingEvent(ctx context.Context, userID, toolID string, status domain.SubscriptionStatus) error {
	ctx, span := s.startSpan(ctx, "RevocationService.HandleBillingEvent")
	defer span.End()

	if status.Granting() {
		return nil
	}

	reason, ok := reasonForStatus(status)
	if !ok {
		return domain.NewAPIError(domain.CodeInvalidRequest, fmt.Sprintf("unknown subscription status %q.", status), http.StatusBadRequest)
	}
	return s.Revoke(ctx, userID, toolID, reason)
}

func reasonForStatus(status domain.SubscriptionStatus) (domain.RevocationReason, bool) {
	switch status {
	case domain.SubscriptionCancelled:
		return domain.ReasonSubscriptionCancelled, true
	case domain.SubscriptionPastDue:
		return domain.ReasonPaymentFailed, true
	case domain.SubscriptionPaused:
		return domain.ReasonManual, true
	case "tool_disabled":
		return domain.ReasonToolDisabled, true
	}
	return "", false
}

func (s *RevocationService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}
