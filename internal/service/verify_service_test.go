package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/onesub/vendor-gateway/internal/config"
	"github.com/onesub/vendor-gateway/internal/domain"
	"github.com/onesub/vendor-gateway/internal/service"
)

type verifyFixture struct {
	svc         *service.VerifyService
	tokens      *memoryTokenRepo
	revocations *memoryRevocationRepo
	subs        *memorySubscriptionRepo
	cache       *memoryVerifyCache
	cfg         config.Config
}

func newVerifyFixture(t *testing.T) *verifyFixture {
	t.Helper()

	tokens := newMemoryTokenRepo()
	revocations := newMemoryRevocationRepo(tokens)
	subs := &memorySubscriptionRepo{subs: map[string]domain.ToolSubscription{
		"user_1|tool_a": {UserID: "user_1", ToolID: "tool_a", Status: domain.SubscriptionActive, PeriodEnd: time.Now().Add(30 * 24 * time.Hour)},
	}}
	cache := newMemoryVerifyCache()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{
		VerificationTokenTTL: 24 * time.Hour,
		TokenRotationWindow:  time.Hour,
		VerifyCacheWindow:    5 * time.Minute,
		ReverifyHorizon:      6 * time.Hour,
	}

	svc := service.NewVerifyService(tokens, revocations, subs, cache, node, cfg, zap.NewNop())
	return &verifyFixture{svc: svc, tokens: tokens, revocations: revocations, subs: subs, cache: cache, cfg: cfg}
}

func (f *verifyFixture) seedToken(t *testing.T, expiresIn time.Duration) domain.VerificationToken {
	t.Helper()
	now := time.Now()
	token := domain.VerificationToken{
		ID:        now.UnixNano(),
		Token:     "vt_" + now.Format("150405.000000000"),
		ToolID:    "tool_a",
		UserID:    "user_1",
		GrantID:   "grant_1",
		IssuedAt:  now,
		ExpiresAt: now.Add(expiresIn),
	}
	created, err := f.tokens.CreateToken(context.Background(), token)
	require.NoError(t, err)
	return created
}

var verifyCred = domain.APIKeyCredential{ToolID: "tool_a", IsActive: true}

func TestVerifyGrantingToken(t *testing.T) {
	f := newVerifyFixture(t)
	token := f.seedToken(t, 24*time.Hour)

	before := time.Now()
	resp, err := f.svc.Verify(context.Background(), verifyCred, token.Token)
	require.NoError(t, err)
	require.True(t, resp.Valid)
	require.Equal(t, "user_1", resp.OneSubUserID)
	require.Len(t, resp.Entitlements, 1)
	require.False(t, resp.TokenRotated)

	require.WithinDuration(t, before.Add(f.cfg.VerifyCacheWindow), resp.CacheUntil, time.Second)
	require.Equal(t, resp.CacheUntil.Add(f.cfg.ReverifyHorizon-f.cfg.VerifyCacheWindow), resp.NextVerificationBefore)
}

func TestVerifyPinsIdenticalCacheUntilWithinWindow(t *testing.T) {
	f := newVerifyFixture(t)
	token := f.seedToken(t, 24*time.Hour)
	ctx := context.Background()

	first, err := f.svc.Verify(ctx, verifyCred, token.Token)
	require.NoError(t, err)
	second, err := f.svc.Verify(ctx, verifyCred, token.Token)
	require.NoError(t, err)

	require.Equal(t, first.CacheUntil, second.CacheUntil)
	require.Equal(t, first.NextVerificationBefore, second.NextVerificationBefore)
}

func TestVerifyUnknownToken(t *testing.T) {
	f := newVerifyFixture(t)

	_, err := f.svc.Verify(context.Background(), verifyCred, "vt_missing")
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeTokenNotFound, apiErr.Code)
	require.Equal(t, domain.ActionTerminateSession, apiErr.Action)
}

func TestVerifyTokenFromOtherTool(t *testing.T) {
	f := newVerifyFixture(t)
	token := f.seedToken(t, 24*time.Hour)

	otherCred := domain.APIKeyCredential{ToolID: "tool_b", IsActive: true}
	_, err := f.svc.Verify(context.Background(), otherCred, token.Token)
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeTokenNotFound, apiErr.Code)
}

func TestVerifyExpiredToken(t *testing.T) {
	f := newVerifyFixture(t)
	token := f.seedToken(t, -time.Minute)

	_, err := f.svc.Verify(context.Background(), verifyCred, token.Token)
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeTokenNotFound, apiErr.Code)
	require.Equal(t, domain.ActionTerminateSession, apiErr.Action)
}

func TestVerifySeesRevocationImmediately(t *testing.T) {
	f := newVerifyFixture(t)
	token := f.seedToken(t, 24*time.Hour)
	ctx := context.Background()

	resp, err := f.svc.Verify(ctx, verifyCred, token.Token)
	require.NoError(t, err)
	require.True(t, resp.Valid)

	created, err := f.revocations.Record(ctx, domain.Revocation{
		ID: 1, UserID: "user_1", ToolID: "tool_a", Reason: domain.ReasonSubscriptionCancelled,
	})
	require.NoError(t, err)
	require.True(t, created)

	_, err = f.svc.Verify(ctx, verifyCred, token.Token)
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeTokenRevoked, apiErr.Code)
	require.Equal(t, domain.ActionTerminateSession, apiErr.Action)
}

func TestVerifyNonGrantingSubscription(t *testing.T) {
	f := newVerifyFixture(t)
	token := f.seedToken(t, 24*time.Hour)

	f.subs.set(domain.ToolSubscription{UserID: "user_1", ToolID: "tool_a", Status: domain.SubscriptionPastDue})

	_, err := f.svc.Verify(context.Background(), verifyCred, token.Token)
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeSubscriptionInactive, apiErr.Code)
	require.Equal(t, domain.ActionTerminateSession, apiErr.Action)
}

func TestVerifyRotatesTokenNearExpiry(t *testing.T) {
	f := newVerifyFixture(t)
	token := f.seedToken(t, 30*time.Minute)
	ctx := context.Background()

	resp, err := f.svc.Verify(ctx, verifyCred, token.Token)
	require.NoError(t, err)
	require.True(t, resp.Valid)
	require.True(t, resp.TokenRotated)
	require.NotEmpty(t, resp.VerificationToken)
	require.NotEqual(t, token.Token, resp.VerificationToken)

	replacement, ok := f.tokens.byValue(resp.VerificationToken)
	require.True(t, ok)
	require.Equal(t, token.GrantID, replacement.GrantID)
	require.NotNil(t, replacement.RotatedFrom)
	require.Equal(t, token.ID, *replacement.RotatedFrom)

	// The old token stays valid through its original expiry so in-flight
	// requests keep working.
	oldResp, err := f.svc.Verify(ctx, verifyCred, token.Token)
	require.NoError(t, err)
	require.True(t, oldResp.Valid)
}

func TestVerifyRefusesRotationWhenNotGranting(t *testing.T) {
	f := newVerifyFixture(t)
	token := f.seedToken(t, 30*time.Minute)

	f.subs.set(domain.ToolSubscription{UserID: "user_1", ToolID: "tool_a", Status: domain.SubscriptionCancelled})

	_, err := f.svc.Verify(context.Background(), verifyCred, token.Token)
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeSubscriptionInactive, apiErr.Code)

	// No replacement token was minted.
	require.Equal(t, 1, f.tokens.count())
}

func TestVerifyNoRotationOutsideWindow(t *testing.T) {
	f := newVerifyFixture(t)
	token := f.seedToken(t, 24*time.Hour)

	resp, err := f.svc.Verify(context.Background(), verifyCred, token.Token)
	require.NoError(t, err)
	require.False(t, resp.TokenRotated)
	require.Empty(t, resp.VerificationToken)
	require.Equal(t, 1, f.tokens.count())
}
