package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/onesub/vendor-gateway/internal/config"
	"github.com/onesub/vendor-gateway/internal/domain"
	"github.com/onesub/vendor-gateway/internal/service"
)

func newAuthorizeFixture(t *testing.T) (*service.AuthorizeService, *memoryCodeRepo, *memoryTokenRepo, *memorySubscriptionRepo) {
	t.Helper()

	tools := &memoryToolRepo{tools: map[string]domain.Tool{
		"tool_a": {ID: "tool_a", Name: "Tool A", RedirectURIs: []string{"https://tool-a.example/callback"}, IsActive: true},
	}}
	codes := newMemoryCodeRepo()
	tokens := newMemoryTokenRepo()
	subs := &memorySubscriptionRepo{subs: map[string]domain.ToolSubscription{
		"user_1|tool_a": {UserID: "user_1", ToolID: "tool_a", Status: domain.SubscriptionActive, PeriodEnd: time.Now().Add(30 * 24 * time.Hour)},
	}}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{
		AuthorizationCodeTTL: time.Minute,
		VerificationTokenTTL: 24 * time.Hour,
	}

	svc := service.NewAuthorizeService(tools, codes, tokens, subs, node, cfg, zap.NewNop())
	return svc, codes, tokens, subs
}

func TestInitiateIssuesSingleUseCode(t *testing.T) {
	svc, codes, _, _ := newAuthorizeFixture(t)

	resp, err := svc.Initiate(context.Background(), "user_1", "tool_a", "https://tool-a.example/callback", "xyz")
	require.NoError(t, err)
	require.NotEmpty(t, resp.Code)
	require.Contains(t, resp.AuthorizationURL, "code="+resp.Code)
	require.Contains(t, resp.AuthorizationURL, "state=xyz")
	require.True(t, resp.ExpiresAt.After(time.Now()))

	stored, ok := codes.byValue(resp.Code)
	require.True(t, ok)
	require.Equal(t, "user_1", stored.UserID)
	require.Nil(t, stored.UsedAt)
}

func TestInitiateRejectsUnknownTool(t *testing.T) {
	svc, _, _, _ := newAuthorizeFixture(t)

	_, err := svc.Initiate(context.Background(), "user_1", "tool_missing", "https://tool-a.example/callback", "")
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeToolNotFound, apiErr.Code)
}

func TestInitiateRejectsUnregisteredRedirect(t *testing.T) {
	svc, _, _, _ := newAuthorizeFixture(t)

	_, err := svc.Initiate(context.Background(), "user_1", "tool_a", "https://evil.example/callback", "")
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeInvalidRedirect, apiErr.Code)
}

func TestExchangeRedeemsCodeOnce(t *testing.T) {
	svc, _, tokens, _ := newAuthorizeFixture(t)
	ctx := context.Background()
	cred := domain.APIKeyCredential{ToolID: "tool_a", IsActive: true}

	initResp, err := svc.Initiate(ctx, "user_1", "tool_a", "https://tool-a.example/callback", "")
	require.NoError(t, err)

	resp, err := svc.Exchange(ctx, cred, initResp.Code, "https://tool-a.example/callback")
	require.NoError(t, err)
	require.True(t, resp.Valid)
	require.Equal(t, "user_1", resp.OneSubUserID)
	require.NotEmpty(t, resp.VerificationToken)
	require.NotEmpty(t, resp.GrantID)
	require.Len(t, resp.Entitlements, 1)
	require.Equal(t, "tool_a", resp.Entitlements[0].ToolID)

	stored, ok := tokens.byValue(resp.VerificationToken)
	require.True(t, ok)
	require.Equal(t, resp.GrantID, stored.GrantID)

	_, err = svc.Exchange(ctx, cred, initResp.Code, "https://tool-a.example/callback")
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeCodeAlreadyUsed, apiErr.Code)
}

func TestExchangeConcurrentDuplicatesSingleWinner(t *testing.T) {
	svc, _, tokens, _ := newAuthorizeFixture(t)
	ctx := context.Background()
	cred := domain.APIKeyCredential{ToolID: "tool_a", IsActive: true}

	initResp, err := svc.Initiate(ctx, "user_1", "tool_a", "https://tool-a.example/callback", "")
	require.NoError(t, err)

	const concurrency = 100
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		raceLoss  int
	)

	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			resp, err := svc.Exchange(ctx, cred, initResp.Code, "https://tool-a.example/callback")
			mu.Lock()
			defer mu.Unlock()
			if err == nil && resp.Valid {
				successes++
				return
			}
			apiErr, ok := domain.AsAPIError(err)
			if ok && apiErr.Code == domain.CodeCodeAlreadyUsed {
				raceLoss++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, concurrency-1, raceLoss)
	require.Equal(t, 1, tokens.count())
}

func TestExchangeExpiredCode(t *testing.T) {
	svc, codes, _, _ := newAuthorizeFixture(t)
	ctx := context.Background()
	cred := domain.APIKeyCredential{ToolID: "tool_a", IsActive: true}

	initResp, err := svc.Initiate(ctx, "user_1", "tool_a", "https://tool-a.example/callback", "")
	require.NoError(t, err)
	codes.expire(initResp.Code)

	_, err = svc.Exchange(ctx, cred, initResp.Code, "https://tool-a.example/callback")
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeCodeInvalidOrExpired, apiErr.Code)
}

func TestExchangeWrongToolDoesNotRevealReason(t *testing.T) {
	svc, _, _, _ := newAuthorizeFixture(t)
	ctx := context.Background()

	initResp, err := svc.Initiate(ctx, "user_1", "tool_a", "https://tool-a.example/callback", "")
	require.NoError(t, err)

	otherCred := domain.APIKeyCredential{ToolID: "tool_b", IsActive: true}
	_, err = svc.Exchange(ctx, otherCred, initResp.Code, "https://tool-a.example/callback")
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeCodeInvalidOrExpired, apiErr.Code)
	require.NotContains(t, strings.ToLower(apiErr.Message), "tool")
}

func TestExchangeInactiveSubscription(t *testing.T) {
	svc, _, _, subs := newAuthorizeFixture(t)
	ctx := context.Background()
	cred := domain.APIKeyCredential{ToolID: "tool_a", IsActive: true}

	subs.set(domain.ToolSubscription{UserID: "user_1", ToolID: "tool_a", Status: domain.SubscriptionCancelled})

	initResp, err := svc.Initiate(ctx, "user_1", "tool_a", "https://tool-a.example/callback", "")
	require.NoError(t, err)

	_, err = svc.Exchange(ctx, cred, initResp.Code, "https://tool-a.example/callback")
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeSubscriptionInactive, apiErr.Code)
}
