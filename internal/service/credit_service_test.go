package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/onesub/vendor-gateway/internal/domain"
	"github.com/onesub/vendor-gateway/internal/service"
)

func newCreditFixture(t *testing.T) (*service.CreditService, *memoryCreditRepo) {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	users := &memoryUserRepo{users: map[string]domain.User{
		"user_1": {ID: "user_1", Email: "user@example.com"},
	}}
	credits := newMemoryCreditRepo()
	credits.setBalance("user_1", 100)

	svc := service.NewCreditService(credits, users, node, zap.NewNop())
	return svc, credits
}

var creditCred = domain.APIKeyCredential{ToolID: "tool_a", IsActive: true}

func TestConsumeDebitsBalance(t *testing.T) {
	svc, credits := newCreditFixture(t)

	resp, err := svc.Consume(context.Background(), creditCred, "user_1", 30, "image generation", "req-1")
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.EqualValues(t, 70, resp.NewBalance)
	require.NotEmpty(t, resp.TransactionID)
	require.False(t, resp.IsDuplicate)

	balance, err := credits.GetBalance(context.Background(), "user_1")
	require.NoError(t, err)
	require.EqualValues(t, 70, balance)
}

func TestConsumeReplaySameIdempotencyKey(t *testing.T) {
	svc, credits := newCreditFixture(t)

	first, err := svc.Consume(context.Background(), creditCred, "user_1", 30, "image generation", "req-1")
	require.NoError(t, err)

	replay, err := svc.Consume(context.Background(), creditCred, "user_1", 30, "image generation", "req-1")
	require.NoError(t, err)
	require.True(t, replay.IsDuplicate)
	require.Equal(t, first.TransactionID, replay.TransactionID)
	require.Equal(t, first.NewBalance, replay.NewBalance)

	// The balance was charged exactly once.
	balance, err := credits.GetBalance(context.Background(), "user_1")
	require.NoError(t, err)
	require.EqualValues(t, 70, balance)
}

func TestConsumeInsufficientBalance(t *testing.T) {
	svc, credits := newCreditFixture(t)

	_, err := svc.Consume(context.Background(), creditCred, "user_1", 150, "batch run", "req-1")
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeInsufficientCredits, apiErr.Code)
	require.EqualValues(t, 100, apiErr.Details["current_balance"])
	require.EqualValues(t, 150, apiErr.Details["required"])
	require.EqualValues(t, 50, apiErr.Details["shortfall"])

	// A refused consume charges nothing.
	balance, err := credits.GetBalance(context.Background(), "user_1")
	require.NoError(t, err)
	require.EqualValues(t, 100, balance)
}

func TestConsumeNoBalanceRowReadsAsZero(t *testing.T) {
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	users := &memoryUserRepo{users: map[string]domain.User{
		"user_2": {ID: "user_2", Email: "other@example.com"},
	}}
	svc := service.NewCreditService(newMemoryCreditRepo(), users, node, zap.NewNop())

	_, err = svc.Consume(context.Background(), creditCred, "user_2", 10, "run", "req-1")
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeInsufficientCredits, apiErr.Code)
	require.EqualValues(t, 0, apiErr.Details["current_balance"])
	require.EqualValues(t, 10, apiErr.Details["shortfall"])
}

func TestConsumeUnknownUser(t *testing.T) {
	svc, _ := newCreditFixture(t)

	_, err := svc.Consume(context.Background(), creditCred, "user_missing", 10, "run", "req-1")
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeUserNotFound, apiErr.Code)
}

func TestConsumeValidatesInput(t *testing.T) {
	svc, _ := newCreditFixture(t)

	cases := []struct {
		name           string
		userID         string
		amount         int64
		reason         string
		idempotencyKey string
	}{
		{"missing user", "", 10, "run", "req-1"},
		{"zero amount", "user_1", 0, "run", "req-1"},
		{"negative amount", "user_1", -5, "run", "req-1"},
		{"amount over cap", "user_1", domain.MaxCreditAmount + 1, "run", "req-1"},
		{"missing reason", "user_1", 10, "", "req-1"},
		{"reason too long", "user_1", 10, strings.Repeat("r", domain.MaxCreditReasonLen+1), "req-1"},
		{"missing idempotency key", "user_1", 10, "run", ""},
		{"idempotency key too long", "user_1", 10, "run", strings.Repeat("k", domain.MaxIdempotencyKeyLen+1)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Consume(context.Background(), creditCred, tc.userID, tc.amount, tc.reason, tc.idempotencyKey)
			apiErr, ok := domain.AsAPIError(err)
			require.True(t, ok)
			require.Equal(t, domain.CodeInvalidRequest, apiErr.Code)
		})
	}
}
