package bootstrap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/onesub/vendor-gateway/internal/config"
)

const (
	demoToolID  = "tool_demo"
	demoUserID  = "user_demo"
	demoEmail   = "demo@onesub.dev"
	demoRawKey  = "sk-tool-demo-0000000000000000"
	demoWebhook = "http://127.0.0.1:9999/webhooks/onesub"
	demoCredits = 1000
)

// EnsureDemoData seeds a demo tool, user, subscription and API key for
// development and e2e runs. Production environments skip it entirely.
func EnsureDemoData(lc fx.Lifecycle, cfg config.Config, pool *pgxpool.Pool, node *snowflake.Node, logger *zap.Logger) {
	if cfg.Environment != "development" {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return seedDemoData(ctx, pool, node, logger)
		},
	})
}

func seedDemoData(ctx context.Context, pool *pgxpool.Pool, node *snowflake.Node, logger *zap.Logger) error {
	emailHash := sha256.Sum256([]byte(demoEmail))
	keyHash := sha256.Sum256([]byte(demoRawKey))

	statements := []struct {
		sql  string
		args []any
	}{
		{
			sql: `INSERT INTO tools (id, name, redirect_uris) VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING`,
			args: []any{demoToolID, "Demo Tool", []string{"http://localhost:3000/callback"}},
		},
		{
			sql: `INSERT INTO users (id, email, email_sha256) VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING`,
			args: []any{demoUserID, demoEmail, hex.EncodeToString(emailHash[:])},
		},
		{
			sql: `INSERT INTO tool_subscriptions (user_id, tool_id, status, period_end) VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, tool_id) DO NOTHING`,
			args: []any{demoUserID, demoToolID, "active", time.Now().Add(30 * 24 * time.Hour)},
		},
		{
			sql: `INSERT INTO api_keys (id, tool_id, key_hash, key_prefix, webhook_url, webhook_secret) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (key_hash) DO NOTHING`,
			args: []any{node.Generate().Int64(), demoToolID, hex.EncodeToString(keyHash[:]), "sk-tool-demo", demoWebhook, "whsec_demo"},
		},
		{
			sql: `INSERT INTO credit_balances (user_id, balance) VALUES ($1, $2)
ON CONFLICT (user_id) DO NOTHING`,
			args: []any{demoUserID, demoCredits},
		},
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt.sql, stmt.args...); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}

	if logger != nil {
		logger.Info("demo data seeded",
			zap.String("tool_id", demoToolID),
			zap.String("user_id", demoUserID),
		)
	}
	return nil
}
