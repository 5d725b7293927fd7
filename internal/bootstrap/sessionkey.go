package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/onesub/vendor-gateway/internal/config"
	"github.com/onesub/vendor-gateway/internal/session"
)

const demoIssuer = "https://onesub.dev"

// EnsureSessionKey provisions the session signing key at startup so session
// tokens validate from the first request on a fresh database. In development
// it also mints a session token for the demo user and logs it, making the
// initiate flow drivable without the platform.
func EnsureSessionKey(lc fx.Lifecycle, cfg config.Config, keys *session.KeyManager, sessions *session.Generator, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			key, err := keys.EnsureSigningKey(ctx)
			if err != nil {
				return fmt.Errorf("ensure session signing key: %w", err)
			}
			logger.Info("session signing key ready", zap.String("kid", key.KID))

			if cfg.Environment != "development" {
				return nil
			}
			token, err := sessions.Generate(ctx, demoUserID, demoEmail, demoIssuer)
			if err != nil {
				return fmt.Errorf("mint demo session token: %w", err)
			}
			logger.Info("demo session token minted",
				zap.String("user_id", demoUserID),
				zap.String("session_token", token),
			)
			return nil
		},
	})
}
