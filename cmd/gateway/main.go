package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	cacheadapter "github.com/onesub/vendor-gateway/internal/adapter/cache"
	"github.com/onesub/vendor-gateway/internal/bootstrap"
	"github.com/onesub/vendor-gateway/internal/config"
	"github.com/onesub/vendor-gateway/internal/db"
	httptransport "github.com/onesub/vendor-gateway/internal/http"
	"github.com/onesub/vendor-gateway/internal/http/handler"
	"github.com/onesub/vendor-gateway/internal/http/middleware"
	"github.com/onesub/vendor-gateway/internal/repository"
	"github.com/onesub/vendor-gateway/internal/server"
	"github.com/onesub/vendor-gateway/internal/service"
	"github.com/onesub/vendor-gateway/internal/session"
	"github.com/onesub/vendor-gateway/internal/telemetry"
	"github.com/onesub/vendor-gateway/internal/webhook"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newRedisClient,
			newToolRepository,
			newUserRepository,
			newCodeRepository,
			newTokenRepository,
			newRevocationRepository,
			newSubscriptionRepository,
			newAPIKeyRepository,
			newWebhookRepository,
			newSigningKeyRepository,
			newCreditRepository,
			newVerifyCache,
			newKeyManager,
			newSessionGenerator,
			newWebhookDispatcher,
			newRetryWorker,
			newRevocationService,
			service.NewAuthorizeService,
			service.NewVerifyService,
			service.NewSubscriptionService,
			service.NewCreditService,
			newAuthorizeHandler,
			newVerifyHandler,
			newCreditsHandler,
			newInternalHandler,
			newHealthHandler,
			newAPIKeyAuth,
			newSessionAuth,
			newRateLimiter,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, runMigrations, bootstrap.EnsureDemoData, bootstrap.EnsureSessionKey, startRetryWorker, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newToolRepository(pool *pgxpool.Pool) repository.ToolRepository {
	return repository.NewPostgresToolRepo(pool)
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newCodeRepository(pool *pgxpool.Pool) repository.CodeRepository {
	return repository.NewPostgresCodeRepo(pool)
}

func newTokenRepository(pool *pgxpool.Pool) repository.TokenRepository {
	return repository.NewPostgresTokenRepo(pool)
}

func newRevocationRepository(pool *pgxpool.Pool) repository.RevocationRepository {
	return repository.NewPostgresRevocationRepo(pool)
}

func newSubscriptionRepository(pool *pgxpool.Pool) repository.SubscriptionRepository {
	return repository.NewPostgresSubscriptionRepo(pool)
}

func newAPIKeyRepository(pool *pgxpool.Pool) repository.APIKeyRepository {
	return repository.NewPostgresAPIKeyRepo(pool)
}

func newWebhookRepository(pool *pgxpool.Pool) repository.WebhookRepository {
	return repository.NewPostgresWebhookRepo(pool)
}

func newSigningKeyRepository(pool *pgxpool.Pool) repository.SigningKeyRepository {
	return repository.NewPostgresSigningKeyRepo(pool)
}

func newCreditRepository(pool *pgxpool.Pool) repository.CreditRepository {
	return repository.NewPostgresCreditRepo(pool)
}

func newVerifyCache(client redis.UniversalClient) repository.VerifyCache {
	return cacheadapter.NewRedisVerifyCache(client)
}

func newKeyManager(repo repository.SigningKeyRepository, node *snowflake.Node) *session.KeyManager {
	return session.NewKeyManager(repo, node)
}

func newSessionGenerator(manager *session.KeyManager, cfg config.Config) *session.Generator {
	return session.NewGenerator(manager, cfg.SessionTokenTTL)
}

func newWebhookDispatcher(webhooks repository.WebhookRepository, keys repository.APIKeyRepository, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *webhook.Dispatcher {
	return webhook.NewDispatcher(webhooks, keys, node, nil, logger, webhook.Options{
		Timeout:     cfg.WebhookTimeout,
		MaxAttempts: cfg.WebhookMaxAttempts,
		BaseBackoff: cfg.WebhookBaseBackoff,
		MaxBackoff:  cfg.WebhookMaxBackoff,
	})
}

func newRetryWorker(dispatcher *webhook.Dispatcher, cfg config.Config, logger *zap.Logger) *webhook.RetryWorker {
	return webhook.NewRetryWorker(dispatcher, cfg.RetryWorkerInterval, logger)
}

func newRevocationService(revocations repository.RevocationRepository, dispatcher *webhook.Dispatcher, node *snowflake.Node, logger *zap.Logger) *service.RevocationService {
	return service.NewRevocationService(revocations, dispatcher, node, logger)
}

func newAuthorizeHandler(authorize *service.AuthorizeService, logger *zap.Logger) *handler.AuthorizeHandler {
	return &handler.AuthorizeHandler{Authorize: authorize, Logger: logger}
}

func newVerifyHandler(verify *service.VerifyService, subscriptions *service.SubscriptionService, logger *zap.Logger) *handler.VerifyHandler {
	return &handler.VerifyHandler{Verify: verify, Subscriptions: subscriptions, Logger: logger}
}

func newCreditsHandler(credits *service.CreditService, logger *zap.Logger) *handler.CreditsHandler {
	return &handler.CreditsHandler{Credits: credits, Logger: logger}
}

func newInternalHandler(revocations *service.RevocationService, logger *zap.Logger) *handler.InternalHandler {
	return &handler.InternalHandler{Revocations: revocations, Logger: logger}
}

func newHealthHandler(pool *pgxpool.Pool, client redis.UniversalClient) *handler.HealthHandler {
	return &handler.HealthHandler{Pool: pool, Redis: client}
}

func newAPIKeyAuth(keys repository.APIKeyRepository, logger *zap.Logger) *middleware.APIKeyAuth {
	return &middleware.APIKeyAuth{Keys: keys, Logger: logger}
}

func newSessionAuth(sessions *session.Generator) *middleware.SessionAuth {
	return &middleware.SessionAuth{Sessions: sessions}
}

func newRateLimiter(cfg config.Config) *middleware.RateLimiter {
	return middleware.NewRateLimiter(cfg.RateLimitRPM)
}

func runMigrations(cfg config.Config, logger *zap.Logger) error {
	if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database migrations applied")
	return nil
}

func startRetryWorker(lc fx.Lifecycle, worker *webhook.RetryWorker) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				worker.Run(runCtx)
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, logger *zap.Logger) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
