package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onesub/vendor-gateway/internal/domain"
)

// Compile-time interface assertions.
var (
	_ ToolRepository         = (*PostgresToolRepo)(nil)
	_ UserRepository         = (*PostgresUserRepo)(nil)
	_ CodeRepository         = (*PostgresCodeRepo)(nil)
	_ TokenRepository        = (*PostgresTokenRepo)(nil)
	_ RevocationRepository   = (*PostgresRevocationRepo)(nil)
	_ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
	_ APIKeyRepository       = (*PostgresAPIKeyRepo)(nil)
	_ WebhookRepository      = (*PostgresWebhookRepo)(nil)
	_ SigningKeyRepository   = (*PostgresSigningKeyRepo)(nil)
	_ CreditRepository       = (*PostgresCreditRepo)(nil)
)

// PostgresToolRepo implements ToolRepository.
type PostgresToolRepo struct {
	db *pgxpool.Pool
}

func NewPostgresToolRepo(pool *pgxpool.Pool) *PostgresToolRepo {
	return &PostgresToolRepo{db: pool}
}

func (r *PostgresToolRepo) GetTool(ctx context.Context, toolID string) (domain.Tool, error) {
	const query = `
SELECT id, name, redirect_uris, is_active, created_at
FROM tools
WHERE id = $1`

	var tool domain.Tool
	err := r.db.QueryRow(ctx, query, toolID).Scan(
		&tool.ID,
		&tool.Name,
		&tool.RedirectURIs,
		&tool.IsActive,
		&tool.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Tool{}, domain.ErrNotFound
		}
		return domain.Tool{}, fmt.Errorf("get tool: %w", err)
	}
	return tool, nil
}

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, userID string) (domain.User, error) {
	const query = `
SELECT id, email, email_sha256, created_at
FROM users
WHERE id = $1`
	return r.scanUser(r.db.QueryRow(ctx, query, userID))
}

func (r *PostgresUserRepo) GetByEmailHash(ctx context.Context, emailSHA256 string) (domain.User, error) {
	const query = `
SELECT id, email, email_sha256, created_at
FROM users
WHERE email_sha256 = $1`
	return r.scanUser(r.db.QueryRow(ctx, query, emailSHA256))
}

func (r *PostgresUserRepo) scanUser(row pgx.Row) (domain.User, error) {
	var user domain.User
	err := row.Scan(&user.ID, &user.Email, &user.EmailSHA256, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// PostgresCodeRepo implements CodeRepository.
type PostgresCodeRepo struct {
	db *pgxpool.Pool
}

func NewPostgresCodeRepo(pool *pgxpool.Pool) *PostgresCodeRepo {
	return &PostgresCodeRepo{db: pool}
}

func (r *PostgresCodeRepo) CreateCode(ctx context.Context, code domain.AuthorizationCode) error {
	const query = `
INSERT INTO authorization_codes (id, code, tool_id, user_id, redirect_uri, state, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		code.ID,
		code.Code,
		code.ToolID,
		code.UserID,
		code.RedirectURI,
		code.State,
		code.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert authorization code: %w", err)
	}
	return nil
}

// ConsumeCode is the single atomic conditional update that guarantees
// exactly-once redemption: the row lock taken by UPDATE picks a unique winner
// no matter how many exchanges race on the same code.
func (r *PostgresCodeRepo) ConsumeCode(ctx context.Context, code string) (domain.AuthorizationCode, error) {
	const claim = `
UPDATE authorization_codes
SET used_at = now()
WHERE code = $1 AND used_at IS NULL AND expires_at > now()
RETURNING id, code, tool_id, user_id, redirect_uri, state, expires_at, used_at, created_at`

	var claimed domain.AuthorizationCode
	err := r.db.QueryRow(ctx, claim, code).Scan(
		&claimed.ID,
		&claimed.Code,
		&claimed.ToolID,
		&claimed.UserID,
		&claimed.RedirectURI,
		&claimed.State,
		&claimed.ExpiresAt,
		&claimed.UsedAt,
		&claimed.CreatedAt,
	)
	if err == nil {
		return claimed, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.AuthorizationCode{}, fmt.Errorf("consume authorization code: %w", err)
	}

	// Lost the conditional update. Distinguish "already used" from
	// "unknown or expired" so vendors see the race for what it is.
	const probe = `SELECT used_at IS NOT NULL FROM authorization_codes WHERE code = $1 AND expires_at > now()`
	var used bool
	if probeErr := r.db.QueryRow(ctx, probe, code).Scan(&used); probeErr != nil {
		if errors.Is(probeErr, pgx.ErrNoRows) {
			return domain.AuthorizationCode{}, domain.ErrNotFound
		}
		return domain.AuthorizationCode{}, fmt.Errorf("probe authorization code: %w", probeErr)
	}
	if used {
		return domain.AuthorizationCode{}, domain.ErrCodeAlreadyUsed
	}
	return domain.AuthorizationCode{}, domain.ErrNotFound
}

// PostgresTokenRepo implements TokenRepository.
type PostgresTokenRepo struct {
	db *pgxpool.Pool
}

func NewPostgresTokenRepo(pool *pgxpool.Pool) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: pool}
}

func (r *PostgresTokenRepo) CreateToken(ctx context.Context, token domain.VerificationToken) (domain.VerificationToken, error) {
	const query = `
INSERT INTO verification_tokens (id, token, tool_id, user_id, grant_id, issued_at, expires_at, rotated_from)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, token, tool_id, user_id, grant_id, issued_at, expires_at, is_revoked, rotated_from, created_at`

	var inserted domain.VerificationToken
	err := r.db.QueryRow(ctx, query,
		token.ID,
		token.Token,
		token.ToolID,
		token.UserID,
		token.GrantID,
		token.IssuedAt,
		token.ExpiresAt,
		token.RotatedFrom,
	).Scan(
		&inserted.ID,
		&inserted.Token,
		&inserted.ToolID,
		&inserted.UserID,
		&inserted.GrantID,
		&inserted.IssuedAt,
		&inserted.ExpiresAt,
		&inserted.IsRevoked,
		&inserted.RotatedFrom,
		&inserted.CreatedAt,
	)
	if err != nil {
		return domain.VerificationToken{}, fmt.Errorf("insert verification token: %w", err)
	}
	return inserted, nil
}

func (r *PostgresTokenRepo) GetByValue(ctx context.Context, token string) (domain.VerificationToken, error) {
	const query = `
SELECT id, token, tool_id, user_id, grant_id, issued_at, expires_at, is_revoked, rotated_from, created_at
FROM verification_tokens
WHERE token = $1`

	var found domain.VerificationToken
	err := r.db.QueryRow(ctx, query, token).Scan(
		&found.ID,
		&found.Token,
		&found.ToolID,
		&found.UserID,
		&found.GrantID,
		&found.IssuedAt,
		&found.ExpiresAt,
		&found.IsRevoked,
		&found.RotatedFrom,
		&found.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.VerificationToken{}, domain.ErrNotFound
		}
		return domain.VerificationToken{}, fmt.Errorf("get verification token: %w", err)
	}
	return found, nil
}

// PostgresRevocationRepo implements RevocationRepository.
type PostgresRevocationRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRevocationRepo(pool *pgxpool.Pool) *PostgresRevocationRepo {
	return &PostgresRevocationRepo{db: pool}
}

// Record inserts the revocation row and flips outstanding tokens inside one
// transaction, so no observer sees the pair revoked with live tokens.
func (r *PostgresRevocationRepo) Record(ctx context.Context, rev domain.Revocation) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin revocation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insert = `
INSERT INTO revocations (id, user_id, tool_id, reason)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, tool_id) DO NOTHING`

	tag, err := tx.Exec(ctx, insert, rev.ID, rev.UserID, rev.ToolID, string(rev.Reason))
	if err != nil {
		return false, fmt.Errorf("insert revocation: %w", err)
	}
	created := tag.RowsAffected() == 1

	const revoke = `
UPDATE verification_tokens
SET is_revoked = true
WHERE user_id = $1 AND tool_id = $2 AND NOT is_revoked`

	if _, err := tx.Exec(ctx, revoke, rev.UserID, rev.ToolID); err != nil {
		return false, fmt.Errorf("revoke tokens: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit revocation tx: %w", err)
	}
	return created, nil
}

func (r *PostgresRevocationRepo) Get(ctx context.Context, userID, toolID string) (domain.Revocation, error) {
	const query = `
SELECT id, user_id, tool_id, reason, created_at
FROM revocations
WHERE user_id = $1 AND tool_id = $2`

	var rev domain.Revocation
	var reason string
	err := r.db.QueryRow(ctx, query, userID, toolID).Scan(&rev.ID, &rev.UserID, &rev.ToolID, &reason, &rev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Revocation{}, domain.ErrNotFound
		}
		return domain.Revocation{}, fmt.Errorf("get revocation: %w", err)
	}
	rev.Reason = domain.RevocationReason(reason)
	return rev, nil
}

// PostgresSubscriptionRepo implements SubscriptionRepository.
type PostgresSubscriptionRepo struct {
	db *pgxpool.Pool
}

func NewPostgresSubscriptionRepo(pool *pgxpool.Pool) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: pool}
}

func (r *PostgresSubscriptionRepo) GetSubscription(ctx context.Context, userID, toolID string) (domain.ToolSubscription, error) {
	const query = `
SELECT user_id, tool_id, status, period_end, created_at, updated_at
FROM tool_subscriptions
WHERE user_id = $1 AND tool_id = $2`

	var sub domain.ToolSubscription
	var status string
	err := r.db.QueryRow(ctx, query, userID, toolID).Scan(
		&sub.UserID,
		&sub.ToolID,
		&status,
		&sub.PeriodEnd,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ToolSubscription{}, domain.ErrNotFound
		}
		return domain.ToolSubscription{}, fmt.Errorf("get subscription: %w", err)
	}
	sub.Status = domain.SubscriptionStatus(status)
	return sub, nil
}

// PostgresAPIKeyRepo implements APIKeyRepository.
type PostgresAPIKeyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresAPIKeyRepo(pool *pgxpool.Pool) *PostgresAPIKeyRepo {
	return &PostgresAPIKeyRepo{db: pool}
}

func (r *PostgresAPIKeyRepo) GetByHash(ctx context.Context, keyHash string) (domain.APIKeyCredential, error) {
	const query = `
SELECT id, tool_id, key_hash, key_prefix, is_active, COALESCE(webhook_url, ''), COALESCE(webhook_secret, ''), created_at
FROM api_keys
WHERE key_hash = $1`

	var cred domain.APIKeyCredential
	err := r.db.QueryRow(ctx, query, keyHash).Scan(
		&cred.ID,
		&cred.ToolID,
		&cred.KeyHash,
		&cred.KeyPrefix,
		&cred.IsActive,
		&cred.WebhookURL,
		&cred.WebhookSecret,
		&cred.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.APIKeyCredential{}, domain.ErrNotFound
		}
		return domain.APIKeyCredential{}, fmt.Errorf("get api key: %w", err)
	}
	return cred, nil
}

func (r *PostgresAPIKeyRepo) GetWebhookTarget(ctx context.Context, toolID string) (domain.WebhookTarget, error) {
	const query = `
SELECT tool_id, COALESCE(webhook_url, ''), COALESCE(webhook_secret, '')
FROM api_keys
WHERE tool_id = $1 AND is_active AND webhook_url IS NOT NULL AND webhook_url <> ''
ORDER BY created_at DESC
LIMIT 1`

	var target domain.WebhookTarget
	err := r.db.QueryRow(ctx, query, toolID).Scan(&target.ToolID, &target.URL, &target.Secret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WebhookTarget{}, domain.ErrNotFound
		}
		return domain.WebhookTarget{}, fmt.Errorf("get webhook target: %w", err)
	}
	return target, nil
}

// PostgresWebhookRepo implements WebhookRepository.
type PostgresWebhookRepo struct {
	db *pgxpool.Pool
}

func NewPostgresWebhookRepo(pool *pgxpool.Pool) *PostgresWebhookRepo {
	return &PostgresWebhookRepo{db: pool}
}

func (r *PostgresWebhookRepo) InsertLog(ctx context.Context, entry domain.WebhookLogEntry) error {
	const query = `
INSERT INTO webhook_logs (id, event_id, tool_id, event_type, url, success, status_code, delivery_time_ms, attempt_number)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.EventID,
		entry.ToolID,
		entry.EventType,
		entry.URL,
		entry.Success,
		entry.StatusCode,
		entry.DeliveryTimeMs,
		entry.AttemptNumber,
	)
	if err != nil {
		return fmt.Errorf("insert webhook log: %w", err)
	}
	return nil
}

func (r *PostgresWebhookRepo) ListLogsByEvent(ctx context.Context, eventID string) ([]domain.WebhookLogEntry, error) {
	const query = `
SELECT id, event_id, tool_id, event_type, url, success, status_code, delivery_time_ms, attempt_number, created_at
FROM webhook_logs
WHERE event_id = $1
ORDER BY attempt_number`

	rows, err := r.db.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("list webhook logs: %w", err)
	}
	defer rows.Close()

	var entries []domain.WebhookLogEntry
	for rows.Next() {
		var entry domain.WebhookLogEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.EventID,
			&entry.ToolID,
			&entry.EventType,
			&entry.URL,
			&entry.Success,
			&entry.StatusCode,
			&entry.DeliveryTimeMs,
			&entry.AttemptNumber,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan webhook log: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *PostgresWebhookRepo) EnqueueRetry(ctx context.Context, entry domain.WebhookRetryEntry) error {
	const query = `
INSERT INTO webhook_retry_queue (id, tool_id, event_id, event_type, payload, next_attempt_at, attempt_count)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (event_id) DO UPDATE
SET next_attempt_at = EXCLUDED.next_attempt_at, attempt_count = EXCLUDED.attempt_count`

	_, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.ToolID,
		entry.EventID,
		entry.EventType,
		entry.Payload,
		entry.NextAttemptAt,
		entry.AttemptCount,
	)
	if err != nil {
		return fmt.Errorf("enqueue webhook retry: %w", err)
	}
	return nil
}

func (r *PostgresWebhookRepo) DueRetries(ctx context.Context, now time.Time, limit int) ([]domain.WebhookRetryEntry, error) {
	const query = `
SELECT id, tool_id, event_id, event_type, payload, next_attempt_at, attempt_count, created_at
FROM webhook_retry_queue
WHERE next_attempt_at <= $1
ORDER BY next_attempt_at
LIMIT $2`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due retries: %w", err)
	}
	defer rows.Close()

	var entries []domain.WebhookRetryEntry
	for rows.Next() {
		var entry domain.WebhookRetryEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.ToolID,
			&entry.EventID,
			&entry.EventType,
			&entry.Payload,
			&entry.NextAttemptAt,
			&entry.AttemptCount,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan retry entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *PostgresWebhookRepo) RescheduleRetry(ctx context.Context, id int64, nextAttemptAt time.Time, attemptCount int) error {
	const query = `
UPDATE webhook_retry_queue
SET next_attempt_at = $2, attempt_count = $3
WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, id, nextAttemptAt, attemptCount); err != nil {
		return fmt.Errorf("reschedule retry: %w", err)
	}
	return nil
}

func (r *PostgresWebhookRepo) DeleteRetry(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM webhook_retry_queue WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete retry: %w", err)
	}
	return nil
}

func (r *PostgresWebhookRepo) GetRetryByEvent(ctx context.Context, eventID string) (domain.WebhookRetryEntry, error) {
	const query = `
SELECT id, tool_id, event_id, event_type, payload, next_attempt_at, attempt_count, created_at
FROM webhook_retry_queue
WHERE event_id = $1`

	var entry domain.WebhookRetryEntry
	err := r.db.QueryRow(ctx, query, eventID).Scan(
		&entry.ID,
		&entry.ToolID,
		&entry.EventID,
		&entry.EventType,
		&entry.Payload,
		&entry.NextAttemptAt,
		&entry.AttemptCount,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WebhookRetryEntry{}, domain.ErrNotFound
		}
		return domain.WebhookRetryEntry{}, fmt.Errorf("get retry entry: %w", err)
	}
	return entry, nil
}

func (r *PostgresWebhookRepo) InsertDeadLetter(ctx context.Context, letter domain.WebhookDeadLetter) error {
	history, err := json.Marshal(letter.FailureHistory)
	if err != nil {
		return fmt.Errorf("marshal failure history: %w", err)
	}

	const query = `
INSERT INTO webhook_dead_letters (id, tool_id, event_id, event_type, payload, failure_history)
VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.db.Exec(ctx, query, letter.ID, letter.ToolID, letter.EventID, letter.EventType, letter.Payload, history); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// PostgresSigningKeyRepo implements SigningKeyRepository.
type PostgresSigningKeyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresSigningKeyRepo(pool *pgxpool.Pool) *PostgresSigningKeyRepo {
	return &PostgresSigningKeyRepo{db: pool}
}

func (r *PostgresSigningKeyRepo) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	const query = `
SELECT id, kid, secret, algorithm, is_active, created_at
FROM signing_keys
WHERE is_active
ORDER BY created_at DESC
LIMIT 1`

	var key domain.SigningKey
	err := r.db.QueryRow(ctx, query).Scan(&key.ID, &key.KID, &key.Secret, &key.Algorithm, &key.IsActive, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SigningKey{}, domain.ErrNotFound
		}
		return domain.SigningKey{}, fmt.Errorf("get signing key: %w", err)
	}
	return key, nil
}

func (r *PostgresSigningKeyRepo) CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	const query = `
INSERT INTO signing_keys (id, kid, secret, algorithm, is_active)
VALUES ($1, $2, $3, $4, true)
RETURNING id, kid, secret, algorithm, is_active, created_at`

	var inserted domain.SigningKey
	err := r.db.QueryRow(ctx, query, key.ID, key.KID, key.Secret, key.Algorithm).Scan(
		&inserted.ID,
		&inserted.KID,
		&inserted.Secret,
		&inserted.Algorithm,
		&inserted.IsActive,
		&inserted.CreatedAt,
	)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("insert signing key: %w", err)
	}
	return inserted, nil
}

// PostgresCreditRepo implements CreditRepository.
type PostgresCreditRepo struct {
	db *pgxpool.Pool
}

func NewPostgresCreditRepo(pool *pgxpool.Pool) *PostgresCreditRepo {
	return &PostgresCreditRepo{db: pool}
}

const selectCreditTxn = `
SELECT id, user_id, tool_id, amount, reason, idempotency_key, balance_after, created_at
FROM credit_transactions
WHERE tool_id = $1 AND idempotency_key = $2`

// Consume serializes on the balance row lock, so concurrent consumes for one
// user apply one at a time and the balance can never go negative. A retry
// that loses the idempotency race surfaces as a unique violation and is
// resolved to the winner's transaction.
func (r *PostgresCreditRepo) Consume(ctx context.Context, txn domain.CreditTransaction) (domain.CreditTransaction, bool, error) {
	existing, err := r.getByIdempotencyKey(ctx, txn.ToolID, txn.IdempotencyKey)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.CreditTransaction{}, false, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.CreditTransaction{}, false, fmt.Errorf("begin credit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const debit = `
UPDATE credit_balances
SET balance = balance - $2, updated_at = now()
WHERE user_id = $1 AND balance >= $2
RETURNING balance`

	var newBalance int64
	if err := tx.QueryRow(ctx, debit, txn.UserID, txn.Amount).Scan(&newBalance); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return domain.CreditTransaction{}, false, fmt.Errorf("debit balance: %w", err)
		}
		const probe = `SELECT balance FROM credit_balances WHERE user_id = $1`
		var balance int64
		probeErr := tx.QueryRow(ctx, probe, txn.UserID).Scan(&balance)
		if errors.Is(probeErr, pgx.ErrNoRows) {
			return domain.CreditTransaction{}, false, domain.ErrNotFound
		}
		if probeErr != nil {
			return domain.CreditTransaction{}, false, fmt.Errorf("probe balance: %w", probeErr)
		}
		return domain.CreditTransaction{}, false, &domain.InsufficientCreditsError{Balance: balance, Required: txn.Amount}
	}

	const insert = `
INSERT INTO credit_transactions (id, user_id, tool_id, amount, reason, idempotency_key, balance_after)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at`

	txn.BalanceAfter = newBalance
	err = tx.QueryRow(ctx, insert,
		txn.ID,
		txn.UserID,
		txn.ToolID,
		txn.Amount,
		txn.Reason,
		txn.IdempotencyKey,
		txn.BalanceAfter,
	).Scan(&txn.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			_ = tx.Rollback(ctx)
			winner, dupErr := r.getByIdempotencyKey(ctx, txn.ToolID, txn.IdempotencyKey)
			if dupErr != nil {
				return domain.CreditTransaction{}, false, fmt.Errorf("load duplicate transaction: %w", dupErr)
			}
			return winner, true, nil
		}
		return domain.CreditTransaction{}, false, fmt.Errorf("insert credit transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.CreditTransaction{}, false, fmt.Errorf("commit credit tx: %w", err)
	}
	return txn, false, nil
}

func (r *PostgresCreditRepo) GetBalance(ctx context.Context, userID string) (int64, error) {
	const query = `SELECT balance FROM credit_balances WHERE user_id = $1`

	var balance int64
	err := r.db.QueryRow(ctx, query, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (r *PostgresCreditRepo) getByIdempotencyKey(ctx context.Context, toolID, key string) (domain.CreditTransaction, error) {
	var txn domain.CreditTransaction
	err := r.db.QueryRow(ctx, selectCreditTxn, toolID, key).Scan(
		&txn.ID,
		&txn.UserID,
		&txn.ToolID,
		&txn.Amount,
		&txn.Reason,
		&txn.IdempotencyKey,
		&txn.BalanceAfter,
		&txn.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CreditTransaction{}, domain.ErrNotFound
		}
		return domain.CreditTransaction{}, fmt.Errorf("get credit transaction: %w", err)
	}
	return txn, nil
}
