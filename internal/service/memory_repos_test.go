package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/onesub/vendor-gateway/internal/domain"
)

// In-memory repository fakes mirroring the Postgres semantics, including the
// conditional single-winner consume on authorization codes.

type memoryToolRepo struct {
	mu    sync.Mutex
	tools map[string]domain.Tool
}

func (m *memoryToolRepo) GetTool(ctx context.Context, toolID string) (domain.Tool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tool, ok := m.tools[toolID]
	if !ok {
		return domain.Tool{}, domain.ErrNotFound
	}
	return tool, nil
}

type memoryUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func (m *memoryUserRepo) GetByID(ctx context.Context, userID string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return user, nil
}

func (m *memoryUserRepo) GetByEmailHash(ctx context.Context, emailSHA256 string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.EmailSHA256 == emailSHA256 {
			return user, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

type memoryCodeRepo struct {
	mu    sync.Mutex
	codes map[string]*domain.AuthorizationCode
}

func newMemoryCodeRepo() *memoryCodeRepo {
	return &memoryCodeRepo{codes: make(map[string]*domain.AuthorizationCode)}
}

func (m *memoryCodeRepo) CreateCode(ctx context.Context, code domain.AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := code
	m.codes[code.Code] = &stored
	return nil
}

func (m *memoryCodeRepo) ConsumeCode(ctx context.Context, code string) (domain.AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.codes[code]
	now := time.Now()
	if !ok || stored.Expired(now) {
		return domain.AuthorizationCode{}, domain.ErrNotFound
	}
	if stored.UsedAt != nil {
		return domain.AuthorizationCode{}, domain.ErrCodeAlreadyUsed
	}
	stored.UsedAt = &now
	return *stored, nil
}

func (m *memoryCodeRepo) byValue(code string) (domain.AuthorizationCode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.codes[code]
	if !ok {
		return domain.AuthorizationCode{}, false
	}
	return *stored, true
}

func (m *memoryCodeRepo) expire(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.codes[code]; ok {
		stored.ExpiresAt = time.Now().Add(-time.Second)
	}
}

type memoryTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*domain.VerificationToken
}

func newMemoryTokenRepo() *memoryTokenRepo {
	return &memoryTokenRepo{tokens: make(map[string]*domain.VerificationToken)}
}

func (m *memoryTokenRepo) CreateToken(ctx context.Context, token domain.VerificationToken) (domain.VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := token
	stored.CreatedAt = time.Now()
	m.tokens[token.Token] = &stored
	return stored, nil
}

func (m *memoryTokenRepo) GetByValue(ctx context.Context, token string) (domain.VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.tokens[token]
	if !ok {
		return domain.VerificationToken{}, domain.ErrNotFound
	}
	return *stored, nil
}

func (m *memoryTokenRepo) byValue(token string) (domain.VerificationToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.tokens[token]
	if !ok {
		return domain.VerificationToken{}, false
	}
	return *stored, true
}

func (m *memoryTokenRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

func (m *memoryTokenRepo) revokePair(userID, toolID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stored := range m.tokens {
		if stored.UserID == userID && stored.ToolID == toolID {
			stored.IsRevoked = true
		}
	}
}

type memoryRevocationRepo struct {
	mu          sync.Mutex
	revocations map[string]domain.Revocation
	tokens      *memoryTokenRepo
}

func newMemoryRevocationRepo(tokens *memoryTokenRepo) *memoryRevocationRepo {
	return &memoryRevocationRepo{revocations: make(map[string]domain.Revocation), tokens: tokens}
}

func (m *memoryRevocationRepo) Record(ctx context.Context, rev domain.Revocation) (bool, error) {
	m.mu.Lock()
	key := rev.UserID + "|" + rev.ToolID
	if _, exists := m.revocations[key]; exists {
		m.mu.Unlock()
		return false, nil
	}
	rev.CreatedAt = time.Now()
	m.revocations[key] = rev
	m.mu.Unlock()

	if m.tokens != nil {
		m.tokens.revokePair(rev.UserID, rev.ToolID)
	}
	return true, nil
}

func (m *memoryRevocationRepo) Get(ctx context.Context, userID, toolID string) (domain.Revocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rev, ok := m.revocations[userID+"|"+toolID]
	if !ok {
		return domain.Revocation{}, domain.ErrNotFound
	}
	return rev, nil
}

type memorySubscriptionRepo struct {
	mu   sync.Mutex
	subs map[string]domain.ToolSubscription
}

func (m *memorySubscriptionRepo) GetSubscription(ctx context.Context, userID, toolID string) (domain.ToolSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[userID+"|"+toolID]
	if !ok {
		return domain.ToolSubscription{}, domain.ErrNotFound
	}
	return sub, nil
}

func (m *memorySubscriptionRepo) set(sub domain.ToolSubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs == nil {
		m.subs = make(map[string]domain.ToolSubscription)
	}
	m.subs[sub.UserID+"|"+sub.ToolID] = sub
}

// memoryCreditRepo mirrors the Postgres consume semantics: idempotency-key
// replays return the original transaction, the balance never goes negative.
type memoryCreditRepo struct {
	mu       sync.Mutex
	balances map[string]int64
	byKey    map[string]domain.CreditTransaction
}

func newMemoryCreditRepo() *memoryCreditRepo {
	return &memoryCreditRepo{
		balances: make(map[string]int64),
		byKey:    make(map[string]domain.CreditTransaction),
	}
}

func (m *memoryCreditRepo) Consume(ctx context.Context, txn domain.CreditTransaction) (domain.CreditTransaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := txn.ToolID + "|" + txn.IdempotencyKey
	if existing, ok := m.byKey[key]; ok {
		return existing, true, nil
	}

	balance, ok := m.balances[txn.UserID]
	if !ok {
		return domain.CreditTransaction{}, false, domain.ErrNotFound
	}
	if balance < txn.Amount {
		return domain.CreditTransaction{}, false, &domain.InsufficientCreditsError{Balance: balance, Required: txn.Amount}
	}

	m.balances[txn.UserID] = balance - txn.Amount
	txn.BalanceAfter = balance - txn.Amount
	txn.CreatedAt = time.Now()
	m.byKey[key] = txn
	return txn, false, nil
}

func (m *memoryCreditRepo) GetBalance(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return balance, nil
}

func (m *memoryCreditRepo) setBalance(userID string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = balance
}

// memoryVerifyCache mirrors the SETNX-with-TTL pinning behaviour.
type memoryVerifyCache struct {
	mu     sync.Mutex
	pinned map[string]time.Time
}

func newMemoryVerifyCache() *memoryVerifyCache {
	return &memoryVerifyCache{pinned: make(map[string]time.Time)}
}

func (m *memoryVerifyCache) GetCacheUntil(ctx context.Context, token string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.pinned[token]
	if !ok || time.Now().After(until) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (m *memoryVerifyCache) PinCacheUntil(ctx context.Context, token string, until time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.pinned[token]; ok && time.Now().Before(existing) {
		return existing, nil
	}
	m.pinned[token] = until
	return until, nil
}
