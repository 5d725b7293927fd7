package bootstrap_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/onesub/vendor-gateway/internal/bootstrap"
	"github.com/onesub/vendor-gateway/internal/config"
	"github.com/onesub/vendor-gateway/internal/domain"
	"github.com/onesub/vendor-gateway/internal/session"
)

type memorySigningKeyRepo struct {
	mu      sync.Mutex
	key     *domain.SigningKey
	created int
}

func (m *memorySigningKeyRepo) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key == nil {
		return domain.SigningKey{}, domain.ErrNotFound
	}
	return *m.key, nil
}

func (m *memorySigningKeyRepo) CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key.CreatedAt = time.Now()
	m.key = &key
	m.created++
	return key, nil
}

func newSessionKeyFixture(t *testing.T, environment string) (*memorySigningKeyRepo, *session.KeyManager, *session.Generator) {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := &memorySigningKeyRepo{}
	keys := session.NewKeyManager(repo, node)
	sessions := session.NewGenerator(keys, time.Hour)

	lc := fxtest.NewLifecycle(t)
	bootstrap.EnsureSessionKey(lc, config.Config{Environment: environment}, keys, sessions, zap.NewNop())
	lc.RequireStart()
	t.Cleanup(func() { lc.RequireStop() })

	return repo, keys, sessions
}

// A fresh deployment must be able to validate session tokens before anything
// has ever signed one: the startup hook provisions the key, not the first
// signer.
func TestEnsureSessionKeyProvisionsKeyOnStart(t *testing.T) {
	repo, keys, sessions := newSessionKeyFixture(t, "production")

	require.Equal(t, 1, repo.created)

	key, err := keys.ActiveKey(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, key.KID)

	// A token signed elsewhere with the provisioned key validates.
	token, err := sessions.Generate(context.Background(), "user_1", "user@example.com", "https://onesub.example")
	require.NoError(t, err)
	std, _, err := sessions.Validate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "user_1", std.Subject)

	// No second key was minted along the way.
	require.Equal(t, 1, repo.created)
}

func TestEnsureSessionKeyMintsDemoTokenInDevelopment(t *testing.T) {
	repo, _, sessions := newSessionKeyFixture(t, "development")

	require.Equal(t, 1, repo.created)

	// The demo token minted at startup is signed with the same key every
	// later validation uses.
	token, err := sessions.Generate(context.Background(), "user_demo", "demo@onesub.dev", "https://onesub.dev")
	require.NoError(t, err)
	_, _, err = sessions.Validate(context.Background(), token)
	require.NoError(t, err)
}
