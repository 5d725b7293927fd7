package session

import (
	"context"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
)

// Generator signs and validates end-user session tokens. Vendor-facing
// credentials never use JWTs; this covers only the platform session that
// authorizes /authorize/initiate.
type Generator struct {
	keys *KeyManager
	ttl  time.Duration
}

// NewGenerator constructs a session token generator.
func NewGenerator(manager *KeyManager, ttl time.Duration) *Generator {
	return &Generator{keys: manager, ttl: ttl}
}

// Claims carries the custom session claims beyond the standard set.
type Claims struct {
	Email string `json:"email,omitempty"`
}

// Generate produces a signed session token for the user.
func (g *Generator) Generate(ctx context.Context, userID, email, issuer string) (string, error) {
	key, err := g.keys.EnsureSigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("ensure signing key: %w", err)
	}

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.SignatureAlgorithm(key.Algorithm), Key: key.Secret},
		(&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KID),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	std := gojwt.Claims{
		Subject:   userID,
		Issuer:    issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(g.ttl)),
		NotBefore: gojwt.NewNumericDate(now),
	}

	token, err := gojwt.Signed(signer).Claims(std).Claims(Claims{Email: email}).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize session token: %w", err)
	}

	return token, nil
}

// Validate verifies the token signature and expiry and returns its claims.
func (g *Generator) Validate(ctx context.Context, token string) (*gojwt.Claims, *Claims, error) {
	key, err := g.keys.ActiveKey(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load key: %w", err)
	}

	allowed := []gojose.SignatureAlgorithm{gojose.SignatureAlgorithm(key.Algorithm)}
	parsed, err := gojwt.ParseSigned(token, allowed)
	if err != nil {
		return nil, nil, fmt.Errorf("parse token: %w", err)
	}

	var std gojwt.Claims
	var custom Claims
	if err := parsed.Claims(key.Secret, &std, &custom); err != nil {
		return nil, nil, fmt.Errorf("verify token: %w", err)
	}

	if err := std.Validate(gojwt.Expected{Time: time.Now()}); err != nil {
		return nil, nil, fmt.Errorf("validate claims: %w", err)
	}

	return &std, &custom, nil
}
