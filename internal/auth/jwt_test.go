package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func hs256Token(t *testing.T, secret string, claims map[string]any) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	enc := func(b []byte) string {
		return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(b)
	}
	signingInput := enc(header) + "." + enc(payload)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	sig := mac.Sum(nil)

	return signingInput + "." + enc(sig)
}

func TestJWTResolverAcceptsValidHS256Token(t *testing.T) {
	r, err := NewJWTResolver(JWTConfig{Algorithm: "HS256", Secret: "test-secret"})
	require.NoError(t, err)

	token := hs256Token(t, "test-secret", map[string]any{"sub": "42", "tier": "pro"})
	user, err := r.ResolveUser(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, "user:42", user.Subject)
	require.Equal(t, "pro", user.Tier)
}

func TestJWTResolverRejectsWrongSecret(t *testing.T) {
	r, err := NewJWTResolver(JWTConfig{Algorithm: "HS256", Secret: "test-secret"})
	require.NoError(t, err)

	token := hs256Token(t, "wrong-secret", map[string]any{"sub": "42"})
	user, err := r.ResolveUser(context.Background(), token)
	require.NoError(t, err)
	require.Nil(t, user, "invalid signature resolves to no user, not an error")
}

func TestJWTResolverRejectsExpiredToken(t *testing.T) {
	r, err := NewJWTResolver(JWTConfig{Algorithm: "HS256", Secret: "test-secret"})
	require.NoError(t, err)

	exp := float64(time.Now().Add(-time.Hour).Unix())
	token := hs256Token(t, "test-secret", map[string]any{"sub": "42", "exp": exp})
	user, err := r.ResolveUser(context.Background(), token)
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestJWTResolverEnforcesIssuer(t *testing.T) {
	r, err := NewJWTResolver(JWTConfig{Algorithm: "HS256", Secret: "test-secret", Issuer: "reactiverpc"})
	require.NoError(t, err)

	token := hs256Token(t, "test-secret", map[string]any{"sub": "42", "iss": "someone-else"})
	user, err := r.ResolveUser(context.Background(), token)
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestNewJWTResolverRequiresSecretForHS256(t *testing.T) {
	_, err := NewJWTResolver(JWTConfig{Algorithm: "HS256"})
	require.Error(t, err)
}
