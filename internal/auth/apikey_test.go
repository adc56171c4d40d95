package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAPIKeyResolverMatchesStaticKey(t *testing.T) {
	r := NewAPIKeyResolver(APIKeyResolverConfig{
		StaticKeys: []StaticKeyConfig{
			{Name: "ci-runner", Key: "sk-ci-123", Tier: "internal"},
		},
	})

	user, err := r.ResolveUser(context.Background(), "sk-ci-123")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, "apikey:ci-runner", user.Subject)
	require.Equal(t, "internal", user.Tier)
}

func TestAPIKeyResolverDefaultsTierWhenUnset(t *testing.T) {
	r := NewAPIKeyResolver(APIKeyResolverConfig{
		StaticKeys: []StaticKeyConfig{{Name: "anon", Key: "sk-anon"}},
	})

	user, err := r.ResolveUser(context.Background(), "sk-anon")
	require.NoError(t, err)
	require.Equal(t, "default", user.Tier)
}

func TestAPIKeyResolverReturnsNilForUnknownKeyWithoutRedis(t *testing.T) {
	r := NewAPIKeyResolver(APIKeyResolverConfig{})

	user, err := r.ResolveUser(context.Background(), "sk-unknown")
	require.NoError(t, err)
	require.Nil(t, user)
}
