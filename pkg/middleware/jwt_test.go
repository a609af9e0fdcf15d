package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTTokenService_MintThenValidateRoundTrips(t *testing.T) {
	svc, err := NewJWTTokenService(JWTConfig{Key: []byte("test-signing-key"), Issuer: "agentmesh", Audience: "mesh-agents"})
	require.NoError(t, err)

	identity := UserIdentity{ID: "user-1", Claims: map[string]any{"role": "operator"}}
	token, err := svc.Mint(context.Background(), identity)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	got, err := svc.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.ID)
	assert.Equal(t, "operator", got.Claims["role"])
}

func TestJWTTokenService_ValidateRejectsTamperedToken(t *testing.T) {
	svc, err := NewJWTTokenService(JWTConfig{Key: []byte("test-signing-key")})
	require.NoError(t, err)

	token, err := svc.Mint(context.Background(), UserIdentity{ID: "user-1"})
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), token+"tampered")
	assert.Error(t, err)
}

func TestJWTTokenService_ValidateRejectsWrongAudience(t *testing.T) {
	minter, err := NewJWTTokenService(JWTConfig{Key: []byte("k"), Audience: "aud-a"})
	require.NoError(t, err)
	token, err := minter.Mint(context.Background(), UserIdentity{ID: "user-1"})
	require.NoError(t, err)

	validator, err := NewJWTTokenService(JWTConfig{Key: []byte("k"), Audience: "aud-b"})
	require.NoError(t, err)
	_, err = validator.Validate(context.Background(), token)
	assert.Error(t, err)
}

func TestJWTTokenService_ValidateRejectsExpiredToken(t *testing.T) {
	svc, err := NewJWTTokenService(JWTConfig{Key: []byte("k"), TTL: time.Nanosecond})
	require.NoError(t, err)
	token, err := svc.Mint(context.Background(), UserIdentity{ID: "user-1"})
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, err = svc.Validate(context.Background(), token)
	assert.Error(t, err)
}

func TestNewJWTTokenService_RequiresKey(t *testing.T) {
	_, err := NewJWTTokenService(JWTConfig{})
	assert.Error(t, err)
}
