package middleware

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_DefaultsArePermissive(t *testing.T) {
	r := New()

	cfg, err := r.ConfigResolver().ResolveUserConfig(context.Background(), "agent-1", UserIdentity{ID: "u1", Claims: map[string]any{"tier": "gold"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tier": "gold"}, cfg)

	require.NoError(t, r.AccessValidator().ValidateAgentAccess(context.Background(), "agent-1", nil, nil))

	shared, err := r.ResourceSharingService().IsShared(context.Background(), "owner", "res-1", "other")
	require.NoError(t, err)
	assert.False(t, shared)

	token, err := r.TokenService().Mint(context.Background(), UserIdentity{ID: "u1"})
	require.NoError(t, err)
	identity, err := r.TokenService().Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.ID)

	status := r.GetRegistryStatus()
	assert.False(t, status.ConfigResolverBound)
	assert.False(t, status.AccessValidatorBound)
	assert.False(t, status.ResourceSharingServiceBound)
	assert.False(t, status.TokenServiceBound)
}

func TestRegistry_BindOverridesDefaultAndStatusReflectsIt(t *testing.T) {
	r := New()
	r.BindAccessValidator(AccessValidatorFunc(func(ctx context.Context, targetAgent string, userConfig, validationContext map[string]any) error {
		return fmt.Errorf("denied: %s", targetAgent)
	}))

	err := r.AccessValidator().ValidateAgentAccess(context.Background(), "agent-1", nil, nil)
	assert.EqualError(t, err, "denied: agent-1")
	assert.True(t, r.GetRegistryStatus().AccessValidatorBound)
}

func TestRegistry_ResetBindingsRestoresDefaults(t *testing.T) {
	r := New()
	r.BindConfigResolver(ConfigResolverFunc(func(ctx context.Context, targetAgent string, identity UserIdentity) (map[string]any, error) {
		return nil, fmt.Errorf("boom")
	}))
	r.AddInitializationCallback(func(ctx context.Context) error { return nil })
	require.True(t, r.GetRegistryStatus().ConfigResolverBound)
	require.Equal(t, 1, r.GetRegistryStatus().InitCallbackCount)

	r.ResetBindings()

	status := r.GetRegistryStatus()
	assert.False(t, status.ConfigResolverBound)
	assert.Equal(t, 0, status.InitCallbackCount)

	_, err := r.ConfigResolver().ResolveUserConfig(context.Background(), "a", UserIdentity{ID: "u", Claims: map[string]any{"k": "v"}})
	require.NoError(t, err)
}

func TestRegistry_InitializationCallbacksRunInOrderAndStopOnError(t *testing.T) {
	r := New()
	var order []int
	r.AddInitializationCallback(func(ctx context.Context) error { order = append(order, 1); return nil })
	r.AddInitializationCallback(func(ctx context.Context) error { order = append(order, 2); return fmt.Errorf("boom") })
	r.AddInitializationCallback(func(ctx context.Context) error { order = append(order, 3); return nil })

	err := r.RunInitializationCallbacks(context.Background())
	assert.EqualError(t, err, "boom")
	assert.Equal(t, []int{1, 2}, order)
}

func TestRegistry_PostMigrationHooksReceiveDBURL(t *testing.T) {
	r := New()
	var gotURL string
	r.AddPostMigrationHook(func(ctx context.Context, dbURL string) error {
		gotURL = dbURL
		return nil
	})

	require.NoError(t, r.RunPostMigrationHooks(context.Background(), "postgres://db"))
	assert.Equal(t, "postgres://db", gotURL)
}

func TestUserIdentity_Valid(t *testing.T) {
	assert.False(t, (*UserIdentity)(nil).Valid())
	assert.False(t, (&UserIdentity{}).Valid())
	assert.True(t, (&UserIdentity{ID: "u1"}).Valid())
}
