// Package middleware implements the process-wide binding points every
// other component resolves identity, config, and shared-resource
// decisions through (spec §4.12 Middleware Registry): a config
// resolver, an access validator, a resource-sharing service, a token
// service, and startup/migration hook lists. All defaults are
// permissive/pass-through so the mesh runs with zero configuration.
//
// Grounded on the teacher's generic pkg/registry.BaseRegistry[T]
// binding-point idiom, specialised from "named items in a map" to "one
// bound implementation per well-known extension point," the shape
// spec §4.12 actually describes.
package middleware

import "context"

// UserIdentity is the caller identity every external entry point
// carries in (spec §4.8.1 step 1: "Reject when user_identity is falsy
// or lacks id").
type UserIdentity struct {
	ID     string
	Claims map[string]any
}

// Valid reports whether identity carries the minimum required id.
func (u *UserIdentity) Valid() bool {
	return u != nil && u.ID != ""
}

// ConfigResolver resolves the effective per-user configuration overlay
// for a target agent and authorises the calling identity to use it
// (spec §4.12 "config_resolver (resolves user config and authorises
// operations)").
type ConfigResolver interface {
	ResolveUserConfig(ctx context.Context, targetAgent string, identity UserIdentity) (map[string]any, error)
}

// ConfigResolverFunc adapts a function to a ConfigResolver.
type ConfigResolverFunc func(ctx context.Context, targetAgent string, identity UserIdentity) (map[string]any, error)

func (f ConfigResolverFunc) ResolveUserConfig(ctx context.Context, targetAgent string, identity UserIdentity) (map[string]any, error) {
	return f(ctx, targetAgent, identity)
}

// PassThroughConfigResolver is the default ConfigResolver: the
// identity's own claims are returned verbatim, with no agent-specific
// overlay (spec §4.8.1 step 2 "default resolver is pass-through").
func PassThroughConfigResolver(_ context.Context, _ string, identity UserIdentity) (map[string]any, error) {
	return identity.Claims, nil
}

// AccessValidator enforces a per-agent scope check before a task is
// published (spec §4.8.1 step 3: "This MUST run before publish").
type AccessValidator interface {
	ValidateAgentAccess(ctx context.Context, targetAgent string, userConfig, validationContext map[string]any) error
}

// AccessValidatorFunc adapts a function to an AccessValidator.
type AccessValidatorFunc func(ctx context.Context, targetAgent string, userConfig, validationContext map[string]any) error

func (f AccessValidatorFunc) ValidateAgentAccess(ctx context.Context, targetAgent string, userConfig, validationContext map[string]any) error {
	return f(ctx, targetAgent, userConfig, validationContext)
}

// AllowAllValidator is the default AccessValidator: every request is
// permitted (spec §4.8.1 step 3 "default is allow").
func AllowAllValidator(context.Context, string, map[string]any, map[string]any) error { return nil }

// ResourceSharingService governs shared-resource visibility across
// users (spec §4.12 "resource_sharing_service (shared-resource
// visibility across users)"). The default grants no cross-user
// visibility.
type ResourceSharingService interface {
	IsShared(ctx context.Context, ownerUserID, resourceID, requestingUserID string) (bool, error)
}

// ResourceSharingServiceFunc adapts a function to a ResourceSharingService.
type ResourceSharingServiceFunc func(ctx context.Context, ownerUserID, resourceID, requestingUserID string) (bool, error)

func (f ResourceSharingServiceFunc) IsShared(ctx context.Context, ownerUserID, resourceID, requestingUserID string) (bool, error) {
	return f(ctx, ownerUserID, resourceID, requestingUserID)
}

// NoSharing is the default ResourceSharingService.
func NoSharing(context.Context, string, string, string) (bool, error) { return false, nil }

// TokenService mints and validates identity tokens (spec §4.12
// "token_service (identity token minting/validation)"). Concrete
// implementations wrap github.com/lestrrat-go/jwx/v2, grounded on the
// teacher's pkg/auth JWT handling.
type TokenService interface {
	Mint(ctx context.Context, identity UserIdentity) (string, error)
	Validate(ctx context.Context, token string) (UserIdentity, error)
}

// NopTokenService is the default TokenService: it mints and validates
// opaque tokens that carry no real claims, sufficient for dev-mode
// operation where no token_service has been bound.
type NopTokenService struct{}

func (NopTokenService) Mint(_ context.Context, identity UserIdentity) (string, error) {
	return identity.ID, nil
}

func (NopTokenService) Validate(_ context.Context, token string) (UserIdentity, error) {
	return UserIdentity{ID: token}, nil
}
