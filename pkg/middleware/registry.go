package middleware

import (
	"context"
	"sync"
)

// InitCallback runs once at process startup (spec §4.12
// "initialization_callbacks[] (run at process startup)").
type InitCallback func(ctx context.Context) error

// PostMigrationHook runs after the built-in session-store migrations,
// receiving the database URL they ran against (spec §4.12
// "post_migration_hooks[] (run after the built-in session-store
// migrations; receive the DB URL)").
type PostMigrationHook func(ctx context.Context, dbURL string) error

// Status reports which extension points currently carry a
// non-default binding (spec §4.12 "get_registry_status() reports bound
// implementations").
type Status struct {
	ConfigResolverBound        bool
	AccessValidatorBound       bool
	ResourceSharingServiceBound bool
	TokenServiceBound          bool
	InitCallbackCount          int
	PostMigrationHookCount     int
}

// Registry holds the process-wide binding points every other mesh
// component resolves identity, config, and shared-resource decisions
// through. The zero value is not usable; construct with New.
type Registry struct {
	mu sync.RWMutex

	configResolver   ConfigResolver
	accessValidator  AccessValidator
	resourceSharing  ResourceSharingService
	tokenService     TokenService
	initCallbacks    []InitCallback
	postMigrationHooks []PostMigrationHook

	configResolverBound  bool
	accessValidatorBound bool
	resourceSharingBound bool
	tokenServiceBound    bool
}

// New constructs a Registry with every binding point set to its
// permissive/pass-through default (spec §4.12 "Defaults are
// permissive/pass-through").
func New() *Registry {
	r := &Registry{}
	r.resetLocked()
	return r
}

func (r *Registry) resetLocked() {
	r.configResolver = ConfigResolverFunc(PassThroughConfigResolver)
	r.accessValidator = AccessValidatorFunc(AllowAllValidator)
	r.resourceSharing = ResourceSharingServiceFunc(NoSharing)
	r.tokenService = NopTokenService{}
	r.initCallbacks = nil
	r.postMigrationHooks = nil
	r.configResolverBound = false
	r.accessValidatorBound = false
	r.resourceSharingBound = false
	r.tokenServiceBound = false
}

// ResetBindings restores every extension point to its default,
// discarding all prior bindings and hooks (spec §4.12 "reset_bindings()
// restores defaults").
func (r *Registry) ResetBindings() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

// BindConfigResolver replaces the process-wide config_resolver.
func (r *Registry) BindConfigResolver(cr ConfigResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configResolver = cr
	r.configResolverBound = true
}

// BindAccessValidator replaces the process-wide access validator half
// of config_resolver's "resolves user config and authorises
// operations" contract.
func (r *Registry) BindAccessValidator(av AccessValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accessValidator = av
	r.accessValidatorBound = true
}

// BindResourceSharingService replaces the process-wide
// resource_sharing_service.
func (r *Registry) BindResourceSharingService(rs ResourceSharingService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resourceSharing = rs
	r.resourceSharingBound = true
}

// BindTokenService replaces the process-wide token_service.
func (r *Registry) BindTokenService(ts TokenService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokenService = ts
	r.tokenServiceBound = true
}

// AddInitializationCallback appends a callback run by
// RunInitializationCallbacks, in registration order.
func (r *Registry) AddInitializationCallback(cb InitCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initCallbacks = append(r.initCallbacks, cb)
}

// AddPostMigrationHook appends a hook run by RunPostMigrationHooks, in
// registration order.
func (r *Registry) AddPostMigrationHook(hook PostMigrationHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.postMigrationHooks = append(r.postMigrationHooks, hook)
}

// ConfigResolver returns the currently bound config_resolver.
func (r *Registry) ConfigResolver() ConfigResolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.configResolver
}

// AccessValidator returns the currently bound access validator.
func (r *Registry) AccessValidator() AccessValidator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accessValidator
}

// ResourceSharingService returns the currently bound
// resource_sharing_service.
func (r *Registry) ResourceSharingService() ResourceSharingService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resourceSharing
}

// TokenService returns the currently bound token_service.
func (r *Registry) TokenService() TokenService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tokenService
}

// RunInitializationCallbacks runs every registered callback in
// registration order, stopping at the first error.
func (r *Registry) RunInitializationCallbacks(ctx context.Context) error {
	r.mu.RLock()
	callbacks := append([]InitCallback(nil), r.initCallbacks...)
	r.mu.RUnlock()

	for _, cb := range callbacks {
		if err := cb(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RunPostMigrationHooks runs every registered hook in registration
// order against dbURL, stopping at the first error.
func (r *Registry) RunPostMigrationHooks(ctx context.Context, dbURL string) error {
	r.mu.RLock()
	hooks := append([]PostMigrationHook(nil), r.postMigrationHooks...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, dbURL); err != nil {
			return err
		}
	}
	return nil
}

// GetRegistryStatus reports which extension points currently carry a
// non-default binding.
func (r *Registry) GetRegistryStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{
		ConfigResolverBound:         r.configResolverBound,
		AccessValidatorBound:        r.accessValidatorBound,
		ResourceSharingServiceBound: r.resourceSharingBound,
		TokenServiceBound:           r.tokenServiceBound,
		InitCallbackCount:           len(r.initCallbacks),
		PostMigrationHookCount:      len(r.postMigrationHooks),
	}
}
