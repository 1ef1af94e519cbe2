package authsync

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// Well known registry keys.
const (
	BackendKey = "authsync.backend"
	StoreKey   = "authsync.store"
	CookiesKey = "authsync.cookies"
)

// Registry hands out singleton collaborators. Lifecycles of the returned
// services (Initialize/Dispose) belong to the registry owner.
type Registry interface {
	Get(ctx context.Context, key string) (any, error)
}

// RegistryFunc adapts a function to Registry.
type RegistryFunc func(ctx context.Context, key string) (any, error)

// Get implements Registry.
func (f RegistryFunc) Get(ctx context.Context, key string) (any, error) {
	return f(ctx, key)
}

// MapRegistry is a static Registry, handy for wiring and tests.
type MapRegistry map[string]any

// Get implements Registry.
func (m MapRegistry) Get(_ context.Context, key string) (any, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, goerrors.New("service not registered", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound).
			WithMetadata(map[string]any{"key": key})
	}
	return v, nil
}

// Resolve fetches key from reg and asserts its type.
func Resolve[T any](ctx context.Context, reg Registry, key string) (T, error) {
	var zero T
	v, err := reg.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, goerrors.New(fmt.Sprintf("service %q has type %T", key, v), goerrors.CategoryInternal).
			WithMetadata(map[string]any{"key": key})
	}
	return out, nil
}

// NewGuardFromRegistry resolves the backend, cookie source and optional
// credential store from reg and builds a Guard.
func NewGuardFromRegistry(ctx context.Context, reg Registry, opts ...GuardOption) (*Guard, error) {
	backend, err := Resolve[Backend](ctx, reg, BackendKey)
	if err != nil {
		return nil, err
	}
	cookies, err := Resolve[CookieSource](ctx, reg, CookiesKey)
	if err != nil {
		return nil, err
	}

	store, err := Resolve[CredentialStore](ctx, reg, StoreKey)
	switch {
	case err == nil:
		opts = append([]GuardOption{WithCredentialStore(store)}, opts...)
	case !goerrors.IsNotFound(err):
		return nil, err
	}

	return NewGuard(backend, cookies, opts...)
}
