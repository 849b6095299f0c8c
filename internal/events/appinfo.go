package events

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// NameResolver maps a package name to its human-readable application name.
// The OS lookup behind it can be slow, so callers should wrap it in a
// CachedResolver.
type NameResolver interface {
	ResolveAppName(pkg string) (string, error)
}

// CachedResolver wraps a NameResolver with an LRU cache. Display names
// change only on app updates, so cached entries are never invalidated
// within a process lifetime.
type CachedResolver struct {
	resolver NameResolver
	cache    *lru.Cache[string, string]
}

// NewCachedResolver creates a caching resolver holding up to size entries.
func NewCachedResolver(resolver NameResolver, size int) (*CachedResolver, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create app name cache: %w", err)
	}
	return &CachedResolver{resolver: resolver, cache: cache}, nil
}

// ResolveAppName returns the cached display name, falling back to the
// wrapped resolver on miss. A failed lookup falls back to the package name
// itself and is not cached, so a later lookup can still succeed.
func (r *CachedResolver) ResolveAppName(pkg string) (string, error) {
	if name, ok := r.cache.Get(pkg); ok {
		return name, nil
	}

	name, err := r.resolver.ResolveAppName(pkg)
	if err != nil || name == "" {
		return pkg, err
	}

	r.cache.Add(pkg, name)
	return name, nil
}

// StaticResolver resolves names from a fixed map; packages without an entry
// resolve to their own package name. Used by tests and replay setups.
type StaticResolver map[string]string

// ResolveAppName implements NameResolver.
func (r StaticResolver) ResolveAppName(pkg string) (string, error) {
	if name, ok := r[pkg]; ok {
		return name, nil
	}
	return pkg, nil
}
