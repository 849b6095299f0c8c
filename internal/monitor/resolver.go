package monitor

import (
	"context"
	"time"

	"github.com/zackwarn/screentimed/internal/storage"
)

const resolveTimeout = 2 * time.Second

// LimitResolver resolves display names from the configured limit rows, where
// the user-facing name arrives via the limit CLI. Packages without a row or
// without a stored name fall back to the package name.
type LimitResolver struct {
	limits storage.LimitStore
}

// NewLimitResolver creates a resolver backed by the limit store.
func NewLimitResolver(limits storage.LimitStore) *LimitResolver {
	return &LimitResolver{limits: limits}
}

// ResolveAppName implements events.NameResolver.
func (r *LimitResolver) ResolveAppName(packageName string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	limit, err := r.limits.GetLimit(ctx, packageName)
	if err != nil {
		return "", err
	}
	if limit.AppName == "" {
		return packageName, nil
	}
	return limit.AppName, nil
}
