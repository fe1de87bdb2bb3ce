// Package identity maps API keys to active sites.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"

	"visitinsight/internal/db"
)

var (
	// ErrInvalidCredential covers absent, misspelled and deactivated keys
	// alike so callers cannot tell them apart.
	ErrInvalidCredential = errors.New("invalid API key")

	ErrSiteNotFound = errors.New("site not found")
)

type siteFinder interface {
	FindActiveByKey(ctx context.Context, apiKey string) (*db.Site, error)
	FindByID(ctx context.Context, id uint) (*db.Site, error)
}

// Resolver looks sites up by key. With a cache configured, positive
// lookups are remembered for the cache TTL.
type Resolver struct {
	sites siteFinder
	cache *expirable.LRU[string, db.Site]
}

// NewResolver builds a resolver. cacheTTL <= 0 disables caching.
func NewResolver(sites siteFinder, cacheTTL time.Duration) *Resolver {
	r := &Resolver{sites: sites}
	if cacheTTL > 0 {
		r.cache = expirable.NewLRU[string, db.Site](1024, nil, cacheTTL)
	}
	return r
}

// Resolve returns the active site owning apiKey.
func (r *Resolver) Resolve(ctx context.Context, apiKey string) (*db.Site, error) {
	if apiKey == "" {
		return nil, ErrInvalidCredential
	}
	if r.cache != nil {
		if site, ok := r.cache.Get(apiKey); ok {
			return &site, nil
		}
	}

	site, err := r.sites.FindActiveByKey(ctx, apiKey)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("resolve site: %w", err)
	}

	if r.cache != nil {
		r.cache.Add(apiKey, *site)
	}
	return site, nil
}

// ResolveID returns a site by id whatever its active flag.
func (r *Resolver) ResolveID(ctx context.Context, id uint) (*db.Site, error) {
	site, err := r.sites.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSiteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve site %d: %w", id, err)
	}
	return site, nil
}

// Forget drops apiKey from the cache so a deactivation takes effect on
// the next lookup in this process.
func (r *Resolver) Forget(apiKey string) {
	if r.cache != nil {
		r.cache.Remove(apiKey)
	}
}
