package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-marketplace/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const integrationCacheKeyPrefix = "go-marketplace::integration::v1"

// CachedIntegrationCatalog serves catalog reads through go-repository-cache.
// Writes go to the SQL store and drop the cached entry.
type CachedIntegrationCatalog struct {
	base  *IntegrationStore
	cache repositorycache.CacheService
}

func NewCachedIntegrationCatalog(
	base *IntegrationStore,
	cacheService repositorycache.CacheService,
) (*CachedIntegrationCatalog, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base integration store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: integration cache service is required")
	}
	return &CachedIntegrationCatalog{base: base, cache: cacheService}, nil
}

// IntegrationCacheKey returns go-marketplace::integration::v1::<id> with the
// id URL-path escaped.
func IntegrationCacheKey(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("sqlstore: integration id is required")
	}
	return integrationCacheKeyPrefix + "::" + url.PathEscape(id), nil
}

func (c *CachedIntegrationCatalog) GetIntegration(ctx context.Context, id string) (core.Integration, error) {
	if c == nil || c.base == nil || c.cache == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: cached integration catalog is not configured")
	}
	key, err := IntegrationCacheKey(id)
	if err != nil {
		return core.Integration{}, core.ErrIntegrationNotFound
	}
	integration, err := repositorycache.GetOrFetch(ctx, c.cache, key, func(ctx context.Context) (core.Integration, error) {
		return c.base.GetIntegration(ctx, id)
	})
	if err != nil {
		return core.Integration{}, err
	}
	return cloneIntegration(integration), nil
}

func (c *CachedIntegrationCatalog) Save(ctx context.Context, in core.Integration) (core.Integration, error) {
	if c == nil || c.base == nil || c.cache == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: cached integration catalog is not configured")
	}
	saved, err := c.base.Save(ctx, in)
	if err != nil {
		return core.Integration{}, err
	}
	return saved, c.Invalidate(ctx, saved.ID)
}

func (c *CachedIntegrationCatalog) UpdateStatus(
	ctx context.Context,
	id string,
	status core.IntegrationStatus,
	version string,
) (core.Integration, error) {
	if c == nil || c.base == nil || c.cache == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: cached integration catalog is not configured")
	}
	updated, err := c.base.UpdateStatus(ctx, id, status, version)
	if err != nil {
		return core.Integration{}, err
	}
	return updated, c.Invalidate(ctx, updated.ID)
}

func (c *CachedIntegrationCatalog) Invalidate(ctx context.Context, id string) error {
	key, err := IntegrationCacheKey(id)
	if err != nil {
		return err
	}
	return c.cache.Delete(ctx, key)
}

func cloneIntegration(in core.Integration) core.Integration {
	out := in
	out.WebhookEvents = copyStrings(in.WebhookEvents)
	out.Permissions = copyStrings(in.Permissions)
	return out
}
