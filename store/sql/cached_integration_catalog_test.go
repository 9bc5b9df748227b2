package sqlstore_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-marketplace/core"
	sqlstore "github.com/goliatone/go-marketplace/store/sql"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

func TestIntegrationCacheKey(t *testing.T) {
	key, err := sqlstore.IntegrationCacheKey(" int/crm ")
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if key != "go-marketplace::integration::v1::int%2Fcrm" {
		t.Fatalf("unexpected cache key %q", key)
	}
	if _, err := sqlstore.IntegrationCacheKey(" "); err == nil {
		t.Fatalf("expected empty id to be rejected")
	}
}

func TestCachedIntegrationCatalog_ServesHitsAndInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client,
		sqlstore.WithCatalogCache(newTestCatalogCacheService(t)),
	)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	cached := factory.CachedIntegrationCatalog()
	if cached == nil || factory.IntegrationCatalog() != core.IntegrationCatalog(cached) {
		t.Fatalf("expected factory to expose the cached catalog")
	}

	if _, err := cached.Save(ctx, core.Integration{
		ID:         "int_crm",
		Name:       "CRM",
		AuthMethod: core.AuthMethodAPIKey,
		BaseURL:    "https://crm.example.test",
		Version:    "1.0.0",
		Status:     core.IntegrationStatusActive,
	}); err != nil {
		t.Fatalf("save integration: %v", err)
	}

	first, err := cached.GetIntegration(ctx, "int_crm")
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	if first.Version != "1.0.0" {
		t.Fatalf("expected version 1.0.0, got %q", first.Version)
	}

	// A write that bypasses the cache is not visible until invalidation.
	if _, err := factory.IntegrationStore().UpdateStatus(ctx, "int_crm", core.IntegrationStatusActive, "2.0.0"); err != nil {
		t.Fatalf("direct update: %v", err)
	}
	stale, err := cached.GetIntegration(ctx, "int_crm")
	if err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if stale.Version != "1.0.0" {
		t.Fatalf("expected cached read to be served from cache, got %q", stale.Version)
	}

	if _, err := cached.UpdateStatus(ctx, "int_crm", core.IntegrationStatusSuspended, ""); err != nil {
		t.Fatalf("cached update: %v", err)
	}
	fresh, err := cached.GetIntegration(ctx, "int_crm")
	if err != nil {
		t.Fatalf("get after invalidation: %v", err)
	}
	if fresh.Status != core.IntegrationStatusSuspended || fresh.Version != "2.0.0" {
		t.Fatalf("expected invalidated read to hit the store, got %s %q", fresh.Status, fresh.Version)
	}
	if fresh.Installable() {
		t.Fatalf("expected suspended integration to be non-installable")
	}
}

func TestCachedIntegrationCatalog_PropagatesNotFound(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewIntegrationStore(client.DB())
	if err != nil {
		t.Fatalf("new integration store: %v", err)
	}
	cached, err := sqlstore.NewCachedIntegrationCatalog(store, newTestCatalogCacheService(t))
	if err != nil {
		t.Fatalf("new cached catalog: %v", err)
	}
	_, err = cached.GetIntegration(context.Background(), "int_missing")
	if !errors.Is(err, core.ErrIntegrationNotFound) && (err == nil || !strings.Contains(err.Error(), "integration not found")) {
		t.Fatalf("expected not found error, got %v", err)
	}

	if _, err := sqlstore.NewCachedIntegrationCatalog(nil, newTestCatalogCacheService(t)); err == nil {
		t.Fatalf("expected missing base store to fail")
	}
	if _, err := sqlstore.NewCachedIntegrationCatalog(store, nil); err == nil {
		t.Fatalf("expected missing cache service to fail")
	}
}

func newTestCatalogCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
