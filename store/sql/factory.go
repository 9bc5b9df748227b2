package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-marketplace/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db           *bun.DB
	catalogCache repositorycache.CacheService
	secrets      core.SecretProvider

	installationStore *InstallationStore
	webhookEventStore *WebhookEventStore
	subscriptionStore *SubscriptionStore
	integrationStore  *IntegrationStore
	cachedCatalog     *CachedIntegrationCatalog
}

type FactoryOption func(*RepositoryFactory)

// WithCatalogCache routes integration catalog reads through the cache.
func WithCatalogCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.catalogCache = cacheService
	}
}

// WithCredentialSecrets seals installation credentials at rest.
func WithCredentialSecrets(provider core.SecretProvider) FactoryOption {
	return func(f *RepositoryFactory) {
		f.secrets = provider
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.installationStore != nil && f.webhookEventStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) InstallationStore() core.InstallationStore {
	if f == nil || f.installationStore == nil {
		return nil
	}
	return f.installationStore
}

func (f *RepositoryFactory) WebhookEventStore() core.WebhookEventStore {
	if f == nil || f.webhookEventStore == nil {
		return nil
	}
	return f.webhookEventStore
}

func (f *RepositoryFactory) SubscriptionStore() core.SubscriptionStore {
	if f == nil || f.subscriptionStore == nil {
		return nil
	}
	return f.subscriptionStore
}

func (f *RepositoryFactory) IntegrationCatalog() core.IntegrationCatalog {
	if f == nil {
		return nil
	}
	if f.cachedCatalog != nil {
		return f.cachedCatalog
	}
	if f.integrationStore == nil {
		return nil
	}
	return f.integrationStore
}

// IntegrationStore exposes catalog writes, which are not part of the core contract.
func (f *RepositoryFactory) IntegrationStore() *IntegrationStore {
	if f == nil {
		return nil
	}
	return f.integrationStore
}

func (f *RepositoryFactory) CachedIntegrationCatalog() *CachedIntegrationCatalog {
	if f == nil {
		return nil
	}
	return f.cachedCatalog
}

func (f *RepositoryFactory) initStores() error {
	installationStore, err := NewInstallationStore(f.db, WithInstallationSecrets(f.secrets))
	if err != nil {
		return err
	}
	f.installationStore = installationStore

	webhookEventStore, err := NewWebhookEventStore(f.db)
	if err != nil {
		return err
	}
	f.webhookEventStore = webhookEventStore

	subscriptionStore, err := NewSubscriptionStore(f.db)
	if err != nil {
		return err
	}
	f.subscriptionStore = subscriptionStore

	integrationStore, err := NewIntegrationStore(f.db)
	if err != nil {
		return err
	}
	f.integrationStore = integrationStore

	if f.catalogCache != nil {
		cached, err := NewCachedIntegrationCatalog(integrationStore, f.catalogCache)
		if err != nil {
			return err
		}
		f.cachedCatalog = cached
	}
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
