package sqlstore

import "github.com/goliatone/go-marketplace/core"

var (
	_ core.InstallationStore      = (*InstallationStore)(nil)
	_ core.WebhookEventStore      = (*WebhookEventStore)(nil)
	_ core.SubscriptionStore      = (*SubscriptionStore)(nil)
	_ core.IntegrationCatalog     = (*IntegrationStore)(nil)
	_ core.IntegrationCatalog     = (*CachedIntegrationCatalog)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
