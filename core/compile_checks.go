package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ InstallationStore  = (*MemoryInstallationStore)(nil)
	_ WebhookEventStore  = (*MemoryWebhookEventStore)(nil)
	_ SubscriptionStore  = (*MemorySubscriptionStore)(nil)
	_ IntegrationCatalog = (*MemoryIntegrationCatalog)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
