package core

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type StoreProvider interface {
	InstallationStore() InstallationStore
	WebhookEventStore() WebhookEventStore
	SubscriptionStore() SubscriptionStore
	IntegrationCatalog() IntegrationCatalog
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	catalog           IntegrationCatalog
	installationStore InstallationStore
	eventStore        WebhookEventStore
	subscriptionStore SubscriptionStore
	rateLimiter       RateLimiter
	authResolver      AuthStrategyResolver
	transport         TransportAdapter
	webhookTransport  TransportAdapter
	signer            WebhookSigner
	enqueuer          JobEnqueuer
	now               func() time.Time
	newID             func() string
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

// WithRepositoryFactory accepts a StoreProvider or a RepositoryStoreFactory.
// Explicit store options take precedence over stores built by the factory.
func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithIntegrationCatalog(catalog IntegrationCatalog) Option {
	return func(b *serviceBuilder) {
		b.catalog = catalog
	}
}

func WithInstallationStore(store InstallationStore) Option {
	return func(b *serviceBuilder) {
		b.installationStore = store
	}
}

func WithWebhookEventStore(store WebhookEventStore) Option {
	return func(b *serviceBuilder) {
		b.eventStore = store
	}
}

func WithSubscriptionStore(store SubscriptionStore) Option {
	return func(b *serviceBuilder) {
		b.subscriptionStore = store
	}
}

func WithRateLimiter(limiter RateLimiter) Option {
	return func(b *serviceBuilder) {
		b.rateLimiter = limiter
	}
}

func WithAuthStrategyResolver(resolver AuthStrategyResolver) Option {
	return func(b *serviceBuilder) {
		b.authResolver = resolver
	}
}

// WithTransport sets the adapter used for outbound API calls and, unless
// WithWebhookTransport is also given, for webhook deliveries.
func WithTransport(adapter TransportAdapter) Option {
	return func(b *serviceBuilder) {
		b.transport = adapter
	}
}

func WithWebhookTransport(adapter TransportAdapter) Option {
	return func(b *serviceBuilder) {
		b.webhookTransport = adapter
	}
}

func WithWebhookSigner(signer WebhookSigner) Option {
	return func(b *serviceBuilder) {
		b.signer = signer
	}
}

func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.enqueuer = enqueuer
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(b *serviceBuilder) {
		b.newID = newID
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("marketplace", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}
