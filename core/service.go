package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

// Service owns installations, outbound calls, webhook dispatch and health
// probes. Every mutation of one installation goes through the installation
// store's single-writer Mutate path.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	catalog           IntegrationCatalog
	installations     InstallationStore
	events            WebhookEventStore
	subscriptions     SubscriptionStore
	rateLimiter       RateLimiter
	authResolver      AuthStrategyResolver
	transport         TransportAdapter
	webhookTransport  TransportAdapter
	signer            WebhookSigner
	enqueuer          JobEnqueuer
	now               func() time.Time
	newID             func() string
}

type ServiceDependencies struct {
	Logger             Logger
	LoggerProvider     LoggerProvider
	MetricsRecorder    MetricsRecorder
	ErrorMapper        ErrorMapper
	PersistenceClient  any
	RepositoryFactory  any
	ConfigProvider     ConfigProvider
	OptionsResolver    OptionsResolver
	IntegrationCatalog IntegrationCatalog
	InstallationStore  InstallationStore
	WebhookEventStore  WebhookEventStore
	SubscriptionStore  SubscriptionStore
	RateLimiter        RateLimiter
	AuthResolver       AuthStrategyResolver
	Transport          TransportAdapter
	WebhookTransport   TransportAdapter
	WebhookSigner      WebhookSigner
	JobEnqueuer        JobEnqueuer
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("marketplace", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("marketplace"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}
	if builder.newID == nil {
		builder.newID = uuid.NewString
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if err := resolveStores(&builder); err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	if builder.installationStore == nil {
		builder.installationStore = NewMemoryInstallationStore()
	}
	if builder.eventStore == nil {
		builder.eventStore = NewMemoryWebhookEventStore()
	}
	if builder.subscriptionStore == nil {
		builder.subscriptionStore = NewMemorySubscriptionStore()
	}
	if builder.catalog == nil {
		builder.catalog = NewMemoryIntegrationCatalog()
	}
	if builder.webhookTransport == nil {
		builder.webhookTransport = builder.transport
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		catalog:           builder.catalog,
		installations:     builder.installationStore,
		events:            builder.eventStore,
		subscriptions:     builder.subscriptionStore,
		rateLimiter:       builder.rateLimiter,
		authResolver:      builder.authResolver,
		transport:         builder.transport,
		webhookTransport:  builder.webhookTransport,
		signer:            builder.signer,
		enqueuer:          builder.enqueuer,
		now:               builder.now,
		newID:             builder.newID,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func resolveStores(builder *serviceBuilder) error {
	if builder.repositoryFactory == nil {
		return nil
	}
	var provider StoreProvider
	switch typed := builder.repositoryFactory.(type) {
	case RepositoryStoreFactory:
		built, err := typed.BuildStores(builder.persistenceClient)
		if err != nil {
			return err
		}
		provider = built
	case StoreProvider:
		provider = typed
	}
	if provider == nil {
		return nil
	}
	if builder.installationStore == nil {
		builder.installationStore = provider.InstallationStore()
	}
	if builder.eventStore == nil {
		builder.eventStore = provider.WebhookEventStore()
	}
	if builder.subscriptionStore == nil {
		builder.subscriptionStore = provider.SubscriptionStore()
	}
	if builder.catalog == nil {
		builder.catalog = provider.IntegrationCatalog()
	}
	return nil
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:             s.logger,
		LoggerProvider:     s.loggerProvider,
		MetricsRecorder:    s.metricsRecorder,
		ErrorMapper:        s.errorMapper,
		PersistenceClient:  s.persistenceClient,
		RepositoryFactory:  s.repositoryFactory,
		ConfigProvider:     s.configProvider,
		OptionsResolver:    s.optionsResolver,
		IntegrationCatalog: s.catalog,
		InstallationStore:  s.installations,
		WebhookEventStore:  s.events,
		SubscriptionStore:  s.subscriptions,
		RateLimiter:        s.rateLimiter,
		AuthResolver:       s.authResolver,
		Transport:          s.transport,
		WebhookTransport:   s.webhookTransport,
		WebhookSigner:      s.signer,
		JobEnqueuer:        s.enqueuer,
	}
}

func (s *Service) clock() time.Time {
	if s == nil || s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func (s *Service) mapError(err error) error {
	if err == nil || s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func dependencyError(message string) error {
	return MissingDependency(message)
}

func validationError(field string, message string) error {
	return FieldError("core", field, message)
}

func requireID(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", validationError(field, fmt.Sprintf("%s is required", field))
	}
	return trimmed, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
