package marketplace

import (
	"net/http"

	"github.com/goliatone/go-marketplace/auth"
	"github.com/goliatone/go-marketplace/core"
	"github.com/goliatone/go-marketplace/queue"
	"github.com/goliatone/go-marketplace/ratelimit"
	"github.com/goliatone/go-marketplace/transport"
	"github.com/goliatone/go-marketplace/webhooks"
)

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type IntegrationCatalog = core.IntegrationCatalog
type InstallationStore = core.InstallationStore
type WebhookEventStore = core.WebhookEventStore
type SubscriptionStore = core.SubscriptionStore
type RateLimiter = core.RateLimiter
type TransportAdapter = core.TransportAdapter
type WebhookSigner = core.WebhookSigner
type JobEnqueuer = core.JobEnqueuer
type JobDequeuer = core.JobDequeuer
type MetricsRecorder = core.MetricsRecorder

type Integration = core.Integration
type Installation = core.Installation
type InstallationFilter = core.InstallationFilter
type WebhookEvent = core.WebhookEvent
type DeliveryOutcome = core.DeliveryOutcome
type ReconcileStats = core.ReconcileStats

type InstallRequest = core.InstallRequest
type CallRequest = core.CallRequest
type CallResponse = core.CallResponse
type UsageDelta = core.UsageDelta

var (
	WithLogger               = core.WithLogger
	WithLoggerProvider       = core.WithLoggerProvider
	WithMetricsRecorder      = core.WithMetricsRecorder
	WithErrorMapper          = core.WithErrorMapper
	WithPersistenceClient    = core.WithPersistenceClient
	WithRepositoryFactory    = core.WithRepositoryFactory
	WithConfigProvider       = core.WithConfigProvider
	WithOptionsResolver      = core.WithOptionsResolver
	WithIntegrationCatalog   = core.WithIntegrationCatalog
	WithInstallationStore    = core.WithInstallationStore
	WithWebhookEventStore    = core.WithWebhookEventStore
	WithSubscriptionStore    = core.WithSubscriptionStore
	WithRateLimiter          = core.WithRateLimiter
	WithAuthStrategyResolver = core.WithAuthStrategyResolver
	WithTransport            = core.WithTransport
	WithWebhookTransport     = core.WithWebhookTransport
	WithWebhookSigner        = core.WithWebhookSigner
	WithJobEnqueuer          = core.WithJobEnqueuer
	WithClock                = core.WithClock
	WithIDGenerator          = core.WithIDGenerator
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// NewService builds a service with the in-process rate limiter, the default
// auth strategies, REST and webhook transports, the HMAC signer and an
// in-memory job queue. Options given by the caller replace any of them.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	defaults := DefaultOptions(cfg)
	return core.NewService(cfg, append(defaults, opts...)...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

// DefaultOptions returns the options NewService applies before the caller's.
// Zero values in cfg fall back to DefaultConfig.
func DefaultOptions(cfg Config) []Option {
	effective := withConfigDefaults(cfg)

	client := &http.Client{Timeout: effective.Gateway.Timeout}
	webhookClient := &http.Client{Timeout: effective.Webhooks.Timeout}

	return []Option{
		core.WithRateLimiter(ratelimit.NewFixedWindowLimiter(effective.RateLimit.Limit, effective.RateLimit.Window)),
		core.WithAuthStrategyResolver(auth.NewDefaultResolver(effective)),
		core.WithTransport(transport.NewRESTAdapter(client)),
		core.WithWebhookTransport(transport.NewWebhookAdapter(webhookClient)),
		core.WithWebhookSigner(webhooks.NewSigner(effective.Webhooks.Secret)),
		core.WithJobEnqueuer(queue.NewMemoryQueue()),
	}
}

func withConfigDefaults(cfg Config) Config {
	defaults := core.DefaultConfig()
	if cfg.RateLimit.Limit <= 0 {
		cfg.RateLimit.Limit = defaults.RateLimit.Limit
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = defaults.RateLimit.Window
	}
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = defaults.Gateway.Timeout
	}
	if cfg.Gateway.APIKeyHeader == "" {
		cfg.Gateway.APIKeyHeader = defaults.Gateway.APIKeyHeader
	}
	if cfg.Webhooks.Timeout <= 0 {
		cfg.Webhooks.Timeout = defaults.Webhooks.Timeout
	}
	if cfg.Signing.TTL <= 0 {
		cfg.Signing.TTL = defaults.Signing.TTL
	}
	if cfg.Signing.Issuer == "" {
		cfg.Signing.Issuer = defaults.Signing.Issuer
	}
	return cfg
}
