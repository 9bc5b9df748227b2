package core

import (
	"context"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type IntegrationCatalog interface {
	GetIntegration(ctx context.Context, id string) (Integration, error)
}

type InstallationFilter struct {
	TenantID      string
	IntegrationID string
	Statuses      []InstallationStatus
}

// InstallationMutator edits a copy of the stored record. Returning an error
// aborts the write.
type InstallationMutator func(*Installation) error

type InstallationStore interface {
	// Create persists a new installation and claims the (tenant, integration)
	// reverse-lookup key atomically. It returns ErrAlreadyInstalled when the
	// key is held by a live installation.
	Create(ctx context.Context, in Installation) (Installation, error)
	Get(ctx context.Context, id string) (Installation, error)
	FindByTenantIntegration(ctx context.Context, tenantID, integrationID string) (Installation, error)
	List(ctx context.Context, filter InstallationFilter) ([]Installation, error)
	// Mutate is the single-writer path for one installation. Implementations
	// serialize concurrent mutators for the same id.
	Mutate(ctx context.Context, id string, fn InstallationMutator) (Installation, error)
}

type WebhookEventStore interface {
	Create(ctx context.Context, event WebhookEvent) (WebhookEvent, error)
	Get(ctx context.Context, id string) (WebhookEvent, error)
	Update(ctx context.Context, event WebhookEvent) (WebhookEvent, error)
	ListByInstallation(ctx context.Context, installationID string, limit int) ([]WebhookEvent, error)
	ListByStatus(ctx context.Context, status WebhookEventStatus, limit int) ([]WebhookEvent, error)
}

type SubscriptionStore interface {
	Subscribe(ctx context.Context, installationID string, eventTypes []string) error
	Unsubscribe(ctx context.Context, installationID string) error
	EventTypes(ctx context.Context, installationID string) ([]string, error)
	Subscribers(ctx context.Context, eventType string) ([]string, error)
}

type RateLimitDecision struct {
	Key       string
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type RateLimiter interface {
	// Consume takes one permit for key. It fails with an error wrapping
	// ErrRateLimited once the current window is exhausted.
	Consume(ctx context.Context, key string) (RateLimitDecision, error)
}

// AuthStrategy decorates an outbound request for one auth method.
type AuthStrategy interface {
	Method() AuthMethod
	Apply(ctx context.Context, req *AuthRequest) error
}

type AuthRequest struct {
	Installation Installation
	Integration  Integration
	Headers      http.Header
	Now          time.Time
}

type AuthStrategyResolver interface {
	Resolve(method AuthMethod) (AuthStrategy, error)
}

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Metadata             map[string]any
	Timeout              time.Duration
	Idempotency          string
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type WebhookSigner interface {
	Sign(event WebhookEvent, timestamp time.Time) (signature string, body []byte, err error)
}

// SecretProvider seals installation credentials before they are persisted.
type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

const (
	JobIDWebhookDelivery = "marketplace.webhook.deliver"
	JobIDHealthProbe     = "marketplace.health.probe"

	JobParamEventID        = "event_id"
	JobParamInstallationID = "installation_id"
)
