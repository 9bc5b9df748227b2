package sqlstore

import (
	"time"

	"github.com/goliatone/go-marketplace/core"
	"github.com/uptrace/bun"
)

type integrationRecord struct {
	bun.BaseModel `bun:"table:marketplace_integrations,alias:mi"`

	ID            string         `bun:"id,pk"`
	Name          string         `bun:"name,notnull"`
	Category      string         `bun:"category,notnull"`
	Developer     core.Developer `bun:"developer,type:jsonb,notnull"`
	AuthMethod    string         `bun:"auth_method,notnull"`
	BaseURL       string         `bun:"base_url,notnull"`
	WebhookEvents []string       `bun:"webhook_events,type:jsonb,notnull"`
	Permissions   []string       `bun:"permissions,type:jsonb,notnull"`
	Version       string         `bun:"version,notnull"`
	Status        string         `bun:"status,notnull"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type installationRecord struct {
	bun.BaseModel `bun:"table:marketplace_installations,alias:mins"`

	ID            string                  `bun:"id,pk"`
	IntegrationID string                  `bun:"integration_id,notnull"`
	TenantID      string                  `bun:"tenant_id,notnull"`
	Config        core.InstallationConfig `bun:"config,type:jsonb,notnull"`
	Permissions   core.Permissions        `bun:"permissions,type:jsonb,notnull"`
	Status        string                  `bun:"status,notnull"`
	StatusReason  string                  `bun:"status_reason,notnull"`
	Health        core.HealthRecord       `bun:"health,type:jsonb,notnull"`
	Usage         core.UsageCounters      `bun:"usage,type:jsonb,notnull"`
	Billing       core.BillingPlan        `bun:"billing,type:jsonb,notnull"`
	Provisioning  core.Provisioning       `bun:"provisioning,type:jsonb,notnull"`
	Version       int64                   `bun:"version,notnull"`
	InstalledAt   time.Time               `bun:"installed_at,notnull"`
	UpdatedAt     time.Time               `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	UninstalledAt *time.Time              `bun:"uninstalled_at,nullzero"`
}

type webhookEventRecord struct {
	bun.BaseModel `bun:"table:marketplace_webhook_events,alias:mwe"`

	ID             string                 `bun:"id,pk"`
	InstallationID string                 `bun:"installation_id,notnull"`
	Type           string                 `bun:"type,notnull"`
	Payload        map[string]any         `bun:"payload,type:jsonb,notnull"`
	Attempts       int                    `bun:"attempts,notnull"`
	Status         string                 `bun:"status,notnull"`
	Failures       []core.DeliveryAttempt `bun:"failures,type:jsonb,notnull"`
	NextRetry      *time.Time             `bun:"next_retry_at,nullzero"`
	DeliveredAt    *time.Time             `bun:"delivered_at,nullzero"`
	LastError      string                 `bun:"last_error,notnull"`
	CreatedAt      time.Time              `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time              `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type subscriptionRecord struct {
	bun.BaseModel `bun:"table:marketplace_subscriptions,alias:ms"`

	InstallationID string    `bun:"installation_id,pk"`
	EventType      string    `bun:"event_type,pk"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
