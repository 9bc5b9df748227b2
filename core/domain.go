package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidIntegrationStatusTransition  = errors.New("core: invalid integration status transition")
	ErrInvalidInstallationStatusTransition = errors.New("core: invalid installation status transition")
	ErrInvalidWebhookEventTransition       = errors.New("core: invalid webhook event transition")
)

const (
	EventIntegrationInstalled   = "integration.installed"
	EventIntegrationUninstalled = "integration.uninstalled"
	EventIntegrationPaused      = "integration.paused"
	EventIntegrationResumed     = "integration.resumed"
)

type AuthMethod string

const (
	AuthMethodAPIKey      AuthMethod = "api_key"
	AuthMethodOAuth2      AuthMethod = "oauth2"
	AuthMethodSignedToken AuthMethod = "signed_token"
	AuthMethodBasic       AuthMethod = "basic"
)

func (m AuthMethod) Normalize() AuthMethod {
	return AuthMethod(strings.TrimSpace(strings.ToLower(string(m))))
}

type IntegrationStatus string

const (
	IntegrationStatusDraft         IntegrationStatus = "draft"
	IntegrationStatusPendingReview IntegrationStatus = "pending_review"
	IntegrationStatusApproved      IntegrationStatus = "approved"
	IntegrationStatusActive        IntegrationStatus = "active"
	IntegrationStatusSuspended     IntegrationStatus = "suspended"
	IntegrationStatusDeprecated    IntegrationStatus = "deprecated"
)

type Developer struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Website string `json:"website,omitempty"`
}

// Integration is a catalog entry. Once active only Version and Status change.
type Integration struct {
	ID            string
	Name          string
	Category      string
	Developer     Developer
	AuthMethod    AuthMethod
	BaseURL       string
	WebhookEvents []string
	Permissions   []string
	Version       string
	Status        IntegrationStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (i Integration) Installable() bool {
	return i.Status == IntegrationStatusActive
}

func (i *Integration) TransitionTo(status IntegrationStatus, now time.Time) error {
	if i == nil {
		return nil
	}
	if i.Status == status {
		return nil
	}
	if !integrationTransitionAllowed(i.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidIntegrationStatusTransition, i.Status, status)
	}
	i.Status = status
	i.UpdatedAt = now
	return nil
}

func integrationTransitionAllowed(current, next IntegrationStatus) bool {
	allowed := map[IntegrationStatus]map[IntegrationStatus]struct{}{
		IntegrationStatusDraft: {
			IntegrationStatusPendingReview: {},
		},
		IntegrationStatusPendingReview: {
			IntegrationStatusApproved: {},
			IntegrationStatusDraft:    {},
		},
		IntegrationStatusApproved: {
			IntegrationStatusActive: {},
		},
		IntegrationStatusActive: {
			IntegrationStatusSuspended:  {},
			IntegrationStatusDeprecated: {},
		},
		IntegrationStatusSuspended: {
			IntegrationStatusActive:     {},
			IntegrationStatusDeprecated: {},
		},
		IntegrationStatusDeprecated: {},
	}
	_, ok := allowed[current][next]
	return ok
}

type InstallationStatus string

const (
	InstallationStatusActive      InstallationStatus = "active"
	InstallationStatusPaused      InstallationStatus = "paused"
	InstallationStatusError       InstallationStatus = "error"
	InstallationStatusUninstalled InstallationStatus = "uninstalled"
)

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type BillingStatus string

const (
	BillingStatusTrial    BillingStatus = "trial"
	BillingStatusActive   BillingStatus = "active"
	BillingStatusPastDue  BillingStatus = "past_due"
	BillingStatusCanceled BillingStatus = "canceled"
)

// InstallationConfig is supplied at install time and persisted with the record.
type InstallationConfig struct {
	APIKey       string            `json:"apiKey,omitempty"`
	APISecret    string            `json:"apiSecret,omitempty"`
	AccessToken  string            `json:"accessToken,omitempty"`
	RefreshToken string            `json:"refreshToken,omitempty"`
	WebhookURL   string            `json:"webhookUrl,omitempty"`
	Settings     map[string]any    `json:"settings"`
	Mappings     map[string]string `json:"mappings"`
}

type Permissions struct {
	Granted []string `json:"granted"`
	Denied  []string `json:"denied"`
}

type HealthRecord struct {
	Status            HealthStatus  `json:"status"`
	LastCheck         *time.Time    `json:"lastCheck,omitempty"`
	ConsecutiveErrors int           `json:"consecutiveErrors"`
	TotalErrors       int64         `json:"totalErrors"`
	LastError         string        `json:"lastError,omitempty"`
	SuccessRate       float64       `json:"successRate"`
	AverageLatency    time.Duration `json:"averageLatency"`
}

type UsagePeriod struct {
	Calls int64 `json:"calls"`
	Bytes int64 `json:"bytes"`
}

type UsageCounters struct {
	Calls   int64                  `json:"calls"`
	Bytes   int64                  `json:"bytes"`
	Periods map[string]UsagePeriod `json:"periods"`
}

type BillingPlan struct {
	PlanID      string        `json:"planId"`
	Status      BillingStatus `json:"status"`
	TrialEndsAt *time.Time    `json:"trialEndsAt,omitempty"`
}

// Provisioning tracks the post-create steps of an install so a reconciliation
// pass can finish them. The install event is recorded as soon as it is
// persisted; InstallEventQueued flips once its delivery job is accepted.
type Provisioning struct {
	SubscriptionsSynced bool   `json:"subscriptionsSynced"`
	InstallEventID      string `json:"installEventId,omitempty"`
	InstallEventQueued  bool   `json:"installEventQueued,omitempty"`
}

func (p Provisioning) Complete() bool {
	return p.SubscriptionsSynced && strings.TrimSpace(p.InstallEventID) != "" && p.InstallEventQueued
}

type Installation struct {
	ID            string
	IntegrationID string
	TenantID      string
	Config        InstallationConfig
	Permissions   Permissions
	Status        InstallationStatus
	StatusReason  string
	Health        HealthRecord
	Usage         UsageCounters
	Billing       BillingPlan
	Provisioning  Provisioning
	Version       int64
	InstalledAt   time.Time
	UpdatedAt     time.Time
	UninstalledAt *time.Time
}

func (i *Installation) TransitionTo(status InstallationStatus, now time.Time) error {
	if i == nil {
		return nil
	}
	if i.Status == status {
		return nil
	}
	if !installationTransitionAllowed(i.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidInstallationStatusTransition, i.Status, status)
	}
	i.Status = status
	i.UpdatedAt = now
	if status == InstallationStatusUninstalled {
		at := now
		i.UninstalledAt = &at
	}
	return nil
}

func installationTransitionAllowed(current, next InstallationStatus) bool {
	allowed := map[InstallationStatus]map[InstallationStatus]struct{}{
		InstallationStatusActive: {
			InstallationStatusPaused:      {},
			InstallationStatusError:       {},
			InstallationStatusUninstalled: {},
		},
		InstallationStatusPaused: {
			InstallationStatusActive:      {},
			InstallationStatusUninstalled: {},
		},
		InstallationStatusError: {
			InstallationStatusActive:      {},
			InstallationStatusUninstalled: {},
		},
		InstallationStatusUninstalled: {},
	}
	_, ok := allowed[current][next]
	return ok
}

func (i Installation) Uninstalled() bool {
	return i.Status == InstallationStatusUninstalled
}

type HealthThresholds struct {
	Degraded  int
	Unhealthy int
}

// ApplyError counts one failure against the health record. Crossing the
// unhealthy threshold moves an active installation into the error state.
func (i *Installation) ApplyError(cause error, thresholds HealthThresholds, now time.Time) {
	if i == nil || i.Uninstalled() {
		return
	}
	i.Health.ConsecutiveErrors++
	i.Health.TotalErrors++
	if cause != nil {
		i.Health.LastError = cause.Error()
	}
	i.Health.SuccessRate = rollingRate(i.Health.SuccessRate, false)
	switch {
	case thresholds.Unhealthy > 0 && i.Health.ConsecutiveErrors >= thresholds.Unhealthy:
		i.Health.Status = HealthStatusUnhealthy
		if i.Status == InstallationStatusActive {
			_ = i.TransitionTo(InstallationStatusError, now)
			i.StatusReason = "health: unhealthy threshold reached"
		}
	case thresholds.Degraded > 0 && i.Health.ConsecutiveErrors >= thresholds.Degraded:
		i.Health.Status = HealthStatusDegraded
	}
	i.UpdatedAt = now
}

// ApplyHealth upserts the health record; healthy clears the error streak.
func (i *Installation) ApplyHealth(status HealthStatus, latency time.Duration, now time.Time) {
	if i == nil {
		return
	}
	checked := now
	i.Health.LastCheck = &checked
	i.Health.Status = status
	if latency > 0 {
		i.Health.AverageLatency = rollingLatency(i.Health.AverageLatency, latency)
	}
	if status == HealthStatusHealthy {
		i.resetErrors(now)
	}
	i.UpdatedAt = now
}

type UsageDelta struct {
	Calls   int64
	Bytes   int64
	Latency time.Duration
}

// ApplyUsage adds a usage delta and counts it as a successful call.
func (i *Installation) ApplyUsage(delta UsageDelta, now time.Time) {
	if i == nil {
		return
	}
	i.Usage.Calls += delta.Calls
	i.Usage.Bytes += delta.Bytes
	if i.Usage.Periods == nil {
		i.Usage.Periods = map[string]UsagePeriod{}
	}
	key := UsagePeriodKey(now)
	period := i.Usage.Periods[key]
	period.Calls += delta.Calls
	period.Bytes += delta.Bytes
	i.Usage.Periods[key] = period
	if delta.Latency > 0 {
		i.Health.AverageLatency = rollingLatency(i.Health.AverageLatency, delta.Latency)
	}
	if delta.Calls > 0 {
		i.Health.SuccessRate = rollingRate(i.Health.SuccessRate, true)
		i.resetErrors(now)
	}
	i.UpdatedAt = now
}

func (i *Installation) resetErrors(now time.Time) {
	i.Health.ConsecutiveErrors = 0
	i.Health.Status = HealthStatusHealthy
	if i.Status == InstallationStatusError {
		_ = i.TransitionTo(InstallationStatusActive, now)
		i.StatusReason = ""
	}
}

// UsagePeriodKey buckets usage by UTC hour.
func UsagePeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01-02T15")
}

const rollingWeight = 0.1

func rollingRate(current float64, success bool) float64 {
	sample := 0.0
	if success {
		sample = 1
	}
	return current*(1-rollingWeight) + sample*rollingWeight
}

func rollingLatency(current, sample time.Duration) time.Duration {
	if current <= 0 {
		return sample
	}
	return time.Duration(float64(current)*(1-rollingWeight) + float64(sample)*rollingWeight)
}

type WebhookEventStatus string

const (
	WebhookEventStatusPending   WebhookEventStatus = "pending"
	WebhookEventStatusRetrying  WebhookEventStatus = "retrying"
	WebhookEventStatusDelivered WebhookEventStatus = "delivered"
	WebhookEventStatusFailed    WebhookEventStatus = "failed"
)

// DeliveryAttempt is one failed try at delivering a webhook event.
type DeliveryAttempt struct {
	Attempt    int           `json:"attempt"`
	At         time.Time     `json:"at"`
	StatusCode int           `json:"statusCode,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

type WebhookEvent struct {
	ID             string
	InstallationID string
	Type           string
	Payload        map[string]any
	Attempts       int
	Status         WebhookEventStatus
	Failures       []DeliveryAttempt
	NextRetry      *time.Time
	DeliveredAt    *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (e WebhookEvent) Terminal() bool {
	return e.Status == WebhookEventStatusDelivered || e.Status == WebhookEventStatusFailed
}

func (e *WebhookEvent) TransitionTo(status WebhookEventStatus, now time.Time) error {
	if e == nil {
		return nil
	}
	if !webhookEventTransitionAllowed(e.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidWebhookEventTransition, e.Status, status)
	}
	e.Status = status
	e.UpdatedAt = now
	return nil
}

func webhookEventTransitionAllowed(current, next WebhookEventStatus) bool {
	allowed := map[WebhookEventStatus]map[WebhookEventStatus]struct{}{
		WebhookEventStatusPending: {
			WebhookEventStatusDelivered: {},
			WebhookEventStatusRetrying:  {},
			WebhookEventStatusFailed:    {},
		},
		WebhookEventStatusRetrying: {
			WebhookEventStatusRetrying:  {},
			WebhookEventStatusDelivered: {},
			WebhookEventStatusFailed:    {},
		},
		WebhookEventStatusDelivered: {},
		WebhookEventStatusFailed:    {},
	}
	_, ok := allowed[current][next]
	return ok
}
