package command

import (
	"strings"
	"time"

	"github.com/goliatone/go-marketplace/core"
)

const (
	TypeInstall           = "marketplace.command.installation.install"
	TypeUninstall         = "marketplace.command.installation.uninstall"
	TypePause             = "marketplace.command.installation.pause"
	TypeResume            = "marketplace.command.installation.resume"
	TypeRecordUsage       = "marketplace.command.installation.usage"
	TypeRecordError       = "marketplace.command.installation.error"
	TypeSetHealth         = "marketplace.command.installation.health"
	TypeCall              = "marketplace.command.gateway.call"
	TypePublish           = "marketplace.command.webhook.publish"
	TypeBroadcast         = "marketplace.command.webhook.broadcast"
	TypeDeliverEvent      = "marketplace.command.webhook.deliver"
	TypeProbeInstallation = "marketplace.command.health.probe"
	TypeReconcile         = "marketplace.command.health.reconcile"
)

type InstallMessage struct {
	Request core.InstallRequest
}

func (InstallMessage) Type() string { return TypeInstall }

func (m InstallMessage) Validate() error {
	if strings.TrimSpace(m.Request.TenantID) == "" {
		return core.FieldError("command", "tenant_id", "tenant id is required")
	}
	if strings.TrimSpace(m.Request.IntegrationID) == "" {
		return core.FieldError("command", "integration_id", "integration id is required")
	}
	return nil
}

type UninstallMessage struct {
	InstallationID string
	Reason         string
}

func (UninstallMessage) Type() string { return TypeUninstall }

func (m UninstallMessage) Validate() error {
	return requireInstallationID(m.InstallationID)
}

type PauseMessage struct {
	InstallationID string
}

func (PauseMessage) Type() string { return TypePause }

func (m PauseMessage) Validate() error {
	return requireInstallationID(m.InstallationID)
}

type ResumeMessage struct {
	InstallationID string
}

func (ResumeMessage) Type() string { return TypeResume }

func (m ResumeMessage) Validate() error {
	return requireInstallationID(m.InstallationID)
}

type RecordUsageMessage struct {
	InstallationID string
	Delta          core.UsageDelta
}

func (RecordUsageMessage) Type() string { return TypeRecordUsage }

func (m RecordUsageMessage) Validate() error {
	if err := requireInstallationID(m.InstallationID); err != nil {
		return err
	}
	if m.Delta.Calls < 0 || m.Delta.Bytes < 0 {
		return core.FieldError("command", "usage", "usage deltas must be >= 0")
	}
	return nil
}

type RecordErrorMessage struct {
	InstallationID string
	Error          string
}

func (RecordErrorMessage) Type() string { return TypeRecordError }

func (m RecordErrorMessage) Validate() error {
	return requireInstallationID(m.InstallationID)
}

type SetHealthMessage struct {
	InstallationID string
	Status         core.HealthStatus
	Latency        time.Duration
}

func (SetHealthMessage) Type() string { return TypeSetHealth }

func (m SetHealthMessage) Validate() error {
	if err := requireInstallationID(m.InstallationID); err != nil {
		return err
	}
	switch m.Status {
	case core.HealthStatusHealthy, core.HealthStatusDegraded, core.HealthStatusUnhealthy:
		return nil
	default:
		return core.FieldError("command", "status", "health status must be healthy, degraded or unhealthy")
	}
}

type CallMessage struct {
	Request core.CallRequest
}

func (CallMessage) Type() string { return TypeCall }

func (m CallMessage) Validate() error {
	if err := requireInstallationID(m.Request.InstallationID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Request.Endpoint) == "" {
		return core.FieldError("command", "endpoint", "endpoint is required")
	}
	return nil
}

type PublishMessage struct {
	InstallationID string
	EventType      string
	Payload        map[string]any
}

func (PublishMessage) Type() string { return TypePublish }

func (m PublishMessage) Validate() error {
	if err := requireInstallationID(m.InstallationID); err != nil {
		return err
	}
	return requireEventType(m.EventType)
}

type BroadcastMessage struct {
	EventType string
	Payload   map[string]any
}

func (BroadcastMessage) Type() string { return TypeBroadcast }

func (m BroadcastMessage) Validate() error {
	return requireEventType(m.EventType)
}

type DeliverEventMessage struct {
	EventID string
}

func (DeliverEventMessage) Type() string { return TypeDeliverEvent }

func (m DeliverEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return core.FieldError("command", "event_id", "event id is required")
	}
	return nil
}

type ProbeInstallationMessage struct {
	InstallationID string
}

func (ProbeInstallationMessage) Type() string { return TypeProbeInstallation }

func (m ProbeInstallationMessage) Validate() error {
	return requireInstallationID(m.InstallationID)
}

type ReconcileMessage struct{}

func (ReconcileMessage) Type() string { return TypeReconcile }

func (ReconcileMessage) Validate() error { return nil }

func requireInstallationID(id string) error {
	if strings.TrimSpace(id) == "" {
		return core.FieldError("command", "installation_id", "installation id is required")
	}
	return nil
}

func requireEventType(eventType string) error {
	if strings.TrimSpace(eventType) == "" {
		return core.FieldError("command", "event_type", "event type is required")
	}
	return nil
}
