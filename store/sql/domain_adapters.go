package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-marketplace/core"
)

func newIntegrationRecord(in core.Integration, now time.Time) *integrationRecord {
	createdAt := in.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := in.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = now
	}
	return &integrationRecord{
		ID:            strings.TrimSpace(in.ID),
		Name:          strings.TrimSpace(in.Name),
		Category:      strings.TrimSpace(in.Category),
		Developer:     in.Developer,
		AuthMethod:    string(in.AuthMethod.Normalize()),
		BaseURL:       strings.TrimSpace(in.BaseURL),
		WebhookEvents: copyStrings(in.WebhookEvents),
		Permissions:   copyStrings(in.Permissions),
		Version:       strings.TrimSpace(in.Version),
		Status:        string(in.Status),
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
}

func (r *integrationRecord) toDomain() core.Integration {
	if r == nil {
		return core.Integration{}
	}
	return core.Integration{
		ID:            r.ID,
		Name:          r.Name,
		Category:      r.Category,
		Developer:     r.Developer,
		AuthMethod:    core.AuthMethod(r.AuthMethod),
		BaseURL:       r.BaseURL,
		WebhookEvents: copyStrings(r.WebhookEvents),
		Permissions:   copyStrings(r.Permissions),
		Version:       r.Version,
		Status:        core.IntegrationStatus(r.Status),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func newInstallationRecord(in core.Installation) *installationRecord {
	in = core.CloneInstallation(in)
	return &installationRecord{
		ID:            strings.TrimSpace(in.ID),
		IntegrationID: strings.TrimSpace(in.IntegrationID),
		TenantID:      strings.TrimSpace(in.TenantID),
		Config:        in.Config,
		Permissions:   in.Permissions,
		Status:        string(in.Status),
		StatusReason:  in.StatusReason,
		Health:        in.Health,
		Usage:         in.Usage,
		Billing:       in.Billing,
		Provisioning:  in.Provisioning,
		Version:       in.Version,
		InstalledAt:   in.InstalledAt.UTC(),
		UpdatedAt:     in.UpdatedAt.UTC(),
		UninstalledAt: cloneTimePointer(in.UninstalledAt),
	}
}

func (r *installationRecord) toDomain() core.Installation {
	if r == nil {
		return core.Installation{}
	}
	return core.CloneInstallation(core.Installation{
		ID:            r.ID,
		IntegrationID: r.IntegrationID,
		TenantID:      r.TenantID,
		Config:        r.Config,
		Permissions:   r.Permissions,
		Status:        core.InstallationStatus(r.Status),
		StatusReason:  r.StatusReason,
		Health:        r.Health,
		Usage:         r.Usage,
		Billing:       r.Billing,
		Provisioning:  r.Provisioning,
		Version:       r.Version,
		InstalledAt:   r.InstalledAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
		UninstalledAt: cloneTimePointer(r.UninstalledAt),
	})
}

func newWebhookEventRecord(in core.WebhookEvent) *webhookEventRecord {
	in = core.CloneWebhookEvent(in)
	failures := in.Failures
	if failures == nil {
		failures = []core.DeliveryAttempt{}
	}
	return &webhookEventRecord{
		ID:             strings.TrimSpace(in.ID),
		InstallationID: strings.TrimSpace(in.InstallationID),
		Type:           strings.TrimSpace(in.Type),
		Payload:        in.Payload,
		Attempts:       in.Attempts,
		Status:         string(in.Status),
		Failures:       failures,
		NextRetry:      cloneTimePointer(in.NextRetry),
		DeliveredAt:    cloneTimePointer(in.DeliveredAt),
		LastError:      in.LastError,
		CreatedAt:      in.CreatedAt.UTC(),
		UpdatedAt:      in.UpdatedAt.UTC(),
	}
}

func (r *webhookEventRecord) toDomain() core.WebhookEvent {
	if r == nil {
		return core.WebhookEvent{}
	}
	var failures []core.DeliveryAttempt
	if len(r.Failures) > 0 {
		failures = r.Failures
	}
	return core.CloneWebhookEvent(core.WebhookEvent{
		ID:             r.ID,
		InstallationID: r.InstallationID,
		Type:           r.Type,
		Payload:        r.Payload,
		Attempts:       r.Attempts,
		Status:         core.WebhookEventStatus(r.Status),
		Failures:       failures,
		NextRetry:      cloneTimePointer(r.NextRetry),
		DeliveredAt:    cloneTimePointer(r.DeliveredAt),
		LastError:      r.LastError,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	})
}

func copyStrings(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	return append([]string(nil), in...)
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
