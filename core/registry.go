package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// errNoChange lets a mutator skip the write without failing the caller.
var errNoChange = errors.New("core: installation unchanged")

type InstallRequest struct {
	TenantID      string
	IntegrationID string
	Config        InstallationConfig
	Permissions   Permissions
}

func (r InstallRequest) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return validationError("tenant_id", "tenant_id is required")
	}
	if strings.TrimSpace(r.IntegrationID) == "" {
		return validationError("integration_id", "integration_id is required")
	}
	return nil
}

// Install creates the installation record, then subscribes it to the
// integration's declared event types and announces it. A failure after the
// record exists is logged and left to Reconcile.
func (s *Service) Install(ctx context.Context, req InstallRequest) (inst Installation, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"tenant_id":      strings.TrimSpace(req.TenantID),
		"integration_id": strings.TrimSpace(req.IntegrationID),
	}
	defer func() {
		if inst.ID != "" {
			fields["installation_id"] = inst.ID
		}
		s.observeOperation(ctx, startedAt, "install", err, fields)
	}()

	if err := req.Validate(); err != nil {
		return Installation{}, s.mapError(err)
	}
	if s.installations == nil || s.catalog == nil {
		return Installation{}, dependencyError("core: installation store and integration catalog are required")
	}

	integration, err := s.catalog.GetIntegration(ctx, strings.TrimSpace(req.IntegrationID))
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	if !integration.Installable() {
		return Installation{}, s.mapError(wrapServiceError(
			ErrIntegrationNotInstallable,
			fmt.Sprintf("core: integration %q is %s", integration.ID, integration.Status),
			map[string]any{"integration_id": integration.ID, "status": string(integration.Status)},
		))
	}

	now := s.clock()
	trialEndsAt := now.Add(s.config.Billing.TrialPeriod)
	record := Installation{
		ID:            s.newID(),
		IntegrationID: integration.ID,
		TenantID:      strings.TrimSpace(req.TenantID),
		Config:        req.Config,
		Permissions:   req.Permissions,
		Status:        InstallationStatusActive,
		Health: HealthRecord{
			Status:      HealthStatusHealthy,
			SuccessRate: 1,
		},
		Usage: UsageCounters{Periods: map[string]UsagePeriod{}},
		Billing: BillingPlan{
			PlanID:      s.config.Billing.PlanID,
			Status:      BillingStatusTrial,
			TrialEndsAt: &trialEndsAt,
		},
		InstalledAt: now,
		UpdatedAt:   now,
	}
	if record.Permissions.Granted == nil {
		record.Permissions.Granted = append([]string(nil), integration.Permissions...)
	}

	created, err := s.installations.Create(ctx, record)
	if err != nil {
		if errors.Is(err, ErrAlreadyInstalled) {
			return Installation{}, s.mapError(wrapServiceError(
				ErrAlreadyInstalled,
				fmt.Sprintf("core: integration %q already installed for tenant %q", integration.ID, record.TenantID),
				map[string]any{"integration_id": integration.ID, "tenant_id": record.TenantID},
			))
		}
		return Installation{}, s.mapError(err)
	}

	provisioned, provisionErr := s.provision(ctx, created, integration)
	if provisionErr != nil {
		s.logWarn(ctx, "install provisioning incomplete", map[string]any{
			"installation_id": created.ID,
			"integration_id":  integration.ID,
			"error":           provisionErr.Error(),
		})
	}
	return provisioned, nil
}

// provision runs the idempotent post-create steps. Steps that succeeded are
// recorded even when a later step fails. The install event is created once
// and only its delivery job is retried.
func (s *Service) provision(ctx context.Context, inst Installation, integration Integration) (Installation, error) {
	var (
		synced   = inst.Provisioning.SubscriptionsSynced
		eventID  = inst.Provisioning.InstallEventID
		queued   = inst.Provisioning.InstallEventQueued
		failures []error
	)

	if !synced {
		if s.subscriptions == nil {
			failures = append(failures, dependencyError("core: subscription store is required"))
		} else if err := s.subscriptions.Subscribe(ctx, inst.ID, integration.WebhookEvents); err != nil {
			failures = append(failures, fmt.Errorf("core: subscribe installation: %w", err))
		} else {
			synced = true
		}
	}
	if strings.TrimSpace(eventID) == "" {
		event, err := s.createEvent(ctx, inst, EventIntegrationInstalled, map[string]any{
			"installationId": inst.ID,
			"integrationId":  inst.IntegrationID,
			"tenantId":       inst.TenantID,
			"installedAt":    inst.InstalledAt.UnixMilli(),
		})
		if err != nil {
			failures = append(failures, fmt.Errorf("core: publish install event: %w", err))
		} else {
			eventID = event.ID
			queued = false
		}
	}
	if strings.TrimSpace(eventID) != "" && !queued {
		if err := s.enqueuePending(ctx, eventID); err != nil {
			failures = append(failures, fmt.Errorf("core: publish install event: %w", err))
		} else {
			queued = true
		}
	}

	current := inst.Provisioning
	if synced == current.SubscriptionsSynced && eventID == current.InstallEventID && queued == current.InstallEventQueued {
		return inst, errors.Join(failures...)
	}
	updated, err := s.mutateInstallation(ctx, inst.ID, func(record *Installation) error {
		record.Provisioning.SubscriptionsSynced = record.Provisioning.SubscriptionsSynced || synced
		if strings.TrimSpace(record.Provisioning.InstallEventID) == "" {
			record.Provisioning.InstallEventID = eventID
		}
		if record.Provisioning.InstallEventID == eventID {
			record.Provisioning.InstallEventQueued = record.Provisioning.InstallEventQueued || queued
		}
		return nil
	})
	if err != nil {
		failures = append(failures, err)
		return inst, errors.Join(failures...)
	}
	return updated, errors.Join(failures...)
}

func (s *Service) RecordUsage(ctx context.Context, installationID string, delta UsageDelta) (inst Installation, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"installation_id": strings.TrimSpace(installationID)}
	defer func() { s.observeOperation(ctx, startedAt, "record_usage", err, fields) }()

	id, err := requireID("installation_id", installationID)
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	if delta.Calls < 0 || delta.Bytes < 0 {
		return Installation{}, s.mapError(validationError("usage", "usage deltas must be >= 0"))
	}
	inst, err = s.mutateInstallation(ctx, id, func(record *Installation) error {
		if record.Uninstalled() {
			return errNoChange
		}
		record.ApplyUsage(delta, s.clock())
		return nil
	})
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	return inst, nil
}

func (s *Service) RecordError(ctx context.Context, installationID string, cause error) (inst Installation, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"installation_id": strings.TrimSpace(installationID)}
	defer func() { s.observeOperation(ctx, startedAt, "record_error", err, fields) }()

	id, err := requireID("installation_id", installationID)
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	thresholds := s.config.HealthThresholds()
	inst, err = s.mutateInstallation(ctx, id, func(record *Installation) error {
		if record.Uninstalled() {
			return errNoChange
		}
		record.ApplyError(cause, thresholds, s.clock())
		return nil
	})
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	fields["health"] = string(inst.Health.Status)
	fields["consecutive_errors"] = inst.Health.ConsecutiveErrors
	return inst, nil
}

// SetHealth upserts the health record. Repeating the same status only moves
// LastCheck forward.
func (s *Service) SetHealth(
	ctx context.Context,
	installationID string,
	status HealthStatus,
	latency time.Duration,
) (inst Installation, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"installation_id": strings.TrimSpace(installationID),
		"health":          string(status),
	}
	defer func() { s.observeOperation(ctx, startedAt, "set_health", err, fields) }()

	id, err := requireID("installation_id", installationID)
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	switch status {
	case HealthStatusHealthy, HealthStatusDegraded, HealthStatusUnhealthy:
	default:
		return Installation{}, s.mapError(validationError("health", fmt.Sprintf("unsupported health status %q", status)))
	}
	inst, err = s.mutateInstallation(ctx, id, func(record *Installation) error {
		if record.Uninstalled() {
			return errNoChange
		}
		record.ApplyHealth(status, latency, s.clock())
		return nil
	})
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	return inst, nil
}

func (s *Service) Pause(ctx context.Context, installationID string) (inst Installation, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"installation_id": strings.TrimSpace(installationID)}
	defer func() { s.observeOperation(ctx, startedAt, "pause", err, fields) }()

	id, err := requireID("installation_id", installationID)
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	inst, err = s.mutateInstallation(ctx, id, func(record *Installation) error {
		if record.Status == InstallationStatusPaused {
			return errNoChange
		}
		return record.TransitionTo(InstallationStatusPaused, s.clock())
	})
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	s.announce(ctx, inst, EventIntegrationPaused, nil)
	return inst, nil
}

// Resume reactivates a paused installation. An installation in the error
// state is also accepted and starts over with a clean error streak.
func (s *Service) Resume(ctx context.Context, installationID string) (inst Installation, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"installation_id": strings.TrimSpace(installationID)}
	defer func() { s.observeOperation(ctx, startedAt, "resume", err, fields) }()

	id, err := requireID("installation_id", installationID)
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	inst, err = s.mutateInstallation(ctx, id, func(record *Installation) error {
		now := s.clock()
		switch record.Status {
		case InstallationStatusActive:
			return errNoChange
		case InstallationStatusError:
			record.resetErrors(now)
			record.UpdatedAt = now
			return nil
		default:
			if err := record.TransitionTo(InstallationStatusActive, now); err != nil {
				return err
			}
			record.StatusReason = ""
			return nil
		}
	})
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	s.announce(ctx, inst, EventIntegrationResumed, nil)
	return inst, nil
}

// Uninstall announces the removal while the installation can still receive
// webhooks, drops its subscriptions and then persists the terminal state.
func (s *Service) Uninstall(ctx context.Context, installationID string, reason string) (inst Installation, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"installation_id": strings.TrimSpace(installationID)}
	defer func() { s.observeOperation(ctx, startedAt, "uninstall", err, fields) }()

	id, err := requireID("installation_id", installationID)
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	if s.installations == nil {
		return Installation{}, dependencyError("core: installation store is required")
	}
	current, err := s.installations.Get(ctx, id)
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	if current.Uninstalled() {
		return current, nil
	}

	reason = strings.TrimSpace(reason)
	s.announce(ctx, current, EventIntegrationUninstalled, map[string]any{"reason": reason})
	if s.subscriptions != nil {
		if err := s.subscriptions.Unsubscribe(ctx, id); err != nil {
			s.logWarn(ctx, "uninstall unsubscribe failed", map[string]any{
				"installation_id": id,
				"error":           err.Error(),
			})
		}
	}

	inst, err = s.mutateInstallation(ctx, id, func(record *Installation) error {
		if record.Uninstalled() {
			return errNoChange
		}
		if err := record.TransitionTo(InstallationStatusUninstalled, s.clock()); err != nil {
			return err
		}
		record.StatusReason = reason
		return nil
	})
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	return inst, nil
}

func (s *Service) GetInstallation(ctx context.Context, installationID string) (Installation, error) {
	id, err := requireID("installation_id", installationID)
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	if s.installations == nil {
		return Installation{}, dependencyError("core: installation store is required")
	}
	inst, err := s.installations.Get(ctx, id)
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	return inst, nil
}

func (s *Service) FindInstallation(ctx context.Context, tenantID string, integrationID string) (Installation, error) {
	tenantID, err := requireID("tenant_id", tenantID)
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	integrationID, err = requireID("integration_id", integrationID)
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	if s.installations == nil {
		return Installation{}, dependencyError("core: installation store is required")
	}
	inst, err := s.installations.FindByTenantIntegration(ctx, tenantID, integrationID)
	if err != nil {
		return Installation{}, s.mapError(err)
	}
	return inst, nil
}

func (s *Service) ListInstallations(ctx context.Context, filter InstallationFilter) ([]Installation, error) {
	if s.installations == nil {
		return nil, dependencyError("core: installation store is required")
	}
	items, err := s.installations.List(ctx, filter)
	if err != nil {
		return nil, s.mapError(err)
	}
	return items, nil
}

func (s *Service) mutateInstallation(ctx context.Context, id string, fn InstallationMutator) (Installation, error) {
	if s == nil || s.installations == nil {
		return Installation{}, dependencyError("core: installation store is required")
	}
	updated, err := s.installations.Mutate(ctx, id, fn)
	if errors.Is(err, errNoChange) {
		return s.installations.Get(ctx, id)
	}
	return updated, err
}

// announce publishes a lifecycle event; failures are logged only.
func (s *Service) announce(ctx context.Context, inst Installation, eventType string, extra map[string]any) {
	payload := map[string]any{
		"installationId": inst.ID,
		"integrationId":  inst.IntegrationID,
		"tenantId":       inst.TenantID,
		"status":         string(inst.Status),
	}
	for key, value := range extra {
		payload[key] = value
	}
	if _, err := s.publish(ctx, inst, eventType, payload); err != nil {
		s.logWarn(ctx, "lifecycle event publish failed", map[string]any{
			"installation_id": inst.ID,
			"event_type":      eventType,
			"error":           err.Error(),
		})
	}
}
