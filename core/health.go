package core

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

type ReconcileStats struct {
	Scanned  int
	Repaired int
	Failed   int
}

// ProbeStatuses are the installation states the health monitor checks. Error
// installations are probed so they can recover.
var ProbeStatuses = []InstallationStatus{InstallationStatusActive, InstallationStatusError}

// ProbeInstallation calls the integration health endpoint. Probes bypass the
// rate limiter and usage accounting; their result feeds the health record.
func (s *Service) ProbeInstallation(ctx context.Context, installationID string) (inst Installation, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"installation_id": strings.TrimSpace(installationID)}
	defer func() {
		fields["health"] = string(inst.Health.Status)
		s.observeOperation(ctx, startedAt, "probe_installation", err, fields)
	}()

	target, integration, err := s.loadCallTarget(ctx, installationID)
	if err != nil {
		return Installation{}, err
	}
	fields["integration_id"] = integration.ID

	// Probes bypass the limiter and are not counted as usage.
	res, probeErr := s.call(ctx, target, integration, CallRequest{
		InstallationID: target.ID,
		Endpoint:       s.config.Health.ProbePath,
		Method:         http.MethodGet,
	}, callOptions{timeout: s.config.Health.ProbeTimeout, rateLimited: false, accounting: false})
	if probeErr != nil {
		updated, recordErr := s.RecordError(ctx, target.ID, probeErr)
		if recordErr != nil {
			return target, errors.Join(probeErr, recordErr)
		}
		return updated, probeErr
	}

	updated, err := s.SetHealth(ctx, target.ID, HealthStatusHealthy, res.Latency)
	if err != nil {
		return target, err
	}
	return updated, nil
}

// Reconcile finishes provisioning for installations whose install flow
// stopped after the record was created.
func (s *Service) Reconcile(ctx context.Context) (stats ReconcileStats, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["scanned"] = stats.Scanned
		fields["repaired"] = stats.Repaired
		fields["failed"] = stats.Failed
		s.observeOperation(ctx, startedAt, "reconcile", err, fields)
	}()

	if s.installations == nil || s.catalog == nil {
		return ReconcileStats{}, dependencyError("core: installation store and integration catalog are required")
	}
	items, err := s.installations.List(ctx, InstallationFilter{
		Statuses: []InstallationStatus{
			InstallationStatusActive,
			InstallationStatusPaused,
			InstallationStatusError,
		},
	})
	if err != nil {
		return ReconcileStats{}, s.mapError(err)
	}

	var failures []error
	for _, inst := range items {
		if ctx.Err() != nil {
			return stats, s.mapError(ctx.Err())
		}
		stats.Scanned++
		if inst.Provisioning.Complete() {
			continue
		}
		integration, getErr := s.catalog.GetIntegration(ctx, inst.IntegrationID)
		if getErr != nil {
			stats.Failed++
			failures = append(failures, getErr)
			continue
		}
		if _, provisionErr := s.provision(ctx, inst, integration); provisionErr != nil {
			stats.Failed++
			failures = append(failures, provisionErr)
			continue
		}
		stats.Repaired++
	}
	if len(failures) > 0 {
		s.logWarn(ctx, "reconcile left installations incomplete", map[string]any{
			"failed": stats.Failed,
			"error":  errors.Join(failures...).Error(),
		})
	}
	return stats, nil
}
