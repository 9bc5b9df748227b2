package core

import (
	"errors"
	"testing"
	"time"
)

func TestInstallationTransitionTo_ValidAndInvalid(t *testing.T) {
	now := time.Now().UTC()
	inst := Installation{Status: InstallationStatusActive}

	if err := inst.TransitionTo(InstallationStatusPaused, now); err != nil {
		t.Fatalf("expected active->paused to work: %v", err)
	}
	if err := inst.TransitionTo(InstallationStatusError, now); !errors.Is(err, ErrInvalidInstallationStatusTransition) {
		t.Fatalf("expected paused->error to be rejected, got %v", err)
	}
	if err := inst.TransitionTo(InstallationStatusActive, now); err != nil {
		t.Fatalf("expected paused->active to work: %v", err)
	}
	if err := inst.TransitionTo(InstallationStatusError, now); err != nil {
		t.Fatalf("expected active->error to work: %v", err)
	}
	if err := inst.TransitionTo(InstallationStatusUninstalled, now); err != nil {
		t.Fatalf("expected error->uninstalled to work: %v", err)
	}
	if inst.UninstalledAt == nil || !inst.UninstalledAt.Equal(now) {
		t.Fatalf("expected uninstalled timestamp, got %v", inst.UninstalledAt)
	}
	if err := inst.TransitionTo(InstallationStatusActive, now); !errors.Is(err, ErrInvalidInstallationStatusTransition) {
		t.Fatalf("expected uninstalled to be terminal, got %v", err)
	}
}

func TestIntegrationTransitionTo_ReviewFlow(t *testing.T) {
	now := time.Now().UTC()
	integration := Integration{Status: IntegrationStatusDraft}
	for _, next := range []IntegrationStatus{
		IntegrationStatusPendingReview,
		IntegrationStatusApproved,
		IntegrationStatusActive,
		IntegrationStatusSuspended,
		IntegrationStatusActive,
	} {
		if err := integration.TransitionTo(next, now); err != nil {
			t.Fatalf("expected transition to %s to work: %v", next, err)
		}
	}
	if !integration.Installable() {
		t.Fatalf("expected active integration to be installable")
	}
	if err := integration.TransitionTo(IntegrationStatusDraft, now); !errors.Is(err, ErrInvalidIntegrationStatusTransition) {
		t.Fatalf("expected active->draft to be rejected, got %v", err)
	}
}

func TestWebhookEventTransitionTo_TerminalStates(t *testing.T) {
	now := time.Now().UTC()
	event := WebhookEvent{Status: WebhookEventStatusPending}
	if err := event.TransitionTo(WebhookEventStatusRetrying, now); err != nil {
		t.Fatalf("expected pending->retrying: %v", err)
	}
	if err := event.TransitionTo(WebhookEventStatusRetrying, now); err != nil {
		t.Fatalf("expected retrying->retrying: %v", err)
	}
	if err := event.TransitionTo(WebhookEventStatusFailed, now); err != nil {
		t.Fatalf("expected retrying->failed: %v", err)
	}
	if !event.Terminal() {
		t.Fatalf("expected failed to be terminal")
	}
	if err := event.TransitionTo(WebhookEventStatusDelivered, now); !errors.Is(err, ErrInvalidWebhookEventTransition) {
		t.Fatalf("expected failed->delivered to be rejected, got %v", err)
	}
}

func TestApplyUsage_BucketsByHour(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	inst := Installation{Status: InstallationStatusActive}
	inst.ApplyUsage(UsageDelta{Calls: 1, Bytes: 100, Latency: 200 * time.Millisecond}, now)
	inst.ApplyUsage(UsageDelta{Calls: 1, Bytes: 50, Latency: 100 * time.Millisecond}, now.Add(2*time.Minute))

	if inst.Usage.Calls != 2 || inst.Usage.Bytes != 150 {
		t.Fatalf("unexpected totals %#v", inst.Usage)
	}
	if inst.Usage.Periods["2026-03-01T10"].Calls != 1 || inst.Usage.Periods["2026-03-01T11"].Calls != 1 {
		t.Fatalf("expected one call per hourly bucket, got %#v", inst.Usage.Periods)
	}
	if inst.Health.AverageLatency != 190*time.Millisecond {
		t.Fatalf("expected rolling latency 190ms, got %v", inst.Health.AverageLatency)
	}
}

func TestApplyError_ThresholdsFromConfig(t *testing.T) {
	thresholds := HealthThresholds{Degraded: 2, Unhealthy: 3}
	inst := Installation{Status: InstallationStatusActive, Health: HealthRecord{Status: HealthStatusHealthy}}
	now := time.Now().UTC()

	inst.ApplyError(errors.New("one"), thresholds, now)
	if inst.Health.Status != HealthStatusHealthy {
		t.Fatalf("expected healthy after one error, got %q", inst.Health.Status)
	}
	inst.ApplyError(errors.New("two"), thresholds, now)
	if inst.Health.Status != HealthStatusDegraded {
		t.Fatalf("expected degraded, got %q", inst.Health.Status)
	}
	inst.ApplyError(errors.New("three"), thresholds, now)
	if inst.Health.Status != HealthStatusUnhealthy || inst.Status != InstallationStatusError {
		t.Fatalf("expected unhealthy/error, got %s/%s", inst.Health.Status, inst.Status)
	}
}
