package core

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestProbeInstallation_SuccessResetsErrors(t *testing.T) {
	h := newTestHarness(t)
	inst := h.install(t, testWebhookURL)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		inst, _ = h.svc.RecordError(ctx, inst.ID, errors.New("flaky"))
	}
	if inst.Health.Status != HealthStatusDegraded {
		t.Fatalf("expected degraded before probe, got %q", inst.Health.Status)
	}

	probed, err := h.svc.ProbeInstallation(ctx, inst.ID)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if probed.Health.Status != HealthStatusHealthy || probed.Health.ConsecutiveErrors != 0 {
		t.Fatalf("expected healthy with reset streak, got %#v", probed.Health)
	}
	if probed.Health.LastCheck == nil || !probed.Health.LastCheck.Equal(h.clock.Now()) {
		t.Fatalf("expected last check at %v, got %v", h.clock.Now(), probed.Health.LastCheck)
	}

	calls := h.transport.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one probe request, got %d", len(calls))
	}
	if calls[0].URL != "https://api.example.test/v1/health" || calls[0].Method != http.MethodGet {
		t.Fatalf("unexpected probe request %s %s", calls[0].Method, calls[0].URL)
	}
	if calls[0].Timeout != 5*time.Second {
		t.Fatalf("expected 5s probe timeout, got %v", calls[0].Timeout)
	}
	if h.limiter.calls != 0 {
		t.Fatalf("expected probes to bypass the rate limiter")
	}
	if probed.Usage.Calls != 0 {
		t.Fatalf("expected probes to stay out of usage accounting, got %d", probed.Usage.Calls)
	}
}

func TestProbeInstallation_RunsWhenTenantIsAtQuota(t *testing.T) {
	h := newTestHarness(t)
	inst := h.install(t, testWebhookURL)
	h.limiter.deny = true

	if _, err := h.svc.Call(context.Background(), CallRequest{InstallationID: inst.ID, Endpoint: "/contacts"}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected api call to be rate limited, got %v", err)
	}
	probed, err := h.svc.ProbeInstallation(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("expected probe to run at quota, got %v", err)
	}
	if probed.Health.Status != HealthStatusHealthy {
		t.Fatalf("expected healthy probe, got %q", probed.Health.Status)
	}
}

func TestProbeInstallation_FailureRecordsError(t *testing.T) {
	h := newTestHarness(t)
	inst := h.install(t, testWebhookURL)
	h.transport.responses = []stubResponse{{status: http.StatusServiceUnavailable}}

	probed, err := h.svc.ProbeInstallation(context.Background(), inst.ID)
	if !errors.Is(err, ErrCallFailed) {
		t.Fatalf("expected ErrCallFailed, got %v", err)
	}
	if probed.Health.ConsecutiveErrors != 1 {
		t.Fatalf("expected one recorded error, got %d", probed.Health.ConsecutiveErrors)
	}
}

func TestProbeInstallation_RecoversErrorInstallation(t *testing.T) {
	h := newTestHarness(t)
	inst := h.install(t, testWebhookURL)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		inst, _ = h.svc.RecordError(ctx, inst.ID, errors.New("down"))
	}
	if inst.Status != InstallationStatusError {
		t.Fatalf("expected error status, got %q", inst.Status)
	}

	probed, err := h.svc.ProbeInstallation(ctx, inst.ID)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if probed.Status != InstallationStatusActive {
		t.Fatalf("expected probe success to reactivate, got %q", probed.Status)
	}
}

func TestProbeInstallation_SkipsPausedInstallations(t *testing.T) {
	h := newTestHarness(t)
	inst := h.install(t, testWebhookURL)
	if _, err := h.svc.Pause(context.Background(), inst.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := h.svc.ProbeInstallation(context.Background(), inst.ID); !errors.Is(err, ErrInstallationNotCallable) {
		t.Fatalf("expected ErrInstallationNotCallable, got %v", err)
	}
}
