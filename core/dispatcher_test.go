package core

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func publishTestEvent(t *testing.T, h *testHarness, installationID string) WebhookEvent {
	t.Helper()
	event, err := h.svc.Publish(context.Background(), installationID, "contact.created", map[string]any{
		"contactId": "c_1",
		"email":     "ada@example.test",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	return event
}

func TestPublish_PersistsPendingEventAndEnqueues(t *testing.T) {
	h := newTestHarness(t)
	inst := h.install(t, testWebhookURL)
	before := h.enqueuer.count()

	event := publishTestEvent(t, h, inst.ID)
	if event.Status != WebhookEventStatusPending || event.Attempts != 0 {
		t.Fatalf("expected pending event with no attempts, got %s/%d", event.Status, event.Attempts)
	}
	if h.enqueuer.count() != before+1 {
		t.Fatalf("expected one new delivery job")
	}
	msg := h.enqueuer.messages[len(h.enqueuer.messages)-1]
	eventID, err := EventIDFromJob(msg)
	if err != nil {
		t.Fatalf("event id from job: %v", err)
	}
	if eventID != event.ID {
		t.Fatalf("expected job for %s, got %s", event.ID, eventID)
	}
}

func TestPublish_EnqueueFailureFailsEvent(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	inst := h.install(t, testWebhookURL)
	before := h.enqueuer.count()
	h.enqueuer.setErr(errors.New("queue offline"))

	event, err := h.svc.Publish(ctx, inst.ID, "contact.created", map[string]any{"contactId": "c_1"})
	if err == nil {
		t.Fatalf("expected publish to report the enqueue failure")
	}
	if event.ID == "" || event.Status != WebhookEventStatusFailed {
		t.Fatalf("expected failed event to be returned, got %#v", event)
	}
	stored, getErr := h.svc.GetEvent(ctx, event.ID)
	if getErr != nil {
		t.Fatalf("get event: %v", getErr)
	}
	if stored.Status != WebhookEventStatusFailed || stored.LastError != DeliveryErrorEnqueueFailed {
		t.Fatalf("expected stored failed event with %s, got %s/%q", DeliveryErrorEnqueueFailed, stored.Status, stored.LastError)
	}
	if !stored.Terminal() || h.enqueuer.count() != before {
		t.Fatalf("expected terminal event and no new jobs")
	}
}

func TestDeliverEvent_NoWebhookURLFailsWithoutRetry(t *testing.T) {
	h := newTestHarness(t)
	inst := h.install(t, "")
	event := publishTestEvent(t, h, inst.ID)

	outcome, err := h.svc.DeliverEvent(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if outcome.Status != WebhookEventStatusFailed || outcome.Retry {
		t.Fatalf("expected failed without retry, got %#v", outcome)
	}
	stored, _ := h.svc.GetEvent(context.Background(), event.ID)
	if stored.LastError != DeliveryErrorNoWebhookURL {
		t.Fatalf("expected last error %s, got %q", DeliveryErrorNoWebhookURL, stored.LastError)
	}
	if stored.Attempts != 0 {
		t.Fatalf("expected no attempts to be counted, got %d", stored.Attempts)
	}
	if len(h.transport.calls()) != 0 {
		t.Fatalf("expected no network call without a url")
	}
}

func TestDeliverEvent_RetriesThenDelivers(t *testing.T) {
	h := newTestHarness(t)
	inst := h.install(t, testWebhookURL)
	event := publishTestEvent(t, h, inst.ID)
	h.transport.responses = []stubResponse{
		{status: http.StatusInternalServerError},
		{status: http.StatusInternalServerError},
		{status: http.StatusInternalServerError},
		{status: http.StatusOK},
	}

	var delays []time.Duration
	var outcome DeliveryOutcome
	var err error
	for i := 0; i < 10; i++ {
		outcome, err = h.svc.DeliverEvent(context.Background(), event.ID)
		if err != nil {
			t.Fatalf("deliver: %v", err)
		}
		if !outcome.Retry {
			break
		}
		delays = append(delays, outcome.RetryIn)
		h.clock.Advance(outcome.RetryIn)
	}

	if outcome.Status != WebhookEventStatusDelivered || outcome.Attempts != 4 {
		t.Fatalf("expected delivered after 4 attempts, got %s/%d", outcome.Status, outcome.Attempts)
	}
	stored, _ := h.svc.GetEvent(context.Background(), event.ID)
	if len(stored.Failures) != 3 {
		t.Fatalf("expected 3 recorded failures, got %d", len(stored.Failures))
	}
	for i, failure := range stored.Failures {
		if failure.Attempt != i+1 || failure.StatusCode != http.StatusInternalServerError {
			t.Fatalf("unexpected failure record %d: %#v", i, failure)
		}
	}
	if stored.DeliveredAt == nil || stored.NextRetry != nil {
		t.Fatalf("expected delivered timestamp and cleared retry, got %#v", stored)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("expected delays %v, got %v", want, delays)
		}
	}
}

func TestDeliverEvent_DeadLettersAfterMaxAttempts(t *testing.T) {
	h := newTestHarness(t)
	h.transport.fallback = stubResponse{status: http.StatusBadGateway}
	inst := h.install(t, testWebhookURL)
	event := publishTestEvent(t, h, inst.ID)

	for i := 0; i < 8; i++ {
		if _, err := h.svc.DeliverEvent(context.Background(), event.ID); err != nil {
			t.Fatalf("deliver: %v", err)
		}
	}

	stored, _ := h.svc.GetEvent(context.Background(), event.ID)
	if stored.Status != WebhookEventStatusFailed {
		t.Fatalf("expected failed status, got %q", stored.Status)
	}
	if stored.Attempts != 5 || len(stored.Failures) != 5 {
		t.Fatalf("expected attempts capped at 5, got %d attempts and %d failures", stored.Attempts, len(stored.Failures))
	}
	if got := len(h.transport.calls()); got != 5 {
		t.Fatalf("expected 5 network attempts, got %d", got)
	}

	dead, err := h.svc.ListDeadLetters(context.Background(), 10)
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != event.ID {
		t.Fatalf("expected event in dead letters, got %#v", dead)
	}
}

func TestDeliverEvent_SendsSignedHeaders(t *testing.T) {
	h := newTestHarness(t)
	inst := h.install(t, testWebhookURL)
	event := publishTestEvent(t, h, inst.ID)

	if _, err := h.svc.DeliverEvent(context.Background(), event.ID); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	calls := h.transport.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one delivery request, got %d", len(calls))
	}
	req := calls[0]
	if req.Method != http.MethodPost || req.URL != testWebhookURL {
		t.Fatalf("unexpected request %s %s", req.Method, req.URL)
	}
	millis := strconv.FormatInt(h.clock.Now().UnixMilli(), 10)
	if req.Headers[HeaderWebhookTimestamp] != millis {
		t.Fatalf("expected timestamp %s, got %q", millis, req.Headers[HeaderWebhookTimestamp])
	}
	if req.Headers[HeaderWebhookSignature] != "sig-"+event.ID+"-"+millis {
		t.Fatalf("unexpected signature header %q", req.Headers[HeaderWebhookSignature])
	}
	if req.Headers[HeaderWebhookEvent] != "contact.created" || req.Headers[HeaderWebhookEventID] != event.ID {
		t.Fatalf("unexpected event headers %#v", req.Headers)
	}
	if req.Timeout != 10*time.Second {
		t.Fatalf("expected webhook timeout 10s, got %v", req.Timeout)
	}
}

func TestDeliverEvent_TerminalEventsAreSkipped(t *testing.T) {
	h := newTestHarness(t)
	inst := h.install(t, testWebhookURL)
	event := publishTestEvent(t, h, inst.ID)

	if _, err := h.svc.DeliverEvent(context.Background(), event.ID); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	outcome, err := h.svc.DeliverEvent(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if outcome.Status != WebhookEventStatusDelivered || outcome.Attempts != 1 {
		t.Fatalf("expected redelivery to be a no-op, got %#v", outcome)
	}
	if len(h.transport.calls()) != 1 {
		t.Fatalf("expected no second network call")
	}
}

func TestDeliverEvent_UninstalledInstallationStopsRetrying(t *testing.T) {
	h := newTestHarness(t)
	h.transport.fallback = stubResponse{status: http.StatusServiceUnavailable}
	inst := h.install(t, testWebhookURL)
	event := publishTestEvent(t, h, inst.ID)
	if _, err := h.svc.Uninstall(context.Background(), inst.ID, ""); err != nil {
		t.Fatalf("uninstall: %v", err)
	}

	outcome, err := h.svc.DeliverEvent(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if outcome.Retry || outcome.Status != WebhookEventStatusFailed {
		t.Fatalf("expected no retry for uninstalled installation, got %#v", outcome)
	}
	if outcome.Attempts != 1 {
		t.Fatalf("expected the attempt to be recorded, got %d", outcome.Attempts)
	}
}

func TestBroadcast_PublishesToSubscribers(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	first := h.install(t, testWebhookURL)
	other := testIntegration()
	other.ID = "int_mail"
	other.WebhookEvents = []string{"campaign.sent"}
	h.catalog.Put(other)
	if _, err := h.svc.Install(ctx, InstallRequest{TenantID: testTenantID, IntegrationID: other.ID}); err != nil {
		t.Fatalf("install other: %v", err)
	}

	events, err := h.svc.Broadcast(ctx, "contact.created", map[string]any{"contactId": "c_9"})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if len(events) != 1 || events[0].InstallationID != first.ID {
		t.Fatalf("expected only the subscribed installation to receive the event, got %#v", events)
	}
}

func TestPublish_RejectsUninstalledInstallation(t *testing.T) {
	h := newTestHarness(t)
	inst := h.install(t, testWebhookURL)
	if _, err := h.svc.Uninstall(context.Background(), inst.ID, ""); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	_, err := h.svc.Publish(context.Background(), inst.ID, "contact.created", nil)
	if !errors.Is(err, ErrInstallationNotCallable) {
		t.Fatalf("expected ErrInstallationNotCallable, got %v", err)
	}
}

func TestRetryBackoff(t *testing.T) {
	for attempts, want := range map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
		4: 16 * time.Second,
	} {
		if got := RetryBackoff(attempts, time.Second, 0); got != want {
			t.Fatalf("attempt %d: expected %v, got %v", attempts, want, got)
		}
	}
	if got := RetryBackoff(10, time.Second, 30*time.Second); got != 30*time.Second {
		t.Fatalf("expected cap to apply, got %v", got)
	}
}

func TestHandleDeliveryJob_RejectsForeignJobs(t *testing.T) {
	h := newTestHarness(t)
	_, err := h.svc.HandleDeliveryJob(context.Background(), &JobExecutionMessage{JobID: "other.job"})
	if err == nil {
		t.Fatalf("expected foreign job to be rejected")
	}
}
