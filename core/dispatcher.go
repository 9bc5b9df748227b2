package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderWebhookSignature = "X-Webhook-Signature"
	HeaderWebhookEvent     = "X-Webhook-Event"
	HeaderWebhookEventID   = "X-Webhook-Event-Id"
	HeaderWebhookTimestamp = "X-Webhook-Timestamp"

	// DeliveryErrorNoWebhookURL is recorded as LastError when an event has no
	// destination.
	DeliveryErrorNoWebhookURL  = "NoWebhookUrl"
	DeliveryErrorUninstalled   = "InstallationUninstalled"
	DeliveryErrorEnqueueFailed = "EnqueueFailed"
)

// DeliveryOutcome is the result of one delivery step. Retry is set when the
// event should be attempted again after RetryIn.
type DeliveryOutcome struct {
	EventID    string
	Status     WebhookEventStatus
	Attempts   int
	StatusCode int
	Error      string
	Retry      bool
	RetryIn    time.Duration
}

// DeliveryJob builds the queue message for an event. The attempt number keeps
// idempotency keys distinct across retries.
func DeliveryJob(eventID string, attempt int) *JobExecutionMessage {
	return &JobExecutionMessage{
		JobID:          JobIDWebhookDelivery,
		ScriptPath:     JobIDWebhookDelivery,
		Parameters:     map[string]any{JobParamEventID: eventID},
		IdempotencyKey: fmt.Sprintf("%s:%d", eventID, attempt),
	}
}

// EventIDFromJob extracts the event id from a delivery message.
func EventIDFromJob(msg *JobExecutionMessage) (string, error) {
	if msg == nil {
		return "", fmt.Errorf("core: job message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDWebhookDelivery {
		return "", fmt.Errorf("core: unexpected job id %q", msg.JobID)
	}
	raw, ok := msg.Parameters[JobParamEventID]
	if !ok {
		return "", fmt.Errorf("core: job parameter %s is required", JobParamEventID)
	}
	eventID := strings.TrimSpace(fmt.Sprint(raw))
	if eventID == "" {
		return "", fmt.Errorf("core: job parameter %s is required", JobParamEventID)
	}
	return eventID, nil
}

// RetryBackoff returns unit * 2^attempts, capped at max when max > 0.
func RetryBackoff(attempts int, unit time.Duration, max time.Duration) time.Duration {
	if unit <= 0 {
		unit = time.Second
	}
	if attempts < 0 {
		attempts = 0
	}
	delay := float64(unit) * math.Pow(2, float64(attempts))
	if delay > float64(math.MaxInt64) {
		delay = float64(math.MaxInt64)
	}
	backoff := time.Duration(delay)
	if max > 0 && backoff > max {
		return max
	}
	return backoff
}

// Publish persists a pending event for one installation and queues it for
// delivery.
func (s *Service) Publish(
	ctx context.Context,
	installationID string,
	eventType string,
	payload map[string]any,
) (event WebhookEvent, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"installation_id": strings.TrimSpace(installationID),
		"event_type":      strings.TrimSpace(eventType),
	}
	defer func() {
		fields["event_id"] = event.ID
		s.observeOperation(ctx, startedAt, "publish", err, fields)
	}()

	id, err := requireID("installation_id", installationID)
	if err != nil {
		return WebhookEvent{}, s.mapError(err)
	}
	if s.installations == nil {
		return WebhookEvent{}, dependencyError("core: installation store is required")
	}
	inst, err := s.installations.Get(ctx, id)
	if err != nil {
		return WebhookEvent{}, s.mapError(err)
	}
	if inst.Uninstalled() {
		return WebhookEvent{}, s.mapError(wrapServiceError(
			ErrInstallationNotCallable,
			fmt.Sprintf("core: installation %q is uninstalled", inst.ID),
			map[string]any{"installation_id": inst.ID},
		))
	}
	return s.publish(ctx, inst, eventType, payload)
}

// publish persists the event and queues its first delivery. When the queue
// refuses the job the event is failed with DeliveryErrorEnqueueFailed so it
// never sits pending without a job.
func (s *Service) publish(
	ctx context.Context,
	inst Installation,
	eventType string,
	payload map[string]any,
) (WebhookEvent, error) {
	if s.enqueuer == nil {
		return WebhookEvent{}, dependencyError("core: job enqueuer is required")
	}
	created, err := s.createEvent(ctx, inst, eventType, payload)
	if err != nil {
		return WebhookEvent{}, err
	}
	enqueueErr := s.enqueuer.Enqueue(ctx, DeliveryJob(created.ID, 0))
	if enqueueErr == nil {
		return created, nil
	}
	enqueueErr = fmt.Errorf("core: enqueue webhook event %s: %w", created.ID, enqueueErr)

	failed := created
	failed.LastError = DeliveryErrorEnqueueFailed
	if err := failed.TransitionTo(WebhookEventStatusFailed, s.clock()); err != nil {
		return created, s.mapError(errors.Join(enqueueErr, err))
	}
	updated, err := s.events.Update(ctx, failed)
	if err != nil {
		return created, s.mapError(errors.Join(enqueueErr, err))
	}
	return updated, s.mapError(enqueueErr)
}

func (s *Service) createEvent(
	ctx context.Context,
	inst Installation,
	eventType string,
	payload map[string]any,
) (WebhookEvent, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return WebhookEvent{}, s.mapError(validationError("type", "event type is required"))
	}
	if _, err := json.Marshal(payload); err != nil {
		return WebhookEvent{}, s.mapError(validationError("payload", "payload must be json encodable"))
	}
	if s.events == nil {
		return WebhookEvent{}, dependencyError("core: webhook event store is required")
	}

	now := s.clock()
	created, err := s.events.Create(ctx, WebhookEvent{
		ID:             s.newID(),
		InstallationID: inst.ID,
		Type:           eventType,
		Payload:        copyAnyMap(payload),
		Status:         WebhookEventStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return WebhookEvent{}, s.mapError(err)
	}
	return created, nil
}

// enqueuePending queues the first delivery of an event that was persisted
// without a job. Events that already moved past pending are left alone.
func (s *Service) enqueuePending(ctx context.Context, eventID string) error {
	if s.enqueuer == nil || s.events == nil {
		return dependencyError("core: job enqueuer and webhook event store are required")
	}
	event, err := s.events.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Status != WebhookEventStatusPending || event.Attempts > 0 {
		return nil
	}
	if err := s.enqueuer.Enqueue(ctx, DeliveryJob(event.ID, 0)); err != nil {
		return fmt.Errorf("core: enqueue webhook event %s: %w", event.ID, err)
	}
	return nil
}

// Broadcast publishes the event to every live installation subscribed to its
// type. Paused installations are skipped.
func (s *Service) Broadcast(ctx context.Context, eventType string, payload map[string]any) (events []WebhookEvent, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"event_type": strings.TrimSpace(eventType)}
	defer func() {
		fields["published"] = len(events)
		s.observeOperation(ctx, startedAt, "broadcast", err, fields)
	}()

	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, s.mapError(validationError("type", "event type is required"))
	}
	if s.subscriptions == nil || s.installations == nil {
		return nil, dependencyError("core: subscription and installation stores are required")
	}
	subscribers, err := s.subscriptions.Subscribers(ctx, eventType)
	if err != nil {
		return nil, s.mapError(err)
	}

	var failures []error
	for _, installationID := range subscribers {
		inst, getErr := s.installations.Get(ctx, installationID)
		if getErr != nil {
			failures = append(failures, getErr)
			continue
		}
		if inst.Uninstalled() || inst.Status == InstallationStatusPaused {
			continue
		}
		event, pubErr := s.publish(ctx, inst, eventType, payload)
		if pubErr != nil {
			failures = append(failures, pubErr)
			continue
		}
		events = append(events, event)
	}
	if len(failures) > 0 {
		return events, s.mapError(errors.Join(failures...))
	}
	return events, nil
}

// DeliverEvent runs one delivery attempt. Terminal events are left alone so a
// redelivered job is harmless. The returned error covers infrastructure
// failures only; the delivery result itself is in the outcome.
func (s *Service) DeliverEvent(ctx context.Context, eventID string) (outcome DeliveryOutcome, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"event_id": strings.TrimSpace(eventID)}
	defer func() {
		fields["outcome"] = string(outcome.Status)
		fields["attempts"] = outcome.Attempts
		s.observeOperation(ctx, startedAt, "deliver_event", err, fields)
	}()

	id, err := requireID("event_id", eventID)
	if err != nil {
		return DeliveryOutcome{}, s.mapError(err)
	}
	if s.events == nil || s.installations == nil {
		return DeliveryOutcome{}, dependencyError("core: webhook event and installation stores are required")
	}
	event, err := s.events.Get(ctx, id)
	if err != nil {
		return DeliveryOutcome{}, s.mapError(err)
	}
	fields["event_type"] = event.Type
	fields["installation_id"] = event.InstallationID
	if event.Terminal() {
		return outcomeOf(event, 0), nil
	}

	inst, err := s.installations.Get(ctx, event.InstallationID)
	if err != nil && !errors.Is(err, ErrInstallationNotFound) {
		return DeliveryOutcome{}, s.mapError(err)
	}
	url := strings.TrimSpace(inst.Config.WebhookURL)
	if err != nil || url == "" {
		event.LastError = DeliveryErrorNoWebhookURL
		event.NextRetry = nil
		if transitionErr := event.TransitionTo(WebhookEventStatusFailed, s.clock()); transitionErr != nil {
			return DeliveryOutcome{}, s.mapError(transitionErr)
		}
		updated, updateErr := s.events.Update(ctx, event)
		if updateErr != nil {
			return DeliveryOutcome{}, s.mapError(updateErr)
		}
		return outcomeOf(updated, 0), nil
	}
	if s.signer == nil || s.webhookTransport == nil {
		return DeliveryOutcome{}, dependencyError("core: webhook signer and transport are required")
	}

	event.Attempts++
	event.UpdatedAt = s.clock()
	event, err = s.events.Update(ctx, event)
	if err != nil {
		return DeliveryOutcome{}, s.mapError(err)
	}

	sentAt := s.clock()
	signature, body, err := s.signer.Sign(event, sentAt)
	if err != nil {
		return DeliveryOutcome{}, s.mapError(fmt.Errorf("core: sign webhook event %s: %w", event.ID, err))
	}

	timeout := s.config.Webhooks.Timeout
	sendCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	sendStarted := time.Now()
	res, sendErr := s.webhookTransport.Do(sendCtx, TransportRequest{
		Method: http.MethodPost,
		URL:    url,
		Headers: map[string]string{
			"Content-Type":         "application/json",
			HeaderWebhookSignature: signature,
			HeaderWebhookEvent:     event.Type,
			HeaderWebhookEventID:   event.ID,
			HeaderWebhookTimestamp: strconv.FormatInt(sentAt.UnixMilli(), 10),
		},
		Body:        body,
		Timeout:     timeout,
		Idempotency: event.ID,
		Metadata:    map[string]any{"event_id": event.ID, "attempt": event.Attempts},
	})
	elapsed := time.Since(sendStarted)
	now := s.clock()

	if sendErr == nil && isSuccessStatus(res.StatusCode) {
		delivered := now
		event.DeliveredAt = &delivered
		event.NextRetry = nil
		event.LastError = ""
		if err := event.TransitionTo(WebhookEventStatusDelivered, now); err != nil {
			return DeliveryOutcome{}, s.mapError(err)
		}
		updated, err := s.events.Update(ctx, event)
		if err != nil {
			return DeliveryOutcome{}, s.mapError(err)
		}
		return outcomeOf(updated, res.StatusCode), nil
	}

	failure := DeliveryAttempt{
		Attempt:    event.Attempts,
		At:         now,
		StatusCode: res.StatusCode,
		Duration:   elapsed,
	}
	switch {
	case sendErr != nil && isTimeout(sendErr):
		failure.Error = "timeout"
	case sendErr != nil:
		failure.Error = sendErr.Error()
	default:
		failure.Error = fmt.Sprintf("unexpected status %d", res.StatusCode)
	}
	event.Failures = append(event.Failures, failure)
	event.LastError = failure.Error

	retry := event.Attempts < s.config.Webhooks.MaxAttempts
	if retry {
		if current, getErr := s.installations.Get(ctx, event.InstallationID); getErr == nil && current.Uninstalled() {
			retry = false
			event.LastError = DeliveryErrorUninstalled
		}
	}

	var retryIn time.Duration
	if retry {
		retryIn = RetryBackoff(event.Attempts, s.config.Webhooks.BackoffUnit, s.config.Webhooks.MaxBackoff)
		next := now.Add(retryIn)
		event.NextRetry = &next
		err = event.TransitionTo(WebhookEventStatusRetrying, now)
	} else {
		event.NextRetry = nil
		err = event.TransitionTo(WebhookEventStatusFailed, now)
	}
	if err != nil {
		return DeliveryOutcome{}, s.mapError(err)
	}
	updated, err := s.events.Update(ctx, event)
	if err != nil {
		return DeliveryOutcome{}, s.mapError(err)
	}

	outcome = outcomeOf(updated, res.StatusCode)
	outcome.Retry = retry
	outcome.RetryIn = retryIn
	if !retry {
		s.logWarn(ctx, "webhook event dead-lettered", map[string]any{
			"event_id":        updated.ID,
			"installation_id": updated.InstallationID,
			"event_type":      updated.Type,
			"attempts":        updated.Attempts,
			"last_error":      updated.LastError,
		})
	}
	return outcome, nil
}

func outcomeOf(event WebhookEvent, statusCode int) DeliveryOutcome {
	return DeliveryOutcome{
		EventID:    event.ID,
		Status:     event.Status,
		Attempts:   event.Attempts,
		StatusCode: statusCode,
		Error:      event.LastError,
	}
}

// HandleDeliveryJob adapts DeliverEvent to queue messages.
func (s *Service) HandleDeliveryJob(ctx context.Context, msg *JobExecutionMessage) (DeliveryOutcome, error) {
	eventID, err := EventIDFromJob(msg)
	if err != nil {
		return DeliveryOutcome{}, s.mapError(validationError(JobParamEventID, err.Error()))
	}
	return s.DeliverEvent(ctx, eventID)
}

func (s *Service) GetEvent(ctx context.Context, eventID string) (WebhookEvent, error) {
	id, err := requireID("event_id", eventID)
	if err != nil {
		return WebhookEvent{}, s.mapError(err)
	}
	if s.events == nil {
		return WebhookEvent{}, dependencyError("core: webhook event store is required")
	}
	event, err := s.events.Get(ctx, id)
	if err != nil {
		return WebhookEvent{}, s.mapError(err)
	}
	return event, nil
}

func (s *Service) ListEvents(ctx context.Context, installationID string, limit int) ([]WebhookEvent, error) {
	id, err := requireID("installation_id", installationID)
	if err != nil {
		return nil, s.mapError(err)
	}
	if s.events == nil {
		return nil, dependencyError("core: webhook event store is required")
	}
	events, err := s.events.ListByInstallation(ctx, id, limit)
	if err != nil {
		return nil, s.mapError(err)
	}
	return events, nil
}

// ListDeadLetters returns events that exhausted their delivery budget or could
// not be delivered at all.
func (s *Service) ListDeadLetters(ctx context.Context, limit int) ([]WebhookEvent, error) {
	if s.events == nil {
		return nil, dependencyError("core: webhook event store is required")
	}
	events, err := s.events.ListByStatus(ctx, WebhookEventStatusFailed, limit)
	if err != nil {
		return nil, s.mapError(err)
	}
	return events, nil
}
