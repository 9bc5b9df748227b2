package gojob

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-marketplace/core"
)

var (
	errEnqueuerMissing = errors.New("gojob: enqueuer is not configured")
	errDequeuerMissing = errors.New("gojob: dequeuer is not configured")
	errDeliveryMissing = errors.New("gojob: delivery is not configured")
)

// RetryPolicy bounds what a queue backend is asked to do on nack. Webhook
// delivery counts its own attempts; this is the backend-side cap.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// DeliveryRetryPolicy derives the queue cap from the webhook retry budget,
// with one spare attempt so the last failure is recorded on the event before
// the job is dead-lettered. A zero budget leaves the queue unbounded.
func DeliveryRetryPolicy(cfg core.WebhookConfig) RetryPolicy {
	policy := RetryPolicy{MaxDelay: cfg.MaxBackoff, DeadLetterOnMax: true}
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts + 1
	}
	return policy
}

func (p RetryPolicy) exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// NormalizeAttempt clamps the delay into [0, MaxDelay] and settles the nack
// as exactly one of requeue or dead letter.
func (p RetryPolicy) NormalizeAttempt(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	opts.Reason = strings.TrimSpace(opts.Reason)
	opts.Delay = max(opts.Delay, 0)
	if p.MaxDelay > 0 {
		opts.Delay = min(opts.Delay, p.MaxDelay)
	}
	if p.exhausted(attempt) {
		opts.DeadLetter = opts.DeadLetter || p.DeadLetterOnMax
	}
	opts.Requeue = !opts.DeadLetter
	return opts
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	switch {
	case a == nil || a.enqueuer == nil:
		return errEnqueuerMissing
	case msg == nil:
		return errors.New("gojob: execution message is required")
	case strings.TrimSpace(msg.JobID) == "":
		return errors.New("gojob: job id is required")
	}
	_, err := a.enqueuer.Enqueue(ctx, ToExecutionMessage(msg))
	return err
}

// DeliveryAdapter exposes a go-job delivery as a core.JobDelivery with the
// retry policy applied on nack.
type DeliveryAdapter struct {
	delivery queue.Delivery
	policy   RetryPolicy
}

func NewDeliveryAdapter(delivery queue.Delivery, policy RetryPolicy) *DeliveryAdapter {
	return &DeliveryAdapter{delivery: delivery, policy: policy}
}

func (d *DeliveryAdapter) Message() *core.JobExecutionMessage {
	if d == nil || d.delivery == nil {
		return nil
	}
	return FromExecutionMessage(d.delivery.Message())
}

func (d *DeliveryAdapter) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return errDeliveryMissing
	}
	return d.delivery.Ack(ctx)
}

func (d *DeliveryAdapter) Nack(ctx context.Context, opts core.JobNackOptions) error {
	return d.NackForAttempt(ctx, opts, 0)
}

// NackForAttempt is called by the webhook worker pool with the attempt count
// it tracks on the event.
func (d *DeliveryAdapter) NackForAttempt(ctx context.Context, opts core.JobNackOptions, attempt int) error {
	if d == nil || d.delivery == nil {
		return errDeliveryMissing
	}
	return d.delivery.Nack(ctx, nackOptions(d.policy.NormalizeAttempt(opts, attempt)))
}

type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy RetryPolicy) *DequeuerAdapter {
	return &DequeuerAdapter{dequeuer: dequeuer, policy: policy}
}

func (a *DequeuerAdapter) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, errDequeuerMissing
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	return NewDeliveryAdapter(delivery, a.policy), nil
}

var (
	_ core.JobEnqueuer = (*EnqueuerAdapter)(nil)
	_ core.JobDelivery = (*DeliveryAdapter)(nil)
	_ core.JobDequeuer = (*DequeuerAdapter)(nil)
)
