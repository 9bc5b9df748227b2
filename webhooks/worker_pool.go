package webhooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-marketplace/core"
)

const (
	DefaultWorkers      = 4
	DefaultErrorBackoff = 5 * time.Second
	DefaultPollBackoff  = 250 * time.Millisecond
)

// DeliveryHandler runs one delivery step for a dequeued job.
type DeliveryHandler interface {
	HandleDeliveryJob(ctx context.Context, msg *core.JobExecutionMessage) (core.DeliveryOutcome, error)
}

// attemptNacker is implemented by deliveries that bound retries by attempt,
// such as the go-job adapter.
type attemptNacker interface {
	NackForAttempt(ctx context.Context, opts core.JobNackOptions, attempt int) error
}

type WorkerPoolConfig struct {
	Workers int
	// ErrorBackoff delays a job whose handler failed before producing an
	// outcome, such as a store outage.
	ErrorBackoff time.Duration
	PollBackoff  time.Duration
	Hook         core.JobWorkerHook
	Logger       core.Logger
}

// WorkerPool drains a job queue with a fixed number of goroutines. Each job is
// acked once its event is terminal and nacked with the computed delay while it
// is retrying.
type WorkerPool struct {
	dequeuer core.JobDequeuer
	handler  DeliveryHandler
	config   WorkerPoolConfig
	logger   core.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewWorkerPool(dequeuer core.JobDequeuer, handler DeliveryHandler, cfg WorkerPoolConfig) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	if cfg.PollBackoff <= 0 {
		cfg.PollBackoff = DefaultPollBackoff
	}
	return &WorkerPool{
		dequeuer: dequeuer,
		handler:  handler,
		config:   cfg,
		logger:   glog.Ensure(cfg.Logger),
	}
}

func (p *WorkerPool) Start(ctx context.Context) error {
	if p == nil || p.dequeuer == nil || p.handler == nil {
		return fmt.Errorf("webhooks: worker pool requires a dequeuer and handler")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("webhooks: worker pool already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(runCtx)
		}()
	}
	return nil
}

// Stop cancels the workers and waits for in-flight jobs or ctx, whichever
// comes first.
func (p *WorkerPool) Stop(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		delivery, err := p.dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("webhook dequeue failed", "error", err.Error())
			if !sleepCtx(ctx, p.config.PollBackoff) {
				return
			}
			continue
		}
		if delivery == nil {
			continue
		}
		p.Process(ctx, delivery)
	}
}

// Process runs one delivery through the handler and settles it on the queue.
func (p *WorkerPool) Process(ctx context.Context, delivery core.JobDelivery) {
	msg := delivery.Message()
	event := core.JobWorkerEvent{Message: msg, StartedAt: time.Now().UTC()}
	p.onStart(ctx, event)

	outcome, err := p.handler.HandleDeliveryJob(ctx, msg)
	event.Duration = time.Since(event.StartedAt)
	event.Attempt = outcome.Attempts

	switch {
	case err != nil && permanentJobError(err):
		event.Err = err
		p.settle(ctx, msg, func() error {
			return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()})
		})
		p.onFailure(ctx, event)
	case err != nil:
		event.Err = err
		event.Delay = p.config.ErrorBackoff
		p.settle(ctx, msg, func() error {
			return p.nack(ctx, delivery, core.JobNackOptions{
				Delay:   p.config.ErrorBackoff,
				Requeue: true,
				Reason:  err.Error(),
			}, outcome.Attempts)
		})
		p.onRetry(ctx, event)
	case outcome.Retry:
		event.Delay = outcome.RetryIn
		event.Err = fmt.Errorf("%w: %s", core.ErrDeliveryFailed, outcome.Error)
		p.settle(ctx, msg, func() error {
			return p.nack(ctx, delivery, core.JobNackOptions{
				Delay:   outcome.RetryIn,
				Requeue: true,
				Reason:  outcome.Error,
			}, outcome.Attempts)
		})
		p.onRetry(ctx, event)
	default:
		p.settle(ctx, msg, func() error { return delivery.Ack(ctx) })
		if outcome.Status == core.WebhookEventStatusFailed {
			event.Err = fmt.Errorf("%w: %s", core.ErrDeliveryFailed, outcome.Error)
			p.onFailure(ctx, event)
			return
		}
		p.onSuccess(ctx, event)
	}
}

func (p *WorkerPool) nack(ctx context.Context, delivery core.JobDelivery, opts core.JobNackOptions, attempt int) error {
	if bounded, ok := delivery.(attemptNacker); ok {
		return bounded.NackForAttempt(ctx, opts, attempt)
	}
	return delivery.Nack(ctx, opts)
}

func (p *WorkerPool) settle(ctx context.Context, msg *core.JobExecutionMessage, fn func() error) {
	if err := fn(); err != nil {
		jobKey := ""
		if msg != nil {
			jobKey = msg.IdempotencyKey
		}
		p.logger.WithContext(ctx).Error("webhook job settle failed", "job", jobKey, "error", err.Error())
	}
}

// permanentJobError reports failures that retrying cannot fix: malformed
// messages and events that no longer exist.
func permanentJobError(err error) bool {
	if errors.Is(err, core.ErrEventNotFound) {
		return true
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.Category == goerrors.CategoryBadInput || rich.Category == goerrors.CategoryValidation
	}
	return false
}

func (p *WorkerPool) onStart(ctx context.Context, event core.JobWorkerEvent) {
	if p.config.Hook != nil {
		p.config.Hook.OnStart(ctx, event)
	}
}

func (p *WorkerPool) onSuccess(ctx context.Context, event core.JobWorkerEvent) {
	if p.config.Hook != nil {
		p.config.Hook.OnSuccess(ctx, event)
	}
}

func (p *WorkerPool) onFailure(ctx context.Context, event core.JobWorkerEvent) {
	if p.config.Hook != nil {
		p.config.Hook.OnFailure(ctx, event)
	}
}

func (p *WorkerPool) onRetry(ctx context.Context, event core.JobWorkerEvent) {
	if p.config.Hook != nil {
		p.config.Hook.OnRetry(ctx, event)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
