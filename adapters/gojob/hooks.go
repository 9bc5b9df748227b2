package gojob

import (
	"context"
	"strconv"
	"strings"

	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-marketplace/core"
)

// MetricsHook counts worker lifecycle events per job id. It plugs into the
// webhook worker pool directly or behind WorkerHookAdapter for go-job workers.
type MetricsHook struct {
	recorder core.MetricsRecorder
}

func NewMetricsHook(recorder core.MetricsRecorder) *MetricsHook {
	if recorder == nil {
		recorder = core.NopMetricsRecorder{}
	}
	return &MetricsHook{recorder: recorder}
}

func (h *MetricsHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.record(ctx, "start", event)
}

func (h *MetricsHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.record(ctx, "success", event)
	h.observe(ctx, event)
}

func (h *MetricsHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.record(ctx, "failure", event)
	h.observe(ctx, event)
}

func (h *MetricsHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	h.record(ctx, "retry", event)
}

func (h *MetricsHook) record(ctx context.Context, phase string, event core.JobWorkerEvent) {
	if h == nil || h.recorder == nil {
		return
	}
	h.recorder.IncCounter(ctx, "marketplace.job."+phase+".total", 1, eventTags(event))
}

func (h *MetricsHook) observe(ctx context.Context, event core.JobWorkerEvent) {
	if h == nil || h.recorder == nil || event.Duration <= 0 {
		return
	}
	h.recorder.ObserveHistogram(ctx, "marketplace.job.duration_ms", float64(event.Duration.Milliseconds()), eventTags(event))
}

func eventTags(event core.JobWorkerEvent) map[string]string {
	tags := map[string]string{"job_id": "unknown"}
	if event.Message != nil {
		if jobID := strings.TrimSpace(event.Message.JobID); jobID != "" {
			tags["job_id"] = jobID
		}
	}
	if event.Attempt > 0 {
		tags["attempt"] = strconv.Itoa(event.Attempt)
	}
	return tags
}

var _ core.JobWorkerHook = (*MetricsHook)(nil)

// WorkerHookAdapter lets a core.JobWorkerHook observe go-job workers.
type WorkerHookAdapter struct {
	hook core.JobWorkerHook
}

func NewWorkerHookAdapter(hook core.JobWorkerHook) *WorkerHookAdapter {
	return &WorkerHookAdapter{hook: hook}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	a.forward(ctx, event, core.JobWorkerHook.OnStart)
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	a.forward(ctx, event, core.JobWorkerHook.OnSuccess)
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	a.forward(ctx, event, core.JobWorkerHook.OnFailure)
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	a.forward(ctx, event, core.JobWorkerHook.OnRetry)
}

func (a *WorkerHookAdapter) forward(
	ctx context.Context,
	event worker.Event,
	phase func(core.JobWorkerHook, context.Context, core.JobWorkerEvent),
) {
	if a == nil || a.hook == nil {
		return
	}
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	phase(a.hook, ctx, core.JobWorkerEvent{
		Message:   FromExecutionMessage(message),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	})
}

var _ worker.Hook = (*WorkerHookAdapter)(nil)
