package gojob

import (
	"maps"
	"strings"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-marketplace/core"
)

// ToExecutionMessage maps a marketplace job message to go-job.
func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	out := &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     parameters(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
	}
	if policy := strings.TrimSpace(msg.DedupPolicy); policy != "" {
		out.DedupPolicy = job.DeduplicationPolicy(policy)
	}
	return out
}

// FromExecutionMessage is the inverse of ToExecutionMessage.
func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     parameters(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

// nackOptions settles the core flags into one go-job disposition. Dead
// letter wins over requeue; a nack asking for neither fails the job.
func nackOptions(opts core.JobNackOptions) queue.NackOptions {
	out := queue.NackOptions{
		Disposition: queue.NackDispositionFailed,
		Delay:       opts.Delay,
		Reason:      opts.Reason,
	}
	switch {
	case opts.DeadLetter:
		out.Disposition = queue.NackDispositionDeadLetter
		out.Delay = 0
	case opts.Requeue:
		out.Disposition = queue.NackDispositionRetry
	}
	return out
}

func parameters(in map[string]any) map[string]any {
	if out := maps.Clone(in); out != nil {
		return out
	}
	return map[string]any{}
}
