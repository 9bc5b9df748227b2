// Package webhooks signs outbound webhook events and runs the delivery
// workers.
//
// A delivery is one DeliverEvent step per dequeued job:
// pending -> delivered | retrying -> ... -> delivered | failed.
// Retrying jobs are nacked with the backoff delay the step computed, so the
// queue owns the timer and a crashed worker never loses a scheduled retry.
package webhooks
