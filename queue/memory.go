package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-marketplace/core"
)

var ErrQueueClosed = errors.New("queue: closed")

type item struct {
	msg      *core.JobExecutionMessage
	readyAt  time.Time
	seq      uint64
	attempts int
	index    int
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].readyAt.Before(h[j].readyAt)
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// MemoryQueue is an in-process delayed job queue. Dequeue blocks until the
// earliest job is due or ctx is done. Jobs that are dequeued but never settled
// are lost with the process.
type MemoryQueue struct {
	Now func() time.Time

	mu         sync.Mutex
	items      itemHeap
	seq        uint64
	inflight   int
	deadLetter []*core.JobExecutionMessage
	wake       chan struct{}
	closed     bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		Now:  func() time.Time { return time.Now().UTC() },
		wake: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *core.JobExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("queue: execution message is required")
	}
	return q.push(cloneMessage(msg), 0, 0)
}

func (q *MemoryQueue) push(msg *core.JobExecutionMessage, delay time.Duration, attempts int) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if delay < 0 {
		delay = 0
	}
	q.seq++
	heap.Push(&q.items, &item{
		msg:      msg,
		readyAt:  q.now().Add(delay),
		seq:      q.seq,
		attempts: attempts,
	})
	q.broadcastLocked()
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		if q.wake == nil {
			q.wake = make(chan struct{})
		}
		var wait time.Duration = -1
		wake := q.wake
		if len(q.items) > 0 {
			next := q.items[0]
			if due := next.readyAt.Sub(q.now()); due > 0 {
				wait = due
			} else {
				heap.Pop(&q.items)
				q.inflight++
				q.mu.Unlock()
				return &memoryDelivery{queue: q, item: next}, nil
			}
		}
		q.mu.Unlock()

		if wait >= 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-wake:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

// Len reports queued jobs, including delayed ones. In-flight jobs are not
// counted.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight
}

// DeadLetters returns jobs nacked without requeue.
func (q *MemoryQueue) DeadLetters() []*core.JobExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*core.JobExecutionMessage, 0, len(q.deadLetter))
	for _, msg := range q.deadLetter {
		out = append(out, cloneMessage(msg))
	}
	return out
}

// Close wakes blocked consumers; later calls fail with ErrQueueClosed.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

// broadcastLocked wakes every blocked consumer by closing the current wake
// channel. Callers hold q.mu.
func (q *MemoryQueue) broadcastLocked() {
	if q.wake != nil {
		close(q.wake)
	}
	q.wake = make(chan struct{})
}

func (q *MemoryQueue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now().UTC()
}

type memoryDelivery struct {
	queue   *MemoryQueue
	item    *item
	mu      sync.Mutex
	settled bool
}

func (d *memoryDelivery) Message() *core.JobExecutionMessage {
	return cloneMessage(d.item.msg)
}

// Attempts counts previous nacks of this job.
func (d *memoryDelivery) Attempts() int {
	return d.item.attempts
}

func (d *memoryDelivery) Ack(context.Context) error {
	if err := d.settle(); err != nil {
		return err
	}
	d.queue.mu.Lock()
	d.queue.inflight--
	d.queue.mu.Unlock()
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts core.JobNackOptions) error {
	if err := d.settle(); err != nil {
		return err
	}
	d.queue.mu.Lock()
	d.queue.inflight--
	if opts.DeadLetter || !opts.Requeue {
		d.queue.deadLetter = append(d.queue.deadLetter, d.item.msg)
		d.queue.mu.Unlock()
		return nil
	}
	d.queue.mu.Unlock()
	return d.queue.push(d.item.msg, opts.Delay, d.item.attempts+1)
}

func (d *memoryDelivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return fmt.Errorf("queue: delivery %q already settled", d.item.msg.IdempotencyKey)
	}
	d.settled = true
	return nil
}

func cloneMessage(msg *core.JobExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	out := *msg
	if msg.Parameters != nil {
		out.Parameters = make(map[string]any, len(msg.Parameters))
		for key, value := range msg.Parameters {
			out.Parameters[key] = value
		}
	}
	return &out
}

var (
	_ core.JobEnqueuer = (*MemoryQueue)(nil)
	_ core.JobDequeuer = (*MemoryQueue)(nil)
	_ core.JobDelivery = (*memoryDelivery)(nil)
)
