package queue

import (
	"sync"
	"time"

	"github.com/kursadbilgin/push-relay/internal/domain"
)

// TaskSlice pairs a task with the recipients pulled from it for one flush.
// A task whose recipient count exceeds the remaining per-second budget is
// split across flushes, so a slice may cover only part of its task.
type TaskSlice struct {
	Task   *domain.NotificationTask
	Tokens []domain.DeviceToken
}

// Buffer is the in-process dispatch queue. Tasks are kept only in memory:
// a crash before forwarding loses them (best-effort, at-most-once across
// restarts). Enqueue is safe for concurrent use; draining is done by the
// single dispatcher loop.
type Buffer struct {
	mu       sync.Mutex
	ready    []*domain.NotificationTask
	deferred []*domain.NotificationTask
	wake     chan struct{}
}

func NewBuffer() *Buffer {
	return &Buffer{
		wake: make(chan struct{}, 1),
	}
}

// Wakeup signals when new work arrives so the drain loop does not poll.
func (b *Buffer) Wakeup() <-chan struct{} {
	return b.wake
}

// Enqueue appends a task to the back of the FIFO. It never blocks on I/O.
func (b *Buffer) Enqueue(task *domain.NotificationTask) {
	if task == nil || len(task.Recipients) == 0 {
		return
	}

	b.mu.Lock()
	b.ready = append(b.ready, task)
	b.mu.Unlock()

	b.signal()
}

// Requeue re-admits a failed task. The task becomes eligible again once its
// NotBefore backoff deadline passes.
func (b *Buffer) Requeue(task *domain.NotificationTask) {
	if task == nil || len(task.Recipients) == 0 {
		return
	}

	b.mu.Lock()
	b.deferred = append(b.deferred, task)
	b.mu.Unlock()

	b.signal()
}

// Take pulls up to max recipients from the front of the queue in submission
// order, promoting deferred tasks whose backoff has elapsed first. The head
// task is split when its recipient count exceeds the remaining budget.
func (b *Buffer) Take(now time.Time, max int) []TaskSlice {
	if max <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.promoteDue(now)

	var slices []TaskSlice
	remaining := max
	for remaining > 0 && len(b.ready) > 0 {
		head := b.ready[0]

		take := min(len(head.Recipients), remaining)
		slices = append(slices, TaskSlice{
			Task:   head,
			Tokens: head.Recipients[:take],
		})
		remaining -= take

		if take == len(head.Recipients) {
			b.ready = b.ready[1:]
			continue
		}
		head.Recipients = head.Recipients[take:]
	}

	return slices
}

// PendingRecipients reports how many recipients are currently eligible.
func (b *Buffer) PendingRecipients(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.promoteDue(now)

	total := 0
	for _, task := range b.ready {
		total += len(task.Recipients)
	}
	return total
}

// NextEligibleIn returns how long until the earliest deferred task becomes
// eligible. ok is false when nothing is deferred.
func (b *Buffer) NextEligibleIn(now time.Time) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.deferred) == 0 {
		return 0, false
	}

	earliest := b.deferred[0].NotBefore
	for _, task := range b.deferred[1:] {
		if task.NotBefore.Before(earliest) {
			earliest = task.NotBefore
		}
	}

	return max(earliest.Sub(now), 0), true
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ready) + len(b.deferred)
}

// promoteDue moves eligible deferred tasks to the back of the FIFO,
// preserving their requeue order. Caller must hold b.mu.
func (b *Buffer) promoteDue(now time.Time) {
	if len(b.deferred) == 0 {
		return
	}

	kept := b.deferred[:0]
	for _, task := range b.deferred {
		if task.NotBefore.After(now) {
			kept = append(kept, task)
			continue
		}
		b.ready = append(b.ready, task)
	}
	b.deferred = kept
}

func (b *Buffer) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}
