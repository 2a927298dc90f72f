package index

import (
	"sync"
	"time"
)

// DefaultDebounce is the window in which index mutations are coalesced into
// one write.
const DefaultDebounce = 500 * time.Millisecond

// Cancel stops a scheduled task. It reports whether the task was stopped
// before it ran.
type Cancel func() bool

// Scheduler runs f once after d. Tests inject a manual implementation to
// drive flushes deterministically.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Cancel
}

// timerScheduler is the production Scheduler backed by time.AfterFunc.
type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) Cancel {
	t := time.AfterFunc(d, f)
	return t.Stop
}

// flushQueue coalesces mutations into at most one scheduled save per window.
//
// mark sets the pending flag and schedules a save if none is scheduled.
// A failed save re-arms pending so the next mark or flushNow retries it.
type flushQueue struct {
	sched   Scheduler
	delay   time.Duration
	save    func() error
	onError func(error)

	mu      sync.Mutex
	pending bool
	cancel  Cancel
	gen     uint64
	stopped bool
}

func newFlushQueue(sched Scheduler, delay time.Duration, save func() error, onError func(error)) *flushQueue {
	if sched == nil {
		sched = timerScheduler{}
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &flushQueue{sched: sched, delay: delay, save: save, onError: onError}
}

// mark records a mutation.
func (q *flushQueue) mark() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.pending = true
	if q.cancel != nil {
		return
	}
	q.gen++
	gen := q.gen
	q.cancel = q.sched.AfterFunc(q.delay, func() { q.fire(gen) })
}

// fire runs a scheduled save. A task superseded by flushNow is ignored.
func (q *flushQueue) fire(gen uint64) {
	q.mu.Lock()
	if gen != q.gen || q.cancel == nil {
		q.mu.Unlock()
		return
	}
	q.cancel = nil
	if !q.pending {
		q.mu.Unlock()
		return
	}
	q.pending = false
	q.mu.Unlock()

	if err := q.save(); err != nil {
		q.rearm()
		q.onError(err)
	}
}

// flushNow cancels any scheduled save and saves synchronously if a
// mutation is pending.
func (q *flushQueue) flushNow() error {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
		q.gen++
	}
	pending := q.pending
	q.pending = false
	q.mu.Unlock()

	if !pending {
		return nil
	}
	if err := q.save(); err != nil {
		q.rearm()
		return err
	}
	return nil
}

// discard cancels any scheduled save and clears pending, for callers that
// save the full state themselves.
func (q *flushQueue) discard() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
		q.gen++
	}
	q.pending = false
}

// stop cancels any scheduled save. Later marks are ignored.
func (q *flushQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
		q.gen++
	}
	q.stopped = true
}

func (q *flushQueue) rearm() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = true
}

func (q *flushQueue) isPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}
