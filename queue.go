package taskloop

// Queue is a FIFO buffer whose Get and Put suspend the calling task
// instead of blocking a goroutine. It is owned by the loop goroutine:
// construct it anywhere, but call its methods only from task frames (or
// the loop goroutine more generally). The suspension ops it returns wait
// on latches, so a Get with no producer in sight participates in
// deadlock detection like any other in-loop wait.
//
// Close fails all suspended getters and putters with ErrQueueClosed and
// rejects later Puts; buffered items remain readable, and Get reports
// ErrQueueClosed only once the buffer is drained.
type Queue struct {
	loop     *Loop
	capacity int

	items   []any
	getters []*Task
	putters []putWaiter
	closed  bool
}

type putWaiter struct {
	latch *Task
	item  any
}

// NewQueue creates a queue holding at most capacity buffered items. A
// capacity of zero or less means unbounded, so Put never suspends.
func (l *Loop) NewQueue(capacity int) *Queue {
	return &Queue{loop: l, capacity: capacity}
}

// Len is the number of buffered items. Items promised to suspended
// getters by direct handoff are not buffered and do not count.
func (q *Queue) Len() int { return len(q.items) }

// Cap is the configured capacity; zero or less means unbounded.
func (q *Queue) Cap() int { return q.capacity }

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool { return q.closed }

// Get returns an op that resumes next with the oldest item. When the
// buffer is empty the task suspends until a Put supplies one; when it is
// not, next runs inline without suspending. Competing getters are served
// in arrival order.
//
// If the queue is closed and drained, next receives ErrQueueClosed. An
// item that was already assigned when the task got cancelled is still
// delivered; the cancellation then lands at the task's next suspension.
//
// A nil next completes the task with the item, or fails it with err.
func (q *Queue) Get(t *Task, next func(t *Task, item any, err error) Op) Op {
	if next == nil {
		next = func(t *Task, item any, err error) Op {
			if err != nil {
				return t.Fail(err)
			}
			return t.Complete(item)
		}
	}
	if len(q.items) > 0 {
		item := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.admitPutter()
		return next(t, item, nil)
	}
	if q.closed {
		return next(t, nil, ErrQueueClosed)
	}
	latch := q.loop.newLatch("queue-get")
	q.getters = append(q.getters, latch)
	return t.AwaitTask(latch, func(t *Task, w Wake) Op {
		if w.Reason == WakeCancel {
			return t.Yield(nil)
		}
		if w.Err != nil {
			return next(t, nil, w.Err)
		}
		item, _ := w.Dep.Result()
		return next(t, item, nil)
	})
}

// Put returns an op that stores item and resumes next. A waiting getter
// receives the item directly; otherwise it is buffered, and when the
// buffer is at capacity the task suspends until a Get frees a slot.
// Competing putters are served in arrival order. On a closed queue next
// receives ErrQueueClosed and the item is dropped.
//
// A nil next completes the task with a nil value, or fails it with err.
func (q *Queue) Put(t *Task, item any, next func(t *Task, err error) Op) Op {
	if next == nil {
		next = func(t *Task, err error) Op {
			if err != nil {
				return t.Fail(err)
			}
			return t.Complete(nil)
		}
	}
	if q.closed {
		return next(t, ErrQueueClosed)
	}
	if g := q.popGetter(); g != nil {
		q.loop.finalize(g, StateDone, item, nil)
		return next(t, nil)
	}
	if q.capacity <= 0 || len(q.items) < q.capacity {
		q.items = append(q.items, item)
		return next(t, nil)
	}
	latch := q.loop.newLatch("queue-put")
	q.putters = append(q.putters, putWaiter{latch: latch, item: item})
	return t.AwaitTask(latch, func(t *Task, w Wake) Op {
		if w.Reason == WakeCancel {
			return t.Yield(nil)
		}
		return next(t, w.Err)
	})
}

// Close rejects future Puts and fails every suspended getter and putter
// with ErrQueueClosed. Buffered items stay available to Get. Closing a
// closed queue is a no-op.
func (q *Queue) Close() {
	if q.closed {
		return
	}
	q.closed = true
	for _, g := range q.getters {
		if len(g.waiters) == 0 {
			q.loop.finalize(g, StateCanceled, nil, ErrCanceled)
			continue
		}
		q.loop.finalize(g, StateFailed, nil, ErrQueueClosed)
	}
	q.getters = nil
	for _, pw := range q.putters {
		if len(pw.latch.waiters) == 0 {
			q.loop.finalize(pw.latch, StateCanceled, nil, ErrCanceled)
			continue
		}
		q.loop.finalize(pw.latch, StateFailed, nil, ErrQueueClosed)
	}
	q.putters = nil
}

// popGetter returns the oldest getter latch that still has its waiter.
// Latches whose getter got cancelled were detached from them; those are
// finalized and skipped so an abandoned wait never swallows an item.
func (q *Queue) popGetter() *Task {
	for len(q.getters) > 0 {
		g := q.getters[0]
		q.getters[0] = nil
		q.getters = q.getters[1:]
		if len(g.waiters) > 0 {
			return g
		}
		q.loop.finalize(g, StateCanceled, nil, ErrCanceled)
	}
	return nil
}

// admitPutter moves the oldest live putter's item into the freed buffer
// slot and releases it.
func (q *Queue) admitPutter() {
	for len(q.putters) > 0 {
		pw := q.putters[0]
		q.putters[0] = putWaiter{}
		q.putters = q.putters[1:]
		if len(pw.latch.waiters) == 0 {
			q.loop.finalize(pw.latch, StateCanceled, nil, ErrCanceled)
			continue
		}
		q.items = append(q.items, pw.item)
		q.loop.finalize(pw.latch, StateDone, nil, nil)
		return
	}
}
