package taskloop

import (
	"sync/atomic"
)

// Promise is the write side of an externally settled task. The loop admits
// the task in the Pending state and leaves it there until some goroutine
// resolves or rejects the promise; the read side is the ordinary [Task]
// handle, so steps await it with AwaitTask/AwaitTimeout like any other
// dependency.
//
// While any promise of a loop is unsettled the loop treats completion as
// still possible and will not report a deadlock.
//
// Resolve and Reject are safe to call from any goroutine, any number of
// times; the first call wins and the rest are no-ops. Settlement is a
// staged effect: waiters observe it at the top of a dispatch cycle, and a
// cancellation applied before the settlement effect beats it.
type Promise struct {
	task    *Task
	settled atomic.Bool
}

// NewPromise creates a pending external task and returns its promise. On a
// closed loop the promise is born settled and its task Failed with
// ErrLoopClosed.
func (l *Loop) NewPromise(label string) *Promise {
	t := &Task{
		id:       l.newTaskID(),
		label:    label,
		loop:     l,
		external: true,
		pollFD:   -1,
	}
	// The count rises before the admission effect is visible so the loop
	// can never observe the admitted task without the external work.
	l.externalCount.Add(1)

	p := &Promise{task: t}
	if l.stage(func() { l.admitPromise(t) }) {
		l.stats.TasksSubmitted.Add(1)
	} else {
		l.externalCount.Add(-1)
		t.err = ErrLoopClosed
		t.state.Store(uint32(StateFailed))
		l.stats.TasksFailed.Add(1)
		p.settled.Store(true)
	}
	return p
}

// admitPromise installs an external task without queueing it; nothing runs
// until settlement.
func (l *Loop) admitPromise(t *Task) {
	l.arena.insert(t)
	l.emit(EventSubmitted, t, 0, nil)
}

// Task returns the awaitable handle of the promise.
func (p *Promise) Task() *Task {
	return p.task
}

// Settled reports whether a settlement call has won already. Note that the
// task may reach a terminal state without Settled turning true, when it is
// cancelled or the loop closes.
func (p *Promise) Settled() bool {
	return p.settled.Load()
}

// Resolve settles the promise with a value. It reports whether this call
// won the settlement.
func (p *Promise) Resolve(v any) bool {
	return p.settle(StateDone, v, nil)
}

// Reject settles the promise with a failure cause. A nil err is stored as
// ErrTaskFailed. It reports whether this call won the settlement.
func (p *Promise) Reject(err error) bool {
	if err == nil {
		err = ErrTaskFailed
	}
	return p.settle(StateFailed, nil, err)
}

// Cancel requests cancellation of the promise's task, like [Loop.Cancel].
// A cancellation applied before a settlement effect wins over it.
func (p *Promise) Cancel() {
	p.task.Cancel()
}

func (p *Promise) settle(st TaskState, v any, err error) bool {
	if !p.settled.CompareAndSwap(false, true) {
		return false
	}
	t := p.task
	// Effect dropped when the loop closed underneath us; Close already
	// failed the task.
	t.loop.stage(func() {
		if t.State().Terminal() {
			return // cancelled first
		}
		t.loop.finalize(t, st, v, err)
	})
	return true
}
