package taskloop

import (
	"sync/atomic"
	"time"
)

// TaskID uniquely identifies a task for the lifetime of its loop. Timer and
// I/O registrations refer to tasks by ID, never by pointer, so stale entries
// left behind by a finalized task are detected and skipped rather than
// resurrecting it.
type TaskID uint64

// TaskState is the position of a task in its lifecycle state machine.
//
// Pending → Running → {WaitTimer, WaitIO, WaitTask} → Running → … →
// {Done, Canceled, Failed}. Running is only ever held while the task's frame
// is executing during a dispatch pass; between passes a task is Pending,
// suspended, or terminal, which lets cancellation inspect state safely.
type TaskState uint32

const (
	// StatePending indicates the task has been submitted but its frame has
	// not yet run. Promises stay Pending until settled.
	StatePending TaskState = iota
	// StateRunning indicates the task's frame is executing right now.
	StateRunning
	// StateWaitTimer indicates the task is suspended until a deadline.
	StateWaitTimer
	// StateWaitIO indicates the task is suspended until I/O readiness.
	StateWaitIO
	// StateWaitTask indicates the task is suspended until another task
	// completes (possibly bounded by a timeout).
	StateWaitTask
	// StateDone is terminal: the task completed with a value.
	StateDone
	// StateCanceled is terminal: the task was cancelled.
	StateCanceled
	// StateFailed is terminal: the task failed with a cause.
	StateFailed
)

// Terminal reports whether the state is Done, Canceled, or Failed.
func (s TaskState) Terminal() bool {
	return s >= StateDone
}

// String returns a human-readable representation of the state.
func (s TaskState) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateRunning:
		return "Running"
	case StateWaitTimer:
		return "WaitTimer"
	case StateWaitIO:
		return "WaitIO"
	case StateWaitTask:
		return "WaitTask"
	case StateDone:
		return "Done"
	case StateCanceled:
		return "Canceled"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// WakeReason says why a suspended task was moved back to the ready queue.
type WakeReason uint8

const (
	// WakeStart is the first resumption of a freshly submitted task.
	WakeStart WakeReason = iota
	// WakeYield follows an explicit Yield.
	WakeYield
	// WakeTimer follows expiry of the task's timer (Sleep, or the deadline
	// leg of AwaitTimeout).
	WakeTimer
	// WakeIO follows I/O readiness, or an I/O registration error; see
	// Wake.Events and Wake.Err.
	WakeIO
	// WakeDependency follows completion of the awaited task.
	WakeDependency
	// WakeCancel is the final resumption of a task whose cancellation was
	// requested while it was suspended or queued.
	WakeCancel
)

// String returns a human-readable representation of the reason.
func (r WakeReason) String() string {
	switch r {
	case WakeStart:
		return "Start"
	case WakeYield:
		return "Yield"
	case WakeTimer:
		return "Timer"
	case WakeIO:
		return "IO"
	case WakeDependency:
		return "Dependency"
	case WakeCancel:
		return "Cancel"
	default:
		return "Unknown"
	}
}

// Wake carries the reason a frame is being resumed, plus the payload for that
// reason.
type Wake struct {
	// Reason says which event woke the task.
	Reason WakeReason

	// Events holds the ready event bits for WakeIO, including EventError and
	// EventHangup when the descriptor errored or hung up.
	Events IOEvents

	// Dep is the completed dependency for WakeDependency. Its result is
	// available via Dep.Result.
	Dep *Task

	// Err is non-nil when the wake delivers a failure: a failed
	// dependency's stored cause, ErrAwaitCanceled for a cancelled
	// dependency, or ErrFDInvalid/ErrFDAlreadyRegistered for an I/O
	// registration that could not be satisfied.
	Err error
}

// A Frame is one step of a task's computation. The scheduler invokes it with
// the wake that made the task runnable; it executes without interruption
// until it returns an Op saying what the task does next.
//
// A frame must not block. Blocking work belongs on a bridged goroutine via
// [Loop.Go].
type Frame func(t *Task, w Wake) Op

// opKind discriminates the operation a frame returned. The zero kind is
// deliberately unassigned so a zero Op is detected as invalid.
type opKind uint8

const (
	opComplete opKind = iota + 1
	opFail
	opYield
	opSleep
	opAwaitIO
	opAwaitTask
	opAwaitTimeout
)

// Op is the single operation a frame returns: complete, fail, yield, or
// suspend with exactly one reason. Construct values via the methods on
// [Task]; the zero Op is not valid.
//
// Suspending ops carry the Frame to resume with. A nil next frame
// finishes the task as soon as the wait does: Done with a nil value, or
// Failed/Canceled when the wake delivers an error or the task was
// cancelled in the meantime.
type Op struct {
	kind   opKind
	next   Frame
	value  any
	err    error
	delay  time.Duration
	fd     int
	events IOEvents
	dep    *Task
}

// Task is the unit of suspendable computation. The scheduler creates one per
// [Loop.Submit] (and per promise); user code holds it as a handle for
// awaiting, cancelling, and reading the result.
//
// Accessor methods (State, Canceled, Result, Err) are safe from any
// goroutine. Everything else on the struct is owned by the dispatch code.
type Task struct {
	id    TaskID
	label string
	loop  *Loop

	state    atomic.Uint32
	canceled atomic.Bool

	// Result slot. Written at most once, before the terminal state store;
	// the atomic state load is the acquire barrier for readers.
	value any
	err   error

	// Dispatch-owned bookkeeping. Only the loop goroutine touches these.
	frame    Frame
	wake     Wake
	enqueued bool
	external bool // settles via promise, frame never runs
	waiters  []TaskID
	dep      TaskID
	timer    timerID
	pollFD   int
	pollEv   IOEvents
}

// ID returns the task's unique identifier.
func (t *Task) ID() TaskID { return t.id }

// Label returns the diagnostic label the task was submitted with.
func (t *Task) Label() string { return t.label }

// State returns the task's current state.
func (t *Task) State() TaskState {
	return TaskState(t.state.Load())
}

// Canceled reports whether cancellation has been requested. Frames should
// consult it (or watch for WakeCancel) at suspension points; the scheduler
// never interrupts a running frame.
func (t *Task) Canceled() bool {
	return t.canceled.Load()
}

// Result returns the task's stored value and failure cause. It is
// meaningful only once State reports a terminal state; before that both
// return values are zero.
func (t *Task) Result() (any, error) {
	if !t.State().Terminal() {
		return nil, nil
	}
	return t.value, t.err
}

// Err returns the task's failure cause: the stored cause for Failed,
// ErrCanceled for Canceled, nil otherwise.
func (t *Task) Err() error {
	_, err := t.Result()
	return err
}

// Cancel requests cooperative cancellation, like [Loop.Cancel].
func (t *Task) Cancel() {
	t.loop.Cancel(t)
}

// Complete finishes the task with a value. The result slot is write-once;
// the frame returning this op will not run again.
func (t *Task) Complete(v any) Op {
	return Op{kind: opComplete, value: v}
}

// Fail finishes the task with a failure cause, delivered to every waiter and
// re-returned by Run when the task is the run target. A nil err is stored as
// ErrTaskFailed.
func (t *Task) Fail(err error) Op {
	return Op{kind: opFail, err: err}
}

// Yield gives up the thread and re-queues the task behind every task that is
// already ready; next resumes with WakeYield on the following dispatch pass.
func (t *Task) Yield(next Frame) Op {
	return Op{kind: opYield, next: next}
}

// Sleep suspends the task until at least d has elapsed; next resumes with
// WakeTimer. A non-positive d behaves like d == 0 and still suspends until
// the following timer collection.
func (t *Task) Sleep(d time.Duration, next Frame) Op {
	return Op{kind: opSleep, next: next, delay: d}
}

// AwaitIO suspends the task until fd is ready for the requested interest
// (EventRead, EventWrite, or both); next resumes with WakeIO carrying the
// ready bits. A descriptor that errors or hangs up while registered resumes
// the task with EventError or EventHangup among the bits. A registration
// that cannot be satisfied at all, because the descriptor is invalid or the
// interest is already claimed by another task, resumes the task with
// EventError and Wake.Err naming the cause (ErrFDInvalid,
// ErrFDAlreadyRegistered); the failure is delivered as readiness, never as a
// suspension-time error.
//
// The registration is one-shot: it is removed when the task resumes, however
// it resumes.
func (t *Task) AwaitIO(fd int, events IOEvents, next Frame) Op {
	return Op{kind: opAwaitIO, next: next, fd: fd, events: events}
}

// AwaitTask suspends the task until dep reaches a terminal state; next
// resumes with WakeDependency. If dep is already terminal the frame chain
// continues within the same dispatch slot, without suspension. A failed
// dependency delivers its cause in Wake.Err; a cancelled dependency delivers
// ErrAwaitCanceled.
func (t *Task) AwaitTask(dep *Task, next Frame) Op {
	return Op{kind: opAwaitTask, next: next, dep: dep}
}

// AwaitTimeout suspends the task until dep completes or d elapses, whichever
// happens first; the loser's registration is removed (mutual cancellation)
// so exactly one wake is delivered: WakeDependency if dep finished,
// WakeTimer if the deadline fired while dep was still unfinished. Dependency
// completion wins a simultaneous race; see the package documentation for the
// precise ordering rule.
func (t *Task) AwaitTimeout(dep *Task, d time.Duration, next Frame) Op {
	return Op{kind: opAwaitTimeout, next: next, dep: dep, delay: d}
}
