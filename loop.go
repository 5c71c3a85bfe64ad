package taskloop

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/joeycumines/logiface"
)

// Loop is a single-threaded cooperative task scheduler. Tasks are step
// functions (Frame) that run to a suspension point and return an Op; the
// loop interleaves them on one goroutine, waking each when its timer
// expires, its descriptor becomes ready, or its awaited task finishes.
//
// Thread model: Run owns every scheduler structure from one goroutine.
// The cross-goroutine surface is Submit, Cancel, NewPromise, Go, promise
// settlement, Stats, and the Task accessors; all of it funnels through the
// staged-effect queue or atomics, never into the dispatch state directly.
// Staged effects are applied at the top of each dispatch cycle, never in
// the middle of a drain, so re-entrant mutation cannot disturb a drain in
// progress.
type Loop struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	// State machine (cache-line padded internally), shared with producers.
	state loopState

	// Staged-effect ingress. Producers push deferred mutations under the
	// mutex; the loop detaches the backlog once per cycle.
	ingressMu sync.Mutex
	staged    effectQueue

	nextTaskID atomic.Uint64

	// externalCount tracks unsettled promises. While positive the loop is
	// waiting on another goroutine, which rules out a deadlock report.
	externalCount atomic.Int64

	// Wake-up mechanism
	wakeRead    int
	wakeWrite   int
	wakeBuf     [8]byte
	wakePending atomic.Uint32

	stats        loopStats
	frameLatency *latencyTracker

	// Immutable after New.
	logger          *logiface.Logger[logiface.Event]
	sink            EventSink
	maxPollInterval time.Duration

	// Dispatch state. Owned by the loop goroutine (the goroutine inside
	// Run, or the caller of Close while no Run is in progress).
	poller     poller
	arena      *arena
	readyQ     []TaskID
	timers     timerHeap
	deadTimers map[timerID]struct{}
	timerSeq   uint64
	ioClaims   map[int]*ioClaim
	target     *Task
	effectBuf  []func()
}

// ioClaim records which tasks hold the read and write interest of one
// registered descriptor. At most one task per direction; a second claim of
// a held direction resumes the claimant with ErrFDAlreadyRegistered.
type ioClaim struct {
	reader TaskID // 0 = unclaimed
	writer TaskID
	events IOEvents // interest currently registered with the poller
}

// New creates a loop with its multiplexer and wake descriptor initialized.
// The caller must Close it to release the descriptors.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	wakeRead, wakeWrite, err := createWakeFd(wakeFdCloexec | wakeFdNonblock)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		arena:           newArena(),
		deadTimers:      make(map[timerID]struct{}),
		ioClaims:        make(map[int]*ioClaim),
		wakeRead:        wakeRead,
		wakeWrite:       wakeWrite,
		frameLatency:    newLatencyTracker(),
		logger:          cfg.logger,
		sink:            cfg.sink,
		maxPollInterval: cfg.maxPollInterval,
	}

	if err := l.poller.Init(); err != nil {
		l.closeWakeFds()
		return nil, err
	}

	if err := l.poller.RegisterFD(wakeRead, EventRead, l.drainWake); err != nil {
		_ = l.poller.Close()
		l.closeWakeFds()
		return nil, err
	}

	return l, nil
}

// newTaskID assigns the next task ID. IDs are never reused, which is what
// lets stale ready-queue and timer entries be detected by lookup.
func (l *Loop) newTaskID() TaskID {
	return TaskID(l.nextTaskID.Add(1))
}

// Submit stages a task for execution and returns its handle immediately.
// It never blocks and may be called from any goroutine, including from a
// running frame; a task submitted during a dispatch cycle first runs in a
// later cycle. Tasks run in submission order relative to other Submit
// calls from the same goroutine.
//
// On a closed loop the returned task is already Failed with ErrLoopClosed.
func (l *Loop) Submit(label string, frame Frame) *Task {
	t := &Task{
		id:     l.newTaskID(),
		label:  label,
		loop:   l,
		frame:  frame,
		pollFD: -1,
	}
	if l.stage(func() { l.admit(t) }) {
		l.stats.TasksSubmitted.Add(1)
	} else {
		t.err = ErrLoopClosed
		t.state.Store(uint32(StateFailed))
		l.stats.TasksFailed.Add(1)
	}
	return t
}

// admit installs a freshly submitted task and queues its first run.
func (l *Loop) admit(t *Task) {
	l.arena.insert(t)
	l.emit(EventSubmitted, t, 0, nil)
	l.enqueue(t, Wake{Reason: WakeStart})
}

// newLatch creates a task that stays Pending until finalized by scheduler
// internals, giving in-loop components (queues, combinators) a waitable
// they complete directly. Unlike a promise a latch does not count as
// external work, so a latch nobody will ever finalize still surfaces as a
// deadlock. Loop goroutine only.
func (l *Loop) newLatch(label string) *Task {
	t := &Task{
		id:     l.newTaskID(),
		label:  label,
		loop:   l,
		pollFD: -1,
	}
	l.stats.TasksSubmitted.Add(1)
	l.arena.insert(t)
	l.emit(EventSubmitted, t, 0, nil)
	return t
}

// Cancel requests cooperative cancellation of t. It never blocks. The
// request is a staged effect: a suspended task has its registrations
// removed and is resumed once with WakeCancel; a task that has not yet
// started is finalized as Canceled without running; a terminal task is
// unaffected. A running frame is never interrupted, and a frame that
// completes or fails before observing the request keeps its outcome.
func (l *Loop) Cancel(t *Task) {
	if t == nil || t.loop != l {
		return
	}
	l.stage(func() { l.applyCancel(t) })
}

// Run dispatches tasks until target reaches a terminal state, then returns
// its result: (value, nil) for Done, (nil, cause) for Failed, and
// (nil, ErrCanceled) for Canceled.
//
// Run returns ErrDeadlock when target is unfinished yet no ready task,
// live timer, I/O registration, staged effect, or unsettled promise
// remains that could ever finish it. It returns ctx.Err() when ctx is
// cancelled; suspended tasks keep their registrations and a later Run may
// finish them. Only one Run may be in progress at a time; concurrent and
// re-entrant calls return ErrLoopRunning.
func (l *Loop) Run(ctx context.Context, target *Task) (any, error) {
	if target == nil {
		panic("taskloop: Run with nil task")
	}
	if target.loop != l {
		return nil, fmt.Errorf("taskloop: task %d belongs to a different loop", target.id)
	}

	if !l.state.TryTransition(LoopIdle, LoopRunning) {
		if l.state.Load() == LoopClosed {
			return nil, ErrLoopClosed
		}
		return nil, ErrLoopRunning
	}
	defer l.state.TryTransition(LoopRunning, LoopIdle)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.target = target
	defer func() { l.target = nil }()

	l.logger.Debug().
		Uint64(`target`, uint64(target.id)).
		Str(`label`, target.label).
		Log(`loop running`)

	// Watcher goroutine nudges the loop when ctx is cancelled. It stages a
	// no-op rather than writing the wake descriptor directly: a bare write
	// is dropped unless the loop is already parked in the multiplexer,
	// while a staged effect also forces an imminent poll non-blocking, so
	// the cancellation is observed promptly in every phase.
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-ctx.Done():
			l.stage(func() {})
		case <-watcherDone:
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if target.State().Terminal() {
			return l.runResult(target)
		}
		if err := l.iterate(); err != nil {
			return nil, err
		}
	}
}

// runResult maps the target's terminal state to Run's return values.
func (l *Loop) runResult(t *Task) (any, error) {
	switch t.State() {
	case StateDone:
		return t.value, nil
	case StateFailed:
		return nil, t.err
	default: // StateCanceled
		return nil, ErrCanceled
	}
}

// iterate is one dispatch cycle: apply the staged backlog, fire due
// timers, drain the ready snapshot, then wait for readiness. Timer wakes
// queued by this cycle's collection run within the same drain; everything
// made ready during the drain runs in the next cycle.
func (l *Loop) iterate() error {
	l.stats.Iterations.Add(1)

	l.applyStaged()
	l.collectTimers(time.Now())
	l.drainReady()

	if l.target != nil && l.target.State().Terminal() {
		return nil
	}
	if l.stalled() {
		return ErrDeadlock
	}
	return l.poll()
}

// applyStaged detaches the staged backlog and applies every effect, in
// FIFO order across all producers. Effects staged while applying (by a
// sink or a finalization) wait for the next cycle.
func (l *Loop) applyStaged() {
	l.ingressMu.Lock()
	if l.staged.Length() == 0 {
		l.ingressMu.Unlock()
		return
	}
	l.effectBuf = l.effectBuf[:0]
	for {
		fn, ok := l.staged.Pop()
		if !ok {
			break
		}
		l.effectBuf = append(l.effectBuf, fn)
	}
	l.ingressMu.Unlock()

	for i, fn := range l.effectBuf {
		fn()
		l.effectBuf[i] = nil
	}
}

// drainReady resumes every task that was ready when the drain began,
// exactly once each, in FIFO order. The queue may grow during the drain
// (yields, waiter wakes); those entries survive to the next cycle, which
// is the fairness guarantee: no task runs twice in one drain.
func (l *Loop) drainReady() {
	n := len(l.readyQ)
	for i := 0; i < n; i++ {
		t := l.arena.lookup(l.readyQ[i])
		if t == nil {
			continue // finalized while queued
		}
		t.enqueued = false
		l.dispatch(t)
	}
	l.readyQ = l.readyQ[:copy(l.readyQ, l.readyQ[n:])]
}

// dispatch resumes one task: invoke its frame with the stored wake and
// apply the returned op. Awaits on already-terminal dependencies loop
// back and continue in the same dispatch slot instead of suspending.
func (l *Loop) dispatch(t *Task) {
	if t.State().Terminal() {
		return
	}

	for {
		w := t.wake
		t.wake = Wake{}

		if t.frame == nil {
			// Nil continuation: the task finishes as soon as the wait does.
			switch {
			case t.canceled.Load():
				l.finalize(t, StateCanceled, nil, ErrCanceled)
			case w.Err != nil:
				l.finalize(t, StateFailed, nil, w.Err)
			default:
				l.finalize(t, StateDone, nil, nil)
			}
			return
		}

		t.state.Store(uint32(StateRunning))
		l.emit(EventResumed, t, w.Reason, nil)

		op, panicErr := l.runFrame(t, w)
		if panicErr != nil {
			l.finalize(t, StateFailed, nil, panicErr)
			return
		}

		t.frame = op.next

		switch op.kind {
		case opComplete:
			l.finalize(t, StateDone, op.value, nil)
			return

		case opFail:
			err := op.err
			if err == nil {
				err = ErrTaskFailed
			}
			l.finalize(t, StateFailed, nil, err)
			return

		case opYield:
			if t.canceled.Load() {
				l.finalize(t, StateCanceled, nil, ErrCanceled)
				return
			}
			t.state.Store(uint32(StatePending))
			l.emit(EventSuspended, t, 0, nil)
			l.enqueue(t, Wake{Reason: WakeYield})
			return

		case opSleep:
			if t.canceled.Load() {
				l.finalize(t, StateCanceled, nil, ErrCanceled)
				return
			}
			t.state.Store(uint32(StateWaitTimer))
			t.timer = l.scheduleTimer(time.Now().Add(op.delay), t.id)
			l.emit(EventSuspended, t, 0, nil)
			return

		case opAwaitIO:
			if t.canceled.Load() {
				l.finalize(t, StateCanceled, nil, ErrCanceled)
				return
			}
			if err := l.claimIO(t, op.fd, op.events); err != nil {
				// Error readiness: resume through the queue with the
				// cause, never fail the registration call site.
				t.state.Store(uint32(StatePending))
				l.emit(EventSuspended, t, 0, nil)
				l.enqueue(t, Wake{Reason: WakeIO, Events: EventError, Err: err})
				return
			}
			t.state.Store(uint32(StateWaitIO))
			t.pollFD = op.fd
			t.pollEv = op.events
			l.emit(EventSuspended, t, 0, nil)
			return

		case opAwaitTask, opAwaitTimeout:
			if t.canceled.Load() {
				l.finalize(t, StateCanceled, nil, ErrCanceled)
				return
			}
			dep := op.dep
			if dep == nil {
				l.finalize(t, StateFailed, nil, fmt.Errorf("taskloop: await on nil task"))
				return
			}
			if dep.loop != l {
				l.finalize(t, StateFailed, nil, fmt.Errorf("taskloop: awaited task %d belongs to a different loop", dep.id))
				return
			}
			if dep.State().Terminal() {
				// Already finished: continue inline, same dispatch slot.
				t.wake = depWake(dep)
				continue
			}
			dep.waiters = append(dep.waiters, t.id)
			t.dep = dep.id
			t.state.Store(uint32(StateWaitTask))
			if op.kind == opAwaitTimeout {
				t.timer = l.scheduleTimer(time.Now().Add(op.delay), t.id)
			}
			l.emit(EventSuspended, t, 0, nil)
			return

		default:
			// Zero Op: a frame returned something it did not construct.
			l.finalize(t, StateFailed, nil, fmt.Errorf("taskloop: frame returned invalid op"))
			return
		}
	}
}

// runFrame invokes the frame with panic capture and latency accounting.
func (l *Loop) runFrame(t *Task, w Wake) (op Op, err error) {
	start := time.Now()
	defer func() {
		l.frameLatency.record(time.Since(start))
		if r := recover(); r != nil {
			err = PanicError{Value: r}
			l.logger.Warning().
				Uint64(`task`, uint64(t.id)).
				Str(`label`, t.label).
				Any(`panic`, r).
				Log(`task panicked`)
		}
	}()
	return t.frame(t, w), nil
}

// depWake builds the wake a waiter receives when its dependency finishes.
// A failed dependency delivers its stored cause, a cancelled one delivers
// ErrAwaitCanceled.
func depWake(dep *Task) Wake {
	w := Wake{Reason: WakeDependency, Dep: dep}
	switch dep.State() {
	case StateFailed:
		w.Err = dep.err
	case StateCanceled:
		w.Err = ErrAwaitCanceled
	}
	return w
}

// finalize moves a task to a terminal state: clear its registrations,
// publish the result, wake its waiters, and drop it from the arena. The
// result slot is written exactly once, before the state store that
// publishes it.
func (l *Loop) finalize(t *Task, st TaskState, value any, err error) {
	if t.timer != 0 {
		l.cancelTimer(t.timer)
		t.timer = 0
	}
	if t.dep != 0 {
		l.detachWaiter(t)
	}
	l.releaseIOClaim(t)

	t.value = value
	t.err = err
	t.state.Store(uint32(st))
	l.arena.remove(t.id)
	if t.external {
		l.externalCount.Add(-1)
	}

	switch st {
	case StateDone:
		l.stats.TasksCompleted.Add(1)
		l.emit(EventDone, t, 0, nil)
	case StateFailed:
		l.stats.TasksFailed.Add(1)
		l.emit(EventFailed, t, 0, err)
	case StateCanceled:
		l.stats.TasksCanceled.Add(1)
		l.emit(EventCanceled, t, 0, err)
	}

	waiters := t.waiters
	t.waiters = nil
	for _, wid := range waiters {
		w := l.arena.lookup(wid)
		if w == nil || TaskState(w.state.Load()) != StateWaitTask {
			continue
		}
		if w.timer != 0 {
			// Timeout leg loses: the dependency finished first.
			l.cancelTimer(w.timer)
			w.timer = 0
		}
		w.dep = 0
		w.state.Store(uint32(StatePending))
		l.enqueue(w, depWake(t))
	}

	// Close teardown fails the whole arena; those are not unhandled.
	if st == StateFailed && len(waiters) == 0 && t != l.target && l.state.Load() != LoopClosed {
		l.emit(EventUnhandledFailure, t, 0, err)
		l.logger.Warning().
			Uint64(`task`, uint64(t.id)).
			Str(`label`, t.label).
			Err(err).
			Log(`unhandled task failure`)
	}
}

// enqueue appends a task to the ready queue with the wake it will receive.
func (l *Loop) enqueue(t *Task, w Wake) {
	if t.enqueued {
		return
	}
	t.enqueued = true
	t.wake = w
	l.readyQ = append(l.readyQ, t.id)
}

// fireTimer wakes the owner of an expired timer. Entries whose owner has
// finalized or re-suspended are stale and ignored; t.timer identity is the
// liveness check.
func (l *Loop) fireTimer(e timerEntry) {
	t := l.arena.lookup(e.owner)
	if t == nil || t.timer != e.id {
		return
	}
	l.stats.TimersFired.Add(1)
	t.timer = 0

	switch TaskState(t.state.Load()) {
	case StateWaitTimer:
		t.state.Store(uint32(StatePending))
		l.enqueue(t, Wake{Reason: WakeTimer})
	case StateWaitTask:
		// Dependency leg loses: the deadline fired first.
		l.detachWaiter(t)
		t.state.Store(uint32(StatePending))
		l.enqueue(t, Wake{Reason: WakeTimer})
	}
}

// applyCancel performs a staged cancellation request on the loop
// goroutine. The cancelled flag is set here, not in Cancel, so the flag
// flip and the registration teardown are one atomic step from the
// dispatch code's point of view.
func (l *Loop) applyCancel(t *Task) {
	if t.State().Terminal() {
		return
	}
	if !t.canceled.CompareAndSwap(false, true) {
		return // duplicate request
	}

	switch TaskState(t.state.Load()) {
	case StatePending:
		if t.enqueued {
			// Already queued with a committed wake. The frame still runs;
			// the flag denies any further suspension.
			if t.wake.Reason == WakeStart {
				// Never ran: finalize without running the frame at all.
				l.finalize(t, StateCanceled, nil, ErrCanceled)
			}
			return
		}
		// Pending without a queue entry: an unsettled promise.
		l.finalize(t, StateCanceled, nil, ErrCanceled)

	case StateWaitTimer:
		l.cancelTimer(t.timer)
		t.timer = 0
		t.state.Store(uint32(StatePending))
		l.enqueue(t, Wake{Reason: WakeCancel})

	case StateWaitIO:
		l.releaseIOClaim(t)
		t.state.Store(uint32(StatePending))
		l.enqueue(t, Wake{Reason: WakeCancel})

	case StateWaitTask:
		l.detachWaiter(t)
		if t.timer != 0 {
			l.cancelTimer(t.timer)
			t.timer = 0
		}
		t.state.Store(uint32(StatePending))
		l.enqueue(t, Wake{Reason: WakeCancel})
	}
}

// detachWaiter removes t from its dependency's waiter list.
func (l *Loop) detachWaiter(t *Task) {
	dep := l.arena.lookup(t.dep)
	t.dep = 0
	if dep == nil {
		return
	}
	for i, id := range dep.waiters {
		if id == t.id {
			dep.waiters = append(dep.waiters[:i], dep.waiters[i+1:]...)
			return
		}
	}
}

// claimIO registers t's interest in fd with the multiplexer. The error
// return becomes Wake.Err on the resumption, it is never surfaced to the
// suspending frame directly.
func (l *Loop) claimIO(t *Task, fd int, events IOEvents) error {
	want := events & (EventRead | EventWrite)
	if want == 0 {
		return fmt.Errorf("taskloop: await i/o with empty interest")
	}
	if fd < 0 {
		return ErrFDInvalid
	}

	c := l.ioClaims[fd]
	if c != nil {
		if want&EventRead != 0 && c.reader != 0 {
			return ErrFDAlreadyRegistered
		}
		if want&EventWrite != 0 && c.writer != 0 {
			return ErrFDAlreadyRegistered
		}
		merged := c.events | want
		if merged != c.events {
			if err := l.poller.ModifyFD(fd, merged); err != nil {
				return err
			}
			c.events = merged
		}
	} else {
		if err := l.poller.RegisterFD(fd, want, func(ev IOEvents) { l.dispatchIO(fd, ev) }); err != nil {
			return err
		}
		c = &ioClaim{events: want}
		l.ioClaims[fd] = c
	}

	if want&EventRead != 0 {
		c.reader = t.id
	}
	if want&EventWrite != 0 {
		c.writer = t.id
	}
	return nil
}

// dispatchIO routes a poller event to the claimants of fd. Error and
// hangup readiness wakes both directions. Registrations are one-shot:
// a woken claimant is cleared and the poller interest shrunk to match.
func (l *Loop) dispatchIO(fd int, ev IOEvents) {
	c := l.ioClaims[fd]
	if c == nil {
		return
	}
	errEv := ev&(EventError|EventHangup) != 0
	if c.reader != 0 && (ev&EventRead != 0 || errEv) {
		l.wakeIO(c.reader, ev)
		c.reader = 0
	}
	if c.writer != 0 && (ev&EventWrite != 0 || errEv) {
		l.wakeIO(c.writer, ev)
		c.writer = 0
	}
	l.syncIOClaim(fd, c)
}

// wakeIO resumes one I/O-suspended task with the ready event bits.
func (l *Loop) wakeIO(id TaskID, ev IOEvents) {
	t := l.arena.lookup(id)
	if t == nil || TaskState(t.state.Load()) != StateWaitIO {
		return
	}
	t.pollFD = -1
	t.pollEv = 0
	t.state.Store(uint32(StatePending))
	l.enqueue(t, Wake{Reason: WakeIO, Events: ev})
}

// releaseIOClaim drops t's descriptor interest, if any.
func (l *Loop) releaseIOClaim(t *Task) {
	if t.pollFD < 0 {
		return
	}
	fd := t.pollFD
	t.pollFD = -1
	t.pollEv = 0
	c := l.ioClaims[fd]
	if c == nil {
		return
	}
	if c.reader == t.id {
		c.reader = 0
	}
	if c.writer == t.id {
		c.writer = 0
	}
	l.syncIOClaim(fd, c)
}

// syncIOClaim reconciles the poller's interest in fd with the remaining
// claims, unregistering the descriptor when none remain.
func (l *Loop) syncIOClaim(fd int, c *ioClaim) {
	var want IOEvents
	if c.reader != 0 {
		want |= EventRead
	}
	if c.writer != 0 {
		want |= EventWrite
	}
	if want == 0 {
		delete(l.ioClaims, fd)
		_ = l.poller.UnregisterFD(fd)
		return
	}
	if want != c.events {
		if err := l.poller.ModifyFD(fd, want); err == nil {
			c.events = want
		}
	}
}

// stalled reports whether nothing can ever make the target runnable: no
// ready task, no live timer, no descriptor interest, no staged effect, and
// no unsettled promise.
func (l *Loop) stalled() bool {
	if len(l.readyQ) > 0 {
		return false
	}
	if l.liveTimers() {
		return false
	}
	if len(l.ioClaims) > 0 {
		return false
	}
	if l.externalCount.Load() > 0 {
		return false
	}
	return l.stagedLen() == 0
}

// poll blocks in the multiplexer until readiness, the next timer deadline,
// or the poll interval cap, whichever is nearest. Ready work pending from
// the current cycle degrades it to a non-blocking poll. Readiness
// callbacks run inside PollIO on this goroutine.
func (l *Loop) poll() error {
	timeout := l.calculateTimeout()

	if timeout != 0 {
		if !l.state.TryTransition(LoopRunning, LoopPolling) {
			return nil
		}
		// Effects staged between the timeout calculation and the state
		// transition saw LoopRunning and wrote no wake-up. Re-check now
		// that producers observe LoopPolling.
		if l.stagedLen() > 0 {
			l.state.TryTransition(LoopPolling, LoopRunning)
			timeout = 0
		}
	}

	_, err := l.poller.PollIO(timeout)
	l.stats.Polls.Add(1)
	l.state.TryTransition(LoopPolling, LoopRunning)
	if err != nil {
		l.logger.Err().
			Err(err).
			Log(`readiness wait failed`)
		return err
	}
	return nil
}

// calculateTimeout determines how long the multiplexer wait may block, in
// milliseconds. Sub-millisecond deadlines round up so a wait never returns
// before the nearest deadline.
func (l *Loop) calculateTimeout() int {
	if len(l.readyQ) > 0 || l.stagedLen() > 0 {
		return 0
	}

	maxDelay := l.maxPollInterval
	if when, ok := l.nextDeadline(); ok {
		delay := time.Until(when)
		if delay < 0 {
			delay = 0
		}
		if delay < maxDelay {
			maxDelay = delay
		}
	}

	// Ceiling rounding: if 0 < delta < 1ms, round up to 1ms
	if maxDelay > 0 && maxDelay < time.Millisecond {
		return 1
	}

	return int(maxDelay.Milliseconds())
}

// stage pushes an effect for the loop to apply at the top of a later
// cycle, waking the loop out of a blocking poll when needed. It reports
// false, with the effect dropped, once the loop is closed.
func (l *Loop) stage(fn func()) bool {
	l.ingressMu.Lock()
	if l.state.Load() == LoopClosed {
		l.ingressMu.Unlock()
		return false
	}
	l.staged.Push(fn)
	l.ingressMu.Unlock()
	l.maybeWake()
	return true
}

// stagedLen returns the staged backlog length.
func (l *Loop) stagedLen() int {
	l.ingressMu.Lock()
	n := l.staged.Length()
	l.ingressMu.Unlock()
	return n
}

// maybeWake writes the wake descriptor if the loop is blocked in the
// multiplexer. Writes are deduplicated until the loop drains the
// descriptor. Write errors are ignored: they occur only against a closing
// loop, which no longer needs waking.
func (l *Loop) maybeWake() {
	if l.state.Load() != LoopPolling {
		return
	}
	if !l.wakePending.CompareAndSwap(0, 1) {
		return
	}
	// PERFORMANCE: Native endianness, no binary.LittleEndian overhead
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	_, _ = writeFD(l.wakeWrite, buf)
}

// drainWake empties the wake descriptor. Registered with the poller as the
// readiness callback for the read end.
func (l *Loop) drainWake(IOEvents) {
	for {
		if _, err := readFD(l.wakeRead, l.wakeBuf[:]); err != nil {
			break
		}
	}
	l.wakePending.Store(0)
	l.stats.Wakeups.Add(1)
}

// Close releases the loop's descriptors and finalizes every live task as
// Failed with ErrLoopClosed, waking nothing. It requires that no Run be in
// progress and that no further Run be attempted. Close is not safe to call
// concurrently with Submit from other goroutines still in flight; stop
// producers first.
func (l *Loop) Close() error {
	l.ingressMu.Lock()
	if !l.state.TryTransition(LoopIdle, LoopClosed) {
		closed := l.state.Load() == LoopClosed
		l.ingressMu.Unlock()
		if closed {
			return ErrLoopClosed
		}
		return ErrLoopRunning
	}
	l.ingressMu.Unlock()

	// Now the exclusive owner of the dispatch state: admit whatever was
	// staged, then fail the whole arena deterministically.
	l.applyStaged()
	for _, t := range l.arena.drain() {
		l.arena.insert(t) // finalize expects arena membership
		l.finalize(t, StateFailed, nil, ErrLoopClosed)
	}
	l.readyQ = l.readyQ[:0]

	err := l.poller.Close()
	l.closeWakeFds()
	return err
}

func (l *Loop) closeWakeFds() {
	_ = closeFD(l.wakeRead)
	if l.wakeWrite != l.wakeRead {
		_ = closeFD(l.wakeWrite)
	}
}

// State returns the loop's current run-state.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// Stats returns a snapshot of the loop's counters. Safe from any
// goroutine, including while Run is in progress.
func (l *Loop) Stats() Stats {
	return l.stats.snapshot()
}

// Latency returns a summary of frame execution times since the loop was
// created. Safe from any goroutine, including while Run is in progress.
func (l *Loop) Latency() Latency {
	return l.frameLatency.snapshot()
}

// emit delivers one lifecycle event to the sink, when one is attached.
func (l *Loop) emit(kind EventKind, t *Task, reason WakeReason, err error) {
	if l.sink == nil {
		return
	}
	l.sink.Emit(Event{Kind: kind, Task: t.id, Label: t.label, Reason: reason, Err: err})
}
