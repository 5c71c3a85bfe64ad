// Package taskloop provides a single-threaded cooperative task scheduler
// for Go, featuring timers, awaitable tasks, readiness-based I/O, and a
// bridge for completing work from other goroutines.
//
// # Architecture
//
// The scheduler is built around a [Loop] that owns every task, timer, and
// I/O registration. Tasks are resumable frames: a [Frame] runs until it
// returns an [Op] that completes the task ([Task.Complete], [Task.Fail])
// or suspends it ([Task.Yield], [Task.Sleep], [Task.AwaitIO],
// [Task.AwaitTask], [Task.AwaitTimeout]). The loop resumes suspended
// frames with a [Wake] describing what happened, so a task is a chain of
// short non-blocking steps rather than a goroutine.
//
// Higher-level pieces build on those primitives: [Task.AwaitAll] and
// [Task.AwaitAny] combine dependencies, [Queue] passes items between
// tasks with suspending Get and Put, and [Promise] plus [Loop.Go] settle
// tasks from outside the loop goroutine.
//
// # Platform Support
//
// I/O readiness uses platform-native polling:
//   - Linux: epoll
//   - macOS: kqueue
//
// [Task.AwaitIO] suspends a task until a file descriptor is readable or
// writable; error and hangup conditions are delivered as [IOEvents] bits
// on the wake rather than as suspension failures.
//
// # Thread Safety
//
// The loop goroutine owns all scheduler state. Cross-goroutine calls
// hand work over instead of touching it:
//   - [Loop.Submit], [Loop.Cancel], and [Loop.NewPromise] are safe from
//     any goroutine and never block
//   - [Promise.Resolve], [Promise.Reject], and [Promise.Cancel] are safe
//     from any goroutine; the first settlement wins
//   - [Task] accessors (State, Result, Err) are safe anywhere once the
//     task is terminal
//   - Frames, [Queue] methods, and [Op] construction belong to the loop
//     goroutine only
//
// # Execution Model
//
// [Loop.Run] drives the loop until a target task finishes. Each
// iteration applies staged cross-goroutine effects, fires due timers in
// deadline order (insertion order on ties), then drains a snapshot of
// the ready queue in strict FIFO order so no task runs twice in one
// pass. When nothing is runnable the loop either sleeps in the poller
// until a timer, readiness event, or external wakeup arrives, or fails
// with [ErrDeadlock] when no such source remains.
//
// That phase order is also the [Task.AwaitTimeout] tie-break: a
// completion observed by the top of an iteration settles the wait and
// kills its deadline before expirations are collected, so the
// dependency wins; a deadline collected while the wait is still
// unsatisfied detaches the waiter first, and a dependency completing
// later in the same pass finds nobody to wake. Exactly one of the two
// wakes is ever delivered.
//
// # Usage
//
//	loop, err := taskloop.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Close()
//
//	task := loop.Submit("greet", func(t *taskloop.Task, _ taskloop.Wake) taskloop.Op {
//	    return t.Sleep(100*time.Millisecond, func(t *taskloop.Task, _ taskloop.Wake) taskloop.Op {
//	        return t.Complete("hello after 100ms")
//	    })
//	})
//
//	v, err := loop.Run(context.Background(), task)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(v)
//
// # Error Types
//
// Failure causes are sentinel errors usable with [errors.Is]:
//   - [ErrCanceled]: the task was cancelled before completing
//   - [ErrAwaitCanceled]: an awaited dependency was cancelled
//   - [ErrDeadlock]: every remaining task waits on another task
//   - [ErrLoopClosed], [ErrLoopRunning]: lifecycle misuse
//   - [ErrQueueClosed]: Get or Put on a closed [Queue]
//   - [ErrGoexit]: a [Loop.Go] function ended via runtime.Goexit
//   - [PanicError]: wraps panics recovered from frames and [Loop.Go]
package taskloop
