package taskloop

import (
	"github.com/joeycumines/logiface"
)

// EventKind identifies a task lifecycle transition delivered to an EventSink.
type EventKind uint8

const (
	// EventSubmitted fires when a task is accepted by the loop, before it
	// first runs. Promises and Go bridges emit it too.
	EventSubmitted EventKind = iota + 1

	// EventResumed fires immediately before a task's frame is invoked.
	// Event.Reason carries the wake reason, including WakeStart for the
	// first invocation.
	EventResumed

	// EventSuspended fires when a frame returns a suspending operation.
	EventSuspended

	// EventDone fires when a task finalizes with a result.
	EventDone

	// EventFailed fires when a task finalizes with an error.
	EventFailed

	// EventCanceled fires when a task finalizes as cancelled.
	EventCanceled

	// EventUnhandledFailure fires after EventFailed when nobody is awaiting
	// the failed task and it is not the Run target, so the error would
	// otherwise vanish. Tasks failed wholesale by Close do not fire it.
	EventUnhandledFailure
)

// String returns the lifecycle transition name.
func (k EventKind) String() string {
	switch k {
	case EventSubmitted:
		return "submitted"
	case EventResumed:
		return "resumed"
	case EventSuspended:
		return "suspended"
	case EventDone:
		return "done"
	case EventFailed:
		return "failed"
	case EventCanceled:
		return "canceled"
	case EventUnhandledFailure:
		return "unhandled_failure"
	default:
		return "unknown"
	}
}

// Event describes one task lifecycle transition.
type Event struct {
	Kind   EventKind
	Task   TaskID
	Label  string
	Reason WakeReason // valid for EventResumed
	Err    error      // valid for EventFailed, EventCanceled, EventUnhandledFailure
}

// EventSink observes task lifecycle transitions.
//
// Emit is called synchronously from the loop goroutine after each
// transition, in program order per task. Implementations must not call
// back into the loop's single-goroutine surface (Submit and promise
// settlement are fine, they are the cross-goroutine surface). A nil sink
// costs a single nil check per transition.
type EventSink interface {
	Emit(e Event)
}

// LogSink is an EventSink that forwards transitions to a logiface logger.
// Routine transitions log at trace level, terminal ones at debug, and
// unhandled failures at warning. A nil Logger disables all output, so a
// zero LogSink is usable.
type LogSink struct {
	Logger *logiface.Logger[logiface.Event]
}

// Emit implements EventSink.
func (s *LogSink) Emit(e Event) {
	var b *logiface.Builder[logiface.Event]
	switch e.Kind {
	case EventUnhandledFailure:
		b = s.Logger.Warning()
	case EventDone, EventFailed, EventCanceled:
		b = s.Logger.Debug()
	default:
		b = s.Logger.Trace()
	}
	if !b.Enabled() {
		return
	}
	b = b.Uint64(`task`, uint64(e.Task))
	if e.Label != `` {
		b = b.Str(`label`, e.Label)
	}
	if e.Kind == EventResumed {
		b = b.Str(`reason`, e.Reason.String())
	}
	if e.Err != nil {
		b = b.Err(e.Err)
	}
	b.Log(e.Kind.String())
}
