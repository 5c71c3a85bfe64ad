package taskloop

import (
	"errors"
	"fmt"
)

var (
	// ErrCanceled is the stored cause of a task that ended in the Canceled
	// state. Run returns it when the target task was cancelled.
	ErrCanceled = errors.New("taskloop: task canceled")

	// ErrTaskFailed is the stored cause of a task that failed without a
	// more specific one, such as a Fail op constructed with a nil error.
	ErrTaskFailed = errors.New("taskloop: task failed")

	// ErrAwaitCanceled is delivered to a waiter whose dependency was
	// cancelled. It is distinct from ErrCanceled so that a parent can tell
	// its own cancellation apart from a dependency's.
	ErrAwaitCanceled = errors.New("taskloop: awaited task was canceled")

	// ErrDeadlock is returned by Run when the ready queue, timer heap,
	// multiplexer, and all external completion sources are simultaneously
	// empty while the target task is unfinished.
	ErrDeadlock = errors.New("taskloop: no runnable tasks, timers, or registrations; target cannot complete")

	// ErrLoopRunning is returned when Run is called while another Run is in
	// progress, including re-entrant calls from a task step.
	ErrLoopRunning = errors.New("taskloop: loop is already running")

	// ErrLoopClosed is returned when operations are attempted on a closed loop.
	ErrLoopClosed = errors.New("taskloop: loop has been closed")

	// ErrGoexit marks the promise of a bridged goroutine that exited via
	// runtime.Goexit instead of returning.
	ErrGoexit = errors.New("taskloop: bridged goroutine exited via runtime.Goexit")

	// ErrQueueClosed is delivered to queue waiters when the queue is closed,
	// and returned to steps that Get or Put on a closed queue.
	ErrQueueClosed = errors.New("taskloop: queue closed")
)

// Multiplexer errors. ErrFDAlreadyRegistered and ErrFDInvalid also surface to
// tasks through Wake.Err when a suspension on I/O cannot be satisfied.
var (
	// ErrFDOutOfRange is returned for descriptors outside the supported range.
	ErrFDOutOfRange = errors.New("taskloop: fd out of range")

	// ErrFDAlreadyRegistered is reported when a (descriptor, interest) pair
	// is registered while a prior registration is still pending.
	ErrFDAlreadyRegistered = errors.New("taskloop: fd interest already registered")

	// ErrFDNotRegistered is returned when unregistering a descriptor that has
	// no registration.
	ErrFDNotRegistered = errors.New("taskloop: fd not registered")

	// ErrFDInvalid is reported as error readiness when a registered
	// descriptor becomes invalid, and returned when registration of an
	// invalid descriptor is attempted.
	ErrFDInvalid = errors.New("taskloop: fd invalid")

	// ErrPollerClosed is returned when the multiplexer is used after Close.
	ErrPollerClosed = errors.New("taskloop: poller closed")
)

// PanicError is the stored failure cause of a task whose step panicked, and
// of a bridged goroutine (Go) that panicked.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("taskloop: task panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// This enables use with [errors.Is] and [errors.As] for matching through the
// cause chain. If the panic value is not an error, returns nil.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
