package taskloop

import (
	"context"
)

// Go runs fn on its own goroutine and returns a task carrying its outcome,
// bridging blocking or CPU-bound work into the loop. Steps await the
// returned task like any dependency; the loop keeps running while fn does.
//
// It ensures the task always settles:
//   - a value return resolves it, an error return rejects it,
//   - a panic rejects it with PanicError,
//   - runtime.Goexit rejects it with ErrGoexit,
//   - a ctx already cancelled on entry rejects it with ctx.Err() without
//     calling fn.
//
// ctx is otherwise only passed through; fn is responsible for honoring it.
// Cancelling the returned task does not interrupt fn, it only discards the
// outcome.
func (l *Loop) Go(ctx context.Context, label string, fn func(ctx context.Context) (any, error)) *Task {
	p := l.NewPromise(label)

	go func() {
		select {
		case <-ctx.Done():
			p.Reject(ctx.Err())
			return
		default:
		}

		var (
			value     any
			err       error
			completed bool
		)
		defer func() {
			if r := recover(); r != nil {
				p.Reject(PanicError{Value: r})
				return
			}
			if !completed {
				// Ended without a normal return: runtime.Goexit.
				p.Reject(ErrGoexit)
				return
			}
			if err != nil {
				p.Reject(err)
			} else {
				p.Resolve(value)
			}
		}()

		value, err = fn(ctx)
		completed = true
	}()

	return p.task
}
