package taskloop

import "fmt"

// AwaitAll suspends the task until every dependency in deps has finished,
// then resumes next with their values in deps order. The wait fails fast:
// the first dependency (in deps order) that finished Failed or Canceled
// aborts the remaining awaits and delivers its cause as err, with a nil
// values slice. Dependencies that are already terminal are consumed
// without suspending, so awaiting finished tasks costs no extra loop
// iterations.
//
// A nil next completes the task with the collected values, or fails it
// with the first cause.
func (t *Task) AwaitAll(deps []*Task, next func(t *Task, values []any, err error) Op) Op {
	if next == nil {
		next = func(t *Task, values []any, err error) Op {
			if err != nil {
				return t.Fail(err)
			}
			return t.Complete(values)
		}
	}
	if len(deps) == 0 {
		return next(t, []any{}, nil)
	}

	values := make([]any, 0, len(deps))
	i := 0
	var step Frame
	step = func(t *Task, w Wake) Op {
		if w.Reason == WakeCancel {
			return t.Yield(nil)
		}
		if w.Err != nil {
			return next(t, nil, w.Err)
		}
		v, _ := w.Dep.Result()
		values = append(values, v)
		i++
		if i == len(deps) {
			return next(t, values, nil)
		}
		return t.AwaitTask(deps[i], step)
	}
	return t.AwaitTask(deps[0], step)
}

// AwaitAny suspends the task until the first dependency in deps reaches
// any terminal state, then resumes next with the winner. The winner may
// have failed or been cancelled; inspect winner.Result. The losing
// dependencies keep running and are not cancelled.
//
// Each dependency is observed by a lightweight watcher task; the watchers
// race to settle a shared latch and the leftovers are cancelled once a
// winner is in. With an empty deps the wait fails immediately, since no
// winner could ever arrive.
func (t *Task) AwaitAny(deps []*Task, next func(t *Task, winner *Task, err error) Op) Op {
	if next == nil {
		next = func(t *Task, winner *Task, err error) Op {
			if err != nil {
				return t.Fail(err)
			}
			return t.Complete(winner)
		}
	}
	if len(deps) == 0 {
		return next(t, nil, fmt.Errorf("taskloop: await-any with no tasks"))
	}

	l := t.loop
	latch := l.newLatch("await-any")
	watchers := make([]*Task, len(deps))
	for i, dep := range deps {
		watchers[i] = l.Submit("await-any-watch", func(wt *Task, _ Wake) Op {
			return wt.AwaitTask(dep, func(wt *Task, w Wake) Op {
				if w.Reason == WakeCancel {
					return wt.Yield(nil)
				}
				if !latch.State().Terminal() {
					l.finalize(latch, StateDone, dep, nil)
				}
				return wt.Complete(nil)
			})
		})
	}
	return t.AwaitTask(latch, func(t *Task, w Wake) Op {
		if w.Reason == WakeCancel {
			return t.Yield(nil)
		}
		for _, wt := range watchers {
			l.Cancel(wt)
		}
		if w.Err != nil {
			return next(t, nil, w.Err)
		}
		winner, _ := w.Dep.Result()
		return next(t, winner.(*Task), nil)
	})
}
