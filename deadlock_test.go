package taskloop

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMutualAwaitIsDeadlock(t *testing.T) {
	l := newTestLoop(t)

	var b *Task
	a := l.Submit("a", func(tk *Task, _ Wake) Op {
		return tk.AwaitTask(b, nil)
	})
	b = l.Submit("b", func(tk *Task, _ Wake) Op {
		return tk.AwaitTask(a, nil)
	})

	_, err := l.Run(context.Background(), a)
	if !errors.Is(err, ErrDeadlock) {
		t.Fatalf("Run error = %v, want ErrDeadlock", err)
	}
	// The deadlock is reported, not enforced: the tasks stay suspended.
	if st := a.State(); st != StateWaitTask {
		t.Errorf("a state = %v, want WaitTask", st)
	}
	if st := b.State(); st != StateWaitTask {
		t.Errorf("b state = %v, want WaitTask", st)
	}
}

func TestSelfAwaitIsDeadlock(t *testing.T) {
	l := newTestLoop(t)

	target := l.Submit("narcissist", func(tk *Task, _ Wake) Op {
		return tk.AwaitTask(tk, nil)
	})

	if _, err := l.Run(context.Background(), target); !errors.Is(err, ErrDeadlock) {
		t.Fatalf("Run error = %v, want ErrDeadlock", err)
	}
}

// An unsettled promise is outstanding external work: the loop must keep
// polling rather than report a deadlock, and complete once it settles.
func TestUnsettledPromiseDefersDeadlock(t *testing.T) {
	l := newTestLoop(t)

	p := l.NewPromise("external-work")
	target := l.Submit("waits", func(tk *Task, _ Wake) Op {
		return tk.AwaitTask(p.Task(), func(tk *Task, w Wake) Op {
			if w.Err != nil {
				return tk.Fail(w.Err)
			}
			v, _ := w.Dep.Result()
			return tk.Complete(v)
		})
	})

	go func() {
		time.Sleep(30 * time.Millisecond)
		p.Resolve("delivered")
	}()

	before := l.Stats()
	v, err := l.Run(context.Background(), target)
	after := l.Stats()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if v != "delivered" {
		t.Errorf("value = %v, want delivered", v)
	}
	if after.Polls == before.Polls {
		t.Error("loop never polled; it should have slept awaiting the settlement")
	}
}

// The exemption ends with the settlement: once no external work remains, a
// cycle of awaits is reported.
func TestDeadlockAfterExternalWorkSettles(t *testing.T) {
	l := newTestLoop(t)

	p := l.NewPromise("brief")
	p.Resolve(1)

	var d *Task
	c := l.Submit("c", func(tk *Task, _ Wake) Op {
		return tk.AwaitTask(d, nil)
	})
	d = l.Submit("d", func(tk *Task, _ Wake) Op {
		return tk.AwaitTask(c, nil)
	})

	if _, err := l.Run(context.Background(), c); !errors.Is(err, ErrDeadlock) {
		t.Fatalf("Run error = %v, want ErrDeadlock", err)
	}
}
