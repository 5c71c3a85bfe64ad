package taskloop

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPromiseResolveFromGoroutine(t *testing.T) {
	l := newTestLoop(t)

	p := l.NewPromise("external")
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
		p.Resolve("payload")
	}()

	start := time.Now()
	v, err := l.Run(context.Background(), target)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if v != "payload" {
		t.Errorf("value = %v, want payload", v)
	}
	if elapsed > 5*time.Second {
		t.Errorf("settlement took %v to observe; the wake pipe should interrupt the poll", elapsed)
	}
	if !p.Settled() {
		t.Error("Settled = false after Resolve")
	}
	if st := p.Task().State(); st != StateDone {
		t.Errorf("task state = %v, want Done", st)
	}
}

func TestPromiseRejectDeliversCause(t *testing.T) {
	l := newTestLoop(t)
	boom := errors.New("boom")

	p := l.NewPromise("failing")
	p.Reject(boom)

	target := l.Submit("waits", func(tk *Task, _ Wake) Op {
		return tk.AwaitTask(p.Task(), nil)
	})

	if _, err := l.Run(context.Background(), target); !errors.Is(err, boom) {
		t.Errorf("Run error = %v, want %v", err, boom)
	}
	if st := p.Task().State(); st != StateFailed {
		t.Errorf("task state = %v, want Failed", st)
	}
}

func TestPromiseRejectNilBecomesErrTaskFailed(t *testing.T) {
	l := newTestLoop(t)

	p := l.NewPromise("anon")
	p.Reject(nil)

	target := l.Submit("waits", func(tk *Task, _ Wake) Op {
		return tk.AwaitTask(p.Task(), nil)
	})

	if _, err := l.Run(context.Background(), target); !errors.Is(err, ErrTaskFailed) {
		t.Errorf("Run error = %v, want ErrTaskFailed", err)
	}
}

func TestPromiseFirstSettlementWins(t *testing.T) {
	l := newTestLoop(t)

	p := l.NewPromise("contested")
	if !p.Resolve("first") {
		t.Fatal("first Resolve did not win")
	}
	if p.Resolve("second") {
		t.Error("second Resolve claimed an already settled promise")
	}
	if p.Reject(errors.New("late")) {
		t.Error("Reject claimed an already settled promise")
	}

	target := l.Submit("waits", func(tk *Task, _ Wake) Op {
		return tk.AwaitTask(p.Task(), func(tk *Task, w Wake) Op {
			v, _ := w.Dep.Result()
			return tk.Complete(v)
		})
	})
	v, err := l.Run(context.Background(), target)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if v != "first" {
		t.Errorf("value = %v, want first", v)
	}
}

func TestPromiseSettledTracksClaim(t *testing.T) {
	l := newTestLoop(t)

	p := l.NewPromise("tracked")
	if p.Settled() {
		t.Error("Settled = true before any settlement")
	}
	p.Resolve(nil)
	if !p.Settled() {
		t.Error("Settled = false after Resolve")
	}
}

func TestPromiseOnClosedLoop(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	p := l.NewPromise("born-dead")
	if st := p.Task().State(); st != StateFailed {
		t.Errorf("task state = %v, want Failed", st)
	}
	if !errors.Is(p.Task().Err(), ErrLoopClosed) {
		t.Errorf("task err = %v, want ErrLoopClosed", p.Task().Err())
	}
	if !p.Settled() {
		t.Error("promise on a closed loop is not settled")
	}
	if p.Resolve("zombie") {
		t.Error("Resolve claimed a promise that was born settled")
	}
}
