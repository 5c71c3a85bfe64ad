package taskloop

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"
)

func TestGoDeliversResult(t *testing.T) {
	l := newTestLoop(t)

	bridged := l.Go(context.Background(), "worker", func(ctx context.Context) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return "computed", nil
	})
	target := l.Submit("waits", func(tk *Task, _ Wake) Op {
		return tk.AwaitTask(bridged, func(tk *Task, w Wake) Op {
			if w.Err != nil {
				return tk.Fail(w.Err)
			}
			v, _ := w.Dep.Result()
			return tk.Complete(v)
		})
	})

	v, err := l.Run(context.Background(), target)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if v != "computed" {
		t.Errorf("value = %v, want computed", v)
	}
}

func TestGoDeliversError(t *testing.T) {
	l := newTestLoop(t)
	boom := errors.New("boom")

	bridged := l.Go(context.Background(), "worker", func(ctx context.Context) (any, error) {
		return nil, boom
	})
	target := l.Submit("waits", func(tk *Task, _ Wake) Op {
		return tk.AwaitTask(bridged, nil)
	})

	if _, err := l.Run(context.Background(), target); !errors.Is(err, boom) {
		t.Errorf("Run error = %v, want %v", err, boom)
	}
}

func TestGoPanicBecomesPanicError(t *testing.T) {
	l := newTestLoop(t)

	bridged := l.Go(context.Background(), "panics", func(ctx context.Context) (any, error) {
		panic("bridge kaboom")
	})
	target := l.Submit("waits", func(tk *Task, _ Wake) Op {
		return tk.AwaitTask(bridged, nil)
	})

	_, err := l.Run(context.Background(), target)
	var pe PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Run error = %v, want PanicError", err)
	}
	if pe.Value != "bridge kaboom" {
		t.Errorf("panic value = %v, want bridge kaboom", pe.Value)
	}
}

func TestGoGoexitBecomesErrGoexit(t *testing.T) {
	l := newTestLoop(t)

	bridged := l.Go(context.Background(), "exits", func(ctx context.Context) (any, error) {
		runtime.Goexit()
		return "unreachable", nil
	})
	target := l.Submit("waits", func(tk *Task, _ Wake) Op {
		return tk.AwaitTask(bridged, nil)
	})

	if _, err := l.Run(context.Background(), target); !errors.Is(err, ErrGoexit) {
		t.Errorf("Run error = %v, want ErrGoexit", err)
	}
}

func TestGoPreCancelledContextSkipsFn(t *testing.T) {
	l := newTestLoop(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := make(chan struct{})
	bridged := l.Go(ctx, "skipped", func(ctx context.Context) (any, error) {
		close(ran)
		return nil, nil
	})
	target := l.Submit("waits", func(tk *Task, _ Wake) Op {
		return tk.AwaitTask(bridged, nil)
	})

	if _, err := l.Run(context.Background(), target); !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
	select {
	case <-ran:
		t.Error("fn ran despite a context cancelled before start")
	case <-time.After(50 * time.Millisecond):
	}
}

// Cancelling the context after fn has started does not interrupt it; a
// function that ignores its context still settles normally.
func TestGoLateCancelDoesNotInterrupt(t *testing.T) {
	l := newTestLoop(t)

	ctx, cancel := context.WithCancel(context.Background())
	bridged := l.Go(ctx, "stubborn", func(ctx context.Context) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return "finished anyway", nil
	})
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	target := l.Submit("waits", func(tk *Task, _ Wake) Op {
		return tk.AwaitTask(bridged, func(tk *Task, w Wake) Op {
			if w.Err != nil {
				return tk.Fail(w.Err)
			}
			v, _ := w.Dep.Result()
			return tk.Complete(v)
		})
	})

	v, err := l.Run(context.Background(), target)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if v != "finished anyway" {
		t.Errorf("value = %v, want finished anyway", v)
	}
}
