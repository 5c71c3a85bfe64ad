//go:build linux || darwin

package taskloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newTestPoller(t *testing.T) *poller {
	t.Helper()
	p := &poller{}
	if err := p.Init(); err != nil {
		t.Fatalf("poller Init failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func newTestPipe(t *testing.T) (r, w int) {
	t.Helper()
	p := make([]int, 2)
	if err := unix.Pipe(p); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		_ = closeFD(p[0])
		_ = closeFD(p[1])
	})
	return p[0], p[1]
}

func TestPollerPipeReadiness(t *testing.T) {
	p := newTestPoller(t)
	r, w := newTestPipe(t)

	var got IOEvents
	if err := p.RegisterFD(r, EventRead, func(ev IOEvents) { got |= ev }); err != nil {
		t.Fatalf("RegisterFD failed: %v", err)
	}

	if n, err := p.PollIO(0); err != nil || n != 0 {
		t.Fatalf("idle PollIO = (%d, %v), want (0, nil)", n, err)
	}

	if _, err := writeFD(w, []byte{'x'}); err != nil {
		t.Fatalf("write: %v", err)
	}
	n, err := p.PollIO(1000)
	if err != nil {
		t.Fatalf("PollIO failed: %v", err)
	}
	if n != 1 {
		t.Errorf("PollIO dispatched %d events, want 1", n)
	}
	if got&EventRead == 0 {
		t.Errorf("callback events = %v, want EventRead set", got)
	}
}

func TestPollerWritableImmediately(t *testing.T) {
	p := newTestPoller(t)
	_, w := newTestPipe(t)

	var got IOEvents
	if err := p.RegisterFD(w, EventWrite, func(ev IOEvents) { got |= ev }); err != nil {
		t.Fatalf("RegisterFD failed: %v", err)
	}

	n, err := p.PollIO(1000)
	if err != nil {
		t.Fatalf("PollIO failed: %v", err)
	}
	if n == 0 || got&EventWrite == 0 {
		t.Errorf("empty pipe not writable: n=%d events=%v", n, got)
	}
}

func TestPollerDuplicateRegistration(t *testing.T) {
	p := newTestPoller(t)
	r, _ := newTestPipe(t)

	if err := p.RegisterFD(r, EventRead, func(IOEvents) {}); err != nil {
		t.Fatalf("RegisterFD failed: %v", err)
	}
	if err := p.RegisterFD(r, EventWrite, func(IOEvents) {}); !errors.Is(err, ErrFDAlreadyRegistered) {
		t.Errorf("second RegisterFD = %v, want ErrFDAlreadyRegistered", err)
	}
}

func TestPollerUnregister(t *testing.T) {
	p := newTestPoller(t)
	r, w := newTestPipe(t)

	fired := false
	if err := p.RegisterFD(r, EventRead, func(IOEvents) { fired = true }); err != nil {
		t.Fatalf("RegisterFD failed: %v", err)
	}
	if !p.Registered(r) {
		t.Error("Registered = false after RegisterFD")
	}

	if err := p.UnregisterFD(r); err != nil {
		t.Fatalf("UnregisterFD failed: %v", err)
	}
	if p.Registered(r) {
		t.Error("Registered = true after UnregisterFD")
	}
	if err := p.UnregisterFD(r); !errors.Is(err, ErrFDNotRegistered) {
		t.Errorf("second UnregisterFD = %v, want ErrFDNotRegistered", err)
	}
	if err := p.ModifyFD(r, EventRead); !errors.Is(err, ErrFDNotRegistered) {
		t.Errorf("ModifyFD after unregister = %v, want ErrFDNotRegistered", err)
	}

	if _, err := writeFD(w, []byte{'x'}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if n, err := p.PollIO(0); err != nil || n != 0 {
		t.Errorf("PollIO after unregister = (%d, %v), want (0, nil)", n, err)
	}
	if fired {
		t.Error("callback fired after unregister")
	}
}

func TestPollerRejectsBadDescriptors(t *testing.T) {
	p := newTestPoller(t)

	if err := p.RegisterFD(-1, EventRead, func(IOEvents) {}); !errors.Is(err, ErrFDOutOfRange) {
		t.Errorf("RegisterFD(-1) = %v, want ErrFDOutOfRange", err)
	}
	if err := p.UnregisterFD(-1); !errors.Is(err, ErrFDOutOfRange) {
		t.Errorf("UnregisterFD(-1) = %v, want ErrFDOutOfRange", err)
	}

	// A closed descriptor is structurally valid but rejected by the kernel.
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	_ = closeFD(fds[0])
	_ = closeFD(fds[1])
	if err := p.RegisterFD(fds[0], EventRead, func(IOEvents) {}); !errors.Is(err, ErrFDInvalid) {
		t.Errorf("RegisterFD(closed) = %v, want ErrFDInvalid", err)
	}
}

func TestAwaitIOReadableDeliversData(t *testing.T) {
	l := newTestLoop(t)
	r, w := newTestPipe(t)

	target := l.Submit("reader", func(tk *Task, _ Wake) Op {
		return tk.AwaitIO(r, EventRead, func(tk *Task, wk Wake) Op {
			if wk.Err != nil {
				return tk.Fail(wk.Err)
			}
			if wk.Events&EventRead == 0 {
				return tk.Fail(errors.New("woke without readability"))
			}
			buf := make([]byte, 8)
			n, err := readFD(r, buf)
			if err != nil {
				return tk.Fail(err)
			}
			return tk.Complete(string(buf[:n]))
		})
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = writeFD(w, []byte("ping"))
	}()

	v, err := l.Run(context.Background(), target)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if v != "ping" {
		t.Errorf("value = %v, want ping", v)
	}
}

func TestAwaitIOWritableImmediately(t *testing.T) {
	l := newTestLoop(t)
	_, w := newTestPipe(t)

	var reason WakeReason
	target := l.Submit("writer", func(tk *Task, _ Wake) Op {
		return tk.AwaitIO(w, EventWrite, func(tk *Task, wk Wake) Op {
			reason = wk.Reason
			if wk.Err != nil {
				return tk.Fail(wk.Err)
			}
			return tk.Complete(wk.Events&EventWrite != 0)
		})
	})

	v, err := l.Run(context.Background(), target)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if v != true {
		t.Error("wake did not report writability")
	}
	if reason != WakeIO {
		t.Errorf("wake reason = %v, want WakeIO", reason)
	}
}

// Unsatisfiable registrations are not suspension-time errors: the task is
// woken through the queue with error readiness and the cause on the wake.
func TestAwaitIOInvalidFDDeliversErrorReadiness(t *testing.T) {
	l := newTestLoop(t)

	var wake Wake
	target := l.Submit("bad-fd", func(tk *Task, _ Wake) Op {
		return tk.AwaitIO(-1, EventRead, func(tk *Task, wk Wake) Op {
			wake = wk
			return tk.Complete(nil)
		})
	})

	if _, err := l.Run(context.Background(), target); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if wake.Reason != WakeIO {
		t.Errorf("wake reason = %v, want WakeIO", wake.Reason)
	}
	if wake.Events&EventError == 0 {
		t.Errorf("wake events = %v, want EventError set", wake.Events)
	}
	if !errors.Is(wake.Err, ErrFDInvalid) {
		t.Errorf("wake err = %v, want ErrFDInvalid", wake.Err)
	}
}

func TestAwaitIOConflictingClaim(t *testing.T) {
	l := newTestLoop(t)
	r, w := newTestPipe(t)

	first := l.Submit("holder", func(tk *Task, _ Wake) Op {
		return tk.AwaitIO(r, EventRead, func(tk *Task, wk Wake) Op {
			if wk.Err != nil {
				return tk.Fail(wk.Err)
			}
			buf := make([]byte, 1)
			if _, err := readFD(r, buf); err != nil {
				return tk.Fail(err)
			}
			return tk.Complete(buf[0])
		})
	})

	var conflictErr error
	target := l.Submit("driver", func(tk *Task, _ Wake) Op {
		return tk.Sleep(10*time.Millisecond, func(tk *Task, _ Wake) Op {
			second := l.Submit("intruder", func(tk *Task, _ Wake) Op {
				return tk.AwaitIO(r, EventRead, func(tk *Task, wk Wake) Op {
					conflictErr = wk.Err
					return tk.Complete(nil)
				})
			})
			return tk.AwaitTask(second, func(tk *Task, _ Wake) Op {
				return tk.AwaitTask(first, func(tk *Task, wk Wake) Op {
					if wk.Err != nil {
						return tk.Fail(wk.Err)
					}
					v, _ := wk.Dep.Result()
					return tk.Complete(v)
				})
			})
		})
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = writeFD(w, []byte{'y'})
	}()

	v, err := l.Run(context.Background(), target)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !errors.Is(conflictErr, ErrFDAlreadyRegistered) {
		t.Errorf("conflicting claim err = %v, want ErrFDAlreadyRegistered", conflictErr)
	}
	if v != byte('y') {
		t.Errorf("holder value = %v, want 'y'; the conflict must not disturb it", v)
	}
}

// Read and write interest on the same descriptor are separate claims and
// may be held by different tasks.
func TestAwaitIOSplitDirections(t *testing.T) {
	l := newTestLoop(t)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		_ = closeFD(fds[0])
		_ = closeFD(fds[1])
	})

	reader := l.Submit("reader", func(tk *Task, _ Wake) Op {
		return tk.AwaitIO(fds[0], EventRead, func(tk *Task, wk Wake) Op {
			if wk.Err != nil {
				return tk.Fail(wk.Err)
			}
			buf := make([]byte, 8)
			n, err := readFD(fds[0], buf)
			if err != nil {
				return tk.Fail(err)
			}
			return tk.Complete(string(buf[:n]))
		})
	})
	writer := l.Submit("writer", func(tk *Task, _ Wake) Op {
		return tk.AwaitIO(fds[0], EventWrite, func(tk *Task, wk Wake) Op {
			if wk.Err != nil {
				return tk.Fail(wk.Err)
			}
			return tk.Complete(nil)
		})
	})

	target := l.Submit("driver", func(tk *Task, _ Wake) Op {
		return tk.AwaitTask(writer, func(tk *Task, wk Wake) Op {
			if wk.Err != nil {
				return tk.Fail(wk.Err)
			}
			if _, err := writeFD(fds[1], []byte("peer")); err != nil {
				return tk.Fail(err)
			}
			return tk.AwaitTask(reader, func(tk *Task, wk Wake) Op {
				if wk.Err != nil {
					return tk.Fail(wk.Err)
				}
				v, _ := wk.Dep.Result()
				return tk.Complete(v)
			})
		})
	})

	v, err := l.Run(context.Background(), target)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if v != "peer" {
		t.Errorf("value = %v, want peer", v)
	}
}
