package taskloop

import (
	"sync/atomic"
)

// LoopState represents the current run-state of the scheduler.
//
// State machine:
//
//	LoopIdle (0) → LoopRunning (1)      [Run]
//	LoopRunning (1) → LoopPolling (2)   [blocking wait via CAS]
//	LoopPolling (2) → LoopRunning (1)   [wait returned via CAS]
//	LoopRunning (1) → LoopIdle (0)      [Run returned]
//	LoopIdle (0) → LoopClosed (3)       [Close]
//
// Every transition goes through TryTransition (CAS); Closed is entered
// only from Idle, which is what makes Close fail while a Run is in flight.
//
// The Polling state is what external effect producers observe to decide
// whether a wake-pipe write is required: effects staged while the loop is
// Running are seen at the next iteration without a wakeup.
type LoopState uint64

const (
	// LoopIdle indicates no Run call is in progress.
	LoopIdle LoopState = 0
	// LoopRunning indicates the loop is actively dispatching tasks.
	LoopRunning LoopState = 1
	// LoopPolling indicates the loop is blocked in the multiplexer.
	LoopPolling LoopState = 2
	// LoopClosed indicates the loop has been closed and released its descriptors.
	LoopClosed LoopState = 3
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case LoopIdle:
		return "Idle"
	case LoopRunning:
		return "Running"
	case LoopPolling:
		return "Polling"
	case LoopClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// loopState is a lock-free state cell with cache-line padding, shared between
// the loop goroutine and external effect producers.
type loopState struct { // betteralign:ignore
	_ [sizeOfCacheLine]byte // padding before value //nolint:unused
	v atomic.Uint64
	_ [sizeOfCacheLine - sizeOfAtomicUint64]byte // pad to complete the cache line //nolint:unused
}

// Load returns the current state atomically.
func (s *loopState) Load() LoopState {
	return LoopState(s.v.Load())
}

// TryTransition attempts to atomically transition from one state to another.
// Returns true if the transition was applied.
func (s *loopState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}
