package taskloop

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of a loop's cumulative counters.
//
// Counters only ever increase. Use two snapshots to derive rates. All
// fields are totals since the loop was created, not since Run started.
//
// Example:
//
//	before := loop.Stats()
//	_, _ = loop.Run(ctx, task)
//	after := loop.Stats()
//	fmt.Printf("cycles: %d, polls: %d\n",
//		after.Iterations-before.Iterations, after.Polls-before.Polls)
type Stats struct {
	// Iterations counts completed dispatch cycles.
	Iterations uint64

	// Polls counts readiness waits issued to the multiplexer, including
	// zero-duration non-blocking polls.
	Polls uint64

	// Wakeups counts cross-goroutine wake-up signals observed on the
	// wake descriptor.
	Wakeups uint64

	// TasksSubmitted counts tasks accepted via Submit, NewPromise and Go.
	TasksSubmitted uint64

	// TasksCompleted counts tasks that reached Done.
	TasksCompleted uint64

	// TasksFailed counts tasks that reached Failed.
	TasksFailed uint64

	// TasksCanceled counts tasks that reached Canceled.
	TasksCanceled uint64

	// TimersScheduled counts deadlines pushed onto the timer heap.
	TimersScheduled uint64

	// TimersFired counts deadlines that expired and woke their owner.
	// Lazily deleted timers never fire and are not counted.
	TimersFired uint64
}

// loopStats is the loop's live counter set. The loop goroutine is the only
// writer for most counters; submission paths add from other goroutines, so
// every field is atomic and Stats() may be called concurrently with Run.
type loopStats struct {
	Iterations      atomic.Uint64
	Polls           atomic.Uint64
	Wakeups         atomic.Uint64
	TasksSubmitted  atomic.Uint64
	TasksCompleted  atomic.Uint64
	TasksFailed     atomic.Uint64
	TasksCanceled   atomic.Uint64
	TimersScheduled atomic.Uint64
	TimersFired     atomic.Uint64
}

// snapshot copies the live counters into a Stats value.
func (s *loopStats) snapshot() Stats {
	return Stats{
		Iterations:      s.Iterations.Load(),
		Polls:           s.Polls.Load(),
		Wakeups:         s.Wakeups.Load(),
		TasksSubmitted:  s.TasksSubmitted.Load(),
		TasksCompleted:  s.TasksCompleted.Load(),
		TasksFailed:     s.TasksFailed.Load(),
		TasksCanceled:   s.TasksCanceled.Load(),
		TimersScheduled: s.TimersScheduled.Load(),
		TimersFired:     s.TimersFired.Load(),
	}
}

// Latency is a point-in-time summary of frame execution times, measured
// around every frame invocation including panicking ones. The percentiles
// are streaming estimates, not exact order statistics.
type Latency struct {
	// Samples counts the frame invocations observed.
	Samples uint64

	// Mean is the arithmetic mean over all samples.
	Mean time.Duration

	// Max is the longest single frame observed.
	Max time.Duration

	P50 time.Duration
	P90 time.Duration
	P99 time.Duration
}

// latencyTracker aggregates frame execution times. The loop goroutine is
// the only writer; the mutex exists so snapshots taken from other
// goroutines see consistent marker state.
type latencyTracker struct {
	mu    sync.Mutex
	p50   *p2Estimator
	p90   *p2Estimator
	p99   *p2Estimator
	count uint64
	sum   time.Duration
	max   time.Duration
}

func newLatencyTracker() *latencyTracker {
	return &latencyTracker{
		p50: newP2Estimator(0.50),
		p90: newP2Estimator(0.90),
		p99: newP2Estimator(0.99),
	}
}

func (lt *latencyTracker) record(d time.Duration) {
	x := float64(d)
	lt.mu.Lock()
	lt.count++
	lt.sum += d
	if d > lt.max {
		lt.max = d
	}
	lt.p50.observe(x)
	lt.p90.observe(x)
	lt.p99.observe(x)
	lt.mu.Unlock()
}

func (lt *latencyTracker) snapshot() Latency {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	out := Latency{
		Samples: lt.count,
		Max:     lt.max,
		P50:     time.Duration(lt.p50.estimate()),
		P90:     time.Duration(lt.p90.estimate()),
		P99:     time.Duration(lt.p99.estimate()),
	}
	if lt.count > 0 {
		out.Mean = lt.sum / time.Duration(lt.count)
	}
	return out
}
