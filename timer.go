package taskloop

import (
	"container/heap"
	"time"
)

// timerID is the cancellation token of a scheduled timer. Zero means none.
// IDs double as insertion sequence numbers, so they also break deadline ties.
type timerID uint64

// timerEntry is one pending deadline. The owning task is referenced by ID
// only; entries whose owner has moved on are dropped when popped.
type timerEntry struct {
	when  time.Time
	id    timerID
	owner TaskID
}

// timerHeap is a binary min-heap ordered by deadline, ties broken by
// insertion order.
type timerHeap []timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].id < h[j].id
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(timerEntry))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// scheduleTimer inserts a deadline owned by the given task and returns its
// cancellation token.
func (l *Loop) scheduleTimer(when time.Time, owner TaskID) timerID {
	l.timerSeq++
	id := timerID(l.timerSeq)
	heap.Push(&l.timers, timerEntry{when: when, id: id, owner: owner})
	l.stats.TimersScheduled.Add(1)
	return id
}

// cancelTimer marks a pending timer dead. Deletion is lazy: the entry stays
// in heap storage and is dropped when it reaches the top, keeping
// cancellation O(1) with no heap restructuring.
func (l *Loop) cancelTimer(id timerID) {
	if id == 0 {
		return
	}
	l.deadTimers[id] = struct{}{}
}

// collectTimers pops every entry due by now, in deadline order with ties by
// insertion order, waking live owners. Dead and stale entries are dropped.
func (l *Loop) collectTimers(now time.Time) {
	for len(l.timers) > 0 {
		e := l.timers[0]
		if e.when.After(now) {
			break
		}
		heap.Pop(&l.timers)
		if _, dead := l.deadTimers[e.id]; dead {
			delete(l.deadTimers, e.id)
			continue
		}
		l.fireTimer(e)
	}
}

// liveTimers reports whether any non-dead timer remains pending.
func (l *Loop) liveTimers() bool {
	return len(l.timers) > len(l.deadTimers)
}

// nextDeadline returns the earliest pending deadline. The second return is
// false when the heap holds no live entries.
//
// Dead entries at the top are dropped here rather than waiting for
// collectTimers, so a cancelled front timer cannot shorten the poll.
func (l *Loop) nextDeadline() (time.Time, bool) {
	for len(l.timers) > 0 {
		e := l.timers[0]
		if _, dead := l.deadTimers[e.id]; !dead {
			return e.when, true
		}
		heap.Pop(&l.timers)
		delete(l.deadTimers, e.id)
	}
	return time.Time{}, false
}
