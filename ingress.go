package taskloop

import (
	"sync"
)

// chunkSize is the number of effects per node in the ingress linked list.
// 128 effects * 8 bytes/effect + overhead = ~1KB per chunk.
const chunkSize = 128

// effectQueue is the staged-effect ingress: a chunked linked-list FIFO of
// deferred scheduler mutations. Every Submit, Cancel, promise settlement, and
// internally staged wake lands here, and the dispatch loop applies the whole
// backlog at the top of each iteration, never mid-drain, which is what keeps
// re-entrant mutation out of a drain in progress.
//
// Thread safety: NOT thread-safe by itself. External producers hold the
// loop's ingress mutex; the dispatch code holds it only long enough to detach
// the backlog.
type effectQueue struct {
	head   *chunk
	tail   *chunk
	length int
}

// chunkPool prevents GC thrashing under high submission load.
var chunkPool = sync.Pool{
	New: func() any {
		return &chunk{}
	},
}

// chunk is a fixed-size node in the chunked linked-list. It uses
// readPos/pos cursors for O(1) push/pop without shifting.
type chunk struct {
	effects [chunkSize]func()
	next    *chunk
	readPos int // first unread slot
	pos     int // first unused slot
}

// newChunk returns a reset chunk from the pool.
func newChunk() *chunk {
	c := chunkPool.Get().(*chunk)
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

// returnChunk clears an exhausted chunk and returns it to the pool. Slots
// are nilled so retained closures do not leak through the pool.
func returnChunk(c *chunk) {
	for i := 0; i < c.pos; i++ {
		c.effects[i] = nil
	}
	c.pos = 0
	c.readPos = 0
	c.next = nil
	chunkPool.Put(c)
}

// Push appends an effect.
//
// Caller must hold the ingress mutex.
func (q *effectQueue) Push(fn func()) {
	if q.tail == nil {
		q.tail = newChunk()
		q.head = q.tail
	}

	if q.tail.pos == len(q.tail.effects) {
		newTail := newChunk()
		q.tail.next = newTail
		q.tail = newTail
	}

	q.tail.effects[q.tail.pos] = fn
	q.tail.pos++
	q.length++
}

// Pop removes and returns the oldest effect. Returns false when empty.
//
// Caller must hold the ingress mutex.
func (q *effectQueue) Pop() (func(), bool) {
	if q.head == nil {
		return nil, false
	}

	if q.head.readPos >= q.head.pos {
		if q.head == q.tail {
			q.head.pos = 0
			q.head.readPos = 0
			return nil, false
		}
		oldHead := q.head
		q.head = q.head.next
		returnChunk(oldHead)
	}

	if q.head.readPos >= q.head.pos {
		return nil, false
	}

	fn := q.head.effects[q.head.readPos]
	q.head.effects[q.head.readPos] = nil
	q.head.readPos++
	q.length--

	if q.head.readPos >= q.head.pos {
		if q.head == q.tail {
			q.head.pos = 0
			q.head.readPos = 0
			return fn, true
		}
		oldHead := q.head
		q.head = q.head.next
		returnChunk(oldHead)
	}

	return fn, true
}

// Length returns the number of staged effects.
//
// Caller must hold the ingress mutex.
func (q *effectQueue) Length() int {
	return q.length
}
