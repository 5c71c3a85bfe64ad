package taskloop

import (
	"cmp"
	"slices"
)

// arena owns the live tasks of a loop, keyed by ID. Only the loop
// goroutine mutates it. Handles returned to callers remain valid after
// removal because terminal state is published on the Task itself.
type arena struct {
	tasks map[TaskID]*Task
}

func newArena() *arena {
	return &arena{tasks: make(map[TaskID]*Task, 64)}
}

// insert registers a task under its ID.
func (a *arena) insert(t *Task) {
	a.tasks[t.id] = t
}

// lookup returns the live task with the given ID, or nil once removed.
func (a *arena) lookup(id TaskID) *Task {
	return a.tasks[id]
}

// remove drops a task at finalization.
func (a *arena) remove(id TaskID) {
	delete(a.tasks, id)
}

// drain removes and returns every live task in ID order, for shutdown.
func (a *arena) drain() []*Task {
	out := make([]*Task, 0, len(a.tasks))
	for _, t := range a.tasks {
		out = append(out, t)
	}
	a.tasks = make(map[TaskID]*Task)
	slices.SortFunc(out, func(x, y *Task) int { return cmp.Compare(x.id, y.id) })
	return out
}
