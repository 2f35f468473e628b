package scheduler

import (
	"cmp"
	"slices"
)

type readyItem struct {
	task Task
	seq  uint64 // order in which the task became ready
}

func compareReady(a, b readyItem) int {
	if c := cmp.Compare(a.task.Priority, b.task.Priority); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

// readyQueue holds ready tasks ordered by priority, then by readiness.
type readyQueue struct {
	items []readyItem
	next  uint64
}

func (q *readyQueue) Len() int {
	return len(q.items)
}

// Push adds a task behind every ready task of the same priority.
func (q *readyQueue) Push(task Task) {
	item := readyItem{task: task, seq: q.next}
	q.next++
	i, _ := slices.BinarySearchFunc(q.items, item, compareReady)
	q.items = slices.Insert(q.items, i, item)
}

// Take walks the queue in order and removes every task accept returns true
// for. Tasks that are not accepted keep their position.
func (q *readyQueue) Take(accept func(Task) bool) []Task {
	var taken []Task
	kept := q.items[:0]
	for _, item := range q.items {
		if accept(item.task) {
			taken = append(taken, item.task)
			continue
		}
		kept = append(kept, item)
	}
	clear(q.items[len(kept):])
	q.items = kept
	return taken
}

// IDs returns the queued task IDs in launch order.
func (q *readyQueue) IDs() []string {
	ids := make([]string, len(q.items))
	for i, item := range q.items {
		ids[i] = item.task.ID
	}
	return ids
}
