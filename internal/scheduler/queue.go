package scheduler

import "container/heap"

// Queue holds eligible tasks awaiting a free execution slot, ordered by
// (priority descending, submission sequence ascending). FIFO within a
// priority tier keeps dispatch deterministic and starvation-bounded.
type Queue struct {
	items taskHeap
	byID  map[string]*queueItem
}

// NewQueue creates an empty priority queue.
func NewQueue() *Queue {
	return &Queue{byID: make(map[string]*queueItem)}
}

// Push enqueues a task. Pushing an id that is already queued is a no-op.
func (q *Queue) Push(t *Task) {
	if _, queued := q.byID[t.ID]; queued {
		return
	}
	it := &queueItem{task: t}
	q.byID[t.ID] = it
	heap.Push(&q.items, it)
}

// Pop removes and returns the highest-priority task, or nil if empty.
func (q *Queue) Pop() *Task {
	if len(q.items) == 0 {
		return nil
	}
	it := heap.Pop(&q.items).(*queueItem)
	delete(q.byID, it.task.ID)
	return it.task
}

// PopMatching removes and returns the highest-priority task whose
// protocol matches the filter. An empty filter matches every protocol.
func (q *Queue) PopMatching(protocol string) *Task {
	if protocol == "" {
		return q.Pop()
	}
	for _, it := range q.items {
		if it.task.Protocol != protocol {
			continue
		}
		best := it
		for _, other := range q.items {
			if other.task.Protocol == protocol && lessTask(other.task, best.task) {
				best = other
			}
		}
		heap.Remove(&q.items, best.index)
		delete(q.byID, best.task.ID)
		return best.task
	}
	return nil
}

// Remove drops a task from the queue by id. Returns false if not queued.
func (q *Queue) Remove(id string) bool {
	it, queued := q.byID[id]
	if !queued {
		return false
	}
	heap.Remove(&q.items, it.index)
	delete(q.byID, id)
	return true
}

// Contains reports whether a task id is currently queued.
func (q *Queue) Contains(id string) bool {
	_, queued := q.byID[id]
	return queued
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	return len(q.items)
}

func lessTask(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Seq < b.Seq
}

type queueItem struct {
	task  *Task
	index int
}

type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool { return lessTask(h[i].task, h[j].task) }

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	it := x.(*queueItem)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
