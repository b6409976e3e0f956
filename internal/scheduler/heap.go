package scheduler

import (
	"container/heap"

	"github.com/placeforge/ingest-cli/internal/model"
)

// jobHeap orders pending jobs by priority (higher first), breaking ties by
// creation time so equal-priority jobs dispatch FIFO.
type jobHeap struct {
	items []*model.Job
	index map[string]int
}

func newJobHeap() *jobHeap {
	return &jobHeap{index: make(map[string]int)}
}

func (h *jobHeap) Len() int { return len(h.items) }

func (h *jobHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (h *jobHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.index[h.items[i].ID] = i
	h.index[h.items[j].ID] = j
}

func (h *jobHeap) Push(x any) {
	job := x.(*model.Job)
	h.index[job.ID] = len(h.items)
	h.items = append(h.items, job)
}

func (h *jobHeap) Pop() any {
	n := len(h.items)
	job := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	delete(h.index, job.ID)
	return job
}

// push adds a job maintaining heap order.
func (h *jobHeap) push(job *model.Job) {
	heap.Push(h, job)
}

// pop removes and returns the highest-priority job, or nil when empty.
func (h *jobHeap) pop() *model.Job {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*model.Job)
}

// remove takes a job out of the heap by id. Returns the removed job or nil if
// the id is not queued.
func (h *jobHeap) remove(id string) *model.Job {
	i, ok := h.index[id]
	if !ok {
		return nil
	}
	return heap.Remove(h, i).(*model.Job)
}

// clear drops every queued job and returns how many were dropped.
func (h *jobHeap) clear() int {
	n := len(h.items)
	h.items = nil
	h.index = make(map[string]int)
	return n
}
