package taskqueue

import "container/heap"

// readyHeap orders Ready tasks by ascending EffectivePriority, breaking
// ties by submission order (FIFO), so dispatch is deterministic.
type readyHeap []*Task

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	pi, pj := h[i].EffectivePriority(), h[j].EffectivePriority()
	if pi != pj {
		return pi < pj
	}
	return h[i].SubmittedAt.Before(h[j].SubmittedAt)
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*readyHeap)(nil)
