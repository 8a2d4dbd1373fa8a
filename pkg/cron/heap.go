package cron

import (
	"container/heap"
	"time"
)

// entryState is the scheduler's runtime view of one CronEntry: its next
// fire time and whether a previous invocation is still in flight.
type entryState struct {
	cronID    string
	nextRun   time.Time
	firing    bool
	heapIndex int
}

// entryHeap is a min-heap of *entryState ordered by nextRun, giving the
// scheduler O(log n) access to the next entry due to fire.
type entryHeap []*entryState

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool { return h[i].nextRun.Before(h[j].nextRun) }

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entryState)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}

var _ heap.Interface = (*entryHeap)(nil)
