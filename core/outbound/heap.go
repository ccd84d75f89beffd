package outbound

import "time"

// deadline is a scheduled retry check for one pending message. Entries are
// lazily invalidated: if the record is gone from the store when the deadline
// pops, the entry is discarded.
type deadline struct {
	msgID string
	at    time.Time
}

// retryHeap is a min-heap of deadlines ordered by due time.
type retryHeap []deadline

func (h retryHeap) Len() int           { return len(h) }
func (h retryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h retryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *retryHeap) Push(x any)        { *h = append(*h, x.(deadline)) }

func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	*h = old[:n-1]
	return d
}
