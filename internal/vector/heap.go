package vector

import (
	"container/heap"
	"sort"
)

// worse reports whether a ranks after b.
func worse(a, b Hit) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.Position > b.Position
}

// maxHeap keeps the worst retained hit on top so it can be evicted in O(log k).
type maxHeap []Hit

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(Hit)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topK collects the k best hits.
type topK struct {
	k int
	h maxHeap
}

func newTopK(k int) *topK {
	return &topK{k: k, h: make(maxHeap, 0, k)}
}

func (t *topK) offer(hit Hit) {
	if len(t.h) < t.k {
		heap.Push(&t.h, hit)
		return
	}
	if worse(t.h[0], hit) {
		t.h[0] = hit
		heap.Fix(&t.h, 0)
	}
}

// sorted returns the retained hits best first.
func (t *topK) sorted() []Hit {
	out := make([]Hit, len(t.h))
	copy(out, t.h)
	sort.Slice(out, func(i, j int) bool { return worse(out[j], out[i]) })
	return out
}
