package vector

import "container/heap"

// candidate is one scored node during graph construction or search. Score is
// a similarity (higher is better) for both supported metrics.
type candidate struct {
	idx   int
	score float32
}

// maxCandidateHeap pops the highest-scoring candidate first; used as the
// exploration frontier during a graph search, matching the best-first order
// weaviate's hnsw search loop uses.
type maxCandidateHeap []candidate

func (h maxCandidateHeap) Len() int            { return len(h) }
func (h maxCandidateHeap) Less(i, j int) bool   { return h[i].score > h[j].score }
func (h maxCandidateHeap) Swap(i, j int)        { h[i], h[j] = h[j], h[i] }
func (h *maxCandidateHeap) Push(x interface{})  { *h = append(*h, x.(candidate)) }
func (h *maxCandidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// minCandidateHeap pops the lowest-scoring candidate first; used to hold the
// current best-ef results so the worst one can be evicted in O(log ef) when
// a better candidate is found.
type minCandidateHeap []candidate

func (h minCandidateHeap) Len() int            { return len(h) }
func (h minCandidateHeap) Less(i, j int) bool   { return h[i].score < h[j].score }
func (h minCandidateHeap) Swap(i, j int)        { h[i], h[j] = h[j], h[i] }
func (h *minCandidateHeap) Push(x interface{})  { *h = append(*h, x.(candidate)) }
func (h *minCandidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h minCandidateHeap) peekMin() candidate { return h[0] }

func heapPush(h heap.Interface, c candidate) { heap.Push(h, c) }

func heapPop(h heap.Interface) candidate { return heap.Pop(h).(candidate) }
