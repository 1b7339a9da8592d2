package vectorindex

// scoredID is one scan candidate paired with its similarity score.
type scoredID struct {
	id    string
	score float64
}

// scoreHeap is a min-heap on score, letting Search keep only the top-fetch
// candidates while scanning a whole collection in one pass.
type scoreHeap []scoredID

func (h scoreHeap) Len() int            { return len(h) }
func (h scoreHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h scoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoreHeap) Push(x interface{}) { *h = append(*h, x.(scoredID)) }
func (h *scoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
