package hnsw

// visitedSet tracks which points a traversal has touched. A flat bitmap
// beats a map for dense uint32 ids; instances are pooled and reset
// between searches.
type visitedSet struct {
	words []uint64
}

func newVisitedSet(capacity int) *visitedSet {
	return &visitedSet{words: make([]uint64, (capacity+63)>>6)}
}

func (v *visitedSet) grow(n uint32) {
	idx := int(n >> 6)
	if idx >= len(v.words) {
		words := make([]uint64, idx+1+len(v.words)/2)
		copy(words, v.words)
		v.words = words
	}
}

func (v *visitedSet) visit(n uint32) {
	v.grow(n)
	v.words[n>>6] |= 1 << (n & 63)
}

func (v *visitedSet) seen(n uint32) bool {
	idx := int(n >> 6)
	if idx >= len(v.words) {
		return false
	}
	return v.words[idx]&(1<<(n&63)) != 0
}

func (v *visitedSet) reset() {
	for i := range v.words {
		v.words[i] = 0
	}
}
