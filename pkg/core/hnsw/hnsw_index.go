// Package hnsw implements the Hierarchical Navigable Small World graph
// index: a layered proximity graph built once over an immutable vector
// store and searched with a best-first beam.
//
// The construction is the one described by Malkov & Yashunin, "Efficient
// and robust approximate nearest neighbor search using Hierarchical
// Navigable Small World graphs" (https://arxiv.org/abs/1603.09320):
// beam insertion with the Algorithm 4 diversity heuristic for neighbor
// selection, with keepPrunedConnections available as the save_remains
// option. Setting Heuristic off falls back to plain closest-first
// selection (Algorithm 3).
//
// The layout is array-backed rather than node-object-backed: point i in
// the store is vertex i in the graph, levels and adjacency live in flat
// slices indexed by point id. Builds insert points in ascending id order
// (optionally in planned waves that keep the same committed order), so a
// fixed seed reproduces the exact same graph.
package hnsw

import (
	"container/heap"
	"fmt"
	"math"
	"sync"

	"github.com/navigable/smallworld/pkg/core"
	"github.com/navigable/smallworld/pkg/core/distance"
	"github.com/navigable/smallworld/pkg/core/types"
	"github.com/navigable/smallworld/pkg/vectorstore"
)

// Params fixes the graph geometry and the kernels the index runs on.
type Params struct {
	// M bounds vertex degree on layers >= 1; M0 bounds layer 0 and
	// defaults to 2*M when zero.
	M  int
	M0 int

	// EfConstruction is the beam width used while inserting.
	EfConstruction int

	// MaxLevel caps point levels.
	MaxLevel int

	// Heuristic enables diversity-aware neighbor selection; off means
	// closest-first truncation. SaveRemains backfills pruned candidates
	// up to the degree bound.
	Heuristic   bool
	SaveRemains bool

	// VisitedSize is the initial capacity of pooled visited sets.
	VisitedSize int

	// Workers is the number of goroutines planning insertions; 0 or 1
	// builds sequentially. Batch is the wave size of the parallel
	// planner and defaults to 1024.
	Workers int
	Batch   int

	// NormalizeQuery makes Search normalize a copy of the query before
	// traversal; set for cosine, where stored rows are unit length.
	NormalizeQuery bool

	// DistF32 is the pairwise kernel. DistF16 replaces it when the
	// store holds half precision rows.
	DistF32 distance.Func
	DistF16 distance.FuncF16
}

func (p *Params) setDefaults() {
	if p.M0 == 0 {
		p.M0 = 2 * p.M
	}
	if p.VisitedSize == 0 {
		p.VisitedSize = 8192
	}
	if p.Batch <= 0 {
		p.Batch = 1024
	}
}

func (p *Params) validate(f16 bool) error {
	if p.M < 2 {
		return fmt.Errorf("%w: M must be >= 2, got %d", core.ErrInvalidArgument, p.M)
	}
	if p.M0 < p.M {
		return fmt.Errorf("%w: M0 (%d) must be >= M (%d)", core.ErrInvalidArgument, p.M0, p.M)
	}
	if p.EfConstruction < p.M {
		return fmt.Errorf("%w: EfConstruction (%d) must be >= M (%d)", core.ErrInvalidArgument, p.EfConstruction, p.M)
	}
	if p.MaxLevel < 0 {
		return fmt.Errorf("%w: MaxLevel must be >= 0, got %d", core.ErrInvalidArgument, p.MaxLevel)
	}
	if f16 {
		if p.DistF16 == nil {
			return fmt.Errorf("%w: float16 store without a float16 kernel", core.ErrInvalidArgument)
		}
	} else if p.DistF32 == nil {
		return fmt.Errorf("%w: missing distance kernel", core.ErrInvalidArgument)
	}
	return nil
}

// node is one vertex: its level and one adjacency list per layer 0..level.
type node struct {
	level int32
	conns [][]uint32
}

// Index is the HNSW graph over a vector store. It is single-writer: Build
// mutates, everything else reads. A built index is immutable, so any
// number of searches may run concurrently without locks; the engine keeps
// builds exclusive.
type Index struct {
	store  *vectorstore.Store
	params Params
	f16    bool

	nodes    []node
	entry    uint32
	maxLevel int // -1 while the graph is empty
	built    bool
	edges    int

	visitedPool sync.Pool
	minPool     sync.Pool
	maxPool     sync.Pool
}

var _ core.Index = (*Index)(nil)

// NewIndex creates an unbuilt index over a loaded store.
func NewIndex(store *vectorstore.Store, params Params) (*Index, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", core.ErrInvalidArgument)
	}
	params.setDefaults()
	f16 := store.Precision() == distance.Float16
	if err := params.validate(f16); err != nil {
		return nil, err
	}

	ix := &Index{
		store:    store,
		params:   params,
		f16:      f16,
		maxLevel: -1,
	}
	visited := params.VisitedSize
	ix.visitedPool = sync.Pool{New: func() any { return newVisitedSet(visited) }}
	ix.minPool = sync.Pool{New: func() any { return newMinHeap(params.EfConstruction + 1) }}
	ix.maxPool = sync.Pool{New: func() any { return newMaxHeap(params.EfConstruction + 1) }}
	return ix, nil
}

// Count returns the number of points the index covers.
func (ix *Index) Count() int { return ix.store.Count() }

// Built reports whether a build completed over the current store.
func (ix *Index) Built() bool { return ix.built }

// MaxLevel returns the highest occupied layer, -1 when empty.
func (ix *Index) MaxLevel() int { return ix.maxLevel }

// EntryPoint returns the id of the top-layer entry vertex.
func (ix *Index) EntryPoint() uint32 { return ix.entry }

// EdgeCount returns the number of directed edges in the built graph.
func (ix *Index) EdgeCount() int { return ix.edges }

// Level returns the assigned level of point id.
func (ix *Index) Level(id uint32) int32 { return ix.nodes[id].level }

// Neighbors returns the adjacency of id at layer, as a copy.
func (ix *Index) Neighbors(id uint32, layer int) []uint32 {
	n := &ix.nodes[id]
	if layer > int(n.level) {
		return nil
	}
	out := make([]uint32, len(n.conns[layer]))
	copy(out, n.conns[layer])
	return out
}

// queryVec carries a prepared query in whichever precision the store
// uses.
type queryVec struct {
	f32 []float32
	f16 []uint16
}

func (ix *Index) queryOf(id uint32) queryVec {
	if ix.f16 {
		return queryVec{f16: ix.store.VectorF16(int(id))}
	}
	return queryVec{f32: ix.store.Vector(int(id))}
}

func (ix *Index) distTo(q queryVec, id uint32) float32 {
	if ix.f16 {
		return ix.params.DistF16(q.f16, ix.store.VectorF16(int(id)))
	}
	return ix.params.DistF32(q.f32, ix.store.Vector(int(id)))
}

func (ix *Index) distBetween(a, b uint32) float32 {
	if ix.f16 {
		return ix.params.DistF16(ix.store.VectorF16(int(a)), ix.store.VectorF16(int(b)))
	}
	return ix.params.DistF32(ix.store.Vector(int(a)), ix.store.Vector(int(b)))
}

func (ix *Index) maxConns(layer int) int {
	if layer == 0 {
		return ix.params.M0
	}
	return ix.params.M
}

// searchLayer runs a bounded best-first beam over one layer, seeded at
// entry, and returns up to ef candidates in ascending (distance, id)
// order. The expansion stops once the nearest open candidate is farther
// than the worst kept result.
func (ix *Index) searchLayer(q queryVec, entry uint32, entryDist float32, ef, layer int) []types.Candidate {
	visited := ix.visitedPool.Get().(*visitedSet)
	visited.reset()
	candidates := ix.minPool.Get().(*minHeap)
	*candidates = (*candidates)[:0]
	results := ix.maxPool.Get().(*maxHeap)
	*results = (*results)[:0]

	visited.visit(entry)
	heap.Push(candidates, types.Candidate{ID: entry, Distance: entryDist})
	heap.Push(results, types.Candidate{ID: entry, Distance: entryDist})

	for candidates.Len() > 0 {
		curr := heap.Pop(candidates).(types.Candidate)
		if curr.Distance > (*results)[0].Distance {
			break
		}
		for _, nb := range ix.nodes[curr.ID].conns[layer] {
			if visited.seen(nb) {
				continue
			}
			visited.visit(nb)
			d := ix.distTo(q, nb)
			if results.Len() < ef || d < (*results)[0].Distance {
				heap.Push(candidates, types.Candidate{ID: nb, Distance: d})
				heap.Push(results, types.Candidate{ID: nb, Distance: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]types.Candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(types.Candidate)
	}

	ix.visitedPool.Put(visited)
	ix.minPool.Put(candidates)
	ix.maxPool.Put(results)
	return out
}

// greedyDescend walks one layer greedily, moving to any strictly closer
// neighbor until none remains. Equal distances prefer the smaller id so
// the walk is deterministic.
func (ix *Index) greedyDescend(q queryVec, curr uint32, currDist float32, layer int) (uint32, float32) {
	for {
		improved := false
		for _, nb := range ix.nodes[curr].conns[layer] {
			d := ix.distTo(q, nb)
			if d < currDist || (d == currDist && nb < curr) {
				curr, currDist = nb, d
				improved = true
			}
		}
		if !improved {
			return curr, currDist
		}
	}
}

// selectNeighbors picks at most m links from an ascending candidate list.
// With the heuristic on, a candidate is dropped when it sits closer to an
// already selected neighbor than to the inserted point, which spreads
// links across directions instead of clustering them. SaveRemains refills
// from the dropped candidates, nearest first.
func (ix *Index) selectNeighbors(cands []types.Candidate, m int) []types.Candidate {
	if len(cands) <= m {
		return cands
	}
	if !ix.params.Heuristic {
		return cands[:m]
	}

	selected := make([]types.Candidate, 0, m)
	var discarded []types.Candidate
	for _, c := range cands {
		if len(selected) >= m {
			break
		}
		keep := true
		for _, s := range selected {
			if ix.distBetween(c.ID, s.ID) < c.Distance {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		} else if ix.params.SaveRemains {
			discarded = append(discarded, c)
		}
	}
	if ix.params.SaveRemains {
		for _, c := range discarded {
			if len(selected) >= m {
				break
			}
			selected = append(selected, c)
		}
	}
	return selected
}

// addEdge links from -> to at layer. A full adjacency list is re-pruned
// with the selection heuristic over the old links plus the newcomer.
func (ix *Index) addEdge(from, to uint32, layer int) {
	conns := ix.nodes[from].conns[layer]
	bound := ix.maxConns(layer)
	if len(conns) < bound {
		ix.nodes[from].conns[layer] = append(conns, to)
		return
	}

	cands := make([]types.Candidate, 0, len(conns)+1)
	for _, nb := range conns {
		cands = append(cands, types.Candidate{ID: nb, Distance: ix.distBetween(from, nb)})
	}
	cands = append(cands, types.Candidate{ID: to, Distance: ix.distBetween(from, to)})
	sortCandidates(cands)

	sel := ix.selectNeighbors(cands, bound)
	pruned := make([]uint32, len(sel))
	for i, c := range sel {
		pruned[i] = c.ID
	}
	ix.nodes[from].conns[layer] = pruned
}

// insertPoint performs one sequential insertion: descend above the
// point's level with a greedy walk, then beam-search and link each layer
// from min(level, maxLevel) down to 0.
func (ix *Index) insertPoint(id uint32, level int32) {
	n := &ix.nodes[id]
	n.level = level
	n.conns = make([][]uint32, level+1)
	for l := range n.conns {
		n.conns[l] = make([]uint32, 0, ix.maxConns(l))
	}

	if ix.maxLevel < 0 {
		ix.entry = id
		ix.maxLevel = int(level)
		return
	}

	q := ix.queryOf(id)
	curr := ix.entry
	currDist := ix.distTo(q, curr)
	for l := ix.maxLevel; l > int(level); l-- {
		curr, currDist = ix.greedyDescend(q, curr, currDist, l)
	}

	top := int(level)
	if top > ix.maxLevel {
		top = ix.maxLevel
	}
	for l := top; l >= 0; l-- {
		cands := ix.searchLayer(q, curr, currDist, ix.params.EfConstruction, l)
		sel := ix.selectNeighbors(cands, ix.maxConns(l))
		for _, s := range sel {
			n.conns[l] = append(n.conns[l], s.ID)
			ix.addEdge(s.ID, id, l)
		}
		curr, currDist = cands[0].ID, cands[0].Distance
	}

	if int(level) > ix.maxLevel {
		ix.maxLevel = int(level)
		ix.entry = id
	}
}

// ReachableFromEntry counts the vertices a BFS from the entry point can
// reach over layer-0 adjacency. On a healthy build it equals Count.
func (ix *Index) ReachableFromEntry() int {
	if ix.maxLevel < 0 || ix.store.Count() == 0 {
		return 0
	}
	seen := newVisitedSet(ix.store.Count())
	queue := []uint32{ix.entry}
	seen.visit(ix.entry)
	reached := 0
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		reached++
		for _, nb := range ix.nodes[curr].conns[0] {
			if !seen.seen(nb) {
				seen.visit(nb)
				queue = append(queue, nb)
			}
		}
	}
	return reached
}

// countEdges tallies directed edges across all layers.
func (ix *Index) countEdges() int {
	total := 0
	for i := range ix.nodes {
		for _, conns := range ix.nodes[i].conns {
			total += len(conns)
		}
	}
	return total
}

// normalizeF32 scales a vector copy to unit length. Zero vectors come
// back unchanged.
func normalizeF32(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	var norm float64
	for _, x := range out {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range out {
		out[i] *= inv
	}
	return out
}
