package hnsw

import (
	"fmt"

	"github.com/navigable/smallworld/pkg/core"
	"github.com/navigable/smallworld/pkg/vectorstore"
)

// Graph is the serializable shape of a built index: per-point levels,
// per-point per-layer adjacency, and the entry vertex. The persistence
// layer encodes it; this package only vouches for its consistency.
type Graph struct {
	Levels   []int32
	Conns    [][][]uint32
	Entry    uint32
	MaxLevel int32
}

// Export returns the graph structure of a built index. The returned
// slices alias index memory and must be treated as read-only.
func (ix *Index) Export() (*Graph, error) {
	if !ix.built {
		return nil, fmt.Errorf("%w: graph not built", core.ErrInvalidState)
	}
	g := &Graph{
		Levels:   make([]int32, len(ix.nodes)),
		Conns:    make([][][]uint32, len(ix.nodes)),
		Entry:    ix.entry,
		MaxLevel: int32(ix.maxLevel),
	}
	for i := range ix.nodes {
		g.Levels[i] = ix.nodes[i].level
		g.Conns[i] = ix.nodes[i].conns
	}
	return g, nil
}

// NewFromGraph reassembles a built index from a decoded graph. The graph
// is validated against the store geometry and the degree bounds; any
// inconsistency means the snapshot does not describe this store and
// surfaces as corrupt data. The index takes ownership of the graph's
// slices.
func NewFromGraph(store *vectorstore.Store, params Params, g *Graph) (*Index, error) {
	ix, err := NewIndex(store, params)
	if err != nil {
		return nil, err
	}
	count := store.Count()
	if g == nil {
		return nil, fmt.Errorf("%w: nil graph", core.ErrCorruptData)
	}
	if len(g.Levels) != count || len(g.Conns) != count {
		return nil, fmt.Errorf("%w: graph covers %d points, store holds %d",
			core.ErrCorruptData, len(g.Levels), count)
	}

	if count == 0 {
		ix.built = true
		return ix, nil
	}

	maxSeen := int32(-1)
	for i := 0; i < count; i++ {
		level := g.Levels[i]
		if level < 0 || int(level) > ix.params.MaxLevel {
			return nil, fmt.Errorf("%w: point %d has level %d outside [0, %d]",
				core.ErrCorruptData, i, level, ix.params.MaxLevel)
		}
		if len(g.Conns[i]) != int(level)+1 {
			return nil, fmt.Errorf("%w: point %d at level %d has %d adjacency layers",
				core.ErrCorruptData, i, level, len(g.Conns[i]))
		}
		for l, conns := range g.Conns[i] {
			if len(conns) > ix.maxConns(l) {
				return nil, fmt.Errorf("%w: point %d layer %d has %d links, bound is %d",
					core.ErrCorruptData, i, l, len(conns), ix.maxConns(l))
			}
			for _, nb := range conns {
				if int(nb) >= count {
					return nil, fmt.Errorf("%w: point %d layer %d links to missing point %d",
						core.ErrCorruptData, i, l, nb)
				}
			}
		}
		if level > maxSeen {
			maxSeen = level
		}
	}
	if g.MaxLevel != maxSeen {
		return nil, fmt.Errorf("%w: recorded top layer %d, observed %d",
			core.ErrCorruptData, g.MaxLevel, maxSeen)
	}
	if int(g.Entry) >= count || g.Levels[g.Entry] != g.MaxLevel {
		return nil, fmt.Errorf("%w: entry point %d does not sit on the top layer",
			core.ErrCorruptData, g.Entry)
	}

	ix.nodes = make([]node, count)
	for i := 0; i < count; i++ {
		ix.nodes[i] = node{level: g.Levels[i], conns: g.Conns[i]}
	}
	ix.entry = g.Entry
	ix.maxLevel = int(g.MaxLevel)
	ix.edges = ix.countEdges()
	ix.built = true
	return ix, nil
}
