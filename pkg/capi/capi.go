package capi

import (
	"context"
	"fmt"

	"github.com/navigable/smallworld/pkg/core"
)

// Init configures the engine behind h from a JSON config file.
func Init(h Handle, configPath string) Result {
	return guard("init", func() error {
		eng, err := lookup(h)
		if err != nil {
			return err
		}
		return eng.Init(configPath)
	})
}

// SetData copies n rows of dim float32 values into the engine,
// replacing any previous data and graph.
func SetData(h Handle, data []float32, n, dim int) Result {
	return guard("set_data", func() error {
		eng, err := lookup(h)
		if err != nil {
			return err
		}
		return eng.SetData(data, n, dim)
	})
}

// SetRandomLevels injects an explicit per-point level assignment for
// the next build.
func SetRandomLevels(h Handle, levels []int32) Result {
	return guard("set_random_levels", func() error {
		eng, err := lookup(h)
		if err != nil {
			return err
		}
		return eng.SetRandomLevels(levels)
	})
}

// BuildGraph constructs the search graph over the loaded data. The call
// blocks until the build completes.
func BuildGraph(h Handle) Result {
	return guard("build_graph", func() error {
		eng, err := lookup(h)
		if err != nil {
			return err
		}
		_, err = eng.BuildGraph(context.Background())
		return err
	})
}

// SaveIndex writes the built index to path atomically.
func SaveIndex(h Handle, path string) Result {
	return guard("save_index", func() error {
		eng, err := lookup(h)
		if err != nil {
			return err
		}
		return eng.SaveIndex(path)
	})
}

// LoadIndex replaces the engine's contents with a snapshot file.
func LoadIndex(h Handle, path string) Result {
	return guard("load_index", func() error {
		eng, err := lookup(h)
		if err != nil {
			return err
		}
		return eng.LoadIndex(path)
	})
}

// SearchGraph answers nq queries flattened row-major into queries and
// writes the answers into the caller's buffers. ids and distances need
// nq*topk slots, found needs nq; a nil buffer skips that output, an
// undersized one fails before any search work. Slots past the found
// count of a query hold id -1.
func SearchGraph(h Handle, queries []float32, nq, topk, efSearch int, ids []int32, distances []float32, found []int32) Result {
	return guard("search_graph", func() error {
		eng, err := lookup(h)
		if err != nil {
			return err
		}
		if nq < 0 || topk <= 0 {
			return fmt.Errorf("%w: nq %d, topk %d", core.ErrInvalidArgument, nq, topk)
		}
		if ids != nil && len(ids) < nq*topk {
			return fmt.Errorf("%w: ids buffer holds %d slots, need %d", core.ErrInvalidArgument, len(ids), nq*topk)
		}
		if distances != nil && len(distances) < nq*topk {
			return fmt.Errorf("%w: distances buffer holds %d slots, need %d", core.ErrInvalidArgument, len(distances), nq*topk)
		}
		if found != nil && len(found) < nq {
			return fmt.Errorf("%w: found buffer holds %d slots, need %d", core.ErrInvalidArgument, len(found), nq)
		}

		res, err := eng.SearchGraph(context.Background(), queries, nq, topk, efSearch)
		if err != nil {
			return err
		}
		if ids != nil {
			copy(ids, res.IDs)
		}
		if distances != nil {
			copy(distances, res.Distances)
		}
		if found != nil {
			copy(found, res.Found)
		}
		return nil
	})
}
