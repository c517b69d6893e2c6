package mcp

// --- Tool Arguments ---

type CreateIndexArgs struct {
	Name           string `json:"name" jsonschema:"Name of the index to create,required"`
	Metric         string `json:"metric,omitempty" jsonschema:"Distance metric: 'l2', 'dot' or 'cosine'. Defaults to the server's setting,enum=l2,enum=dot,enum=cosine"`
	Precision      string `json:"precision,omitempty" jsonschema:"Vector storage precision: 'f32' or 'f16',enum=f32,enum=f16"`
	MaxM           int    `json:"max_m,omitempty" jsonschema:"Graph degree bound per layer (default from server config)"`
	EfConstruction int    `json:"ef_construction,omitempty" jsonschema:"Beam width used while building; higher is slower but more accurate"`
	Seed           int64  `json:"seed,omitempty" jsonschema:"Seed for the level assignment; same seed and data give the same graph"`
}

type CreateIndexResult struct {
	Name   string `json:"name"`
	Metric string `json:"metric"`
	Status string `json:"status"`
}

type ListIndexesArgs struct{}

type IndexSummary struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Dim   int    `json:"dim"`
	Built bool   `json:"built"`
}

type ListIndexesResult struct {
	Indexes []IndexSummary `json:"indexes"`
}

type IndexInfoArgs struct {
	Name string `json:"name" jsonschema:"Name of the index,required"`
}

type IndexInfoResult struct {
	Name      string `json:"name"`
	Metric    string `json:"metric"`
	Precision string `json:"precision"`
	Backend   string `json:"backend"`
	Count     int    `json:"count"`
	Dim       int    `json:"dim"`
	Built     bool   `json:"built"`
	MaxLevel  int    `json:"graph_max_level"`
	EdgeCount int    `json:"edge_count"`
}

type SetVectorsArgs struct {
	Name    string      `json:"name" jsonschema:"Name of the index,required"`
	Vectors [][]float32 `json:"vectors" jsonschema:"The vectors to load; all rows must share one dimension. Replaces any previously loaded data,required"`
}

type SetVectorsResult struct {
	Count int `json:"count"`
	Dim   int `json:"dim"`
}

type BuildIndexArgs struct {
	Name string `json:"name" jsonschema:"Name of the index to build,required"`
	Wait bool   `json:"wait,omitempty" jsonschema:"description=If true, block until the build finishes instead of returning a task id to poll."`
}

type BuildIndexResult struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type VectorSearchArgs struct {
	Name     string    `json:"name"`
	Query    []float32 `json:"query"`
	TopK     int       `json:"topk,omitempty"`
	EfSearch int       `json:"ef_search,omitempty"`
}

type VectorSearchResult struct {
	IDs       []int32   `json:"ids"`
	Distances []float32 `json:"distances"`
}

type TaskStatusArgs struct {
	TaskID string `json:"task_id" jsonschema:"The task id returned by build_index,required"`
}

type TaskStatusResult struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type SnapshotArgs struct {
	Name string `json:"name" jsonschema:"Name of the index,required"`
	Path string `json:"path" jsonschema:"Snapshot file path; relative paths land in the server's data directory,required"`
}

type SnapshotResult struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}
